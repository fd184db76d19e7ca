package config

import (
	"os"
	"testing"

	"github.com/spf13/viper"
)

func TestLoadConfig_Defaults(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	for _, key := range []string{"PORT", "SERVER_PORT", "DATABASE_URL", "STRIPE_SECRET_KEY", "STRIPE_API_KEY", "MIN_DONATION", "MIN_DONATION_MINOR", "CORS_ALLOWED_ORIGINS", "RECONCILE_SCHEDULE", "TRUST_PROXY_HEADERS"} {
		unsetEnvWithCleanup(t, key)
	}

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "8080" {
		t.Fatalf("expected default port 8080, got %q", cfg.ServerPort)
	}
	if cfg.MinDonationMinor != 100 {
		t.Fatalf("expected default minimum of 100 minor units, got %d", cfg.MinDonationMinor)
	}
	if cfg.ProviderConfigured() {
		t.Fatalf("expected no provider without a secret key")
	}
	if cfg.ProviderTimeout().Seconds() != 15 || cfg.SMTPTimeout().Seconds() != 10 {
		t.Fatalf("unexpected timeouts: %v %v", cfg.ProviderTimeout(), cfg.SMTPTimeout())
	}
	if cfg.ReconcileSchedule != "@every 1h" {
		t.Fatalf("unexpected reconcile schedule %q", cfg.ReconcileSchedule)
	}
	if origins := cfg.AllowedOrigins(); len(origins) != 1 || origins[0] != "*" {
		t.Fatalf("expected wildcard origin, got %v", origins)
	}
	if cfg.TrustProxyHeaders {
		t.Fatalf("expected forwarded headers to be ignored by default")
	}
}

func TestLoadConfig_TrustProxyHeaders(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "TRUST_PROXY_HEADERS", "true")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if !cfg.TrustProxyHeaders {
		t.Fatalf("expected TRUST_PROXY_HEADERS=true to be honored")
	}
}

func TestLoadConfig_PortOverridesServerPort(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	setEnvWithCleanup(t, "SERVER_PORT", "9000")
	setEnvWithCleanup(t, "PORT", "7000")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.ServerPort != "7000" {
		t.Fatalf("expected PORT to win, got %q", cfg.ServerPort)
	}
}

func TestLoadConfig_StripeAPIKeyAlias(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "STRIPE_SECRET_KEY")
	setEnvWithCleanup(t, "STRIPE_API_KEY", " sk_test_alias ")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.StripeSecretKey != "sk_test_alias" || !cfg.ProviderConfigured() {
		t.Fatalf("expected trimmed key from alias env var, got %q", cfg.StripeSecretKey)
	}
}

func TestLoadConfig_MinDonationInMajorUnits(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MIN_DONATION_MINOR")
	setEnvWithCleanup(t, "MIN_DONATION", "2.50")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MinDonationMinor != 250 {
		t.Fatalf("expected 250 minor units, got %d", cfg.MinDonationMinor)
	}
}

func TestLoadConfig_NonPositiveMinimumFallsBack(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)

	unsetEnvWithCleanup(t, "MIN_DONATION")
	setEnvWithCleanup(t, "MIN_DONATION_MINOR", "-5")

	cfg, err := LoadConfig(t.TempDir())
	if err != nil {
		t.Fatalf("LoadConfig returned error: %v", err)
	}
	if cfg.MinDonationMinor != 100 {
		t.Fatalf("expected fallback to 100, got %d", cfg.MinDonationMinor)
	}
}

func TestConfig_AllowedOrigins(t *testing.T) {
	cfg := Config{CORSAllowedOrigins: "https://noor.app, https://admin.noor.app,,"}
	origins := cfg.AllowedOrigins()
	if len(origins) != 2 || origins[1] != "https://admin.noor.app" {
		t.Fatalf("unexpected origins: %v", origins)
	}
}

func setEnvWithCleanup(t *testing.T, key string, value string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Setenv(key, value); err != nil {
		t.Fatalf("failed to set env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}

func unsetEnvWithCleanup(t *testing.T, key string) {
	t.Helper()
	prev, hadPrev := os.LookupEnv(key)
	if err := os.Unsetenv(key); err != nil {
		t.Fatalf("failed to unset env %s: %v", key, err)
	}
	t.Cleanup(func() {
		if hadPrev {
			_ = os.Setenv(key, prev)
			return
		}
		_ = os.Unsetenv(key)
	})
}
