/**
 * @description
 * This package handles the configuration management for the service. It uses the
 * Viper library to read configuration from environment variables, providing a
 * centralized and straightforward way to manage application settings.
 *
 * @dependencies
 * - github.com/spf13/viper: A popular library for Go application configuration.
 */

package config

import (
	"log/slog"
	"math"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const (
	defaultRateLimitPrefix = "donations:rate_limit"
	defaultReceiptQueue    = "donation_service.receipts"
	defaultSchedule        = "@every 1h"
)

// Config holds all the configuration variables for the donation-service.
// These values are loaded from environment variables.
type Config struct {
	ServerPort               string `mapstructure:"SERVER_PORT"`
	DatabaseURL              string `mapstructure:"DATABASE_URL"`
	RedisURL                 string `mapstructure:"REDIS_URL"`
	RedisRateLimitPrefix     string `mapstructure:"REDIS_RATE_LIMIT_PREFIX"`
	IntentRateLimitPerMinute int    `mapstructure:"INTENT_RATE_LIMIT_PER_MINUTE"`
	RabbitMQURL              string `mapstructure:"RABBITMQ_URL"`
	ReceiptQueue             string `mapstructure:"RECEIPT_QUEUE"`
	StripeSecretKey          string `mapstructure:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret      string `mapstructure:"STRIPE_WEBHOOK_SECRET"`
	ProviderTimeoutSeconds   int    `mapstructure:"PROVIDER_TIMEOUT_SECONDS"`
	MinDonationMinor         int64  `mapstructure:"MIN_DONATION_MINOR"`
	IntentPersistAttempts    int    `mapstructure:"INTENT_PERSIST_ATTEMPTS"`
	JWTSecret                string `mapstructure:"JWT_SECRET"`
	SMTPHost                 string `mapstructure:"SMTP_HOST"`
	SMTPPort                 int    `mapstructure:"SMTP_PORT"`
	SMTPUser                 string `mapstructure:"SMTP_USER"`
	SMTPPass                 string `mapstructure:"SMTP_PASS"`
	EmailFrom                string `mapstructure:"EMAIL_FROM"`
	SMTPTimeoutSeconds       int    `mapstructure:"SMTP_TIMEOUT_SECONDS"`
	ReconcileSchedule        string `mapstructure:"RECONCILE_SCHEDULE"`
	ReconcileRepair          bool   `mapstructure:"RECONCILE_REPAIR"`
	CORSAllowedOrigins       string `mapstructure:"CORS_ALLOWED_ORIGINS"`
	TrustProxyHeaders        bool   `mapstructure:"TRUST_PROXY_HEADERS"`
	LogLevel                 string `mapstructure:"LOG_LEVEL"`
	LogFormat                string `mapstructure:"LOG_FORMAT"`
	LogFile                  string `mapstructure:"LOG_FILE"`
}

// LoadConfig reads configuration from environment variables from the given path.
// It uses Viper to automatically bind environment variables to the Config struct.
func LoadConfig(path string) (config Config, err error) {
	// Tell viper the path to look for the optional .env file.
	viper.AddConfigPath(path)
	viper.SetConfigName(".env")
	viper.SetConfigType("env")

	// Enable automatic binding of environment variables.
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Set default values
	viper.SetDefault("SERVER_PORT", "8080")
	viper.SetDefault("REDIS_RATE_LIMIT_PREFIX", defaultRateLimitPrefix)
	viper.SetDefault("INTENT_RATE_LIMIT_PER_MINUTE", 20)
	viper.SetDefault("RECEIPT_QUEUE", defaultReceiptQueue)
	viper.SetDefault("PROVIDER_TIMEOUT_SECONDS", 15)
	viper.SetDefault("MIN_DONATION_MINOR", 100)
	viper.SetDefault("INTENT_PERSIST_ATTEMPTS", 3)
	viper.SetDefault("SMTP_PORT", 587)
	viper.SetDefault("SMTP_TIMEOUT_SECONDS", 10)
	viper.SetDefault("RECONCILE_SCHEDULE", defaultSchedule)
	viper.SetDefault("RECONCILE_REPAIR", false)
	viper.SetDefault("CORS_ALLOWED_ORIGINS", "*")
	viper.SetDefault("TRUST_PROXY_HEADERS", false)
	viper.SetDefault("LOG_LEVEL", "info")
	viper.SetDefault("LOG_FORMAT", "text")

	// Bind environment variables explicitly to ensure they appear in Unmarshal
	_ = viper.BindEnv("SERVER_PORT")
	_ = viper.BindEnv("PORT")
	_ = viper.BindEnv("DATABASE_URL")
	_ = viper.BindEnv("REDIS_URL")
	_ = viper.BindEnv("REDIS_RATE_LIMIT_PREFIX")
	_ = viper.BindEnv("INTENT_RATE_LIMIT_PER_MINUTE")
	_ = viper.BindEnv("RABBITMQ_URL")
	_ = viper.BindEnv("RECEIPT_QUEUE")
	_ = viper.BindEnv("STRIPE_SECRET_KEY", "STRIPE_SECRET_KEY", "STRIPE_API_KEY")
	_ = viper.BindEnv("STRIPE_WEBHOOK_SECRET")
	_ = viper.BindEnv("PROVIDER_TIMEOUT_SECONDS")
	_ = viper.BindEnv("MIN_DONATION_MINOR")
	_ = viper.BindEnv("MIN_DONATION")
	_ = viper.BindEnv("INTENT_PERSIST_ATTEMPTS")
	_ = viper.BindEnv("JWT_SECRET")
	_ = viper.BindEnv("SMTP_HOST", "SMTP_HOST", "EMAIL_HOST")
	_ = viper.BindEnv("SMTP_PORT", "SMTP_PORT", "EMAIL_PORT")
	_ = viper.BindEnv("SMTP_USER", "SMTP_USER", "EMAIL_USER")
	_ = viper.BindEnv("SMTP_PASS", "SMTP_PASS", "EMAIL_PASS")
	_ = viper.BindEnv("EMAIL_FROM")
	_ = viper.BindEnv("SMTP_TIMEOUT_SECONDS")
	_ = viper.BindEnv("RECONCILE_SCHEDULE")
	_ = viper.BindEnv("RECONCILE_REPAIR")
	_ = viper.BindEnv("CORS_ALLOWED_ORIGINS")
	_ = viper.BindEnv("TRUST_PROXY_HEADERS")
	_ = viper.BindEnv("LOG_LEVEL")
	_ = viper.BindEnv("LOG_FORMAT")
	_ = viper.BindEnv("LOG_FILE")

	// Attempt to read the config file. It's okay if it doesn't exist.
	if err = viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("failed to read config file; using environment values", "component", "config", "err", err)
		}
	}

	// Unmarshal the configuration into the Config struct.
	err = viper.Unmarshal(&config)
	if err != nil {
		return
	}

	if port := strings.TrimSpace(os.Getenv("PORT")); port != "" {
		config.ServerPort = port
	}
	config.DatabaseURL = strings.TrimSpace(config.DatabaseURL)
	config.RedisURL = strings.TrimSpace(config.RedisURL)
	config.RabbitMQURL = strings.TrimSpace(config.RabbitMQURL)
	config.StripeSecretKey = strings.TrimSpace(config.StripeSecretKey)
	config.StripeWebhookSecret = strings.TrimSpace(config.StripeWebhookSecret)
	config.SMTPHost = strings.TrimSpace(config.SMTPHost)
	config.RedisRateLimitPrefix = strings.TrimSpace(config.RedisRateLimitPrefix)
	if config.RedisRateLimitPrefix == "" {
		config.RedisRateLimitPrefix = defaultRateLimitPrefix
	}
	if strings.TrimSpace(config.ReceiptQueue) == "" {
		config.ReceiptQueue = defaultReceiptQueue
	}
	if strings.TrimSpace(config.ReconcileSchedule) == "" {
		config.ReconcileSchedule = defaultSchedule
	}
	if strings.TrimSpace(config.EmailFrom) == "" {
		config.EmailFrom = config.SMTPUser
	}

	// Allow specifying the minimum donation in whole currency units via MIN_DONATION.
	if viper.IsSet("MIN_DONATION") {
		minStr := strings.TrimSpace(viper.GetString("MIN_DONATION"))
		if minStr != "" {
			minValue, parseErr := strconv.ParseFloat(minStr, 64)
			if parseErr != nil {
				slog.Warn("invalid MIN_DONATION", "component", "config", "value", minStr, "err", parseErr)
			} else {
				config.MinDonationMinor = int64(math.Round(minValue * 100))
			}
		}
	}
	if config.MinDonationMinor <= 0 {
		slog.Warn("non-positive minimum donation configured; using default", "component", "config", "min_minor", config.MinDonationMinor)
		config.MinDonationMinor = 100
	}

	if config.IntentRateLimitPerMinute < 0 {
		config.IntentRateLimitPerMinute = 0
	}
	if config.ProviderTimeoutSeconds <= 0 {
		config.ProviderTimeoutSeconds = 15
	}
	if config.SMTPTimeoutSeconds <= 0 {
		config.SMTPTimeoutSeconds = 10
	}
	if config.IntentPersistAttempts <= 0 {
		config.IntentPersistAttempts = 3
	}
	if config.SMTPPort <= 0 {
		config.SMTPPort = 587
	}

	return
}

// ProviderConfigured reports whether live payment intents can be created.
func (c Config) ProviderConfigured() bool {
	return c.StripeSecretKey != ""
}

// ProviderTimeout is the bound on each provider API call.
func (c Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSeconds) * time.Second
}

// SMTPTimeout is the bound on each receipt email.
func (c Config) SMTPTimeout() time.Duration {
	return time.Duration(c.SMTPTimeoutSeconds) * time.Second
}

// AllowedOrigins splits CORS_ALLOWED_ORIGINS on commas.
func (c Config) AllowedOrigins() []string {
	var origins []string
	for _, origin := range strings.Split(c.CORSAllowedOrigins, ",") {
		if origin = strings.TrimSpace(origin); origin != "" {
			origins = append(origins, origin)
		}
	}
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
