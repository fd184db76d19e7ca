package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"path/filepath"
	"testing"
)

func TestParseLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		" WARN ":  slog.LevelWarn,
		"warning": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for raw, want := range tests {
		if got := ParseLevel(raw); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", raw, got, want)
		}
	}
}

func TestNewHandlerJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewHandler(&buf, Options{Level: "info", Format: "json"}))
	logger.Debug("hidden")
	logger.Info("payment transition applied", "component", "ledger")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("expected a single JSON record, got %q: %v", buf.String(), err)
	}
	if record["component"] != "ledger" || record["msg"] != "payment transition applied" {
		t.Fatalf("unexpected record: %v", record)
	}
}

func TestNewWithFileSink(t *testing.T) {
	path := filepath.Join(t.TempDir(), "service.log")
	logger, closer := New(Options{Level: "debug", Format: "json", File: path})
	defer closer.Close()

	if !logger.Handler().Enabled(context.Background(), slog.LevelDebug) {
		t.Fatalf("expected debug level to be enabled")
	}
	logger.With("component", "test").Info("written")
}
