package config

import (
	"os"
	"testing"
	"time"
)

// clearEnv unsets keys for the duration of the test.
func clearEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, k := range keys {
		t.Setenv(k, "")
		if err := os.Unsetenv(k); err != nil {
			t.Fatalf("unset %s: %v", k, err)
		}
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t, "PORT", "FRONTEND_URL", "DB_PATH", "FILES_DIR", "TASK_TIMEOUT",
		"MAX_MESSAGE_BYTES", "RATE_LIMIT_RPS", "RATE_LIMIT_BURST", "SESSION_RETENTION", "RECORDER_QUEUE_SIZE")
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %q", cfg.Port)
	}
	if cfg.TaskTimeout != 300*time.Second {
		t.Errorf("expected 300s task timeout, got %v", cfg.TaskTimeout)
	}
	if cfg.MaxMessageBytes != 32<<20 {
		t.Errorf("expected 32 MiB message limit, got %d", cfg.MaxMessageBytes)
	}
	if !cfg.IsDevelopment() {
		t.Error("expected development mode without FRONTEND_URL")
	}
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9000")
	t.Setenv("TASK_TIMEOUT", "45")
	t.Setenv("SESSION_RETENTION", "12h")
	t.Setenv("RATE_LIMIT_RPS", "0.5")
	t.Setenv("FRONTEND_URL", "https://deck.example/")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Port != "9000" || cfg.TaskTimeout != 45*time.Second || cfg.SessionRetention != 12*time.Hour {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	if cfg.RateLimit.RPS != 0.5 {
		t.Fatalf("unexpected rps %v", cfg.RateLimit.RPS)
	}
	if origins := cfg.AllowedOrigins(); len(origins) != 1 || origins[0] != "https://deck.example" {
		t.Fatalf("unexpected origins %v", origins)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	t.Setenv("DB_PATH", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected error for empty DB_PATH")
	}
}

func TestLoadConsole(t *testing.T) {
	clearEnv(t, "AUTOPLAY_INTERVAL")
	t.Setenv("RESEARCHDECK_URL", "http://gateway:8000")
	t.Setenv("HTTP_FALLBACK", "off")
	t.Setenv("AUTOPLAY_INTERVAL", "bogus")

	cfg, err := LoadConsole()
	if err != nil {
		t.Fatalf("LoadConsole failed: %v", err)
	}
	if cfg.GatewayURL != "http://gateway:8000" || cfg.HTTPFallback {
		t.Fatalf("unexpected console config: %+v", cfg)
	}
	if cfg.AutoplayInterval != 3*time.Second {
		t.Fatalf("expected fallback autoplay interval, got %v", cfg.AutoplayInterval)
	}
}
