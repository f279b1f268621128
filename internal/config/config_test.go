package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":8080" {
		t.Fatalf("BindAddr = %q, want :8080", cfg.BindAddr)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Fatalf("SessionTTL = %v, want 30m", cfg.SessionTTL)
	}
	if cfg.ContextCacheTTL != 10*time.Minute {
		t.Fatalf("ContextCacheTTL = %v, want 10m", cfg.ContextCacheTTL)
	}
	if cfg.SmoothingAlpha != 0.3 {
		t.Fatalf("SmoothingAlpha = %v, want 0.3", cfg.SmoothingAlpha)
	}
	if cfg.ContextBudget != 2000 || cfg.RelevanceTopK != 5 || cfg.HistoryLimit != 20 {
		t.Fatalf("unexpected pipeline defaults: %+v", cfg)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("APP_BIND_ADDR", ":9000")
	t.Setenv("APP_SESSION_TTL", "5m")
	t.Setenv("APP_CONTEXT_CACHE_TTL", "30s")
	t.Setenv("APP_SMOOTHING_ALPHA", "0.5")
	t.Setenv("APP_RELEVANCE_TOP_K", "8")
	t.Setenv("DATABASE_URL", "postgres://localhost/dona")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.BindAddr != ":9000" {
		t.Fatalf("BindAddr = %q, want :9000", cfg.BindAddr)
	}
	if cfg.SessionTTL != 5*time.Minute {
		t.Fatalf("SessionTTL = %v, want 5m", cfg.SessionTTL)
	}
	if cfg.ContextCacheTTL != 30*time.Second {
		t.Fatalf("ContextCacheTTL = %v, want 30s", cfg.ContextCacheTTL)
	}
	if cfg.SmoothingAlpha != 0.5 {
		t.Fatalf("SmoothingAlpha = %v, want 0.5", cfg.SmoothingAlpha)
	}
	if cfg.RelevanceTopK != 8 {
		t.Fatalf("RelevanceTopK = %d, want 8", cfg.RelevanceTopK)
	}
	if cfg.DatabaseURL != "postgres://localhost/dona" {
		t.Fatalf("DatabaseURL = %q", cfg.DatabaseURL)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"APP_SESSION_TTL":       "10s",
		"APP_CONTEXT_CACHE_TTL": "1s",
		"APP_SMOOTHING_ALPHA":   "1.5",
		"APP_CONTEXT_BUDGET":    "-1",
		"APP_RELEVANCE_TOP_K":   "0",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() error = nil with %s=%s, want validation error", key, value)
			}
		})
	}
}

func TestLoadRejectsUnparseableValues(t *testing.T) {
	t.Setenv("APP_STORE_TIMEOUT", "banana")
	if _, err := Load(); err == nil {
		t.Fatalf("Load() error = nil for unparseable duration")
	}
}
