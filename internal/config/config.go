package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the memory core service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string

	// DatabaseURL selects the durable store backend: postgres:// URLs use
	// PostgreSQL, file paths use SQLite, empty runs fully in-memory.
	DatabaseURL  string
	StoreTimeout time.Duration

	SessionTTL             time.Duration
	ContextCacheTTL        time.Duration
	CacheProbeTimeout      time.Duration
	CacheReconnectInterval time.Duration

	SmoothingAlpha float64
	ContextBudget  int
	RelevanceTopK  int
	HistoryLimit   int
	RulesPath      string

	ArchiveAfter time.Duration
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:               envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace:       envOrDefault("APP_METRICS_NAMESPACE", "dona"),
		DatabaseURL:            stringsTrimSpace("DATABASE_URL"),
		RulesPath:              stringsTrimSpace("APP_RULES_PATH"),
		ShutdownTimeout:        15 * time.Second,
		StoreTimeout:           5 * time.Second,
		SessionTTL:             30 * time.Minute,
		ContextCacheTTL:        10 * time.Minute,
		CacheProbeTimeout:      250 * time.Millisecond,
		CacheReconnectInterval: 30 * time.Second,
		SmoothingAlpha:         0.3,
		ContextBudget:          2000,
		RelevanceTopK:          5,
		HistoryLimit:           20,
		ArchiveAfter:           30 * 24 * time.Hour,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.StoreTimeout, err = durationFromEnv("APP_STORE_TIMEOUT", cfg.StoreTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.SessionTTL, err = durationFromEnv("APP_SESSION_TTL", cfg.SessionTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextCacheTTL, err = durationFromEnv("APP_CONTEXT_CACHE_TTL", cfg.ContextCacheTTL)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheProbeTimeout, err = durationFromEnv("APP_CACHE_PROBE_TIMEOUT", cfg.CacheProbeTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.CacheReconnectInterval, err = durationFromEnv("APP_CACHE_RECONNECT_INTERVAL", cfg.CacheReconnectInterval)
	if err != nil {
		return Config{}, err
	}
	cfg.ArchiveAfter, err = durationFromEnv("APP_ARCHIVE_AFTER", cfg.ArchiveAfter)
	if err != nil {
		return Config{}, err
	}
	cfg.SmoothingAlpha, err = floatFromEnv("APP_SMOOTHING_ALPHA", cfg.SmoothingAlpha)
	if err != nil {
		return Config{}, err
	}
	cfg.ContextBudget, err = intFromEnv("APP_CONTEXT_BUDGET", cfg.ContextBudget)
	if err != nil {
		return Config{}, err
	}
	cfg.RelevanceTopK, err = intFromEnv("APP_RELEVANCE_TOP_K", cfg.RelevanceTopK)
	if err != nil {
		return Config{}, err
	}
	cfg.HistoryLimit, err = intFromEnv("APP_HISTORY_LIMIT", cfg.HistoryLimit)
	if err != nil {
		return Config{}, err
	}

	if cfg.SessionTTL < time.Minute {
		return Config{}, fmt.Errorf("APP_SESSION_TTL must be at least 1m")
	}
	if cfg.ContextCacheTTL < 10*time.Second {
		return Config{}, fmt.Errorf("APP_CONTEXT_CACHE_TTL must be at least 10s")
	}
	if cfg.CacheProbeTimeout <= 0 {
		return Config{}, fmt.Errorf("APP_CACHE_PROBE_TIMEOUT must be positive")
	}
	if cfg.SmoothingAlpha <= 0 || cfg.SmoothingAlpha > 1 {
		return Config{}, fmt.Errorf("APP_SMOOTHING_ALPHA must be in (0,1]")
	}
	if cfg.ContextBudget <= 0 {
		return Config{}, fmt.Errorf("APP_CONTEXT_BUDGET must be positive")
	}
	if cfg.RelevanceTopK <= 0 {
		return Config{}, fmt.Errorf("APP_RELEVANCE_TOP_K must be positive")
	}
	if cfg.HistoryLimit <= 0 {
		return Config{}, fmt.Errorf("APP_HISTORY_LIMIT must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func intFromEnv(key string, fallback int) (int, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return n, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}
