package app

import (
	"context"
	"fmt"
	"strings"

	"github.com/antoniostano/dona/internal/analysis"
	"github.com/antoniostano/dona/internal/cache"
	"github.com/antoniostano/dona/internal/config"
	"github.com/antoniostano/dona/internal/httpapi"
	"github.com/antoniostano/dona/internal/observability"
	"github.com/antoniostano/dona/internal/store"
)

type BuildResult struct {
	Config   config.Config
	API      *httpapi.Server
	Store    store.Store
	Sessions *cache.Sessions
	Engine   *analysis.Engine
	Metrics  *observability.Metrics

	// Cleanup should be called on shutdown to release external resources (DB, cache, etc).
	Cleanup func() error
}

// Build wires the durable store, session cache and analysis engine into a
// ready-to-serve API.
func Build(ctx context.Context, cfg config.Config) (*BuildResult, error) {
	metrics := observability.NewMetrics(cfg.MetricsNamespace)

	st, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("store init failed: %w", err)
	}

	backend, err := cache.NewRistrettoBackend()
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("cache init failed: %w", err)
	}

	sessions := cache.New(backend, cache.Config{
		SessionTTL:        cfg.SessionTTL,
		ContextTTL:        cfg.ContextCacheTTL,
		ProbeTimeout:      cfg.CacheProbeTimeout,
		ReconnectInterval: cfg.CacheReconnectInterval,
	}, metrics)

	rules := analysis.DefaultRules()
	if cfg.RulesPath != "" {
		rules, err = analysis.LoadRules(cfg.RulesPath)
		if err != nil {
			sessions.Close()
			_ = st.Close()
			return nil, fmt.Errorf("rules load failed: %w", err)
		}
	}

	engine := analysis.NewEngine(st, sessions, rules, metrics, analysis.Config{
		SmoothingAlpha: cfg.SmoothingAlpha,
		ContextBudget:  cfg.ContextBudget,
		RelevanceTopK:  cfg.RelevanceTopK,
		HistoryLimit:   cfg.HistoryLimit,
		StoreTimeout:   cfg.StoreTimeout,
	})

	api := httpapi.New(cfg, st, sessions, engine, metrics)

	cleanup := func() error {
		var errs []string
		sessions.Close()
		if err := st.Close(); err != nil {
			errs = append(errs, err.Error())
		}
		if len(errs) > 0 {
			return fmt.Errorf("%s", strings.Join(errs, "; "))
		}
		return nil
	}

	return &BuildResult{
		Config:   cfg,
		API:      api,
		Store:    st,
		Sessions: sessions,
		Engine:   engine,
		Metrics:  metrics,
		Cleanup:  cleanup,
	}, nil
}
