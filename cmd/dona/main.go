package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/antoniostano/dona/internal/app"
	"github.com/antoniostano/dona/internal/config"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx := context.Background()
	built, err := app.Build(ctx, cfg)
	if err != nil {
		log.Fatalf("startup failed: %v", err)
	}
	defer func() {
		if err := built.Cleanup(); err != nil {
			log.Printf("cleanup: %v", err)
		}
	}()

	if cfg.DatabaseURL == "" {
		log.Printf("store backend: in-memory (set DATABASE_URL for durability)")
	} else {
		log.Printf("store backend: %s", storeKind(cfg.DatabaseURL))
	}

	httpServer := &http.Server{
		Addr:    cfg.BindAddr,
		Handler: built.API.Router(),
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	built.Sessions.StartProbe(runCtx)
	startArchiver(runCtx, built)

	go func() {
		log.Printf("server listening on %s", cfg.BindAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen error: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Printf("shutdown signal received")

	runCancel()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = httpServer.Close()
	}

	log.Printf("shutdown complete")
}

// startArchiver sweeps idle conversations into the archive once an hour.
func startArchiver(ctx context.Context, built *app.BuildResult) {
	if built.Config.ArchiveAfter <= 0 {
		return
	}
	ticker := time.NewTicker(time.Hour)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				sctx, cancel := context.WithTimeout(ctx, built.Config.StoreTimeout)
				n, err := built.Store.ArchiveIdle(sctx, built.Config.ArchiveAfter)
				cancel()
				if err != nil {
					log.Printf("archive sweep failed: %v", err)
					continue
				}
				if n > 0 {
					log.Printf("archived %d idle conversations", n)
				}
			}
		}
	}()
}

func storeKind(databaseURL string) string {
	if strings.HasPrefix(databaseURL, "postgres://") || strings.HasPrefix(databaseURL, "postgresql://") {
		return "postgres"
	}
	return "sqlite"
}
