package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/xpanvictor/cortado/internal/app"
	"github.com/xpanvictor/cortado/internal/config"
	"github.com/xpanvictor/cortado/internal/database"
	"github.com/xpanvictor/cortado/pkg/Logger"
)

// Relay server: serves system-instruction documents and proxies the
// analytics agent stream for the live client.
func main() {
	// fetch cfg
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	// load global logger
	logger := Logger.New(cfg.Debug)
	defer func() { _ = logger.Sync() }()
	logger.Info("Logger initialized")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// optional instruction cache
	rc, err := database.NewRedis(cfg.Server.Redis)
	if err != nil {
		logger.Fatalf("Failed to connect to redis: %v", err)
	}
	if rc != nil {
		defer rc.Close()
	}

	a, err := app.NewApp(ctx, cfg, logger, rc)
	if err != nil {
		logger.Fatalf("Failed to build relay: %v", err)
	}
	go func() {
		if err := a.WatchInstructions(ctx); err != nil {
			logger.Errorf("instruction watcher stopped: %v", err)
		}
	}()

	// listen with graceful exit
	srv := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		logger.Infof("relay listening on %s", cfg.Server.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatalf("Server exiting: %v", err)
		}
	}()

	<-ctx.Done()

	// 5 secs then cancel
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("Shutdown err %v", err)
	}
	logger.Info("Shutdown system")
}
