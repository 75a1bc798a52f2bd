package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/autoanalyse/carscout/internal/api"
	"github.com/autoanalyse/carscout/internal/config"
	"github.com/autoanalyse/carscout/internal/repository/sqlite"
	"github.com/autoanalyse/carscout/internal/services/stats"
)

// main serves the read-only analytics API the browser dashboard consumes.
// It opens the same database file the scraper writes; sqlite's transaction
// isolation keeps readers from ever seeing a half-applied run.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoadDashboard()

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	repo, err := sqlite.NewRepository(ctx, logger, cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to init repository: %v", err)
	}
	defer repo.Close()

	statsSvc := stats.NewService(logger, repo)
	handler := api.NewHandler(logger, repo, statsSvc)
	server := api.NewServer(handler)

	httpServer := &http.Server{
		Addr:         ":" + cfg.API.Port,
		Handler:      server,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	serverErrChan := make(chan error, 1)
	go func() {
		logger.Info("Starting dashboard API", "port", cfg.API.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrChan <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("Shutdown signal received")
	case err := <-serverErrChan:
		logger.Error("HTTP server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown error", "error", err)
	} else {
		logger.Info("HTTP server stopped")
	}
}
