package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/autoanalyse/carscout/internal/bot"
	"github.com/autoanalyse/carscout/internal/config"
	"github.com/autoanalyse/carscout/internal/export"
	"github.com/autoanalyse/carscout/internal/repository/sqlite"
	"github.com/autoanalyse/carscout/internal/scraper"
	"github.com/autoanalyse/carscout/internal/services/reconciler"
	"github.com/autoanalyse/carscout/internal/services/stats"
)

// Constants for different environment types.
const (
	envLocal = "local"
	envDev   = "development"
	envProd  = "production"
)

// main runs one scrape-and-reconcile cycle over every configured
// make/model, prints the multi-model summary and exits. Scheduling
// (cron, systemd timer) is left to the operator.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg := config.MustLoad()
	logger := setupLogger(cfg.Env)

	repo, err := sqlite.NewRepository(ctx, logger, cfg.StoragePath)
	if err != nil {
		log.Fatalf("Failed to init repository: %v", err)
	}
	defer repo.Close()

	producer := scraper.NewScraper(logger, cfg.Scraper.UserAgent,
		cfg.Scraper.MaxPages, cfg.Scraper.Delay, cfg.Scraper.AdaptiveDelay)
	engine := reconciler.NewReconciler(logger, repo,
		reconciler.Options{KeepOnEmpty: cfg.Scraper.KeepOnEmpty})
	statsSvc := stats.NewService(logger, repo)

	exporter, err := export.NewExporter(logger, repo, cfg.DataDir)
	if err != nil {
		log.Fatalf("Failed to init exporter: %v", err)
	}

	var notifier *bot.Bot
	if cfg.Tg.Token != "" {
		notifier, err = bot.NewBot(logger, cfg.Tg.Token, cfg.Tg.Timeout, cfg.Tg.ChatID, statsSvc)
		if err != nil {
			log.Fatalf("Failed to init bot: %v", err)
		}
		go notifier.Start()
		defer notifier.Stop()
	}

	logger.InfoContext(ctx, "Tracking run started", "models", len(cfg.Models))

	failures := 0
	for _, vm := range cfg.Models {
		if ctx.Err() != nil {
			logger.WarnContext(ctx, "Shutdown signal received, stopping run")
			break
		}

		if err = processModel(ctx, logger, producer, engine, exporter, notifier, vm); err != nil {
			failures++
			logger.ErrorContext(ctx, "Model run failed",
				"make", vm.Make, "model", vm.Model, "error", err)
		}
	}

	summary, err := statsSvc.Summary(ctx)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to build multi-model summary", "error", err)
	} else {
		os.Stdout.WriteString(summary)
	}

	if failures == len(cfg.Models) {
		logger.ErrorContext(ctx, "Every model run failed")
		os.Exit(1)
	}

	logger.InfoContext(ctx, "Tracking run finished", "failures", failures)
}

// processModel scrapes and reconciles one make/model. A scrape failure is
// recorded in run metadata without touching the stored inventory.
func processModel(
	ctx context.Context,
	logger *slog.Logger,
	producer *scraper.Scraper,
	engine *reconciler.Reconciler,
	exporter *export.Exporter,
	notifier *bot.Bot,
	vm config.VehicleModel,
) error {
	batch, err := producer.ScrapeBatch(ctx, vm.Make, vm.Model)
	if err != nil {
		if recordErr := engine.RecordFailure(ctx, vm.Make, vm.Model, err.Error()); recordErr != nil {
			logger.ErrorContext(ctx, "Failed to record scrape failure",
				"make", vm.Make, "model", vm.Model, "error", recordErr)
		}
		return err
	}

	summary, err := engine.Run(ctx, batch)
	if err != nil {
		return err
	}
	logger.InfoContext(ctx, "Run summary", "summary", summary.String())

	if _, err = exporter.WriteListings(ctx, vm.Make, vm.Model, false); err != nil {
		logger.WarnContext(ctx, "Listing export failed", "error", err)
	}
	if _, err = exporter.WritePriceHistory(ctx, vm.Make, vm.Model); err != nil {
		logger.WarnContext(ctx, "Price history export failed", "error", err)
	}

	if notifier != nil {
		if err = notifier.NotifyRunSummary(*summary); err != nil {
			logger.WarnContext(ctx, "Telegram notification failed", "error", err)
		}
	}

	return nil
}

// setupLogger initializes and returns a logger based on the environment provided.
func setupLogger(env string) *slog.Logger {
	var logger *slog.Logger

	switch env {
	case envLocal:
		logger = slog.New(
			slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
				Level:     slog.LevelDebug,
				AddSource: true,
			}),
		)
	case envDev:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelInfo,
			}),
		)
	case envProd:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelWarn,
				ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
					if a.Key == slog.TimeKey {
						return slog.Attr{}
					}
					return a
				},
			}),
		)
	default:
		logger = slog.New(
			slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
				Level: slog.LevelError,
			}),
		)

		logger.Error(
			"The env parameter was not specified or was invalid. Logging will be minimal, by default.",
			slog.String("available_envs", "local, development, production"))
	}

	return logger
}
