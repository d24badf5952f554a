package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/phamtuthu/bitrix-call-relay/internal/appsflyer"
	"github.com/phamtuthu/bitrix-call-relay/internal/config"
	"github.com/phamtuthu/bitrix-call-relay/internal/logger"
)

func main() {
	// Initialize logger
	if err := logger.Init(os.Getenv("LOG_LEVEL")); err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer logger.Sync()

	// Load configuration
	cfg, err := config.LoadAppsFlyer()
	if err != nil {
		logger.Fatal("Failed to load config", zap.Error(err))
	}

	exporter := appsflyer.NewExporter(cfg, logger.Logger)

	runExport := func() error {
		path, err := exporter.Export(context.Background())
		if err != nil {
			logger.Error("Installs report export failed", zap.Error(err))
			return err
		}
		logger.Info("Installs report export finished", zap.String("path", path))
		return nil
	}

	// One-shot when no schedule is configured
	if cfg.CronSpec == "" {
		if err := runExport(); err != nil {
			logger.Sync()
			os.Exit(1)
		}
		return
	}

	// Scheduled mode
	scheduler := cron.New()
	if _, err := scheduler.AddFunc(cfg.CronSpec, func() {
		_ = runExport()
	}); err != nil {
		logger.Fatal("Invalid APPSFLYER_CRON expression",
			zap.String("cron", cfg.CronSpec),
			zap.Error(err),
		)
	}
	scheduler.Start()
	logger.Info("Installs report export scheduled",
		zap.String("cron", cfg.CronSpec),
	)

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit

	ctx := scheduler.Stop()
	<-ctx.Done()
	logger.Info("Exporter stopped")
}
