package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/di"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/metrics"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/config"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/telemetry"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Initialize logger
	if err := logger.Init(&logger.Config{
		Level:       cfg.App.LogLevel,
		ServiceName: "reconcile-worker",
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting reconcile worker...")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    "reconcile-worker",
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry disabled", zap.Error(err))
	}
	defer func() { _ = telemetry.Shutdown(context.Background()) }()
	if err := metrics.Init(); err != nil {
		appLog.Warn("Metrics disabled", zap.Error(err))
	}

	if !cfg.Database.Enabled {
		appLog.Fatal("Reconcile worker requires DATABASE_ENABLED")
	}

	infra, err := di.ConnectInfrastructure(ctx, cfg, appLog)
	if err != nil {
		appLog.Fatal("Failed to connect infrastructure", zap.Error(err))
	}
	defer infra.Close()

	container, err := di.NewContainer(&di.ContainerConfig{
		Config:  cfg,
		Infra:   infra,
		Metrics: metrics.NewRecorder(),
		Logger:  appLog,
	})
	if err != nil {
		appLog.Fatal("Failed to build container", zap.Error(err))
	}

	if err := container.ReconcileWorker.Start(ctx); err != nil {
		appLog.Fatal("Failed to start reconcile worker", zap.Error(err))
	}

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down reconcile worker...")

	container.ReconcileWorker.Stop()
	stats := container.ReconcileWorker.GetStats()
	appLog.Info("Reconcile worker exited",
		zap.Int64("total_resolved", stats.TotalResolved),
		zap.Int64("total_backfilled", stats.TotalBackfilled))
}
