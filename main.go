package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Anjali24Singh/payment-gateway-sub004/internal/di"
	"github.com/Anjali24Singh/payment-gateway-sub004/internal/metrics"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/config"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/middleware"
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
		ServiceName: cfg.App.Name,
		Development: cfg.IsDevelopment(),
	}); err != nil {
		log.Fatalf("Failed to initialize logger: %v", err)
	}
	defer logger.Sync()

	appLog := logger.Get()
	appLog.Info("Starting payment orchestrator...",
		zap.String("environment", cfg.App.Environment),
		zap.String("gateway", cfg.Gateway.Type),
		zap.String("idempotency_store", cfg.Idempotency.Store))

	ctx := context.Background()

	if _, err := telemetry.Init(ctx, &telemetry.Config{
		Enabled:        cfg.OTel.Enabled,
		ServiceName:    cfg.OTel.ServiceName,
		ServiceVersion: cfg.App.Version,
		Environment:    cfg.App.Environment,
		CollectorAddr:  cfg.OTel.CollectorAddr,
		SampleRatio:    cfg.OTel.SampleRatio,
	}); err != nil {
		appLog.Warn("Telemetry disabled", zap.Error(err))
	}
	if err := metrics.Init(); err != nil {
		appLog.Warn("Metrics disabled", zap.Error(err))
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

	workerCtx, stopWorker := context.WithCancel(ctx)
	defer stopWorker()
	if cfg.Reconciliation.Enabled {
		if err := container.ReconcileWorker.Start(workerCtx); err != nil {
			appLog.Fatal("Failed to start reconcile worker", zap.Error(err))
		}
	}

	// Setup Gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CorrelationID())
	router.Use(telemetry.TracingMiddleware(cfg.OTel.ServiceName))
	router.Use(middleware.RequestLogger(appLog.Named("http")))

	// Health check endpoints
	router.GET("/health", container.HealthHandler.Health)
	router.GET("/ready", container.HealthHandler.Ready)

	// API routes
	v1 := router.Group("/api/v1")
	v1.Use(middleware.IdempotencyKey())
	{
		v1.GET("/status", func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{
				"status":  "ok",
				"version": cfg.App.Version,
				"service": cfg.App.Name,
				"gateway": container.Gateway.Name(),
			})
		})

		container.TransactionHandler.RegisterRoutes(v1)
	}

	// Create HTTP server
	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 2 * time.Second,
		MaxHeaderBytes:    1 << 20, // 1MB
	}

	// Start server in goroutine
	go func() {
		appLog.Info("Payment orchestrator listening", zap.String("addr", addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLog.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Wait for interrupt signal for graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	appLog.Info("Shutting down server...")

	// Give outstanding requests 30 seconds to complete
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("Server forced to shutdown", zap.Error(err))
	}

	container.ReconcileWorker.Stop()
	stopWorker()

	if err := telemetry.Shutdown(shutdownCtx); err != nil {
		appLog.Warn("Telemetry shutdown failed", zap.Error(err))
	}

	appLog.Info("Server exited")
}
