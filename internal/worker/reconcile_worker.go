package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/Anjali24Singh/payment-gateway-sub004/pkg/logger"
)

// PendingReconciler resolves transactions whose gateway outcome is unknown
type PendingReconciler interface {
	ReconcilePending(ctx context.Context, limit int) (int, error)
}

// ProfileBackfiller retries customer profiles the gateway failed to create
type ProfileBackfiller interface {
	BackfillProfiles(ctx context.Context, limit int) (int, error)
}

// ReconcileWorkerConfig contains configuration for the reconcile worker
type ReconcileWorkerConfig struct {
	// ScanInterval is the interval between scans
	ScanInterval time.Duration
	// BatchSize is the number of rows to process in each scan
	BatchSize int
}

// DefaultReconcileWorkerConfig returns default configuration
func DefaultReconcileWorkerConfig() *ReconcileWorkerConfig {
	return &ReconcileWorkerConfig{
		ScanInterval: 30 * time.Second,
		BatchSize:    100,
	}
}

// ReconcileWorker periodically resolves unknown outcomes and backfills missing customer profiles
type ReconcileWorker struct {
	reconciler PendingReconciler
	backfiller ProfileBackfiller
	config     *ReconcileWorkerConfig
	log        *logger.Logger
	stopCh     chan struct{}
	wg         sync.WaitGroup
	mu         sync.Mutex
	running    bool

	// Stats
	totalResolved     int64
	totalBackfilled   int64
	lastScanTime      time.Time
	lastResolvedCount int
}

// NewReconcileWorker creates a new reconcile worker. A nil backfiller disables profile backfill.
func NewReconcileWorker(
	reconciler PendingReconciler,
	backfiller ProfileBackfiller,
	config *ReconcileWorkerConfig,
	log *logger.Logger,
) *ReconcileWorker {
	c := *DefaultReconcileWorkerConfig()
	if config != nil {
		if config.ScanInterval > 0 {
			c.ScanInterval = config.ScanInterval
		}
		if config.BatchSize > 0 {
			c.BatchSize = config.BatchSize
		}
	}
	if log == nil {
		log = logger.NewNop()
	}

	return &ReconcileWorker{
		reconciler: reconciler,
		backfiller: backfiller,
		config:     &c,
		log:        log.Named("reconcile-worker"),
		stopCh:     make(chan struct{}),
	}
}

// Start starts the reconcile worker
func (w *ReconcileWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return fmt.Errorf("reconcile worker already running")
	}
	w.running = true
	w.mu.Unlock()

	w.log.Info("Starting reconcile worker",
		zap.Duration("interval", w.config.ScanInterval),
		zap.Int("batch_size", w.config.BatchSize))

	w.wg.Add(1)
	go w.loop(ctx)

	return nil
}

// Stop stops the worker and waits for the current scan to finish
func (w *ReconcileWorker) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	w.log.Info("Stopping reconcile worker")
	close(w.stopCh)
	w.wg.Wait()
	w.log.Info("Reconcile worker stopped")
}

func (w *ReconcileWorker) loop(ctx context.Context) {
	defer w.wg.Done()

	ticker := time.NewTicker(w.config.ScanInterval)
	defer ticker.Stop()

	// Run immediately on start
	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			return
		case <-w.stopCh:
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single reconciliation and backfill pass
func (w *ReconcileWorker) RunOnce(ctx context.Context) {
	resolved, err := w.reconciler.ReconcilePending(ctx, w.config.BatchSize)
	if err != nil {
		w.log.Error("Failed to reconcile pending transactions", zap.Error(err))
	}
	if resolved > 0 {
		w.log.Info("Resolved unknown outcomes", zap.Int("count", resolved))
	}

	backfilled := 0
	if w.backfiller != nil {
		backfilled, err = w.backfiller.BackfillProfiles(ctx, w.config.BatchSize)
		if err != nil {
			w.log.Error("Failed to backfill customer profiles", zap.Error(err))
		}
		if backfilled > 0 {
			w.log.Info("Backfilled customer profiles", zap.Int("count", backfilled))
		}
	}

	w.mu.Lock()
	w.lastScanTime = time.Now()
	w.lastResolvedCount = resolved
	w.totalResolved += int64(resolved)
	w.totalBackfilled += int64(backfilled)
	w.mu.Unlock()
}

// GetStats returns worker statistics
func (w *ReconcileWorker) GetStats() *ReconcileWorkerStats {
	w.mu.Lock()
	defer w.mu.Unlock()

	return &ReconcileWorkerStats{
		IsRunning:         w.running,
		TotalResolved:     w.totalResolved,
		TotalBackfilled:   w.totalBackfilled,
		LastScanTime:      w.lastScanTime,
		LastResolvedCount: w.lastResolvedCount,
	}
}

// ReconcileWorkerStats contains worker statistics
type ReconcileWorkerStats struct {
	IsRunning         bool      `json:"is_running"`
	TotalResolved     int64     `json:"total_resolved"`
	TotalBackfilled   int64     `json:"total_backfilled"`
	LastScanTime      time.Time `json:"last_scan_time"`
	LastResolvedCount int       `json:"last_resolved_count"`
}
