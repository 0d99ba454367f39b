package worker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/procurement-approval/internal/domain/approval"
	domainwf "github.com/garyjia/procurement-approval/internal/domain/workflow"
)

// ExpirySweeper applies timeout actions to overdue requests
type ExpirySweeper interface {
	ExpireOverdue(ctx context.Context, now time.Time, limit int) ([]*approval.Request, error)
}

// ScanRecorder observes each completed scan
type ScanRecorder interface {
	RecordExpiryScan(expired int, took time.Duration, err error)
}

// ExpiryWorkerConfig holds configuration for the expiry worker
type ExpiryWorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	ScanTimeout  time.Duration
}

// DefaultExpiryWorkerConfig returns default configuration
func DefaultExpiryWorkerConfig() ExpiryWorkerConfig {
	return ExpiryWorkerConfig{
		PollInterval: time.Minute,
		BatchSize:    100,
		ScanTimeout:  30 * time.Second,
	}
}

// ExpiryStats summarizes the worker's activity
type ExpiryStats struct {
	Scans        int
	Expired      int
	Failures     int
	LastScan     time.Time
	LastError    error
	RunningSince time.Time
}

// ExpiryWorker periodically ends approval requests past their deadline.
// Expiry is never applied implicitly by the engine; this loop is the caller
// that drives it.
type ExpiryWorker struct {
	config   ExpiryWorkerConfig
	sweeper  ExpirySweeper
	clock    domainwf.Clock
	recorder ScanRecorder
	logger   *zap.Logger

	// Runtime state
	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	isRunning bool
	stats     ExpiryStats
}

// ExpiryOption configures an ExpiryWorker
type ExpiryOption func(*ExpiryWorker)

// WithScanRecorder reports every scan to r
func WithScanRecorder(r ScanRecorder) ExpiryOption {
	return func(w *ExpiryWorker) {
		w.recorder = r
	}
}

// NewExpiryWorker creates a new expiry worker
func NewExpiryWorker(
	config ExpiryWorkerConfig,
	sweeper ExpirySweeper,
	clock domainwf.Clock,
	logger *zap.Logger,
	opts ...ExpiryOption,
) *ExpiryWorker {
	defaults := DefaultExpiryWorkerConfig()
	if config.PollInterval <= 0 {
		config.PollInterval = defaults.PollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = defaults.BatchSize
	}
	if config.ScanTimeout <= 0 {
		config.ScanTimeout = defaults.ScanTimeout
	}
	if clock == nil {
		clock = domainwf.SystemClock
	}

	w := &ExpiryWorker{
		config:  config,
		sweeper: sweeper,
		clock:   clock,
		logger:  logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Start begins the polling loop. The first scan runs immediately so requests
// that expired while the service was down are handled on boot.
func (w *ExpiryWorker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.isRunning {
		w.mu.Unlock()
		return fmt.Errorf("expiry worker already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	w.cancel = cancel
	w.done = make(chan struct{})
	w.isRunning = true
	w.stats.RunningSince = w.clock.Now()
	done := w.done
	w.mu.Unlock()

	w.logger.Info("ExpiryWorker started",
		zap.Duration("poll_interval", w.config.PollInterval),
		zap.Int("batch_size", w.config.BatchSize))

	go w.pollLoop(loopCtx, done)

	return nil
}

// Stop cancels the loop and waits for an in-flight scan to finish
func (w *ExpiryWorker) Stop() error {
	w.mu.Lock()
	if !w.isRunning {
		w.mu.Unlock()
		return nil
	}
	w.isRunning = false
	cancel, done := w.cancel, w.done
	w.mu.Unlock()

	cancel()
	<-done

	stats := w.Stats()
	w.logger.Info("ExpiryWorker stopped",
		zap.Int("scans", stats.Scans),
		zap.Int("expired", stats.Expired),
		zap.Int("failures", stats.Failures))

	return nil
}

// Name returns the worker name for identification
func (w *ExpiryWorker) Name() string {
	return "ExpiryWorker"
}

// Stats returns a snapshot of the worker's counters
func (w *ExpiryWorker) Stats() ExpiryStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// pollLoop runs the main polling loop in background
func (w *ExpiryWorker) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	w.RunOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single bounded scan and returns how many requests ended
func (w *ExpiryWorker) RunOnce(ctx context.Context) int {
	scanCtx, cancel := context.WithTimeout(ctx, w.config.ScanTimeout)
	defer cancel()

	start := time.Now()
	now := w.clock.Now()
	expired, err := w.sweeper.ExpireOverdue(scanCtx, now, w.config.BatchSize)
	took := time.Since(start)

	w.mu.Lock()
	w.stats.Scans++
	w.stats.Expired += len(expired)
	w.stats.LastScan = now
	w.stats.LastError = err
	if err != nil {
		w.stats.Failures++
	}
	w.mu.Unlock()

	if w.recorder != nil {
		w.recorder.RecordExpiryScan(len(expired), took, err)
	}

	if err != nil {
		w.logger.Error("Expiry scan failed", zap.Error(err))
		return len(expired)
	}
	if len(expired) > 0 {
		ids := make([]string, 0, len(expired))
		for _, r := range expired {
			ids = append(ids, r.ID)
		}
		w.logger.Info("Overdue requests ended",
			zap.Int("count", len(expired)),
			zap.Strings("request_ids", ids),
			zap.Duration("took", took))
	}
	return len(expired)
}
