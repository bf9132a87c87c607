package analytics

import (
	"context"
	"time"

	"github.com/radiusdt/email-analytics/internal/models"
	"go.uber.org/zap"
)

// ReconcileWorker periodically reconciles the trailing Lookback days.
type ReconcileWorker struct {
	reconciler *Reconciler
	logger     *zap.Logger
	interval   time.Duration
	lookback   int
	now        func() time.Time
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// WorkerConfig holds worker configuration.
type WorkerConfig struct {
	Reconciler *Reconciler
	Logger     *zap.Logger
	Interval   time.Duration
	Lookback   int
	Now        func() time.Time
}

// NewReconcileWorker creates a new reconcile worker.
func NewReconcileWorker(cfg WorkerConfig) *ReconcileWorker {
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Lookback < 1 {
		cfg.Lookback = 1
	}
	return &ReconcileWorker{
		reconciler: cfg.Reconciler,
		logger:     cfg.Logger,
		interval:   cfg.Interval,
		lookback:   cfg.Lookback,
		now:        cfg.Now,
		stopCh:     make(chan struct{}),
		doneCh:     make(chan struct{}),
	}
}

// Start runs a pass immediately and then on every tick until ctx is done or
// Stop is called. Failed passes are logged and the loop continues.
func (w *ReconcileWorker) Start(ctx context.Context) {
	defer close(w.doneCh)

	w.logger.Info("starting reconcile worker",
		zap.Duration("interval", w.interval),
		zap.Int("lookback_days", w.lookback),
	)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.RunOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("reconcile worker stopping due to context cancellation")
			return
		case <-w.stopCh:
			w.logger.Info("reconcile worker stopping")
			return
		case <-ticker.C:
			w.RunOnce(ctx)
		}
	}
}

// Stop stops the worker and waits for the current pass to finish.
func (w *ReconcileWorker) Stop() {
	close(w.stopCh)
	<-w.doneCh
}

// RunOnce reconciles the trailing window ending today.
func (w *ReconcileWorker) RunOnce(ctx context.Context) *ReconcileReport {
	end := models.DayOf(w.now())
	start := end.AddDate(0, 0, -(w.lookback - 1))

	report, err := w.reconciler.Reconcile(ctx, start, end, false)
	if err != nil {
		w.logger.Error("reconcile pass failed",
			zap.String("start", models.FormatDate(start)),
			zap.String("end", models.FormatDate(end)),
			zap.Error(err),
		)
		return nil
	}

	w.logger.Info("reconcile pass finished",
		zap.String("start", report.StartDate),
		zap.String("end", report.EndDate),
		zap.Int("mismatches", len(report.Mismatches)),
		zap.Bool("repaired", report.Repaired),
	)
	return report
}
