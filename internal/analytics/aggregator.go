package analytics

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/radiusdt/email-analytics/internal/storage"
	"go.uber.org/zap"
)

// Aggregator maintains the rollup store on top of the event store.
//
// gate orders recording against recomputation within one process: a Record
// call holds the shared side from its insert through its increments, and
// Recompute and Verify hold the exclusive side from the event read through
// the rollup write or read. No insert can then land between the two reads,
// and no increment of an already aggregated event can land after Replace.
type Aggregator struct {
	events  storage.EventStore
	rollups storage.RollupStore
	retry   RetryPolicy
	metrics *metrics.Metrics
	logger  *zap.Logger

	gate sync.RWMutex
}

// NewAggregator creates a new aggregator.
func NewAggregator(events storage.EventStore, rollups storage.RollupStore, retry RetryPolicy, m *metrics.Metrics, logger *zap.Logger) *Aggregator {
	return &Aggregator{
		events:  events,
		rollups: rollups,
		retry:   retry,
		metrics: m,
		logger:  logger,
	}
}

// Increment adds one to every counter e contributes to. Each key is
// retried independently; failures are logged, counted and joined.
func (a *Aggregator) Increment(ctx context.Context, e *models.Event) error {
	var errs []error
	for _, key := range e.MetricKeys() {
		_, err := withRetry(ctx, a.retry, a.metrics, "increment_rollup", func(ctx context.Context) (struct{}, error) {
			return struct{}{}, a.rollups.Increment(ctx, key, 1)
		})
		if err != nil {
			a.metrics.RecordRollupFailure(string(key.EventType))
			a.logger.Error("rollup increment failed, counters stale until reconcile",
				zap.String("dedup_key", e.DedupKey),
				zap.String("date", key.Date),
				zap.String("event_type", string(key.EventType)),
				zap.String("campaign_id", key.CampaignID),
				zap.Error(err),
			)
			errs = append(errs, err)
			continue
		}
		a.metrics.RecordRollupIncrement(string(key.EventType), !key.IsGlobal())
	}
	return errors.Join(errs...)
}

// Recompute rebuilds every counter dated in [start, end] from the event
// store and overwrites the stored values. Running it twice over the same
// range yields the same counters.
func (a *Aggregator) Recompute(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	start, end = models.DayOf(start), models.DayOf(end)
	if start.After(end) {
		return nil, apperr.Validation("start", "must not be after end")
	}

	a.gate.Lock()
	defer a.gate.Unlock()
	return a.recompute(ctx, start, end)
}

// recompute requires the exclusive side of gate.
func (a *Aggregator) recompute(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	raw, err := withRetry(ctx, a.retry, a.metrics, "aggregate_events", func(ctx context.Context) ([]models.DailyMetric, error) {
		return a.events.Aggregate(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}

	rollup := models.ExpandRollup(raw)

	_, err = withRetry(ctx, a.retry, a.metrics, "replace_rollup", func(ctx context.Context) (struct{}, error) {
		return struct{}{}, a.rollups.Replace(ctx, start, end, rollup)
	})
	if err != nil {
		return nil, err
	}

	a.logger.Info("rollups recomputed",
		zap.String("start", models.FormatDate(start)),
		zap.String("end", models.FormatDate(end)),
		zap.Int("counters", len(rollup)),
	)
	return rollup, nil
}
