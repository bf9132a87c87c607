package analytics

import (
	"context"
	"strings"

	"github.com/google/uuid"
	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/radiusdt/email-analytics/internal/storage"
	"go.uber.org/zap"
)

// Recorder records one canonical event. Implementations must be idempotent
// on the event's DedupKey so callers can retry freely.
type Recorder interface {
	Record(ctx context.Context, e *models.Event) (models.Outcome, error)
}

// EventRecorder inserts events into the event store and, for newly
// inserted events only, increments their rollup counters.
type EventRecorder struct {
	events     storage.EventStore
	aggregator *Aggregator
	retry      RetryPolicy
	metrics    *metrics.Metrics
	logger     *zap.Logger
}

// NewEventRecorder creates a new event recorder.
func NewEventRecorder(events storage.EventStore, aggregator *Aggregator, retry RetryPolicy, m *metrics.Metrics, logger *zap.Logger) *EventRecorder {
	return &EventRecorder{
		events:     events,
		aggregator: aggregator,
		retry:      retry,
		metrics:    m,
		logger:     logger,
	}
}

// Record validates e, inserts it and increments its rollups.
//
// Failed inserts are retried per the retry policy; exhausting them returns
// a StorageError and touches no rollup. Every attempt carries one fresh
// IngestID, so an attempt that committed but reported an error is
// recognized by its retry as the first write rather than a duplicate.
// Once the insert succeeds the rollup increments run detached from ctx
// cancellation, and their failure is logged rather than returned: the
// event is durable and the reconciler repairs the counters.
//
// e itself is not modified.
func (r *EventRecorder) Record(ctx context.Context, e *models.Event) (models.Outcome, error) {
	if err := ValidateEvent(e); err != nil {
		return 0, err
	}
	ev := *e
	e = &ev
	e.CreatedAt = e.CreatedAt.UTC()
	e.IngestID = uuid.New()

	r.aggregator.gate.RLock()
	defer r.aggregator.gate.RUnlock()

	inserted, err := withRetry(ctx, r.retry, r.metrics, "insert_event", func(ctx context.Context) (bool, error) {
		return r.events.Insert(ctx, e)
	})
	if err != nil {
		r.logger.Error("failed to record event",
			zap.String("dedup_key", e.DedupKey),
			zap.String("event_type", string(e.EventType)),
			zap.Error(err),
		)
		return 0, err
	}

	if !inserted {
		r.metrics.RecordEvent(string(e.EventType), models.OutcomeDuplicate.String())
		r.logger.Debug("duplicate event ignored", zap.String("dedup_key", e.DedupKey))
		return models.OutcomeDuplicate, nil
	}

	r.metrics.RecordEvent(string(e.EventType), models.OutcomeInserted.String())
	_ = r.aggregator.Increment(context.WithoutCancel(ctx), e)

	return models.OutcomeInserted, nil
}

// ValidateEvent checks the fields every stored event must carry.
func ValidateEvent(e *models.Event) error {
	switch {
	case e == nil:
		return apperr.Validation("", "event is required")
	case strings.TrimSpace(e.DedupKey) == "":
		return apperr.Validation("dedup_key", "is required")
	case strings.TrimSpace(e.EmailID) == "":
		return apperr.Validation("email_id", "is required")
	case !e.EventType.Valid():
		return apperr.Validation("event_type", "unknown event type %q", e.EventType)
	case e.CreatedAt.IsZero():
		return apperr.Validation("created_at", "is required")
	}
	return nil
}
