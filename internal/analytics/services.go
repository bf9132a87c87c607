package analytics

import (
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/storage"
	"go.uber.org/zap"
)

// Services bundles the components built over one pair of stores.
type Services struct {
	Events     storage.EventStore
	Rollups    storage.RollupStore
	Aggregator *Aggregator
	Recorder   *EventRecorder
	Query      *QueryService
	Reconciler *Reconciler
}

// NewServices wires the recorder, query service and reconciler over the
// given stores with one shared retry policy.
func NewServices(events storage.EventStore, rollups storage.RollupStore, cfg *config.Config, m *metrics.Metrics, logger *zap.Logger) *Services {
	retry := RetryPolicyFromConfig(cfg.Storage)
	agg := NewAggregator(events, rollups, retry, m, logger.Named("aggregator"))

	return &Services{
		Events:     events,
		Rollups:    rollups,
		Aggregator: agg,
		Recorder:   NewEventRecorder(events, agg, retry, m, logger.Named("recorder")),
		Query:      NewQueryService(rollups, cfg.Query, retry, m, logger.Named("query")),
		Reconciler: NewReconciler(events, rollups, agg, retry, m, logger.Named("reconciler")),
	}
}
