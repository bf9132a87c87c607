package storage

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/radiusdt/email-analytics/internal/models"
)

// =============================================
// EVENT STORE
// =============================================

// EventStore is the append-only log of canonical events.
type EventStore interface {
	// Insert stores e unless an event with the same DedupKey exists. The
	// existence check and the write are one atomic operation. It reports
	// true when the stored event carries e.IngestID, so a retry of a write
	// that committed before its caller saw the result still reports true.
	// A zero IngestID never matches.
	Insert(ctx context.Context, e *models.Event) (bool, error)

	// Aggregate counts events with created_at in the UTC days [start, end],
	// grouped by (date, event_type, campaign_id). Events without a campaign
	// are grouped under an empty CampaignID.
	Aggregate(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error)

	Ping(ctx context.Context) error
}

// =============================================
// ROLLUP STORE
// =============================================

// RollupStore holds the pre-aggregated daily counters.
type RollupStore interface {
	// Increment atomically adds delta to the counter at key, creating it.
	Increment(ctx context.Context, key models.MetricKey, delta int64) error

	// Range returns every counter, global and campaign-scoped, for the UTC
	// days [start, end].
	Range(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error)

	// CampaignTotals sums the campaign-scoped counters of every date for
	// the given ids in a single read. Ids with no counters are absent.
	CampaignTotals(ctx context.Context, campaignIDs []string) (map[string]models.Counts, error)

	// Replace overwrites every counter, global and campaign-scoped, dated in
	// [start, end] with metrics. Counters in range that metrics does not
	// mention are set to 0. Metrics dated outside the range are ignored.
	Replace(ctx context.Context, start, end time.Time, metrics []models.DailyMetric) error

	Ping(ctx context.Context) error
}

// inRange reports whether the YYYY-MM-DD date falls in [from, to].
func inRange(date, from, to string) bool {
	return date >= from && date <= to
}

func dateBounds(start, end time.Time) (string, string) {
	return models.FormatDate(start), models.FormatDate(end)
}

// sameIngest reports whether stored was written by the same Record call as e.
func sameIngest(stored, e *models.Event) bool {
	return e.IngestID != uuid.Nil && stored.IngestID == e.IngestID
}
