package analytics

import (
	"context"
	"strings"
	"time"

	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/metrics"
	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/radiusdt/email-analytics/internal/storage"
	"go.uber.org/zap"
)

// QueryService answers read-only analytics queries from the rollup store.
// Range queries read the global counters; campaign queries sum the
// campaign-scoped ones.
type QueryService struct {
	rollups storage.RollupStore
	cfg     config.QueryConfig
	retry   RetryPolicy
	metrics *metrics.Metrics
	logger  *zap.Logger

	// Now returns the current time. Defaults to time.Now.
	Now func() time.Time
}

// NewQueryService creates a new query service.
func NewQueryService(rollups storage.RollupStore, cfg config.QueryConfig, retry RetryPolicy, m *metrics.Metrics, logger *zap.Logger) *QueryService {
	return &QueryService{
		rollups: rollups,
		cfg:     cfg,
		retry:   retry,
		metrics: m,
		logger:  logger,
		Now:     time.Now,
	}
}

// ResolveRange parses optional YYYY-MM-DD bounds. A missing end defaults to
// today (UTC); a missing start defaults to DefaultWindowDays ending at end.
func (q *QueryService) ResolveRange(startStr, endStr string) (time.Time, time.Time, error) {
	end := models.DayOf(q.Now())
	if endStr != "" {
		d, err := models.ParseDate(endStr)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("end", "must be YYYY-MM-DD")
		}
		end = d
	}

	start := end.AddDate(0, 0, -(q.cfg.DefaultWindowDays - 1))
	if startStr != "" {
		d, err := models.ParseDate(startStr)
		if err != nil {
			return time.Time{}, time.Time{}, apperr.Validation("start", "must be YYYY-MM-DD")
		}
		start = d
	}

	if err := q.ValidateRange(start, end); err != nil {
		return time.Time{}, time.Time{}, err
	}
	return start, end, nil
}

// ValidateRange rejects inverted ranges and ranges longer than
// MaxRangeDays days.
func (q *QueryService) ValidateRange(start, end time.Time) error {
	start, end = models.DayOf(start), models.DayOf(end)
	if start.After(end) {
		return apperr.Validation("start", "must not be after end")
	}
	days := int(end.Sub(start).Hours()/24) + 1
	if q.cfg.MaxRangeDays > 0 && days > q.cfg.MaxRangeDays {
		return apperr.Validation("end", "range spans %d days, maximum is %d", days, q.cfg.MaxRangeDays)
	}
	return nil
}

// dailyCounts reads the global rollups for the range and folds them into
// one Counts per day.
func (q *QueryService) dailyCounts(ctx context.Context, start, end time.Time) (map[string]*models.Counts, error) {
	if err := q.ValidateRange(start, end); err != nil {
		return nil, err
	}

	rows, err := withRetry(ctx, q.retry, q.metrics, "read_rollup", func(ctx context.Context) ([]models.DailyMetric, error) {
		return q.rollups.Range(ctx, start, end)
	})
	if err != nil {
		return nil, err
	}

	byDay := make(map[string]*models.Counts)
	for _, m := range models.GlobalOnly(rows) {
		c, ok := byDay[m.Date]
		if !ok {
			c = &models.Counts{}
			byDay[m.Date] = c
		}
		c.Add(m.EventType, m.Count)
	}
	return byDay, nil
}

// EmailAnalytics returns per-type totals and rates over [start, end].
func (q *QueryService) EmailAnalytics(ctx context.Context, start, end time.Time) (*models.EmailAnalytics, error) {
	defer q.observe("totals", time.Now())

	byDay, err := q.dailyCounts(ctx, start, end)
	if err != nil {
		return nil, err
	}

	var total models.Counts
	for _, c := range byDay {
		for _, t := range models.EventTypes {
			total.Add(t, c.Get(t))
		}
	}

	return &models.EmailAnalytics{
		StartDate: models.FormatDate(start),
		EndDate:   models.FormatDate(end),
		Counts:    total,
		Rates:     models.ComputeRates(total),
	}, nil
}

// DailyEmailMetrics returns one zero-filled entry per day in [start, end].
func (q *QueryService) DailyEmailMetrics(ctx context.Context, start, end time.Time) ([]models.DailyEmailMetric, error) {
	defer q.observe("daily", time.Now())

	byDay, err := q.dailyCounts(ctx, start, end)
	if err != nil {
		return nil, err
	}

	days := models.DaysInRange(start, end)
	result := make([]models.DailyEmailMetric, len(days))
	for i, d := range days {
		result[i].Date = d
		if c, ok := byDay[d]; ok {
			result[i].Counts = *c
		}
	}
	return result, nil
}

// EngagementTrends returns per-day counts and rates, zero filled.
func (q *QueryService) EngagementTrends(ctx context.Context, start, end time.Time) ([]models.EngagementTrendPoint, error) {
	defer q.observe("trends", time.Now())

	byDay, err := q.dailyCounts(ctx, start, end)
	if err != nil {
		return nil, err
	}

	days := models.DaysInRange(start, end)
	result := make([]models.EngagementTrendPoint, len(days))
	for i, d := range days {
		result[i].Date = d
		if c, ok := byDay[d]; ok {
			result[i].Counts = *c
		}
		result[i].Rates = models.ComputeRates(result[i].Counts)
	}
	return result, nil
}

// CampaignAnalytics returns counts and rates per campaign id, in input
// order with duplicates collapsed. Unknown ids get an all-zero record.
// Reads are batched by CampaignBatchSize.
func (q *QueryService) CampaignAnalytics(ctx context.Context, campaignIDs []string) ([]models.CampaignAnalytics, error) {
	defer q.observe("campaigns", time.Now())

	ids, err := q.normalizeCampaignIDs(campaignIDs)
	if err != nil {
		return nil, err
	}

	batchSize := q.cfg.CampaignBatchSize
	if batchSize < 1 {
		batchSize = len(ids)
	}

	counts := make(map[string]models.Counts, len(ids))
	for lo := 0; lo < len(ids); lo += batchSize {
		hi := lo + batchSize
		if hi > len(ids) {
			hi = len(ids)
		}
		batch := ids[lo:hi]

		found, err := withRetry(ctx, q.retry, q.metrics, "read_campaign_rollup", func(ctx context.Context) (map[string]models.Counts, error) {
			return q.rollups.CampaignTotals(ctx, batch)
		})
		if err != nil {
			return nil, err
		}
		for id, c := range found {
			counts[id] = c
		}
	}

	result := make([]models.CampaignAnalytics, len(ids))
	for i, id := range ids {
		c := counts[id]
		result[i] = models.CampaignAnalytics{
			CampaignID: id,
			Counts:     c,
			Rates:      models.ComputeRates(c),
		}
	}
	return result, nil
}

func (q *QueryService) normalizeCampaignIDs(campaignIDs []string) ([]string, error) {
	seen := make(map[string]struct{}, len(campaignIDs))
	ids := make([]string, 0, len(campaignIDs))
	for _, id := range campaignIDs {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}

	if len(ids) == 0 {
		return nil, apperr.Validation("campaign_ids", "at least one campaign id is required")
	}
	if q.cfg.MaxCampaignIDs > 0 && len(ids) > q.cfg.MaxCampaignIDs {
		return nil, apperr.Validation("campaign_ids", "at most %d campaign ids per request", q.cfg.MaxCampaignIDs)
	}
	return ids, nil
}

func (q *QueryService) observe(query string, start time.Time) {
	q.metrics.RecordQuery(query, time.Since(start))
}
