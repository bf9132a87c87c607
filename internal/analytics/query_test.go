package analytics

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/config"
	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestQueryService_DailyZeroFill(t *testing.T) {
	p := newPipeline()

	days, err := p.query.DailyEmailMetrics(context.Background(), date("2024-01-01"), date("2024-01-07"))

	require.NoError(t, err)
	require.Len(t, days, 7)
	for i, d := range days {
		assert.Equal(t, models.FormatDate(date("2024-01-01").AddDate(0, 0, i)), d.Date)
		assert.Equal(t, models.Counts{}, d.Counts)
	}
}

func TestQueryService_DailySeries(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	for _, e := range []*models.Event{
		newEvent("1", models.EventSent, "", "2024-01-01T08:00:00Z"),
		newEvent("2", models.EventSent, "c1", "2024-01-03T08:00:00Z"),
		newEvent("3", models.EventDelivered, "c1", "2024-01-03T09:00:00Z"),
		newEvent("4", models.EventOpened, "c1", "2024-01-03T10:00:00Z"),
	} {
		_, err := p.recorder.Record(ctx, e)
		require.NoError(t, err)
	}

	days, err := p.query.DailyEmailMetrics(ctx, date("2024-01-01"), date("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, days, 3)
	assert.Equal(t, models.Counts{Sent: 1}, days[0].Counts)
	assert.Equal(t, models.Counts{}, days[1].Counts)
	assert.Equal(t, models.Counts{Sent: 1, Delivered: 1, Opened: 1}, days[2].Counts, "campaign counters are not double counted")

	trends, err := p.query.EngagementTrends(ctx, date("2024-01-01"), date("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, trends, 3)
	assert.Equal(t, 0.0, trends[1].OpenRate)
	assert.Equal(t, 1.0, trends[2].OpenRate)
	assert.Equal(t, 1.0, trends[2].DeliveryRate)
}

func TestQueryService_RateSafety(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	_, err := p.recorder.Record(ctx, newEvent("1", models.EventOpened, "", "2024-01-02T10:00:00Z"))
	require.NoError(t, err)
	_, err = p.recorder.Record(ctx, newEvent("2", models.EventClicked, "", "2024-01-02T10:00:00Z"))
	require.NoError(t, err)

	got, err := p.query.EmailAnalytics(ctx, date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)

	assert.Equal(t, int64(0), got.Delivered)
	assert.Equal(t, 0.0, got.OpenRate)
	assert.Equal(t, 0.0, got.ClickRate)
	assert.Equal(t, 0.0, got.BounceRate)
}

func TestQueryService_DuplicateDeliveryCountsOnce(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := p.recorder.Record(ctx, newEvent("generic:evt-42", models.EventOpened, "", "2024-01-02T10:00:00Z"))
		require.NoError(t, err)
	}

	got, err := p.query.EmailAnalytics(ctx, date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), got.Opened)
	assert.Equal(t, "2024-01-02", got.StartDate)
	assert.Equal(t, "2024-01-02", got.EndDate)
}

func TestQueryService_CampaignFunnelRates(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	for i, et := range []models.EventType{models.EventSent, models.EventDelivered, models.EventOpened, models.EventClicked} {
		_, err := p.recorder.Record(ctx, newEvent(string(rune('a'+i)), et, "c1", "2024-01-02T10:00:00Z"))
		require.NoError(t, err)
	}

	got, err := p.query.CampaignAnalytics(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "c1", got[0].CampaignID)
	assert.Equal(t, models.Counts{Sent: 1, Delivered: 1, Opened: 1, Clicked: 1}, got[0].Counts)
	assert.Equal(t, 1.0, got[0].OpenRate)
	assert.Equal(t, 1.0, got[0].ClickRate)
}

func TestQueryService_UnknownCampaignIsZero(t *testing.T) {
	p := newPipeline()

	got, err := p.query.CampaignAnalytics(context.Background(), []string{"unknown-id"})

	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.CampaignAnalytics{CampaignID: "unknown-id"}, got[0])
}

func TestQueryService_CampaignReadsRollups(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	_, err := p.recorder.Record(ctx, newEvent("a", models.EventSent, "c1", "2024-01-02T10:00:00Z"))
	require.NoError(t, err)
	_, err = p.recorder.Record(ctx, newEvent("b", models.EventSent, "c1", "2024-03-02T10:00:00Z"))
	require.NoError(t, err)
	// A counter with no backing event shows the answer comes from the rollups.
	require.NoError(t, p.rollups.Increment(ctx, models.MetricKey{Date: "2024-03-02", EventType: models.EventDelivered, CampaignID: "c1"}, 2))

	got, err := p.query.CampaignAnalytics(ctx, []string{"c1"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, models.Counts{Sent: 2, Delivered: 2}, got[0].Counts)
	assert.Equal(t, 1.0, got[0].DeliveryRate)
}

func TestQueryService_CampaignBatching(t *testing.T) {
	rollups := new(MockRollupStore)
	cfg := testQueryConfig
	cfg.CampaignBatchSize = 2
	q := NewQueryService(rollups, cfg, testRetry, nil, zap.NewNop())

	rollups.On("CampaignTotals", mock.Anything, []string{"c3", "c1"}).
		Return(map[string]models.Counts{"c1": {Sent: 2}}, nil).Once()
	rollups.On("CampaignTotals", mock.Anything, []string{"c2", "c5"}).
		Return(map[string]models.Counts{}, nil).Once()
	rollups.On("CampaignTotals", mock.Anything, []string{"c4"}).
		Return(map[string]models.Counts{"c4": {Delivered: 1}}, nil).Once()

	got, err := q.CampaignAnalytics(context.Background(), []string{"c3", "c1", "c3", "c2", " ", "c5", "c4", "c1"})

	require.NoError(t, err)
	ids := make([]string, len(got))
	for i, c := range got {
		ids[i] = c.CampaignID
	}
	assert.Equal(t, []string{"c3", "c1", "c2", "c5", "c4"}, ids)
	assert.Equal(t, int64(2), got[1].Sent)
	assert.Equal(t, int64(1), got[4].Delivered)
	rollups.AssertNumberOfCalls(t, "CampaignTotals", 3)
}

func TestQueryService_CampaignValidation(t *testing.T) {
	q := NewQueryService(new(MockRollupStore), config.QueryConfig{
		MaxRangeDays: 30, DefaultWindowDays: 7, CampaignBatchSize: 10, MaxCampaignIDs: 2,
	}, testRetry, nil, zap.NewNop())

	_, err := q.CampaignAnalytics(context.Background(), nil)
	assert.True(t, apperr.IsValidation(err))

	_, err = q.CampaignAnalytics(context.Background(), []string{"a", "b", "c"})
	assert.True(t, apperr.IsValidation(err))
}

func TestQueryService_StorageFailureIsInternal(t *testing.T) {
	rollups := new(MockRollupStore)
	q := NewQueryService(rollups, testQueryConfig, testRetry, nil, zap.NewNop())
	rollups.On("Range", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("timeout"))

	_, err := q.EmailAnalytics(context.Background(), date("2024-01-01"), date("2024-01-02"))

	assert.Equal(t, apperr.KindStorage, apperr.KindOf(err))
	rollups.AssertNumberOfCalls(t, "Range", testRetry.MaxAttempts)
}

func TestQueryService_ResolveRange(t *testing.T) {
	p := newPipeline()
	p.query.Now = func() time.Time { return at("2024-01-10T15:04:05Z") }

	start, end, err := p.query.ResolveRange("", "")
	require.NoError(t, err)
	assert.Equal(t, date("2024-01-04"), start)
	assert.Equal(t, date("2024-01-10"), end)

	start, end, err = p.query.ResolveRange("", "2024-02-01")
	require.NoError(t, err)
	assert.Equal(t, date("2024-01-26"), start)
	assert.Equal(t, date("2024-02-01"), end)

	start, end, err = p.query.ResolveRange("2024-01-01", "2024-01-01")
	require.NoError(t, err)
	assert.Equal(t, start, end)
}

func TestQueryService_ResolveRangeInvalid(t *testing.T) {
	p := newPipeline()

	tests := []struct {
		name       string
		start, end string
	}{
		{"bad start", "2024/01/01", "2024-01-02"},
		{"bad end", "2024-01-01", "tomorrow"},
		{"inverted", "2024-01-05", "2024-01-01"},
		{"too long", "2020-01-01", "2024-01-01"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := p.query.ResolveRange(tt.start, tt.end)
			assert.True(t, apperr.IsValidation(err), "got %v", err)
		})
	}
}
