package analytics

import (
	"context"
	"time"

	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/stretchr/testify/mock"
)

type MockEventStore struct {
	mock.Mock
}

func (m *MockEventStore) Insert(ctx context.Context, e *models.Event) (bool, error) {
	args := m.Called(ctx, e)
	return args.Bool(0), args.Error(1)
}

func (m *MockEventStore) Aggregate(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	args := m.Called(ctx, start, end)
	metrics, _ := args.Get(0).([]models.DailyMetric)
	return metrics, args.Error(1)
}

func (m *MockEventStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockRollupStore struct {
	mock.Mock
}

func (m *MockRollupStore) Increment(ctx context.Context, key models.MetricKey, delta int64) error {
	return m.Called(ctx, key, delta).Error(0)
}

func (m *MockRollupStore) Range(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	args := m.Called(ctx, start, end)
	metrics, _ := args.Get(0).([]models.DailyMetric)
	return metrics, args.Error(1)
}

func (m *MockRollupStore) CampaignTotals(ctx context.Context, campaignIDs []string) (map[string]models.Counts, error) {
	args := m.Called(ctx, campaignIDs)
	counts, _ := args.Get(0).(map[string]models.Counts)
	return counts, args.Error(1)
}

func (m *MockRollupStore) Replace(ctx context.Context, start, end time.Time, metrics []models.DailyMetric) error {
	return m.Called(ctx, start, end, metrics).Error(0)
}

func (m *MockRollupStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}
