package storage

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/radiusdt/email-analytics/internal/models"
)

// InMemoryRollupStore keeps one atomic counter per key. Increments take the
// shared side of mu so distinct keys never contend; Replace takes the
// exclusive side so no increment interleaves with an overwrite.
type InMemoryRollupStore struct {
	mu       sync.RWMutex
	counters sync.Map // models.MetricKey -> *atomic.Int64
}

// NewInMemoryRollupStore creates a new in-memory rollup store.
func NewInMemoryRollupStore() *InMemoryRollupStore {
	return &InMemoryRollupStore{}
}

func (s *InMemoryRollupStore) counter(key models.MetricKey) *atomic.Int64 {
	if v, ok := s.counters.Load(key); ok {
		return v.(*atomic.Int64)
	}
	v, _ := s.counters.LoadOrStore(key, new(atomic.Int64))
	return v.(*atomic.Int64)
}

func (s *InMemoryRollupStore) Increment(ctx context.Context, key models.MetricKey, delta int64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	s.counter(key).Add(delta)
	return nil
}

func (s *InMemoryRollupStore) Range(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, to := dateBounds(start, end)

	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []models.DailyMetric
	s.counters.Range(func(k, v any) bool {
		key := k.(models.MetricKey)
		if inRange(key.Date, from, to) {
			result = append(result, models.DailyMetric{MetricKey: key, Count: v.(*atomic.Int64).Load()})
		}
		return true
	})
	models.SortMetrics(result)
	return result, nil
}

func (s *InMemoryRollupStore) CampaignTotals(ctx context.Context, campaignIDs []string) (map[string]models.Counts, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	wanted := make(map[string]struct{}, len(campaignIDs))
	for _, id := range campaignIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]models.Counts)
	s.counters.Range(func(k, v any) bool {
		key := k.(models.MetricKey)
		if key.IsGlobal() {
			return true
		}
		if _, ok := wanted[key.CampaignID]; !ok {
			return true
		}
		n := v.(*atomic.Int64).Load()
		if n == 0 {
			return true
		}
		c := result[key.CampaignID]
		c.Add(key.EventType, n)
		result[key.CampaignID] = c
		return true
	})
	return result, nil
}

func (s *InMemoryRollupStore) Replace(ctx context.Context, start, end time.Time, metrics []models.DailyMetric) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	from, to := dateBounds(start, end)

	s.mu.Lock()
	defer s.mu.Unlock()

	s.counters.Range(func(k, v any) bool {
		if inRange(k.(models.MetricKey).Date, from, to) {
			v.(*atomic.Int64).Store(0)
		}
		return true
	})
	for _, m := range metrics {
		if inRange(m.Date, from, to) {
			s.counter(m.MetricKey).Store(m.Count)
		}
	}
	return nil
}

// Get returns the current value of one counter.
func (s *InMemoryRollupStore) Get(key models.MetricKey) int64 {
	if v, ok := s.counters.Load(key); ok {
		return v.(*atomic.Int64).Load()
	}
	return 0
}

func (s *InMemoryRollupStore) Ping(ctx context.Context) error {
	return nil
}
