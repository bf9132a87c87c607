package storage

import (
	"context"
	"sync"
	"time"

	"github.com/radiusdt/email-analytics/internal/models"
)

// InMemoryEventStore provides in-memory storage for events.
type InMemoryEventStore struct {
	mu     sync.RWMutex
	events map[string]*models.Event
}

// NewInMemoryEventStore creates a new in-memory event store.
func NewInMemoryEventStore() *InMemoryEventStore {
	return &InMemoryEventStore{
		events: make(map[string]*models.Event),
	}
}

func (s *InMemoryEventStore) Insert(ctx context.Context, e *models.Event) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.events[e.DedupKey]; ok {
		return sameIngest(existing, e), nil
	}

	stored := *e
	stored.CreatedAt = e.CreatedAt.UTC()
	s.events[e.DedupKey] = &stored

	return true, nil
}

func (s *InMemoryEventStore) Aggregate(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	from, until := models.RangeBounds(start, end)

	s.mu.RLock()
	counts := make(map[models.MetricKey]int64)
	for _, e := range s.events {
		if e.CreatedAt.Before(from) || !e.CreatedAt.Before(until) {
			continue
		}
		counts[models.MetricKey{Date: e.Date(), EventType: e.EventType, CampaignID: e.CampaignID}]++
	}
	s.mu.RUnlock()

	result := make([]models.DailyMetric, 0, len(counts))
	for k, c := range counts {
		result = append(result, models.DailyMetric{MetricKey: k, Count: c})
	}
	models.SortMetrics(result)
	return result, nil
}

// Get returns the stored event for a dedup key.
func (s *InMemoryEventStore) Get(dedupKey string) (*models.Event, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.events[dedupKey]
	return e, ok
}

// Len returns the number of stored events.
func (s *InMemoryEventStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.events)
}

func (s *InMemoryEventStore) Ping(ctx context.Context) error {
	return nil
}
