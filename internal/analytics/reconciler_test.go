package analytics

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/radiusdt/email-analytics/internal/apperr"
	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/radiusdt/email-analytics/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// assertConsistent checks that every rollup counter in the range, global and
// campaign-scoped, equals the event counts.
func assertConsistent(t *testing.T, p *pipeline, start, end time.Time) {
	t.Helper()
	mismatches, err := p.reconciler.Verify(context.Background(), start, end)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestReconciler_CleanAfterIngestion(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	for i := 0; i < 20; i++ {
		et := models.EventTypes[i%len(models.EventTypes)]
		e := newEvent(fmt.Sprintf("k%d", i%15), et, fmt.Sprintf("c%d", i%3), fmt.Sprintf("2024-01-0%dT12:00:00Z", 1+i%4))
		_, err := p.recorder.Record(ctx, e)
		require.NoError(t, err)
	}

	assertConsistent(t, p, date("2024-01-01"), date("2024-01-05"))

	report, err := p.reconciler.Reconcile(ctx, date("2024-01-01"), date("2024-01-05"), false)
	require.NoError(t, err)
	assert.False(t, report.Repaired)
	assert.Empty(t, report.Mismatches)
}

func TestReconciler_RepairsDrift(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	_, err := p.recorder.Record(ctx, newEvent("a", models.EventSent, "c1", "2024-01-02T10:00:00Z"))
	require.NoError(t, err)

	// An event that reached the log but whose increment was lost.
	_, err = p.events.Insert(ctx, newEvent("b", models.EventOpened, "c1", "2024-01-02T11:00:00Z"))
	require.NoError(t, err)
	// A counter with no backing event.
	require.NoError(t, p.rollups.Increment(ctx, models.MetricKey{Date: "2024-01-03", EventType: models.EventBounced}, 4))

	mismatches, err := p.reconciler.Verify(ctx, date("2024-01-01"), date("2024-01-03"))
	require.NoError(t, err)
	require.Len(t, mismatches, 3)
	assert.Equal(t, apperr.ReconciliationMismatch{Date: "2024-01-02", EventType: "opened", Rollup: 0, Events: 1}, *mismatches[0])
	assert.Equal(t, apperr.ReconciliationMismatch{Date: "2024-01-02", EventType: "opened", CampaignID: "c1", Rollup: 0, Events: 1}, *mismatches[1])
	assert.Equal(t, apperr.ReconciliationMismatch{Date: "2024-01-03", EventType: "bounced", Rollup: 4, Events: 0}, *mismatches[2])

	report, err := p.reconciler.Reconcile(ctx, date("2024-01-01"), date("2024-01-03"), false)
	require.NoError(t, err)
	assert.True(t, report.Repaired)
	assert.Len(t, report.Mismatches, 3)

	assertConsistent(t, p, date("2024-01-01"), date("2024-01-03"))
	assert.Equal(t, int64(1), p.rollups.Get(models.MetricKey{Date: "2024-01-02", EventType: models.EventOpened, CampaignID: "c1"}))
	assert.Equal(t, int64(0), p.rollups.Get(models.MetricKey{Date: "2024-01-03", EventType: models.EventBounced}))
}

func TestReconciler_DetectsCampaignDrift(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	_, err := p.recorder.Record(ctx, newEvent("a", models.EventClicked, "c1", "2024-01-02T10:00:00Z"))
	require.NoError(t, err)
	require.NoError(t, p.rollups.Increment(ctx, models.MetricKey{Date: "2024-01-02", EventType: models.EventClicked, CampaignID: "c1"}, 2))
	require.NoError(t, p.rollups.Increment(ctx, models.MetricKey{Date: "2024-01-02", EventType: models.EventClicked, CampaignID: "ghost"}, 1))

	mismatches, err := p.reconciler.Verify(ctx, date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)
	require.Len(t, mismatches, 2)
	assert.Equal(t, "c1", mismatches[0].CampaignID)
	assert.Equal(t, int64(3), mismatches[0].Rollup)
	assert.Equal(t, int64(1), mismatches[0].Events)
	assert.Equal(t, "ghost", mismatches[1].CampaignID)

	_, err = p.reconciler.Reconcile(ctx, date("2024-01-02"), date("2024-01-02"), false)
	require.NoError(t, err)

	got, err := p.query.CampaignAnalytics(ctx, []string{"c1", "ghost"})
	require.NoError(t, err)
	assert.Equal(t, int64(1), got[0].Clicked)
	assert.Equal(t, int64(0), got[1].Clicked)
	assertConsistent(t, p, date("2024-01-02"), date("2024-01-02"))
}

// pausingEventStore holds its first insert after the write commits until
// resume is closed.
type pausingEventStore struct {
	*storage.InMemoryEventStore
	committed chan struct{}
	resume    chan struct{}
	once      sync.Once
}

func (s *pausingEventStore) Insert(ctx context.Context, e *models.Event) (bool, error) {
	ok, err := s.InMemoryEventStore.Insert(ctx, e)
	paused := false
	s.once.Do(func() { paused = true })
	if paused {
		close(s.committed)
		<-s.resume
	}
	return ok, err
}

func TestAggregator_RecomputeWaitsForPendingIncrement(t *testing.T) {
	events := &pausingEventStore{
		InMemoryEventStore: storage.NewInMemoryEventStore(),
		committed:          make(chan struct{}),
		resume:             make(chan struct{}),
	}
	rollups := storage.NewInMemoryRollupStore()
	agg := NewAggregator(events, rollups, testRetry, nil, zap.NewNop())
	recorder := NewEventRecorder(events, agg, testRetry, nil, zap.NewNop())
	reconciler := NewReconciler(events, rollups, agg, testRetry, nil, zap.NewNop())
	ctx := context.Background()
	d := date("2024-01-02")

	recorded := make(chan error, 1)
	go func() {
		_, err := recorder.Record(ctx, newEvent("a", models.EventOpened, "c1", "2024-01-02T10:00:00Z"))
		recorded <- err
	}()
	<-events.committed

	recomputed := make(chan error, 1)
	go func() {
		_, err := agg.Recompute(ctx, d, d)
		recomputed <- err
	}()
	verified := make(chan int, 1)
	go func() {
		mismatches, err := reconciler.Verify(ctx, d, d)
		assert.NoError(t, err)
		verified <- len(mismatches)
	}()

	select {
	case <-recomputed:
		t.Fatal("recompute finished between insert and increment")
	case <-verified:
		t.Fatal("verify finished between insert and increment")
	case <-time.After(50 * time.Millisecond):
	}

	close(events.resume)
	require.NoError(t, <-recorded)
	require.NoError(t, <-recomputed)
	assert.Equal(t, 0, <-verified)

	assert.Equal(t, int64(1), rollups.Get(models.MetricKey{Date: "2024-01-02", EventType: models.EventOpened}))
	assert.Equal(t, int64(1), rollups.Get(models.MetricKey{Date: "2024-01-02", EventType: models.EventOpened, CampaignID: "c1"}))
	mismatches, err := reconciler.Verify(ctx, d, d)
	require.NoError(t, err)
	assert.Empty(t, mismatches)
}

func TestReconciler_ConcurrentWithIngestion(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	start, end := date("2024-01-01"), date("2024-01-03")

	const writers, perWriter, distinct = 8, 50, 250
	done := make(chan struct{})
	var wg sync.WaitGroup
	for w := 0; w < writers; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				n := (w*perWriter + i) % distinct
				e := newEvent(fmt.Sprintf("k%d", n), models.EventTypes[n%len(models.EventTypes)],
					fmt.Sprintf("c%d", n%3), fmt.Sprintf("2024-01-0%dT12:00:00Z", 1+n%3))
				_, err := p.recorder.Record(ctx, e)
				assert.NoError(t, err)
			}
		}(w)
	}

	var checks sync.WaitGroup
	checks.Add(2)
	go func() {
		defer checks.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			_, err := p.reconciler.Reconcile(ctx, start, end, true)
			assert.NoError(t, err)
		}
	}()
	go func() {
		defer checks.Done()
		for {
			select {
			case <-done:
				return
			default:
			}
			mismatches, err := p.reconciler.Verify(ctx, start, end)
			assert.NoError(t, err)
			assert.Empty(t, mismatches, "drift observed mid-ingestion")
		}
	}()

	wg.Wait()
	close(done)
	checks.Wait()

	assert.Equal(t, distinct, p.events.Len())
	assertConsistent(t, p, start, end)

	total, err := p.query.EmailAnalytics(ctx, start, end)
	require.NoError(t, err)
	var sum int64
	for _, et := range models.EventTypes {
		sum += total.Get(et)
	}
	assert.Equal(t, int64(distinct), sum)

	campaigns, err := p.query.CampaignAnalytics(ctx, []string{"c0", "c1", "c2"})
	require.NoError(t, err)
	sum = 0
	for _, c := range campaigns {
		for _, et := range models.EventTypes {
			sum += c.Get(et)
		}
	}
	assert.Equal(t, int64(distinct), sum)
}

func TestAggregator_RecomputeIdempotent(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()

	for i, et := range []models.EventType{models.EventSent, models.EventSent, models.EventDelivered} {
		_, err := p.events.Insert(ctx, newEvent(fmt.Sprint(i), et, "c1", "2024-01-02T10:00:00Z"))
		require.NoError(t, err)
	}

	first, err := p.aggregator.Recompute(ctx, date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)
	snapshot, err := p.rollups.Range(ctx, date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)

	second, err := p.aggregator.Recompute(ctx, date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)
	again, err := p.rollups.Range(ctx, date("2024-01-02"), date("2024-01-02"))
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, snapshot, again)
	assert.Equal(t, int64(2), p.rollups.Get(models.MetricKey{Date: "2024-01-02", EventType: models.EventSent}))
	assert.Equal(t, int64(2), p.rollups.Get(models.MetricKey{Date: "2024-01-02", EventType: models.EventSent, CampaignID: "c1"}))
}

func TestAggregator_RecomputeRejectsInvertedRange(t *testing.T) {
	p := newPipeline()

	_, err := p.aggregator.Recompute(context.Background(), date("2024-01-05"), date("2024-01-01"))
	assert.Error(t, err)
}

func TestReconcileWorker_RunOnce(t *testing.T) {
	p := newPipeline()
	ctx := context.Background()
	_, err := p.events.Insert(ctx, newEvent("lost", models.EventDelivered, "", "2024-01-09T10:00:00Z"))
	require.NoError(t, err)
	_, err = p.events.Insert(ctx, newEvent("old", models.EventDelivered, "", "2024-01-01T10:00:00Z"))
	require.NoError(t, err)

	w := NewReconcileWorker(WorkerConfig{
		Reconciler: p.reconciler,
		Logger:     zap.NewNop(),
		Interval:   time.Hour,
		Lookback:   3,
		Now:        func() time.Time { return at("2024-01-10T08:00:00Z") },
	})

	report := w.RunOnce(ctx)
	require.NotNil(t, report)
	assert.Equal(t, "2024-01-08", report.StartDate)
	assert.Equal(t, "2024-01-10", report.EndDate)
	assert.True(t, report.Repaired)

	assert.Equal(t, int64(1), p.rollups.Get(models.MetricKey{Date: "2024-01-09", EventType: models.EventDelivered}))
	assert.Equal(t, int64(0), p.rollups.Get(models.MetricKey{Date: "2024-01-01", EventType: models.EventDelivered}), "outside lookback")
}

func TestReconcileWorker_StartStop(t *testing.T) {
	p := newPipeline()
	w := NewReconcileWorker(WorkerConfig{
		Reconciler: p.reconciler,
		Logger:     zap.NewNop(),
		Interval:   time.Millisecond,
		Lookback:   1,
	})

	done := make(chan struct{})
	go func() {
		w.Start(context.Background())
		close(done)
	}()
	time.Sleep(10 * time.Millisecond)
	w.Stop()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("worker did not stop")
	}
}
