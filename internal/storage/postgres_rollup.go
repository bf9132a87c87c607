package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/email-analytics/internal/models"
)

// PostgresRollupStore implements RollupStore on the daily_metrics table.
// Global counters use campaign_id = ''.
type PostgresRollupStore struct {
	pool *pgxpool.Pool
}

// NewPostgresRollupStore creates a new PostgreSQL-backed rollup store.
func NewPostgresRollupStore(pool *pgxpool.Pool) *PostgresRollupStore {
	return &PostgresRollupStore{pool: pool}
}

// Increment serializes same-key writers on the row lock taken by the upsert.
func (s *PostgresRollupStore) Increment(ctx context.Context, key models.MetricKey, delta int64) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO daily_metrics (date, event_type, campaign_id, count, updated_at)
		VALUES ($1::date, $2, $3, $4, NOW())
		ON CONFLICT (date, event_type, campaign_id) DO UPDATE SET
			count = daily_metrics.count + EXCLUDED.count,
			updated_at = NOW()
	`, key.Date, string(key.EventType), key.CampaignID, delta)
	if err != nil {
		return fmt.Errorf("failed to increment %s/%s: %w", key.Date, key.EventType, err)
	}
	return nil
}

func (s *PostgresRollupStore) Range(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	from, to := dateBounds(start, end)

	rows, err := s.pool.Query(ctx, `
		SELECT to_char(date, 'YYYY-MM-DD'), event_type, campaign_id, count
		FROM daily_metrics
		WHERE date BETWEEN $1::date AND $2::date
		ORDER BY date, event_type, campaign_id
	`, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to read rollups: %w", err)
	}
	defer rows.Close()

	var result []models.DailyMetric
	for rows.Next() {
		var m models.DailyMetric
		var eventType string
		if err := rows.Scan(&m.Date, &eventType, &m.CampaignID, &m.Count); err != nil {
			return nil, fmt.Errorf("failed to scan rollup: %w", err)
		}
		m.EventType = models.EventType(eventType)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read rollups: %w", err)
	}
	return result, nil
}

func (s *PostgresRollupStore) CampaignTotals(ctx context.Context, campaignIDs []string) (map[string]models.Counts, error) {
	result := make(map[string]models.Counts, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return result, nil
	}

	rows, err := s.pool.Query(ctx, `
		SELECT campaign_id, event_type, SUM(count)::bigint
		FROM daily_metrics
		WHERE campaign_id = ANY($1)
		GROUP BY campaign_id, event_type
		HAVING SUM(count) > 0
	`, campaignIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to read campaign rollups: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var id, eventType string
		var n int64
		if err := rows.Scan(&id, &eventType, &n); err != nil {
			return nil, fmt.Errorf("failed to scan campaign rollup: %w", err)
		}
		c := result[id]
		c.Add(models.EventType(eventType), n)
		result[id] = c
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read campaign rollups: %w", err)
	}
	return result, nil
}

// Replace zeroes the range and writes metrics in one transaction, so readers
// see either the old or the new counters.
func (s *PostgresRollupStore) Replace(ctx context.Context, start, end time.Time, metrics []models.DailyMetric) error {
	from, to := dateBounds(start, end)

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin rollup replace: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		UPDATE daily_metrics SET count = 0, updated_at = NOW()
		WHERE date BETWEEN $1::date AND $2::date
	`, from, to); err != nil {
		return fmt.Errorf("failed to reset rollups: %w", err)
	}

	batch := &pgx.Batch{}
	for _, m := range metrics {
		if !inRange(m.Date, from, to) {
			continue
		}
		batch.Queue(`
			INSERT INTO daily_metrics (date, event_type, campaign_id, count, updated_at)
			VALUES ($1::date, $2, $3, $4, NOW())
			ON CONFLICT (date, event_type, campaign_id) DO UPDATE SET
				count = EXCLUDED.count,
				updated_at = NOW()
		`, m.Date, string(m.EventType), m.CampaignID, m.Count)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return fmt.Errorf("failed to write rollups: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit rollup replace: %w", err)
	}
	return nil
}

func (s *PostgresRollupStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
