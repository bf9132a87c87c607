package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/radiusdt/email-analytics/internal/models"
)

// PostgresEventStore implements EventStore using PostgreSQL.
type PostgresEventStore struct {
	pool *pgxpool.Pool
}

// NewPostgresEventStore creates a new PostgreSQL-backed event store.
func NewPostgresEventStore(pool *pgxpool.Pool) *PostgresEventStore {
	return &PostgresEventStore{pool: pool}
}

// Insert relies on the unique index on dedup_key. When the row already
// exists, its ingest_id tells a committed earlier attempt of this call apart
// from another writer. A unique violation from a concurrent writer takes the
// same path.
func (s *PostgresEventStore) Insert(ctx context.Context, e *models.Event) (bool, error) {
	var payload any
	if len(e.Payload) > 0 {
		payload = e.Payload
	}

	var id int64
	err := s.pool.QueryRow(ctx, `
		INSERT INTO email_events (dedup_key, email_id, campaign_id, event_type, created_at, payload, provider, received_at, ingest_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (dedup_key) DO NOTHING
		RETURNING id
	`, e.DedupKey, e.EmailID, nullString(e.CampaignID), string(e.EventType), e.CreatedAt.UTC(),
		payload, nullString(e.Provider), nullTime(e.ReceivedAt), ingestID(e.IngestID)).Scan(&id)

	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, pgx.ErrNoRows) || isUniqueViolation(err):
		return s.ownsRow(ctx, e)
	default:
		return false, fmt.Errorf("failed to insert event: %w", err)
	}
}

// ownsRow reports whether the stored event for e.DedupKey was written with
// e.IngestID.
func (s *PostgresEventStore) ownsRow(ctx context.Context, e *models.Event) (bool, error) {
	if e.IngestID == uuid.Nil {
		return false, nil
	}
	var stored pgtype.UUID
	err := s.pool.QueryRow(ctx, `
		SELECT ingest_id FROM email_events WHERE dedup_key = $1
	`, e.DedupKey).Scan(&stored)
	if err != nil {
		return false, fmt.Errorf("failed to read existing event: %w", err)
	}
	return stored.Valid && uuid.UUID(stored.Bytes) == e.IngestID, nil
}

func (s *PostgresEventStore) Aggregate(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	from, until := models.RangeBounds(start, end)

	rows, err := s.pool.Query(ctx, `
		SELECT to_char(created_at AT TIME ZONE 'UTC', 'YYYY-MM-DD') AS day,
		       event_type,
		       COALESCE(campaign_id, '') AS campaign_id,
		       COUNT(*)
		FROM email_events
		WHERE created_at >= $1 AND created_at < $2
		GROUP BY 1, 2, 3
		ORDER BY 1, 2, 3
	`, from, until)
	if err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}
	defer rows.Close()

	var result []models.DailyMetric
	for rows.Next() {
		var m models.DailyMetric
		var eventType string
		if err := rows.Scan(&m.Date, &eventType, &m.CampaignID, &m.Count); err != nil {
			return nil, fmt.Errorf("failed to scan aggregate: %w", err)
		}
		m.EventType = models.EventType(eventType)
		result = append(result, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to aggregate events: %w", err)
	}
	return result, nil
}

func (s *PostgresEventStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Helper functions

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func ingestID(id uuid.UUID) pgtype.UUID {
	return pgtype.UUID{Bytes: id, Valid: id != uuid.Nil}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	t = t.UTC()
	return &t
}
