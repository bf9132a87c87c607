package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/radiusdt/email-analytics/internal/models"
	"github.com/redis/go-redis/v9"
)

// maxReplaceAttempts bounds optimistic-lock retries when increments race a
// Replace on the same day hash.
const maxReplaceAttempts = 5

const scanCount = 500

// RedisRollupStore implements RollupStore using one Redis hash per day.
//
// Key layout:
//
//	<prefix>:<YYYY-MM-DD>  field <event_type>                global counter
//	<prefix>:<YYYY-MM-DD>  field <event_type>:<campaign_id>  campaign counter
type RedisRollupStore struct {
	client *redis.Client
	prefix string
}

// NewRedisRollupStore creates a new Redis-backed rollup store.
func NewRedisRollupStore(client *redis.Client, prefix string) *RedisRollupStore {
	if prefix == "" {
		prefix = "email:rollup"
	}
	return &RedisRollupStore{client: client, prefix: prefix}
}

func (s *RedisRollupStore) dayKey(date string) string {
	return fmt.Sprintf("%s:%s", s.prefix, date)
}

func field(key models.MetricKey) string {
	if key.IsGlobal() {
		return string(key.EventType)
	}
	return string(key.EventType) + ":" + key.CampaignID
}

// Increment uses HINCRBY, which Redis applies atomically per field.
func (s *RedisRollupStore) Increment(ctx context.Context, key models.MetricKey, delta int64) error {
	if err := s.client.HIncrBy(ctx, s.dayKey(key.Date), field(key), delta).Err(); err != nil {
		return fmt.Errorf("failed to increment %s/%s: %w", key.Date, key.EventType, err)
	}
	return nil
}

// parseField reverses field. Campaign ids may contain ':'; event types
// never do.
func parseField(f string) (models.EventType, string, bool) {
	t, campaign, _ := strings.Cut(f, ":")
	et, ok := models.ParseEventType(t)
	return et, campaign, ok
}

func (s *RedisRollupStore) Range(ctx context.Context, start, end time.Time) ([]models.DailyMetric, error) {
	days := models.DaysInRange(start, end)
	if len(days) == 0 {
		return nil, nil
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(days))
	for i, day := range days {
		cmds[i] = pipe.HGetAll(ctx, s.dayKey(day))
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read rollups: %w", err)
	}

	var result []models.DailyMetric
	for i, day := range days {
		values, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read rollups for %s: %w", day, err)
		}
		for f, raw := range values {
			et, campaign, ok := parseField(f)
			if !ok {
				continue
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt rollup %s/%s: %w", day, f, err)
			}
			result = append(result, models.DailyMetric{
				MetricKey: models.MetricKey{Date: day, EventType: et, CampaignID: campaign},
				Count:     n,
			})
		}
	}
	models.SortMetrics(result)
	return result, nil
}

// CampaignTotals scans every day hash under the prefix and sums the
// requested campaign fields with one pipelined HMGET per day.
func (s *RedisRollupStore) CampaignTotals(ctx context.Context, campaignIDs []string) (map[string]models.Counts, error) {
	result := make(map[string]models.Counts, len(campaignIDs))
	if len(campaignIDs) == 0 {
		return result, nil
	}

	var keys []string
	iter := s.client.Scan(ctx, 0, s.prefix+":*", scanCount).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan rollups: %w", err)
	}
	if len(keys) == 0 {
		return result, nil
	}

	type slot struct {
		campaign  string
		eventType models.EventType
	}
	fields := make([]string, 0, len(campaignIDs)*len(models.EventTypes))
	slots := make([]slot, 0, cap(fields))
	for _, id := range campaignIDs {
		for _, t := range models.EventTypes {
			fields = append(fields, field(models.MetricKey{EventType: t, CampaignID: id}))
			slots = append(slots, slot{campaign: id, eventType: t})
		}
	}

	pipe := s.client.Pipeline()
	cmds := make([]*redis.SliceCmd, len(keys))
	for i, k := range keys {
		cmds[i] = pipe.HMGet(ctx, k, fields...)
	}
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read campaign rollups: %w", err)
	}

	for i, k := range keys {
		values, err := cmds[i].Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read campaign rollups from %s: %w", k, err)
		}
		for j, v := range values {
			raw, ok := v.(string)
			if !ok {
				continue
			}
			n, err := strconv.ParseInt(raw, 10, 64)
			if err != nil {
				return nil, fmt.Errorf("corrupt rollup %s/%s: %w", k, fields[j], err)
			}
			if n == 0 {
				continue
			}
			c := result[slots[j].campaign]
			c.Add(slots[j].eventType, n)
			result[slots[j].campaign] = c
		}
	}
	return result, nil
}

// Replace rewrites every day hash in range inside WATCH/MULTI. An increment
// landing between the read of existing fields and EXEC aborts the
// transaction, which is then retried.
func (s *RedisRollupStore) Replace(ctx context.Context, start, end time.Time, metrics []models.DailyMetric) error {
	days := models.DaysInRange(start, end)
	if len(days) == 0 {
		return nil
	}
	from, to := days[0], days[len(days)-1]

	keys := make([]string, len(days))
	for i, day := range days {
		keys[i] = s.dayKey(day)
	}

	next := make(map[string]map[string]any, len(days))
	for _, m := range metrics {
		if !inRange(m.Date, from, to) {
			continue
		}
		k := s.dayKey(m.Date)
		if next[k] == nil {
			next[k] = make(map[string]any)
		}
		next[k][field(m.MetricKey)] = m.Count
	}

	txf := func(tx *redis.Tx) error {
		existing := make(map[string][]string, len(keys))
		for _, k := range keys {
			fields, err := tx.HKeys(ctx, k).Result()
			if err != nil && !errors.Is(err, redis.Nil) {
				return err
			}
			existing[k] = fields
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, k := range keys {
				values := make(map[string]any, len(existing[k])+len(next[k]))
				for _, f := range existing[k] {
					values[f] = 0
				}
				for f, v := range next[k] {
					values[f] = v
				}
				if len(values) > 0 {
					pipe.HSet(ctx, k, values)
				}
			}
			return nil
		})
		return err
	}

	for attempt := 0; attempt < maxReplaceAttempts; attempt++ {
		err := s.client.Watch(ctx, txf, keys...)
		if err == nil {
			return nil
		}
		if !errors.Is(err, redis.TxFailedErr) {
			return fmt.Errorf("failed to replace rollups: %w", err)
		}
	}
	return fmt.Errorf("failed to replace rollups: %w", redis.TxFailedErr)
}

func (s *RedisRollupStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}
