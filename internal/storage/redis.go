package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/smukkama/vitals-server/internal/measurement"
)

// RedisStore keeps measurements in Redis. A sorted set scored by timestamp
// (microseconds) holds zero-padded ids as members, so same-timestamp ties
// sort by id; a hash maps id to the JSON-encoded record.
type RedisStore struct {
	redis       *redis.Client
	seqKey      string
	timelineKey string
	dataKey     string
	now         func() time.Time
}

// NewRedisStore creates a store using keys under prefix (e.g. "vitals:")
func NewRedisStore(client *redis.Client, prefix string) *RedisStore {
	return &RedisStore{
		redis:       client,
		seqKey:      prefix + "measurements:seq",
		timelineKey: prefix + "measurements:timeline",
		dataKey:     prefix + "measurements:data",
		now:         time.Now,
	}
}

// Append allocates an id with INCR and writes record and index atomically
func (s *RedisStore) Append(ctx context.Context, m measurement.Measurement) (measurement.Measurement, error) {
	id, err := s.redis.Incr(ctx, s.seqKey).Result()
	if err != nil {
		return measurement.Measurement{}, fmt.Errorf("failed to allocate measurement id: %w", err)
	}

	m.ID = id
	if m.Timestamp.IsZero() {
		m.Timestamp = s.now()
	}
	m.Timestamp = m.Timestamp.UTC().Truncate(time.Microsecond)

	data, err := json.Marshal(m)
	if err != nil {
		return measurement.Measurement{}, fmt.Errorf("failed to marshal measurement: %w", err)
	}

	member := memberFor(id)
	_, err = s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, s.dataKey, member, data)
		pipe.ZAdd(ctx, s.timelineKey, redis.Z{
			Score:  float64(m.Timestamp.UnixMicro()),
			Member: member,
		})
		return nil
	})
	if err != nil {
		return measurement.Measurement{}, fmt.Errorf("failed to store measurement: %w", err)
	}

	return m, nil
}

// QueryDescending returns up to limit records newest first
func (s *RedisStore) QueryDescending(ctx context.Context, limit int, since *time.Time) ([]measurement.Measurement, error) {
	if limit <= 0 {
		return []measurement.Measurement{}, nil
	}

	lower := "-inf"
	if since != nil {
		lower = scoreFor(*since)
	}

	members, err := s.redis.ZRevRangeByScore(ctx, s.timelineKey, &redis.ZRangeBy{
		Min:   lower,
		Max:   "+inf",
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}

	return s.load(ctx, members)
}

// MostRecent returns the newest record or nil when empty
func (s *RedisStore) MostRecent(ctx context.Context) (*measurement.Measurement, error) {
	members, err := s.redis.ZRevRange(ctx, s.timelineKey, 0, 0).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}

	items, err := s.load(ctx, members)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, nil
	}
	return &items[0], nil
}

// QueryWindow returns all records with timestamp >= since, oldest first
func (s *RedisStore) QueryWindow(ctx context.Context, since time.Time) ([]measurement.Measurement, error) {
	members, err := s.redis.ZRangeByScore(ctx, s.timelineKey, &redis.ZRangeBy{
		Min: scoreFor(since),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to query timeline: %w", err)
	}

	return s.load(ctx, members)
}

// Ping checks the Redis connection
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.redis.Ping(ctx).Err()
}

func (s *RedisStore) load(ctx context.Context, members []string) ([]measurement.Measurement, error) {
	result := make([]measurement.Measurement, 0, len(members))
	if len(members) == 0 {
		return result, nil
	}

	values, err := s.redis.HMGet(ctx, s.dataKey, members...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load measurements: %w", err)
	}

	for i, value := range values {
		data, ok := value.(string)
		if !ok {
			// index entry without payload; skip rather than fail the query
			continue
		}

		var m measurement.Measurement
		if err := json.Unmarshal([]byte(data), &m); err != nil {
			return nil, fmt.Errorf("failed to unmarshal measurement %s: %w", members[i], err)
		}
		result = append(result, m)
	}

	return result, nil
}

func memberFor(id int64) string {
	return fmt.Sprintf("%020d", id)
}

// scoreFor rounds up so a range never includes records before t
func scoreFor(t time.Time) string {
	micros := t.UnixMicro()
	if t.Truncate(time.Microsecond).Before(t) {
		micros++
	}
	return strconv.FormatInt(micros, 10)
}
