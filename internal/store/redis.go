package store

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const (
	redisRecordPrefix = "overseer:result:"
	redisIndexKey     = "overseer:results"
)

// Redis stores records as JSON values indexed by a sorted set keyed on
// timestamp. Filtering happens client-side; the backend is treated as an
// opaque key-value service.
type Redis struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedis connects and pings the Redis backend.
func NewRedis(redisURL string, logger *zap.Logger) (*Redis, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("store: parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("store: redis ping: %w", err)
	}
	logger.Info("redis result store connected")
	return &Redis{rdb: rdb, logger: logger}, nil
}

func (s *Redis) Add(ctx context.Context, r *Record) (string, error) {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.Priority == "" {
		r.Priority = PriorityMedium
	}
	if r.Timestamp.IsZero() {
		r.Timestamp = time.Now()
	}

	data, err := json.Marshal(r)
	if err != nil {
		return "", fmt.Errorf("store: marshal record: %w", err)
	}

	pipe := s.rdb.TxPipeline()
	pipe.Set(ctx, redisRecordPrefix+r.ID, data, 0)
	pipe.ZAdd(ctx, redisIndexKey, redis.Z{
		Score:  float64(r.Timestamp.UnixNano()),
		Member: r.ID,
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", fmt.Errorf("store: add record %s: %w", r.ID, err)
	}
	return r.ID, nil
}

func (s *Redis) Get(ctx context.Context, id string) (*Record, error) {
	data, err := s.rdb.Get(ctx, redisRecordPrefix+id).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get record %s: %w", id, err)
	}
	var r Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("store: decode record %s: %w", id, err)
	}
	return &r, nil
}

func (s *Redis) List(ctx context.Context, f Filter) ([]*Record, error) {
	ids, err := s.rdb.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("store: list ids: %w", err)
	}
	if len(ids) == 0 {
		return nil, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisRecordPrefix + id
	}
	values, err := s.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: mget records: %w", err)
	}

	var out []*Record
	for _, v := range values {
		raw, ok := v.(string)
		if !ok {
			continue
		}
		var r Record
		if err := json.Unmarshal([]byte(raw), &r); err != nil {
			s.logger.Warn("skipping undecodable record", zap.Error(err))
			continue
		}
		if f.Matches(&r) {
			out = append(out, &r)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}

func (s *Redis) Clear(ctx context.Context) (int, error) {
	ids, err := s.rdb.ZRange(ctx, redisIndexKey, 0, -1).Result()
	if err != nil {
		return 0, fmt.Errorf("store: list ids: %w", err)
	}
	if len(ids) == 0 {
		return 0, nil
	}

	keys := make([]string, 0, len(ids)+1)
	for _, id := range ids {
		keys = append(keys, redisRecordPrefix+id)
	}
	keys = append(keys, redisIndexKey)
	if err := s.rdb.Del(ctx, keys...).Err(); err != nil {
		return 0, fmt.Errorf("store: clear: %w", err)
	}
	return len(ids), nil
}

func (s *Redis) Summary(ctx context.Context) (*Summary, error) {
	records, err := s.List(ctx, Filter{})
	if err != nil {
		return nil, err
	}
	summary := &Summary{
		Total:      len(records),
		ByType:     make(map[string]int),
		ByPriority: make(map[Priority]int),
	}
	for _, r := range records {
		summary.ByType[r.Type]++
		summary.ByPriority[r.Priority]++
		if r.Timestamp.After(summary.LastUpdated) {
			summary.LastUpdated = r.Timestamp
		}
	}
	return summary, nil
}

// Close shuts down the Redis connection.
func (s *Redis) Close() error {
	return s.rdb.Close()
}
