package alert

import (
	"context"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/kaadipranav/lynex-sub000/internal/infra"
)

// WindowStore keeps per-rule tumbling-window aggregates and the
// once-per-window fire flag. Backed by Redis so competing processors share
// one view of every window.
type WindowStore interface {
	// IncrBy adds delta to the rule's aggregate for the bucket and returns
	// the new total.
	IncrBy(ctx context.Context, ruleID string, bucket int64, delta float64, ttl time.Duration) (float64, error)
	// MarkFired sets the fire flag for (rule, bucket); true means this call
	// won the flag and the caller should dispatch the notification.
	MarkFired(ctx context.Context, ruleID string, bucket int64, ttl time.Duration) (bool, error)
}

// RedisWindowStore uses INCRBYFLOAT and SET NX; both are atomic server-side,
// so no client locking is needed across processor instances.
type RedisWindowStore struct {
	rdb *redis.Client
}

func NewRedisWindowStore(rdb *redis.Client) *RedisWindowStore {
	return &RedisWindowStore{rdb: rdb}
}

func (s *RedisWindowStore) IncrBy(ctx context.Context, ruleID string, bucket int64, delta float64, ttl time.Duration) (float64, error) {
	key := infra.AlertWindowKey(ruleID, bucket)
	total, err := s.rdb.IncrByFloat(ctx, key, delta).Result()
	if err != nil {
		return 0, err
	}
	// First increment owns the expiry; NX keeps later ones from extending it.
	s.rdb.ExpireNX(ctx, key, ttl)
	return total, nil
}

func (s *RedisWindowStore) MarkFired(ctx context.Context, ruleID string, bucket int64, ttl time.Duration) (bool, error) {
	return s.rdb.SetNX(ctx, infra.AlertFiredKey(ruleID, bucket), 1, ttl).Result()
}

// MemoryWindowStore is the in-process equivalent for tests and single-node
// runs. Buckets are never pruned; lifetimes are test-scoped.
type MemoryWindowStore struct {
	mu     sync.Mutex
	totals map[string]float64
	fired  map[string]struct{}
}

func NewMemoryWindowStore() *MemoryWindowStore {
	return &MemoryWindowStore{
		totals: make(map[string]float64),
		fired:  make(map[string]struct{}),
	}
}

func (s *MemoryWindowStore) IncrBy(_ context.Context, ruleID string, bucket int64, delta float64, _ time.Duration) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := infra.AlertWindowKey(ruleID, bucket)
	s.totals[key] += delta
	return s.totals[key], nil
}

func (s *MemoryWindowStore) MarkFired(_ context.Context, ruleID string, bucket int64, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := infra.AlertFiredKey(ruleID, bucket)
	if _, ok := s.fired[key]; ok {
		return false, nil
	}
	s.fired[key] = struct{}{}
	return true, nil
}
