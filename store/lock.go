package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/retrack/retrack/config"
)

// TickLock enforces "at most one in-flight tick per tracker" (spec.md §5)
// with a short-lived Redis advisory lock, falling back to the Postgres
// tracker_locks row lock (store.AcquireTrackerLock/ReleaseTrackerLock) when
// Redis is unreachable. This mirrors the teacher's BoltDB
// AcquireLock/ReleaseLock instance-id-plus-expiry idiom, widened to a shared
// lock visible across every Retrack process rather than one embedded
// database file.
type TickLock struct {
	redis      *redis.Client
	fallback   *Store
	instanceID string
}

// NewTickLock builds a TickLock. redisCfg.Address selects the backing Redis
// instance; fallback is the Store used when Redis calls error out.
func NewTickLock(redisCfg config.RedisConfig, fallback *Store, instanceID string) *TickLock {
	client := redis.NewClient(&redis.Options{
		Addr:     redisCfg.Address,
		Password: redisCfg.Password,
		DB:       redisCfg.DB,
	})
	return &TickLock{redis: client, fallback: fallback, instanceID: instanceID}
}

// Close releases the underlying Redis connection.
func (l *TickLock) Close() error {
	return l.redis.Close()
}

func lockKey(trackerID string) string {
	return "retrack:tick-lock:" + trackerID
}

// Acquire attempts to claim the tick lock for trackerID, held for at most
// ttl. It returns (true, nil) on success, (false, nil) if another instance
// currently holds it, and a non-nil error only on an infrastructure failure
// of both Redis and the Postgres fallback.
func (l *TickLock) Acquire(ctx context.Context, trackerID string, ttl time.Duration) (bool, error) {
	ok, err := l.redis.SetNX(ctx, lockKey(trackerID), l.instanceID, ttl).Result()
	if err == nil {
		return ok, nil
	}
	if l.fallback == nil {
		return false, err
	}
	return l.fallback.AcquireTrackerLock(ctx, trackerID, l.instanceID, ttl)
}

// Release drops the tick lock for trackerID iff still held by this
// instance. Errors are not fatal to the caller's tick: an expired lock
// self-heals via ttl.
func (l *TickLock) Release(ctx context.Context, trackerID string) error {
	script := redis.NewScript(`
		if redis.call("get", KEYS[1]) == ARGV[1] then
			return redis.call("del", KEYS[1])
		end
		return 0
	`)
	_, err := script.Run(ctx, l.redis, []string{lockKey(trackerID)}, l.instanceID).Result()
	if err == nil {
		return nil
	}
	if l.fallback == nil {
		return err
	}
	return l.fallback.ReleaseTrackerLock(ctx, trackerID, l.instanceID)
}
