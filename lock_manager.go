package wallet

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// LockInfo describes a live lock lease
type LockInfo struct {
	Name    string        // The resource name being locked
	LockKey string        // The Redis key for the lease
	Token   string        // The owning token
	TTL     time.Duration // Remaining TTL
}

// LockManager provides administrative operations on lock leases:
// listing, inspection, and forced release. It is operational tooling
// outside the engine's transfer path and talks to Redis directly.
type LockManager struct {
	redis  *redis.Client
	logger Logger
}

// NewLockManager creates a lock manager for administrative operations
func NewLockManager(redis *redis.Client, logger Logger) *LockManager {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	return &LockManager{
		redis:  redis,
		logger: logger,
	}
}

// ListLocks returns all live leases
func (lm *LockManager) ListLocks(ctx context.Context) ([]LockInfo, error) {
	if lm.redis == nil {
		return nil, fmt.Errorf("redis not available")
	}

	var locks []LockInfo
	var cursor uint64

	for {
		keys, next, err := lm.redis.Scan(ctx, cursor, lockKeyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan locks: %w", err)
		}

		for _, key := range keys {
			info, err := lm.inspectKey(ctx, key)
			if err != nil {
				// Lease may have expired between SCAN and inspection
				continue
			}
			locks = append(locks, *info)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	return locks, nil
}

// Inspect returns lease details for a single name, or nil when free
func (lm *LockManager) Inspect(ctx context.Context, name string) (*LockInfo, error) {
	if lm.redis == nil {
		return nil, fmt.Errorf("redis not available")
	}

	info, err := lm.inspectKey(ctx, lockKey(name))
	if err == redis.Nil {
		return nil, nil
	}
	return info, err
}

func (lm *LockManager) inspectKey(ctx context.Context, key string) (*LockInfo, error) {
	pipe := lm.redis.Pipeline()
	getCmd := pipe.Get(ctx, key)
	ttlCmd := pipe.PTTL(ctx, key)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, err
	}

	ttl := ttlCmd.Val()
	if ttl < 0 {
		return nil, redis.Nil
	}

	return &LockInfo{
		Name:    strings.TrimPrefix(key, lockKeyPrefix),
		LockKey: key,
		Token:   getCmd.Val(),
		TTL:     ttl,
	}, nil
}

// CleanupStale deletes lock keys that have no expiry. Every lease the
// engine writes carries a TTL; a persistent lock key is an anomaly
// (manual SET, buggy client) that would block its names forever.
// Returns the names cleaned.
func (lm *LockManager) CleanupStale(ctx context.Context) ([]string, error) {
	if lm.redis == nil {
		return nil, fmt.Errorf("redis not available")
	}

	var cleaned []string
	var cursor uint64

	for {
		keys, next, err := lm.redis.Scan(ctx, cursor, lockKeyPrefix+"*", 100).Result()
		if err != nil {
			return cleaned, fmt.Errorf("failed to scan locks: %w", err)
		}

		for _, key := range keys {
			ttl, err := lm.redis.PTTL(ctx, key).Result()
			if err != nil {
				continue
			}
			// PTTL replies -1 (no expiry) and -2 (missing key) are
			// passed through by go-redis as raw durations, not
			// millisecond-scaled ones.
			if ttl != time.Duration(-1) {
				continue
			}
			if err := lm.redis.Del(ctx, key).Err(); err != nil {
				continue
			}
			cleaned = append(cleaned, strings.TrimPrefix(key, lockKeyPrefix))
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	if len(cleaned) > 0 {
		lm.logger.Warn("cleaned stale persistent locks", "names", cleaned)
	}
	return cleaned, nil
}

// ForceRelease deletes leases without token verification. Use with
// caution: a forced release while the holder is mid-commit degrades
// correctness to the watched transaction alone.
func (lm *LockManager) ForceRelease(ctx context.Context, names ...string) (int, error) {
	if lm.redis == nil {
		return 0, fmt.Errorf("redis not available")
	}
	if len(names) == 0 {
		return 0, nil
	}

	keys := make([]string, len(names))
	for i, name := range names {
		keys[i] = lockKey(name)
	}

	deleted, err := lm.redis.Del(ctx, keys...).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to force release: %w", err)
	}

	lm.logger.Warn("force released locks", "names", names, "deleted", deleted)
	return int(deleted), nil
}
