package wallet

import (
	"context"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"
)

// lockKeyPrefix namespaces lease entries in the KV store
const lockKeyPrefix = "lock:"

func lockKey(name string) string {
	return lockKeyPrefix + name
}

// MultiLock acquires time-bounded leases on a set of names: all of them
// or none. Names are deduplicated and sorted before acquisition, so
// every process requests conflicting names in the same byte-wise order.
// That global total order is the sole deadlock-prevention mechanism.
//
// Ownership is bound to a token. When the caller supplies an operation
// id the token is the operation id, which makes acquisition idempotent
// across redeliveries of the same command: a worker that already holds
// the leases for this operation re-enters them instead of deadlocking
// against itself. Without an operation id a random token is minted.
//
// The TTL is the crash-safety net: leases of a dead holder expire on
// their own. There is no waiter state in the store; waiters back off
// client-side with bounded exponential delay and jitter.
type MultiLock struct {
	kv            KV
	ttl           time.Duration
	retryDelay    time.Duration
	maxRetryDelay time.Duration
	maxRetries    int
	logger        Logger
	metrics       Metrics
}

// NewMultiLock creates a multi-key lock manager over the given KV store
func NewMultiLock(kv KV, cfg Config, logger Logger, metrics Metrics) *MultiLock {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	return &MultiLock{
		kv:            kv,
		ttl:           cfg.LockTTL,
		retryDelay:    cfg.LockRetryDelay,
		maxRetryDelay: cfg.LockMaxRetryDelay,
		maxRetries:    cfg.LockMaxRetries,
		logger:        logger,
		metrics:       metrics,
	}
}

// TTL returns the lease duration of locks acquired by this manager
func (l *MultiLock) TTL() time.Duration {
	return l.ttl
}

// Acquire takes a lease on every name or none. On success it returns the
// owning token and the canonical (deduplicated, sorted) name list, which
// is exactly the set that Release must be called with.
//
// On contention it backs off and restarts the whole acquire loop, up to
// the configured retry budget, then fails with ErrLockUnavailable.
// Context cancellation is honored at every suspension point.
func (l *MultiLock) Acquire(ctx context.Context, names []string, opID string) (string, []string, error) {
	if len(names) == 0 {
		return "", nil, WithContext(ErrInvalidRequest, map[string]interface{}{
			"reason": "no lock names given",
		})
	}

	sorted := canonicalNames(names)

	token := opID
	if token == "" {
		token = uuid.NewString()
	}

	start := time.Now()
	for attempt := 0; attempt < l.maxRetries; attempt++ {
		if attempt > 0 {
			l.metrics.Increment(MetricLockRetry)
			if err := l.backoff(ctx, attempt-1); err != nil {
				return "", nil, err
			}
		}

		// Redelivered command whose leases are still live from a prior
		// attempt: re-enter instead of waiting for our own expiry.
		held, err := l.holdsAll(ctx, sorted, token)
		if err != nil {
			return "", nil, err
		}
		if held {
			l.logger.Debug("already holds all locks", "token", token, "names", sorted)
			return token, sorted, nil
		}

		acquired, err := l.tryAcquireAll(ctx, sorted, token)
		if err != nil {
			return "", nil, err
		}
		if acquired {
			l.metrics.Increment(MetricLockAcquired)
			l.metrics.Timing(MetricLockAcquireTime, time.Since(start))
			l.logger.Debug("acquired all locks", "token", token, "names", sorted, "attempt", attempt+1)
			return token, sorted, nil
		}
	}

	l.metrics.Increment(MetricLockUnavailable)
	l.logger.Warn("lock acquisition exhausted retries",
		"names", sorted, "retries", l.maxRetries, "elapsed", time.Since(start))
	return "", nil, WithContext(ErrLockUnavailable, map[string]interface{}{
		"names":   sorted,
		"retries": l.maxRetries,
	})
}

// tryAcquireAll is one pass over the sorted names. It returns false when
// any name is held by another token, after releasing the partial set.
func (l *MultiLock) tryAcquireAll(ctx context.Context, sorted []string, token string) (bool, error) {
	var locked []string

	for _, name := range sorted {
		ok, err := l.kv.SetIfAbsent(ctx, lockKey(name), token, l.ttl)
		if err != nil {
			l.Release(ctx, locked, token)
			return false, err
		}
		if ok {
			locked = append(locked, name)
			continue
		}

		owner, found, err := l.kv.Get(ctx, lockKey(name))
		if err != nil {
			l.Release(ctx, locked, token)
			return false, err
		}
		if found && owner == token {
			locked = append(locked, name)
			continue
		}

		l.logger.Debug("lock contended, releasing partial set",
			"name", name, "held", len(locked))
		l.Release(ctx, locked, token)
		return false, nil
	}

	return true, nil
}

// holdsAll reports whether every name is already leased to token
func (l *MultiLock) holdsAll(ctx context.Context, sorted []string, token string) (bool, error) {
	for _, name := range sorted {
		owner, found, err := l.kv.Get(ctx, lockKey(name))
		if err != nil {
			return false, err
		}
		if !found || owner != token {
			return false, nil
		}
	}
	return true, nil
}

// Release drops the leases on the given names that are owned by token.
// Releasing a lease you no longer own is a no-op; a release miss is
// logged but never an error, since expiry may have beaten us to it.
func (l *MultiLock) Release(ctx context.Context, names []string, token string) {
	if len(names) == 0 || token == "" {
		return
	}

	for _, name := range names {
		deleted, err := l.kv.DeleteIfEqual(ctx, lockKey(name), token)
		if err != nil {
			l.metrics.Increment(MetricKVError, "operation", "lock_release")
			l.logger.Warn("lock release failed", "name", name, "error", err)
			continue
		}
		if !deleted {
			l.metrics.Increment(MetricLockReleaseMiss)
			l.logger.Debug("lock already gone at release", "name", name, "token", token)
		}
	}
}

// Extend resets the lease TTL on every name still owned by token.
// Returns true only if all names were extended. A name whose lease
// expired or changed hands is not re-taken.
func (l *MultiLock) Extend(ctx context.Context, names []string, token string, ttl time.Duration) (bool, error) {
	if len(names) == 0 || token == "" {
		return false, nil
	}
	if ttl <= 0 {
		ttl = l.ttl
	}

	extended := 0
	for _, name := range names {
		key := lockKey(name)
		committed, err := l.kv.WatchedTx(ctx, []string{key}, func(tx Tx) error {
			owner, found, err := tx.Get(key)
			if err != nil {
				return err
			}
			if !found || owner != token {
				return WithContext(ErrLockUnavailable, map[string]interface{}{
					"name":   name,
					"reason": "not the lease owner",
				})
			}
			tx.Set(key, token, ttl)
			return nil
		})
		if err != nil {
			l.logger.Warn("cannot extend lock", "name", name, "error", err)
			continue
		}
		if !committed {
			l.logger.Warn("lock changed during extend", "name", name)
			continue
		}
		extended++
	}

	return extended == len(names), nil
}

// IsLocked reports whether name is leased; with a non-empty token it
// additionally verifies ownership.
func (l *MultiLock) IsLocked(ctx context.Context, name, token string) (bool, error) {
	owner, found, err := l.kv.Get(ctx, lockKey(name))
	if err != nil {
		return false, err
	}
	if !found {
		return false, nil
	}
	if token != "" {
		return owner == token, nil
	}
	return true, nil
}

// Guard runs fn while holding leases on all names, releasing them on the
// way out whether fn succeeds or fails. Release uses a background
// context so a cancelled caller still cleans up its leases.
func (l *MultiLock) Guard(ctx context.Context, names []string, opID string, fn func(token string) error) error {
	token, locked, err := l.Acquire(ctx, names, opID)
	if err != nil {
		return err
	}
	defer l.Release(context.WithoutCancel(ctx), locked, token)

	return fn(token)
}

// backoff waits for the bounded exponential delay of the given attempt:
// base * 2^min(attempt, cap) * uniform(0.5, 1.5), clamped to the max.
func (l *MultiLock) backoff(ctx context.Context, attempt int) error {
	exp := attempt
	if exp > maxBackoffExponent {
		exp = maxBackoffExponent
	}

	delay := l.retryDelay << uint(exp)
	delay = time.Duration(float64(delay) * (0.5 + rand.Float64()))
	if delay > l.maxRetryDelay {
		delay = l.maxRetryDelay
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(delay):
		return nil
	}
}

// canonicalNames deduplicates and byte-sorts lock names
func canonicalNames(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
