package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// KV is the capability boundary between the transfer engine and the
// key-value store. It exposes exactly the primitives the engine needs;
// any backend offering these six operations can be substituted (tests
// run against miniredis through the same RedisKV implementation).
type KV interface {
	// SetIfAbsent atomically writes only if the key is absent.
	SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error)

	// Get returns the value and whether the key exists.
	Get(ctx context.Context, key string) (string, bool, error)

	// DeleteIfEqual atomically deletes the key iff it currently holds
	// value. Implemented server-side; never a client-side read-then-delete.
	DeleteIfEqual(ctx context.Context, key, value string) (bool, error)

	// HGetMulti returns the requested hash fields that are present.
	HGetMulti(ctx context.Context, key string, fields ...string) (map[string]string, error)

	// WatchedTx runs body inside an optimistic transaction over keys.
	// Reads issued through the Tx happen before the commit point; writes
	// are queued and applied atomically iff none of the watched keys
	// changed in between. Returns committed=false on optimistic abort.
	// An error returned by body aborts without committing anything.
	WatchedTx(ctx context.Context, keys []string, body func(tx Tx) error) (committed bool, err error)
}

// Tx is the view handed to a WatchedTx body
type Tx interface {
	Get(key string) (string, bool, error)
	HGetMulti(key string, fields ...string) (map[string]string, error)

	// HSet queues a hash field write into the commit batch
	HSet(key, field, value string)

	// Set queues a plain write with TTL into the commit batch
	Set(key, value string, ttl time.Duration)
}

// deleteIfEqualScript is the compare-and-delete used for lock release.
// GET+DEL must be one server-side step or a lease that expires between
// the two would let us delete somebody else's lock.
var deleteIfEqualScript = redis.NewScript(`
	if redis.call("get", KEYS[1]) == ARGV[1] then
		return redis.call("del", KEYS[1])
	else
		return 0
	end
`)

// RedisKV implements KV on a single logical Redis instance.
//
// An optional CircuitBreaker wraps the simple round trips so a dead
// Redis fails fast instead of stalling every in-flight transfer. The
// watched transaction path is not breaker-wrapped: domain rejections
// travel through it as errors and must not count as backend failures.
type RedisKV struct {
	client  *redis.Client
	breaker *CircuitBreaker
	logger  Logger
	metrics Metrics
}

// NewRedisKV creates a KV adapter over the given client
func NewRedisKV(client *redis.Client, logger Logger, metrics Metrics) *RedisKV {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	return &RedisKV{
		client:  client,
		logger:  logger,
		metrics: metrics,
	}
}

// WithCircuitBreaker protects simple KV round trips with a breaker
func (r *RedisKV) WithCircuitBreaker(cb *CircuitBreaker) *RedisKV {
	r.breaker = cb
	return r
}

func (r *RedisKV) execute(ctx context.Context, fn func() error) error {
	if r.breaker == nil {
		return fn()
	}
	return r.breaker.Execute(ctx, fn)
}

func (r *RedisKV) SetIfAbsent(ctx context.Context, key, value string, ttl time.Duration) (bool, error) {
	var ok bool
	err := r.execute(ctx, func() error {
		var err error
		ok, err = r.client.SetNX(ctx, key, value, ttl).Result()
		return err
	})
	if err != nil {
		r.metrics.Increment(MetricKVError, "operation", "set_if_absent")
		return false, wrapKVError("set_if_absent", key, err)
	}
	return ok, nil
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	var value string
	found := true
	err := r.execute(ctx, func() error {
		v, err := r.client.Get(ctx, key).Result()
		if errors.Is(err, redis.Nil) {
			found = false
			return nil
		}
		value = v
		return err
	})
	if err != nil {
		r.metrics.Increment(MetricKVError, "operation", "get")
		return "", false, wrapKVError("get", key, err)
	}
	return value, found, nil
}

func (r *RedisKV) DeleteIfEqual(ctx context.Context, key, value string) (bool, error) {
	var deleted bool
	err := r.execute(ctx, func() error {
		n, err := deleteIfEqualScript.Run(ctx, r.client, []string{key}, value).Int()
		if err != nil {
			return err
		}
		deleted = n == 1
		return nil
	})
	if err != nil {
		r.metrics.Increment(MetricKVError, "operation", "delete_if_equal")
		return false, wrapKVError("delete_if_equal", key, err)
	}
	return deleted, nil
}

func (r *RedisKV) HGetMulti(ctx context.Context, key string, fields ...string) (map[string]string, error) {
	var values []interface{}
	err := r.execute(ctx, func() error {
		var err error
		values, err = r.client.HMGet(ctx, key, fields...).Result()
		return err
	})
	if err != nil {
		r.metrics.Increment(MetricKVError, "operation", "hget_multi")
		return nil, wrapKVError("hget_multi", key, err)
	}
	return hashFields(fields, values), nil
}

func (r *RedisKV) WatchedTx(ctx context.Context, keys []string, body func(tx Tx) error) (bool, error) {
	committed := false
	err := r.client.Watch(ctx, func(tx *redis.Tx) error {
		view := &redisTx{ctx: ctx, tx: tx}
		if err := body(view); err != nil {
			return err
		}

		_, err := tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for _, queue := range view.writes {
				queue(pipe)
			}
			return nil
		})
		if err == nil {
			committed = true
		}
		return err
	}, keys...)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return committed, nil
}

// redisTx adapts *redis.Tx to the Tx view. Reads run on the watched
// connection before MULTI; writes accumulate until commit.
type redisTx struct {
	ctx    context.Context
	tx     *redis.Tx
	writes []func(pipe redis.Pipeliner)
}

func (t *redisTx) Get(key string) (string, bool, error) {
	value, err := t.tx.Get(t.ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, wrapKVError("tx_get", key, err)
	}
	return value, true, nil
}

func (t *redisTx) HGetMulti(key string, fields ...string) (map[string]string, error) {
	values, err := t.tx.HMGet(t.ctx, key, fields...).Result()
	if err != nil {
		return nil, wrapKVError("tx_hget_multi", key, err)
	}
	return hashFields(fields, values), nil
}

func (t *redisTx) HSet(key, field, value string) {
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.HSet(t.ctx, key, field, value)
	})
}

func (t *redisTx) Set(key, value string, ttl time.Duration) {
	t.writes = append(t.writes, func(pipe redis.Pipeliner) {
		pipe.Set(t.ctx, key, value, ttl)
	})
}

// hashFields pairs HMGET results with their field names, dropping
// fields that are absent
func hashFields(fields []string, values []interface{}) map[string]string {
	result := make(map[string]string, len(fields))
	for i, field := range fields {
		if i >= len(values) || values[i] == nil {
			continue
		}
		if s, ok := values[i].(string); ok {
			result[field] = s
		}
	}
	return result
}

// wrapKVError classifies a backend fault as ErrKVUnavailable, keeping
// the original cause in the chain
func wrapKVError(operation, key string, err error) error {
	if errors.Is(err, ErrKVUnavailable) {
		return err
	}
	return fmt.Errorf("%s %q: %w: %w", operation, key, ErrKVUnavailable, err)
}
