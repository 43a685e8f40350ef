package wallet

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// Counter provides an atomic Redis-backed counter. The consumer uses
// one to track how many transfer commands a worker group has processed.
type Counter struct {
	redis  *redis.Client
	key    string
	logger Logger
}

// NewCounter creates a new Redis-backed atomic counter
func NewCounter(redis *redis.Client, key string, logger Logger) *Counter {
	if logger == nil {
		logger = &NoOpLogger{}
	}

	return &Counter{
		redis:  redis,
		key:    key,
		logger: logger,
	}
}

// Increment atomically increments the counter and returns the new value
func (c *Counter) Increment(ctx context.Context) (int64, error) {
	if c.redis == nil {
		return 0, fmt.Errorf("redis not available")
	}

	val, err := c.redis.Incr(ctx, c.key).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to increment counter: %w", err)
	}
	return val, nil
}

// Get returns the current counter value (0 if unset)
func (c *Counter) Get(ctx context.Context) (int64, error) {
	if c.redis == nil {
		return 0, fmt.Errorf("redis not available")
	}

	val, err := c.redis.Get(ctx, c.key).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read counter: %w", err)
	}
	return val, nil
}

// Reset sets the counter back to zero
func (c *Counter) Reset(ctx context.Context) error {
	if c.redis == nil {
		return fmt.Errorf("redis not available")
	}
	return c.redis.Del(ctx, c.key).Err()
}
