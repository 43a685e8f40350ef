package wallet

import "time"

// Configuration defaults for the transfer engine
const (
	DefaultLockTTL           = 10 * time.Second
	DefaultLockRetryDelay    = 100 * time.Millisecond
	DefaultLockMaxRetryDelay = 2 * time.Second
	DefaultLockMaxRetries    = 10
	DefaultTxMaxAttempts     = 3
	DefaultIdempotencyTTL    = 24 * time.Hour
	DefaultBalanceScale      = 2

	// Backoff doubles per attempt up to this exponent, then stays flat
	// (the max-delay cap still applies on top).
	maxBackoffExponent = 6
)

// Config holds the full tuning surface of the transfer engine.
// There are no other knobs.
type Config struct {
	// LockTTL is the lease duration for each lock key. It must exceed the
	// longest realistic critical section by a safety margin; past that,
	// correctness falls back to the watched transaction.
	LockTTL time.Duration

	// LockRetryDelay is the base of the exponential backoff between
	// lock acquisition attempts.
	LockRetryDelay time.Duration

	// LockMaxRetryDelay caps a single backoff wait.
	LockMaxRetryDelay time.Duration

	// LockMaxRetries is the number of acquisition attempts before the
	// engine gives up with ErrLockUnavailable.
	LockMaxRetries int

	// TxMaxAttempts bounds watched-transaction retries after an
	// optimistic abort. Aborts are rare while the lock holds, so this
	// stays small.
	TxMaxAttempts int

	// IdempotencyTTL is the retention of applied:<op_id> records.
	IdempotencyTTL time.Duration

	// BalanceScale is the fixed number of fractional digits for all
	// balances and amounts. Amounts with a finer scale are rejected.
	BalanceScale int32
}

// DefaultConfig returns the default engine configuration
func DefaultConfig() Config {
	return Config{
		LockTTL:           DefaultLockTTL,
		LockRetryDelay:    DefaultLockRetryDelay,
		LockMaxRetryDelay: DefaultLockMaxRetryDelay,
		LockMaxRetries:    DefaultLockMaxRetries,
		TxMaxAttempts:     DefaultTxMaxAttempts,
		IdempotencyTTL:    DefaultIdempotencyTTL,
		BalanceScale:      DefaultBalanceScale,
	}
}

// Validate checks if the Config is valid
func (c Config) Validate() error {
	if c.LockTTL <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LockTTL",
			"value":  c.LockTTL,
			"reason": "must be positive",
		})
	}
	if c.LockRetryDelay <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LockRetryDelay",
			"value":  c.LockRetryDelay,
			"reason": "must be positive",
		})
	}
	if c.LockMaxRetryDelay < c.LockRetryDelay {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LockMaxRetryDelay",
			"value":  c.LockMaxRetryDelay,
			"reason": "must be >= LockRetryDelay",
		})
	}
	if c.LockMaxRetries < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "LockMaxRetries",
			"value":  c.LockMaxRetries,
			"reason": "must be >= 1",
		})
	}
	if c.TxMaxAttempts < 1 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "TxMaxAttempts",
			"value":  c.TxMaxAttempts,
			"reason": "must be >= 1",
		})
	}
	if c.IdempotencyTTL <= 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "IdempotencyTTL",
			"value":  c.IdempotencyTTL,
			"reason": "must be positive",
		})
	}
	if c.BalanceScale < 0 {
		return WithContext(ErrInvalidConfig, map[string]interface{}{
			"field":  "BalanceScale",
			"value":  c.BalanceScale,
			"reason": "must be non-negative",
		})
	}
	return nil
}
