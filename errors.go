package wallet

import (
	"errors"
	"fmt"
)

// Sentinel errors for common conditions
var (
	// Validation errors - caller mistake, nothing was touched
	ErrInvalidRequest   = errors.New("invalid transfer request")
	ErrSameUserTransfer = errors.New("cannot transfer to the same user")
	ErrInvalidAmount    = errors.New("invalid transfer amount")

	// Domain errors - business rule rejection, nothing was touched
	ErrInsufficientFunds = errors.New("insufficient funds")
	ErrWalletNotFound    = errors.New("wallet not found")
	ErrWalletInactive    = errors.New("wallet is not active")
	ErrWalletExists      = errors.New("wallet already exists")

	// Concurrency errors - transient, safe to retry with the same op id
	ErrLockUnavailable     = errors.New("failed to acquire lock within retry budget")
	ErrConcurrencyConflict = errors.New("watched transaction aborted too many times")

	// Infrastructure errors
	ErrKVUnavailable  = errors.New("key-value store unavailable")
	ErrBusUnavailable = errors.New("message bus unavailable")

	// Configuration errors
	ErrInvalidConfig = errors.New("invalid configuration")
)

// ErrorWithContext adds additional context to errors for better debugging and logging
type ErrorWithContext struct {
	Err     error
	Context map[string]interface{}
}

func (e *ErrorWithContext) Error() string {
	if len(e.Context) == 0 {
		return e.Err.Error()
	}
	return fmt.Sprintf("%v (context: %+v)", e.Err, e.Context)
}

func (e *ErrorWithContext) Unwrap() error {
	return e.Err
}

// WithContext adds context to an error
func WithContext(err error, context map[string]interface{}) error {
	if err == nil {
		return nil
	}
	return &ErrorWithContext{
		Err:     err,
		Context: context,
	}
}

// Common error checking helpers

// IsRetryable checks if an error is safe to retry with the same operation id.
// Idempotency records make retrying a committed transfer harmless.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrLockUnavailable) ||
		errors.Is(err, ErrConcurrencyConflict) ||
		errors.Is(err, ErrKVUnavailable) ||
		errors.Is(err, ErrBusUnavailable)
}

// IsPermanent checks if an error is permanent (retrying cannot help)
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrSameUserTransfer) ||
		errors.Is(err, ErrInvalidAmount) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrWalletInactive) ||
		errors.Is(err, ErrInvalidConfig)
}

// IsDomainRejection checks if an error is a business-rule rejection.
// These may succeed later after out-of-band remediation (top-up, reactivation).
func IsDomainRejection(err error) bool {
	return errors.Is(err, ErrInsufficientFunds) ||
		errors.Is(err, ErrWalletNotFound) ||
		errors.Is(err, ErrWalletInactive)
}
