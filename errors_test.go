package wallet

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"ErrInvalidRequest", ErrInvalidRequest, "invalid transfer request"},
		{"ErrSameUserTransfer", ErrSameUserTransfer, "cannot transfer to the same user"},
		{"ErrInvalidAmount", ErrInvalidAmount, "invalid transfer amount"},
		{"ErrInsufficientFunds", ErrInsufficientFunds, "insufficient funds"},
		{"ErrWalletNotFound", ErrWalletNotFound, "wallet not found"},
		{"ErrWalletInactive", ErrWalletInactive, "wallet is not active"},
		{"ErrLockUnavailable", ErrLockUnavailable, "failed to acquire lock within retry budget"},
		{"ErrConcurrencyConflict", ErrConcurrencyConflict, "watched transaction aborted too many times"},
		{"ErrKVUnavailable", ErrKVUnavailable, "key-value store unavailable"},
		{"ErrBusUnavailable", ErrBusUnavailable, "message bus unavailable"},
		{"ErrInvalidConfig", ErrInvalidConfig, "invalid configuration"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.want {
				t.Errorf("error message = %q, want %q", tt.err.Error(), tt.want)
			}
		})
	}
}

func TestWithContext(t *testing.T) {
	err := WithContext(ErrInsufficientFunds, map[string]interface{}{
		"from":    "user_1",
		"balance": "10.00",
	})

	var ewc *ErrorWithContext
	if !errors.As(err, &ewc) {
		t.Fatalf("expected ErrorWithContext, got %T", err)
	}
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Error("context wrapper should keep the sentinel in the chain")
	}
	if ewc.Context["from"] != "user_1" {
		t.Errorf("context from = %v, want user_1", ewc.Context["from"])
	}

	msg := err.Error()
	if !strings.Contains(msg, "insufficient funds") {
		t.Errorf("message %q should contain the base error", msg)
	}
	if !strings.Contains(msg, "user_1") {
		t.Errorf("message %q should contain the context", msg)
	}
}

func TestWithContext_Nil(t *testing.T) {
	if err := WithContext(nil, map[string]interface{}{"k": "v"}); err != nil {
		t.Errorf("WithContext(nil) = %v, want nil", err)
	}
}

func TestWithContext_EmptyContext(t *testing.T) {
	err := WithContext(ErrWalletNotFound, nil)
	if err.Error() != ErrWalletNotFound.Error() {
		t.Errorf("message = %q, empty context should add nothing", err.Error())
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []error{
		ErrLockUnavailable,
		ErrConcurrencyConflict,
		ErrKVUnavailable,
		ErrBusUnavailable,
		WithContext(ErrLockUnavailable, map[string]interface{}{"names": "user_1"}),
		fmt.Errorf("wrapped: %w", ErrKVUnavailable),
	}
	for _, err := range retryable {
		if !IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = false, want true", err)
		}
	}

	notRetryable := []error{
		ErrInsufficientFunds,
		ErrInvalidRequest,
		ErrWalletNotFound,
		errors.New("unrelated"),
	}
	for _, err := range notRetryable {
		if IsRetryable(err) {
			t.Errorf("IsRetryable(%v) = true, want false", err)
		}
	}
}

func TestIsPermanent(t *testing.T) {
	permanent := []error{
		ErrInvalidRequest,
		ErrSameUserTransfer,
		ErrInvalidAmount,
		ErrWalletNotFound,
		ErrWalletInactive,
		ErrInvalidConfig,
	}
	for _, err := range permanent {
		if !IsPermanent(err) {
			t.Errorf("IsPermanent(%v) = false, want true", err)
		}
	}

	if IsPermanent(ErrLockUnavailable) {
		t.Error("a transient lock failure is not permanent")
	}
}

func TestIsDomainRejection(t *testing.T) {
	rejections := []error{
		ErrInsufficientFunds,
		ErrWalletNotFound,
		ErrWalletInactive,
	}
	for _, err := range rejections {
		if !IsDomainRejection(err) {
			t.Errorf("IsDomainRejection(%v) = false, want true", err)
		}
	}

	if IsDomainRejection(ErrKVUnavailable) {
		t.Error("an infrastructure fault is not a domain rejection")
	}
}
