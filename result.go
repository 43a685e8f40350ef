package wallet

import (
	"github.com/shopspring/decimal"
)

// Code classifies the outcome of a transfer. Every call to
// Service.Transfer returns exactly one of these; anything other than
// CodeApplied means no balance changed.
type Code string

const (
	CodeApplied             Code = "APPLIED"
	CodeInsufficientFunds   Code = "INSUFFICIENT_FUNDS"
	CodeWalletNotFound      Code = "WALLET_NOT_FOUND"
	CodeWalletInactive      Code = "WALLET_INACTIVE"
	CodeSameUserTransfer    Code = "SAME_USER_TRANSFER"
	CodeInvalidRequest      Code = "INVALID_REQUEST"
	CodeInvalidAmount       Code = "INVALID_AMOUNT"
	CodeLockUnavailable     Code = "LOCK_UNAVAILABLE"
	CodeConcurrencyConflict Code = "CONCURRENCY_CONFLICT"
	CodeCancelled           Code = "CANCELLED"
	CodeUnavailable         Code = "UNAVAILABLE"
)

// Retryable reports whether a caller may retry a transfer that produced
// this code with the same operation id.
func (c Code) Retryable() bool {
	switch c {
	case CodeLockUnavailable, CodeConcurrencyConflict, CodeCancelled, CodeUnavailable:
		return true
	}
	return false
}

// Result is the value returned by the transfer orchestrator.
//
// NewFromBalance and NewToBalance are only meaningful when Code is
// CodeApplied. Duplicate is set when the outcome was served from the
// idempotency record of an earlier delivery. Err carries the original
// cause for CodeUnavailable and is nil otherwise.
type Result struct {
	Code           Code
	NewFromBalance decimal.Decimal
	NewToBalance   decimal.Decimal
	Duplicate      bool
	Err            error
}

// Applied reports whether the transfer is committed (now or by an
// earlier delivery of the same operation id).
func (r Result) Applied() bool {
	return r.Code == CodeApplied
}

func resultFor(code Code) Result {
	return Result{Code: code}
}

func unavailable(err error) Result {
	return Result{Code: CodeUnavailable, Err: err}
}
