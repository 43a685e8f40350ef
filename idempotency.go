package wallet

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// appliedKeyPrefix namespaces idempotency records in the KV store
const appliedKeyPrefix = "applied:"

func appliedKey(opID string) string {
	return appliedKeyPrefix + opID
}

// Outcome is the recorded result of a committed transfer, stored at
// applied:<op_id>. Its presence means "already applied": the record is
// written in the same atomic batch as the balance updates, so the debit,
// the credit, and this record are either all visible or all absent.
type Outcome struct {
	Code    Code   `json:"code"`
	NewFrom string `json:"new_from"`
	NewTo   string `json:"new_to"`
}

// Result converts a recorded outcome back into the caller-facing result
// with the duplicate flag set
func (o Outcome) Result() (Result, error) {
	newFrom, err := decimal.NewFromString(o.NewFrom)
	if err != nil {
		return Result{}, fmt.Errorf("corrupt idempotency record: %w", err)
	}
	newTo, err := decimal.NewFromString(o.NewTo)
	if err != nil {
		return Result{}, fmt.Errorf("corrupt idempotency record: %w", err)
	}
	return Result{
		Code:           o.Code,
		NewFromBalance: newFrom,
		NewToBalance:   newTo,
		Duplicate:      true,
	}, nil
}

// IdempotencyGuard records and recognizes already-processed operation
// ids. Check is a fast path only; the authoritative duplicate detection
// is the applied-key read inside the watched transfer transaction.
type IdempotencyGuard struct {
	kv  KV
	ttl time.Duration
}

// NewIdempotencyGuard creates a guard with the given retention TTL
func NewIdempotencyGuard(kv KV, ttl time.Duration) *IdempotencyGuard {
	return &IdempotencyGuard{kv: kv, ttl: ttl}
}

// Check returns the recorded outcome for opID, if any
func (g *IdempotencyGuard) Check(ctx context.Context, opID string) (Outcome, bool, error) {
	raw, found, err := g.kv.Get(ctx, appliedKey(opID))
	if err != nil {
		return Outcome{}, false, err
	}
	if !found {
		return Outcome{}, false, nil
	}

	outcome, err := decodeOutcome(raw)
	if err != nil {
		return Outcome{}, false, err
	}
	return outcome, true, nil
}

// CheckTx is Check inside a watched transaction, where the applied key
// is one of the watched keys. A duplicate racing past the fast path is
// caught here: one delivery commits, the other observes the record.
func (g *IdempotencyGuard) CheckTx(tx Tx, opID string) (Outcome, bool, error) {
	raw, found, err := tx.Get(appliedKey(opID))
	if err != nil {
		return Outcome{}, false, err
	}
	if !found {
		return Outcome{}, false, nil
	}

	outcome, err := decodeOutcome(raw)
	if err != nil {
		return Outcome{}, false, err
	}
	return outcome, true, nil
}

// Record enqueues the outcome write into the commit batch of a watched
// transaction. Never written standalone: "applied" and "visible
// debit/credit" must be coextensive.
func (g *IdempotencyGuard) Record(tx Tx, opID string, outcome Outcome) error {
	raw, err := encodeOutcome(outcome)
	if err != nil {
		return err
	}
	tx.Set(appliedKey(opID), raw, g.ttl)
	return nil
}

func encodeOutcome(outcome Outcome) (string, error) {
	data, err := json.Marshal(outcome)
	if err != nil {
		return "", fmt.Errorf("failed to encode outcome: %w", err)
	}
	return string(data), nil
}

func decodeOutcome(raw string) (Outcome, error) {
	var outcome Outcome
	if err := json.Unmarshal([]byte(raw), &outcome); err != nil {
		return Outcome{}, fmt.Errorf("failed to decode outcome: %w", err)
	}
	return outcome, nil
}
