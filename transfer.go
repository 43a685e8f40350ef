package wallet

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Wallet hash key layout. These persist in Redis, so they are part of
// the external contract.
const (
	walletKeyPrefix = "wallet:"

	fieldWalletID = "wallet_id"
	fieldUserID   = "user_id"
	fieldBalance  = "balance"
	fieldCurrency = "currency"
	fieldStatus   = "status"
)

// Wallet status values. Only active wallets may send or receive.
const (
	WalletStatusActive = "active"
	WalletStatusFrozen = "frozen"
	WalletStatusClosed = "closed"
)

// DefaultCurrency tags newly created wallets. The engine treats the
// currency as opaque; it never converts.
const DefaultCurrency = "USD"

func walletKey(userID string) string {
	return walletKeyPrefix + userID
}

// TransferRequest is a single transfer command. OpID is the
// caller-assigned idempotency key; redelivering the same OpID is safe.
type TransferRequest struct {
	OpID   string
	From   string
	To     string
	Amount decimal.Decimal
}

// errAlreadyApplied signals inside a watched transaction that the
// operation id is already recorded; the transaction aborts without
// writes and the recorded outcome is returned instead.
var errAlreadyApplied = errors.New("operation already applied")

// Service is the transfer engine: the public entry point that wires the
// idempotency guard, the multi-key lock, and the transfer primitive
// against a shared KV store. Many Service instances across processes
// coordinate purely through the store; there is no in-process state
// beyond configuration and the client pool.
type Service struct {
	kv      KV
	lock    *MultiLock
	guard   *IdempotencyGuard
	cfg     Config
	logger  Logger
	metrics Metrics
}

// NewService creates a transfer engine over the given KV store
func NewService(kv KV, cfg Config, logger Logger, metrics Metrics) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = &NoOpLogger{}
	}
	if metrics == nil {
		metrics = &NoOpMetrics{}
	}

	return &Service{
		kv:      kv,
		lock:    NewMultiLock(kv, cfg, logger, metrics),
		guard:   NewIdempotencyGuard(kv, cfg.IdempotencyTTL),
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}, nil
}

// Lock exposes the engine's multi-key lock manager
func (s *Service) Lock() *MultiLock {
	return s.lock
}

// Transfer atomically moves Amount from one wallet to another.
//
// Every call returns a Result; anything other than CodeApplied means no
// balance changed. Duplicated deliveries of the same OpID return the
// recorded outcome with Duplicate set. Retriable codes (lock
// unavailable, concurrency conflict, cancelled, unavailable) may be
// retried with the same OpID without risk of double-spending.
func (s *Service) Transfer(ctx context.Context, req TransferRequest) Result {
	start := time.Now()
	res := s.transfer(ctx, req)
	s.metrics.Timing(MetricTransferDuration, time.Since(start))

	switch {
	case res.Applied() && res.Duplicate:
		s.metrics.Increment(MetricTransferDuplicate)
	case res.Applied():
		s.metrics.Increment(MetricTransferApplied)
	default:
		s.metrics.Increment(MetricTransferRejected, "code", string(res.Code))
	}

	return res
}

func (s *Service) transfer(ctx context.Context, req TransferRequest) Result {
	if res, ok := s.validate(req); !ok {
		return res
	}

	// Fast path: already committed by an earlier delivery. No lock, no
	// writes. A duplicate racing past this check is caught again inside
	// the watched transaction.
	outcome, found, err := s.guard.Check(ctx, req.OpID)
	if err != nil {
		return s.classify(err)
	}
	if found {
		s.logger.Info("duplicate transfer absorbed",
			"op_id", req.OpID, "from", req.From, "to", req.To)
		return s.outcomeResult(outcome)
	}

	token, locked, err := s.lock.Acquire(ctx, []string{req.From, req.To}, req.OpID)
	if err != nil {
		return s.classify(err)
	}
	defer s.lock.Release(context.WithoutCancel(ctx), locked, token)

	res := s.applyTransfer(ctx, req)
	if res.Applied() && !res.Duplicate {
		s.logger.Info("transfer applied",
			"op_id", req.OpID,
			"from", req.From,
			"to", req.To,
			"amount", req.Amount.String(),
			"new_from", res.NewFromBalance.String(),
			"new_to", res.NewToBalance.String())
	}
	return res
}

// validate checks argument shape before any KV round trip
func (s *Service) validate(req TransferRequest) (Result, bool) {
	if req.OpID == "" || req.From == "" || req.To == "" {
		return resultFor(CodeInvalidRequest), false
	}
	if req.From == req.To {
		return resultFor(CodeSameUserTransfer), false
	}
	if !req.Amount.IsPositive() {
		return resultFor(CodeInvalidAmount), false
	}
	// The caller provides an already-scaled amount; the primitive never
	// rounds.
	if req.Amount.Exponent() < -s.cfg.BalanceScale {
		return resultFor(CodeInvalidAmount), false
	}
	return Result{}, true
}

// applyTransfer is the transfer primitive. It runs under the acquired
// multi-key lock and commits the paired balance update plus the
// idempotency record in one watched transaction. Optimistic aborts are
// retried a bounded number of times; while the lock holds they can only
// come from a TTL-expired holder finishing late, which is exactly the
// case the watch protects against.
func (s *Service) applyTransfer(ctx context.Context, req TransferRequest) Result {
	fromKey := walletKey(req.From)
	toKey := walletKey(req.To)
	watched := []string{fromKey, toKey, appliedKey(req.OpID)}

	for attempt := 0; attempt < s.cfg.TxMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return s.classify(err)
		}

		var res Result
		committed, err := s.kv.WatchedTx(ctx, watched, func(tx Tx) error {
			outcome, found, err := s.guard.CheckTx(tx, req.OpID)
			if err != nil {
				return err
			}
			if found {
				res = s.outcomeResult(outcome)
				return errAlreadyApplied
			}

			fromBalance, err := s.readWallet(tx, fromKey, req.From)
			if err != nil {
				return err
			}
			toBalance, err := s.readWallet(tx, toKey, req.To)
			if err != nil {
				return err
			}

			if fromBalance.LessThan(req.Amount) {
				return WithContext(ErrInsufficientFunds, map[string]interface{}{
					"from":    req.From,
					"balance": fromBalance.String(),
					"amount":  req.Amount.String(),
				})
			}

			newFrom := fromBalance.Sub(req.Amount)
			newTo := toBalance.Add(req.Amount)

			tx.HSet(fromKey, fieldBalance, s.format(newFrom))
			tx.HSet(toKey, fieldBalance, s.format(newTo))
			if err := s.guard.Record(tx, req.OpID, Outcome{
				Code:    CodeApplied,
				NewFrom: s.format(newFrom),
				NewTo:   s.format(newTo),
			}); err != nil {
				return err
			}

			res = Result{Code: CodeApplied, NewFromBalance: newFrom, NewToBalance: newTo}
			return nil
		})

		if errors.Is(err, errAlreadyApplied) {
			return res
		}
		if err != nil {
			return s.classify(err)
		}
		if committed {
			return res
		}

		s.metrics.Increment(MetricTxAbort)
		s.logger.Warn("watched transaction aborted, retrying",
			"op_id", req.OpID, "attempt", attempt+1)
	}

	return resultFor(CodeConcurrencyConflict)
}

// readWallet extracts and validates balance/status from a wallet hash
// inside the watched transaction
func (s *Service) readWallet(tx Tx, key, userID string) (decimal.Decimal, error) {
	fields, err := tx.HGetMulti(key, fieldBalance, fieldStatus)
	if err != nil {
		return decimal.Zero, err
	}

	raw, ok := fields[fieldBalance]
	if !ok {
		return decimal.Zero, WithContext(ErrWalletNotFound, map[string]interface{}{
			"user": userID,
		})
	}
	if status := fields[fieldStatus]; status != WalletStatusActive {
		return decimal.Zero, WithContext(ErrWalletInactive, map[string]interface{}{
			"user":   userID,
			"status": status,
		})
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance for %q: %w", userID, err)
	}
	return balance, nil
}

// CreateWallet creates a wallet hash for userID with the given starting
// balance, if none exists. Returns false when the wallet already exists
// (idempotent, like the seeder). An empty currency defaults to USD.
func (s *Service) CreateWallet(ctx context.Context, userID string, initial decimal.Decimal, currency string) (bool, error) {
	if userID == "" {
		return false, ErrInvalidRequest
	}
	if initial.IsNegative() || initial.Exponent() < -s.cfg.BalanceScale {
		return false, WithContext(ErrInvalidAmount, map[string]interface{}{
			"initial": initial.String(),
		})
	}
	if currency == "" {
		currency = DefaultCurrency
	}

	key := walletKey(userID)
	for attempt := 0; attempt < s.cfg.TxMaxAttempts; attempt++ {
		created := false
		committed, err := s.kv.WatchedTx(ctx, []string{key}, func(tx Tx) error {
			fields, err := tx.HGetMulti(key, fieldBalance)
			if err != nil {
				return err
			}
			if _, exists := fields[fieldBalance]; exists {
				return nil
			}

			tx.HSet(key, fieldWalletID, "wallet_"+userID)
			tx.HSet(key, fieldUserID, userID)
			tx.HSet(key, fieldBalance, s.format(initial))
			tx.HSet(key, fieldCurrency, currency)
			tx.HSet(key, fieldStatus, WalletStatusActive)
			created = true
			return nil
		})
		if err != nil {
			return false, err
		}
		if committed {
			if created {
				s.logger.Info("wallet created", "user", userID, "balance", s.format(initial))
			}
			return created, nil
		}
	}

	return false, WithContext(ErrConcurrencyConflict, map[string]interface{}{
		"user": userID,
	})
}

// Balance returns the current balance of userID's wallet. Safe to call
// at any time; reads are not serialized by the transfer lock.
func (s *Service) Balance(ctx context.Context, userID string) (decimal.Decimal, error) {
	fields, err := s.kv.HGetMulti(ctx, walletKey(userID), fieldBalance)
	if err != nil {
		return decimal.Zero, err
	}

	raw, ok := fields[fieldBalance]
	if !ok {
		return decimal.Zero, WithContext(ErrWalletNotFound, map[string]interface{}{
			"user": userID,
		})
	}

	balance, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, fmt.Errorf("corrupt balance for %q: %w", userID, err)
	}
	return balance, nil
}

// format renders a balance at the fixed scale
func (s *Service) format(d decimal.Decimal) string {
	return d.StringFixed(s.cfg.BalanceScale)
}

// outcomeResult converts a recorded outcome, downgrading a corrupt
// record to Unavailable rather than guessing
func (s *Service) outcomeResult(outcome Outcome) Result {
	res, err := outcome.Result()
	if err != nil {
		return unavailable(err)
	}
	return res
}

// classify maps internal errors onto the caller-facing result taxonomy
func (s *Service) classify(err error) Result {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return resultFor(CodeCancelled)
	case errors.Is(err, ErrInsufficientFunds):
		return resultFor(CodeInsufficientFunds)
	case errors.Is(err, ErrWalletNotFound):
		return resultFor(CodeWalletNotFound)
	case errors.Is(err, ErrWalletInactive):
		return resultFor(CodeWalletInactive)
	case errors.Is(err, ErrSameUserTransfer):
		return resultFor(CodeSameUserTransfer)
	case errors.Is(err, ErrInvalidAmount):
		return resultFor(CodeInvalidAmount)
	case errors.Is(err, ErrInvalidRequest):
		return resultFor(CodeInvalidRequest)
	case errors.Is(err, ErrLockUnavailable):
		return resultFor(CodeLockUnavailable)
	case errors.Is(err, ErrConcurrencyConflict):
		return resultFor(CodeConcurrencyConflict)
	default:
		return unavailable(err)
	}
}
