package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/fastprodman/coinchat/internal/infra/metrics"
	"github.com/fastprodman/coinchat/internal/infra/pgutils"
	"github.com/fastprodman/coinchat/internal/repos/users"
	pgusers "github.com/fastprodman/coinchat/internal/repos/users/postgres"
)

// Service owns every balance mutation. Other components read and write
// coins only through it.
type Service struct {
	db    *sql.DB
	users users.Users

	mu     sync.RWMutex
	nextID uint64
	subs   map[uint64]func(BalanceChanged)

	now func() time.Time
}

func New(dbx *sql.DB) *Service {
	return &Service{
		db:    dbx,
		users: pgusers.New(dbx),
		subs:  make(map[uint64]func(BalanceChanged)),
		now:   time.Now,
	}
}

// GetBalance returns the user's balance without taking locks. Users that
// were never created yield ErrNotFound.
func (s *Service) GetBalance(ctx context.Context, userID string) (int64, error) {
	balance, err := s.users.GetBalance(ctx, userID)
	observe(OpGetBalance, err)
	if err != nil {
		return 0, fmt.Errorf("get balance: %w", err)
	}

	return balance, nil
}

// Debit runs the spend in a single DB transaction:
//
// 1) Ensure user exists.
// 2) Lock user row (FOR UPDATE).
// 3) Pre-check against the locked balance.
// 4) Guarded decrement (balance >= amount).
func (s *Service) Debit(ctx context.Context, userID string, amount int64) (int64, error) {
	if amount <= 0 {
		observe(OpDebit, ErrInvalidAmount)
		return 0, ErrInvalidAmount
	}

	var balance int64

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		// 1) Ensure user exists
		err := s.users.Exists(tx, userID)
		if err != nil {
			return fmt.Errorf("check user exists: %w", err)
		}

		// 2) Lock user row
		current, err := s.users.LockAndGetBalance(tx, userID)
		if err != nil {
			return fmt.Errorf("lock and get balance: %w", err)
		}

		// 3) pre-check against locked balance
		if current < amount {
			return fmt.Errorf("pre-check debit: %w", ErrInsufficientFunds)
		}

		// 4) Apply the effect
		balance, err = s.users.DecreaseBalance(tx, userID, amount)
		if err != nil {
			return fmt.Errorf("decrease balance: %w", err)
		}

		return nil
	})
	observe(OpDebit, err)
	if err != nil {
		if errors.Is(err, ErrNotFound) || errors.Is(err, ErrInsufficientFunds) {
			return 0, fmt.Errorf("debit: %w", err)
		}

		return 0, fmt.Errorf("%w: %w", ErrDebitFailed, err)
	}

	s.publish(BalanceChanged{
		UserID:  userID,
		Balance: balance,
		Delta:   -amount,
		Reason:  ReasonDebit,
		At:      s.now(),
	})

	return balance, nil
}

// Credit adds amount to the user's balance, creating the user when absent,
// and returns the new balance.
func (s *Service) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	return s.CreditWithin(ctx, userID, amount, nil)
}

// CreditWithin is Credit with fn executed in the same DB transaction as the
// increment. Either both commit or neither does.
func (s *Service) CreditWithin(
	ctx context.Context,
	userID string,
	amount int64,
	fn func(tx *sql.Tx) error,
) (int64, error) {
	if amount <= 0 {
		observe(OpCredit, ErrInvalidAmount)
		return 0, ErrInvalidAmount
	}

	var balance int64

	err := pgutils.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		var err error

		balance, err = s.users.IncreaseBalance(tx, userID, amount)
		if err != nil {
			return fmt.Errorf("increase balance: %w", err)
		}

		if fn == nil {
			return nil
		}

		return fn(tx)
	})
	observe(OpCredit, err)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrCreditFailed, err)
	}

	s.publish(BalanceChanged{
		UserID:  userID,
		Balance: balance,
		Delta:   amount,
		Reason:  ReasonCredit,
		At:      s.now(),
	})

	return balance, nil
}

// Subscribe registers fn for every committed balance change. fn runs on the
// mutating goroutine and must not block. The returned func removes it.
func (s *Service) Subscribe(fn func(BalanceChanged)) (unsubscribe func()) {
	s.mu.Lock()
	id := s.nextID
	s.nextID++
	s.subs[id] = fn
	s.mu.Unlock()

	var once sync.Once

	return func() {
		once.Do(func() {
			s.mu.Lock()
			delete(s.subs, id)
			s.mu.Unlock()
		})
	}
}

func (s *Service) publish(ev BalanceChanged) {
	s.mu.RLock()
	fns := make([]func(BalanceChanged), 0, len(s.subs))
	for _, fn := range s.subs {
		fns = append(fns, fn)
	}
	s.mu.RUnlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func observe(op string, err error) {
	result := "ok"

	switch {
	case err == nil:
	case errors.Is(err, ErrInsufficientFunds):
		result = "insufficient_funds"
	case errors.Is(err, ErrNotFound):
		result = "not_found"
	case errors.Is(err, ErrInvalidAmount):
		result = "invalid_amount"
	default:
		result = "error"
	}

	metrics.LedgerOpsTotal.WithLabelValues(op, result).Inc()
}
