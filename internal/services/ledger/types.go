package ledger

import (
	"errors"
	"time"

	"github.com/fastprodman/coinchat/internal/repos/users"
)

const (
	OpGetBalance = "get_balance"
	OpDebit      = "debit"
	OpCredit     = "credit"
)

type Reason string

const (
	ReasonDebit  Reason = "debit"
	ReasonCredit Reason = "credit"
)

// BalanceChanged is delivered to subscribers after a debit or credit commits.
type BalanceChanged struct {
	UserID  string
	Balance int64
	Delta   int64 // negative for debits
	Reason  Reason
	At      time.Time
}

var (
	ErrNotFound          = users.ErrUserNotFound
	ErrInsufficientFunds = users.ErrInsufficientFunds
	ErrInvalidAmount     = errors.New("amount must be positive")
	ErrDebitFailed       = errors.New("debit failed")
	ErrCreditFailed      = errors.New("credit failed")
)
