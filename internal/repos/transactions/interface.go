package transactions

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

var (
	ErrDuplicateTransaction = errors.New("duplicate transaction")
	ErrTransactionNotFound  = errors.New("transaction not found")
	ErrNotPending           = errors.New("transaction is not pending")
)

type Type string

const TypePurchase Type = "PURCHASE"

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// Transaction is one purchase attempt. Status is the only field that changes
// after insert.
type Transaction struct {
	ID                string
	UserID            string
	Amount            int64
	Type              Type
	Status            Status
	ProviderSessionID string
	ProviderEventID   string
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

type Transactions interface {
	// InsertPending records a new PENDING attempt. A second live attempt for
	// the same provider session fails with ErrDuplicateTransaction.
	InsertPending(tx *sql.Tx, t Transaction) error
	// MarkStatus moves a PENDING record to status; anything else yields
	// ErrNotPending.
	MarkStatus(tx *sql.Tx, id string, status Status) error
	Get(ctx context.Context, id string) (Transaction, error)
	GetLiveBySession(ctx context.Context, sessionID string) (Transaction, error)
	FindRecentCompleted(ctx context.Context, userID string, amount int64, typ Type, since time.Time) (Transaction, error)
}
