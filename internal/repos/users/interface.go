package users

import (
	"context"
	"database/sql"
	"errors"
)

var ErrInsufficientFunds = errors.New("insufficient funds")
var ErrUserNotFound = errors.New("user not found")

// Users is the balance store. Identities are the stable strings supplied by
// the identity provider. Mutating methods run inside the caller's transaction.
type Users interface {
	Exists(tx *sql.Tx, userID string) error
	Ensure(tx *sql.Tx, userID, email string) error
	GetBalance(ctx context.Context, userID string) (int64, error)
	GetEmail(ctx context.Context, userID string) (string, error)
	LockAndGetBalance(tx *sql.Tx, userID string) (int64, error)
	IncreaseBalance(tx *sql.Tx, userID string, amount int64) (int64, error)
	DecreaseBalance(tx *sql.Tx, userID string, amount int64) (int64, error)
}
