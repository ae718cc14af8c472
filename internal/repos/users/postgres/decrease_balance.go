package users

import (
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/coinchat/internal/repos/users"
)

// DecreaseBalance subtracts amount and returns the new balance. The guard in
// the WHERE clause keeps the balance non-negative even without a prior lock.
func (r *usersRepo) DecreaseBalance(tx *sql.Tx, userID string, amount int64) (int64, error) {
	var balance int64

	err := tx.QueryRow(`
		UPDATE users
		SET balance = balance - $2, updated_at = now()
		WHERE id = $1
		  AND balance >= $2
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return 0, users.ErrInsufficientFunds
		}

		return 0, fmt.Errorf("decrease balance: %w", err)
	}

	return balance, nil
}
