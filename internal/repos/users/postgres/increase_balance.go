package users

import (
	"database/sql"
	"fmt"
)

// IncreaseBalance adds amount to the user's balance, creating the user with
// balance = amount when absent, and returns the new balance.
func (r *usersRepo) IncreaseBalance(tx *sql.Tx, userID string, amount int64) (int64, error) {
	var balance int64

	err := tx.QueryRow(`
		INSERT INTO users (id, balance)
		VALUES ($1, $2)
		ON CONFLICT (id) DO UPDATE
		SET balance = users.balance + EXCLUDED.balance, updated_at = now()
		RETURNING balance
	`, userID, amount).Scan(&balance)
	if err != nil {
		return 0, fmt.Errorf("increase balance: %w", err)
	}

	return balance, nil
}
