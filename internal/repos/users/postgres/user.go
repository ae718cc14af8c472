package users

import (
	"database/sql"
	"fmt"

	"github.com/fastprodman/coinchat/internal/repos/users"
)

func (r *usersRepo) Exists(tx *sql.Tx, userID string) error {
	var exists bool

	err := tx.QueryRow(`
		SELECT EXISTS(SELECT 1 FROM users WHERE id = $1)
	`, userID).Scan(&exists)
	if err != nil {
		return fmt.Errorf("check exists: %w", err)
	}

	if !exists {
		return users.ErrUserNotFound
	}

	return nil
}

// Ensure creates the user with a zero balance if absent. A non-empty email
// is stored only when the row has none yet.
func (r *usersRepo) Ensure(tx *sql.Tx, userID, email string) error {
	_, err := tx.Exec(`
		INSERT INTO users (id, email, balance)
		VALUES ($1, $2, 0)
		ON CONFLICT (id) DO UPDATE
		SET email = EXCLUDED.email, updated_at = now()
		WHERE users.email = '' AND EXCLUDED.email <> ''
	`, userID, email)
	if err != nil {
		return fmt.Errorf("ensure user: %w", err)
	}

	return nil
}
