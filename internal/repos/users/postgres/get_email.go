package users

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/fastprodman/coinchat/internal/repos/users"
)

// GetEmail returns the stored contact email, which may be empty.
func (r *usersRepo) GetEmail(ctx context.Context, userID string) (string, error) {
	var email string

	err := r.db.QueryRowContext(ctx, `
		SELECT email
		FROM users
		WHERE id = $1
	`, userID).Scan(&email)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return "", users.ErrUserNotFound
		}

		return "", fmt.Errorf("get email: %w", err)
	}

	return email, nil
}
