package transactions

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/fastprodman/coinchat/internal/infra/pgutils"
	"github.com/fastprodman/coinchat/internal/repos/transactions"
)

var _ transactions.Transactions = (*transactionsRepo)(nil)

const selectColumns = `
	SELECT id, user_id, amount, type, status,
	       COALESCE(provider_session_id, ''), COALESCE(provider_event_id, ''),
	       created_at, updated_at
	FROM transactions
`

type transactionsRepo struct{ db *sql.DB }

func New(db *sql.DB) *transactionsRepo {
	return &transactionsRepo{db: db}
}

func (r *transactionsRepo) InsertPending(tx *sql.Tx, t transactions.Transaction) error {
	_, err := tx.Exec(`
		INSERT INTO transactions (id, user_id, amount, type, status, provider_session_id, provider_event_id)
		VALUES ($1, $2, $3, $4, $5, NULLIF($6, ''), NULLIF($7, ''))
	`, t.ID, t.UserID, t.Amount, string(t.Type), string(transactions.StatusPending),
		t.ProviderSessionID, t.ProviderEventID)
	if err != nil {
		if pgutils.IsUniqueViolation(err) {
			return transactions.ErrDuplicateTransaction
		}

		return fmt.Errorf("insert transaction: %w", err)
	}

	return nil
}

func (r *transactionsRepo) MarkStatus(tx *sql.Tx, id string, status transactions.Status) error {
	res, err := tx.Exec(`
		UPDATE transactions
		SET status = $2, updated_at = now()
		WHERE id = $1
		  AND status = $3
	`, id, string(status), string(transactions.StatusPending))
	if err != nil {
		return fmt.Errorf("mark transaction %s: %w", status, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}

	if affected == 0 {
		return transactions.ErrNotPending
	}

	return nil
}

func (r *transactionsRepo) Get(ctx context.Context, id string) (transactions.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`WHERE id = $1`, id)

	return scanTransaction(row)
}

func (r *transactionsRepo) GetLiveBySession(ctx context.Context, sessionID string) (transactions.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		WHERE provider_session_id = $1
		  AND status <> $2
	`, sessionID, string(transactions.StatusFailed))

	return scanTransaction(row)
}

func (r *transactionsRepo) FindRecentCompleted(
	ctx context.Context,
	userID string,
	amount int64,
	typ transactions.Type,
	since time.Time,
) (transactions.Transaction, error) {
	row := r.db.QueryRowContext(ctx, selectColumns+`
		WHERE user_id = $1
		  AND amount = $2
		  AND type = $3
		  AND status = $4
		  AND created_at >= $5
		ORDER BY created_at DESC
		LIMIT 1
	`, userID, amount, string(typ), string(transactions.StatusCompleted), since)

	return scanTransaction(row)
}

func scanTransaction(row *sql.Row) (transactions.Transaction, error) {
	var (
		t      transactions.Transaction
		typ    string
		status string
	)

	err := row.Scan(&t.ID, &t.UserID, &t.Amount, &typ, &status,
		&t.ProviderSessionID, &t.ProviderEventID, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return transactions.Transaction{}, transactions.ErrTransactionNotFound
		}

		return transactions.Transaction{}, fmt.Errorf("scan transaction: %w", err)
	}

	t.Type = transactions.Type(typ)
	t.Status = transactions.Status(status)

	return t, nil
}
