package users

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/fastprodman/coinchat/internal/infra/pgtestutil"
)

func TestUsers_IncreaseBalance_Basic(t *testing.T) {
	t.Parallel()

	type seedFn func(db *sql.DB, t *testing.T)
	type tc struct {
		name        string
		seed        seedFn
		userID      string
		amount      int64
		wantBalance int64
	}

	upsert := func(db *sql.DB, id string, bal int64, t *testing.T) {
		pgtestutil.SeedUser(t, db, id, "", bal)
	}

	tests := []tc{
		{
			name:        "increase_from_zero",
			seed:        func(db *sql.DB, t *testing.T) { upsert(db, "user_101", 0, t) },
			userID:      "user_101",
			amount:      10,
			wantBalance: 10,
		},
		{
			name:        "increase_from_positive",
			seed:        func(db *sql.DB, t *testing.T) { upsert(db, "user_102", 7, t) },
			userID:      "user_102",
			amount:      50,
			wantBalance: 57,
		},
		{
			name:        "increase_large_balance",
			seed:        func(db *sql.DB, t *testing.T) { upsert(db, "user_103", 900_000_000_000_000, t) },
			userID:      "user_103",
			amount:      123,
			wantBalance: 900_000_000_000_123,
		},
		{
			name:        "unseen_user_created_with_amount",
			seed:        nil,
			userID:      "user_new",
			amount:      50,
			wantBalance: 50,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			if tt.seed != nil {
				tt.seed(db, t)
			}

			repo := New(db)

			ctx, cancel := context.WithTimeout(t.Context(), 5*time.Second)
			defer cancel()

			tx, err := db.BeginTx(ctx, nil)
			if err != nil {
				t.Fatalf("begin tx: %v", err)
			}
			defer func() { _ = tx.Rollback() }()

			newBalance, err := repo.IncreaseBalance(tx, tt.userID, tt.amount)
			if err != nil {
				t.Fatalf("increase balance: %v", err)
			}

			if newBalance != tt.wantBalance {
				t.Fatalf("returned balance mismatch: want %d, got %d", tt.wantBalance, newBalance)
			}

			err = tx.Commit()
			if err != nil {
				t.Fatalf("commit: %v", err)
			}

			got, err := repo.GetBalance(ctx, tt.userID)
			if err != nil {
				t.Fatalf("get balance: %v", err)
			}
			if got != tt.wantBalance {
				t.Fatalf("balance mismatch: want %d, got %d", tt.wantBalance, got)
			}
		})
	}
}

// Two concurrent first credits for the same unseen user must both land.
func TestUsers_IncreaseBalance_ConcurrentUpserts(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	repo := New(db)

	ctx, cancel := context.WithTimeout(t.Context(), 10*time.Second)
	defer cancel()

	errCh := make(chan error, 2)
	doneCh := make(chan struct{}, 2)

	worker := func(amount int64) {
		defer func() { doneCh <- struct{}{} }()

		tx, e := db.BeginTx(ctx, nil)
		if e != nil {
			errCh <- e
			return
		}
		defer func() { _ = tx.Rollback() }()

		_, e = repo.IncreaseBalance(tx, "user_777", amount)
		if e != nil {
			errCh <- e
			return
		}
		e = tx.Commit()
		if e != nil {
			errCh <- e
			return
		}
	}

	go worker(10)
	go worker(50)

	for i := 0; i < 2; i++ {
		select {
		case e := <-errCh:
			if e != nil {
				t.Fatalf("worker error: %v", e)
			}
		case <-doneCh:
			// ok
		case <-ctx.Done():
			t.Fatalf("timeout waiting for workers")
		}
	}

	got, err := repo.GetBalance(ctx, "user_777")
	if err != nil {
		t.Fatalf("get balance: %v", err)
	}
	if got != 60 {
		t.Fatalf("final balance mismatch: want 60, got %d", got)
	}
}
