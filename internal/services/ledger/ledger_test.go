package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/fastprodman/coinchat/internal/infra/pgtestutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLedger_Debit_Table(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		seed        func(t *testing.T, db *sql.DB)
		userID      string
		amount      int64
		wantBalance int64
		wantErr     error
		wantFinal   int64
		checkFinal  bool
	}{
		{
			name:        "spend_one_of_fifty",
			seed:        func(t *testing.T, db *sql.DB) { pgtestutil.SeedUser(t, db, "user_a", "", 50) },
			userID:      "user_a",
			amount:      1,
			wantBalance: 49,
			wantFinal:   49,
			checkFinal:  true,
		},
		{
			name:       "insufficient_leaves_balance",
			seed:       func(t *testing.T, db *sql.DB) { pgtestutil.SeedUser(t, db, "user_b", "", 2) },
			userID:     "user_b",
			amount:     3,
			wantErr:    ErrInsufficientFunds,
			wantFinal:  2,
			checkFinal: true,
		},
		{
			name:    "unknown_user",
			userID:  "user_none",
			amount:  1,
			wantErr: ErrNotFound,
		},
		{
			name:       "zero_amount_rejected",
			seed:       func(t *testing.T, db *sql.DB) { pgtestutil.SeedUser(t, db, "user_c", "", 5) },
			userID:     "user_c",
			amount:     0,
			wantErr:    ErrInvalidAmount,
			wantFinal:  5,
			checkFinal: true,
		},
		{
			name:       "negative_amount_rejected",
			seed:       func(t *testing.T, db *sql.DB) { pgtestutil.SeedUser(t, db, "user_d", "", 5) },
			userID:     "user_d",
			amount:     -4,
			wantErr:    ErrInvalidAmount,
			wantFinal:  5,
			checkFinal: true,
		},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			db, cleanup := pgtestutil.NewTestDB(t)
			defer cleanup()

			if tt.seed != nil {
				tt.seed(t, db)
			}

			svc := New(db)

			got, err := svc.Debit(t.Context(), tt.userID, tt.amount)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.NotErrorIs(t, err, ErrDebitFailed)
			} else {
				require.NoError(t, err)
				assert.Equal(t, tt.wantBalance, got)
			}

			if tt.checkFinal {
				assert.Equal(t, tt.wantFinal, pgtestutil.Balance(t, db, tt.userID))
			}
		})
	}
}

func TestLedger_Debit_ConcurrentLastCoin(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	pgtestutil.SeedUser(t, db, "user_last", "", 1)

	svc := New(db)

	var (
		wg           sync.WaitGroup
		mu           sync.Mutex
		success      int
		insufficient int
	)

	for i := 0; i < 2; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			_, err := svc.Debit(context.Background(), "user_last", 1)

			mu.Lock()
			defer mu.Unlock()

			switch {
			case err == nil:
				success++
			case errors.Is(err, ErrInsufficientFunds):
				insufficient++
			default:
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, success)
	assert.Equal(t, 1, insufficient)
	assert.Equal(t, int64(0), pgtestutil.Balance(t, db, "user_last"))
}

func TestLedger_Credit_UpsertsUnseenUser(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	svc := New(db)

	_, err := svc.GetBalance(t.Context(), "user_new")
	require.ErrorIs(t, err, ErrNotFound)

	balance, err := svc.Credit(t.Context(), "user_new", 50)
	require.NoError(t, err)
	assert.Equal(t, int64(50), balance)

	got, err := svc.GetBalance(t.Context(), "user_new")
	require.NoError(t, err)
	assert.Equal(t, int64(50), got)

	_, err = svc.Credit(t.Context(), "user_new", 0)
	require.ErrorIs(t, err, ErrInvalidAmount)
}

func TestLedger_CreditWithin_RollsBackOnCallbackError(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	pgtestutil.SeedUser(t, db, "user_cb", "", 7)

	svc := New(db)

	events := 0
	unsubscribe := svc.Subscribe(func(BalanceChanged) { events++ })
	defer unsubscribe()

	boom := errors.New("mark failed")

	_, err := svc.CreditWithin(t.Context(), "user_cb", 10, func(*sql.Tx) error { return boom })
	require.ErrorIs(t, err, ErrCreditFailed)
	require.ErrorIs(t, err, boom)

	assert.Equal(t, int64(7), pgtestutil.Balance(t, db, "user_cb"))
	assert.Zero(t, events, "no notification for a rolled back credit")
}

// 0 -> +50 -> 50 sequential debits -> 0 -> the next debit is refused.
func TestLedger_EndToEndSpendDown(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	pgtestutil.SeedUser(t, db, "user_e2e", "", 0)

	svc := New(db)
	ctx := t.Context()

	balance, err := svc.Credit(ctx, "user_e2e", 50)
	require.NoError(t, err)
	require.Equal(t, int64(50), balance)

	for i := 49; i >= 0; i-- {
		balance, err = svc.Debit(ctx, "user_e2e", 1)
		require.NoError(t, err)
		require.Equal(t, int64(i), balance)
	}

	_, err = svc.Debit(ctx, "user_e2e", 1)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	got, err := svc.GetBalance(ctx, "user_e2e")
	require.NoError(t, err)
	assert.Equal(t, int64(0), got)
}

func TestLedger_Subscribe(t *testing.T) {
	t.Parallel()

	db, cleanup := pgtestutil.NewTestDB(t)
	defer cleanup()

	svc := New(db)
	ctx := t.Context()

	var (
		mu     sync.Mutex
		events []BalanceChanged
	)

	unsubscribe := svc.Subscribe(func(ev BalanceChanged) {
		mu.Lock()
		events = append(events, ev)
		mu.Unlock()
	})

	_, err := svc.Credit(ctx, "user_sub", 5)
	require.NoError(t, err)

	_, err = svc.Debit(ctx, "user_sub", 2)
	require.NoError(t, err)

	// Refused debits change nothing and are not announced.
	_, err = svc.Debit(ctx, "user_sub", 100)
	require.ErrorIs(t, err, ErrInsufficientFunds)

	unsubscribe()
	unsubscribe() // idempotent

	_, err = svc.Credit(ctx, "user_sub", 1)
	require.NoError(t, err)

	mu.Lock()
	defer mu.Unlock()

	require.Len(t, events, 2)

	assert.Equal(t, "user_sub", events[0].UserID)
	assert.Equal(t, ReasonCredit, events[0].Reason)
	assert.Equal(t, int64(5), events[0].Delta)
	assert.Equal(t, int64(5), events[0].Balance)

	assert.Equal(t, ReasonDebit, events[1].Reason)
	assert.Equal(t, int64(-2), events[1].Delta)
	assert.Equal(t, int64(3), events[1].Balance)
	assert.False(t, events[1].At.IsZero())
}
