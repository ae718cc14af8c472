package chatgate

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/fastprodman/coinchat/internal/services/ledger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// memLedger is an in-memory stand-in for the ledger service.
type memLedger struct {
	mu        sync.Mutex
	balances  map[string]int64
	creditErr error
	credits   int
	creditCtx context.Context
}

func (m *memLedger) Debit(_ context.Context, userID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	bal, ok := m.balances[userID]
	if !ok {
		return 0, fmt.Errorf("debit: %w", ledger.ErrNotFound)
	}
	if bal < amount {
		return 0, fmt.Errorf("debit: %w", ledger.ErrInsufficientFunds)
	}

	m.balances[userID] = bal - amount

	return m.balances[userID], nil
}

func (m *memLedger) Credit(ctx context.Context, userID string, amount int64) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.credits++
	m.creditCtx = ctx

	if m.creditErr != nil {
		return 0, m.creditErr
	}

	m.balances[userID] += amount

	return m.balances[userID], nil
}

type fakeCompleter struct {
	calls int
	out   []byte
	err   error
}

func (f *fakeCompleter) Complete(context.Context, []byte) ([]byte, error) {
	f.calls++
	return f.out, f.err
}

func TestSend_ChargesOneCoin(t *testing.T) {
	t.Parallel()

	l := &memLedger{balances: map[string]int64{"user_1": 3}}
	c := &fakeCompleter{out: []byte(`{"choices":[]}`)}

	out, err := New(l, c, true).Send(t.Context(), "user_1", []byte(`{"messages":[]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"choices":[]}`, string(out))
	assert.Equal(t, int64(2), l.balances["user_1"])
	assert.Equal(t, 1, c.calls)
}

func TestSend_BlockedWithoutCoins(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		balances map[string]int64
	}{
		{name: "empty_balance", balances: map[string]int64{"user_1": 0}},
		{name: "never_created", balances: map[string]int64{}},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := &memLedger{balances: tt.balances}
			c := &fakeCompleter{}

			_, err := New(l, c, true).Send(t.Context(), "user_1", nil)
			require.ErrorIs(t, err, ledger.ErrInsufficientFunds)
			assert.Zero(t, c.calls, "nothing sent downstream")
			assert.Zero(t, l.credits)
		})
	}
}

func TestSend_CompletionFailure(t *testing.T) {
	t.Parallel()

	upstream := errors.New("upstream status 503")

	tests := []struct {
		name        string
		refund      bool
		creditErr   error
		wantBalance int64
		wantCredits int
		wantRefund  bool
	}{
		{name: "refunded", refund: true, wantBalance: 5, wantCredits: 1},
		{name: "refund_disabled", refund: false, wantBalance: 4, wantCredits: 0},
		{name: "refund_fails", refund: true, creditErr: errors.New("db down"), wantBalance: 4, wantCredits: 1, wantRefund: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := &memLedger{balances: map[string]int64{"user_1": 5}, creditErr: tt.creditErr}
			c := &fakeCompleter{err: upstream}

			ctx, cancel := context.WithCancel(t.Context())
			defer cancel()

			_, err := New(l, c, tt.refund).Send(ctx, "user_1", nil)
			require.ErrorIs(t, err, ErrCompletionFailed)
			require.ErrorIs(t, err, upstream)
			assert.Equal(t, tt.wantRefund, errors.Is(err, ErrRefundFailed))

			assert.Equal(t, tt.wantBalance, l.balances["user_1"])
			assert.Equal(t, tt.wantCredits, l.credits)
		})
	}
}

func TestSend_RefundSurvivesCanceledRequest(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(t.Context())

	l := &memLedger{balances: map[string]int64{"user_1": 1}}
	c := &fakeCompleter{err: context.Canceled}

	cancel()

	_, err := New(l, c, true).Send(ctx, "user_1", nil)
	require.ErrorIs(t, err, ErrCompletionFailed)

	require.NotNil(t, l.creditCtx)
	assert.NoError(t, l.creditCtx.Err(), "refund context is detached from cancellation")
	assert.Equal(t, int64(1), l.balances["user_1"])
}
