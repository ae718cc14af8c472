package chatgate

import (
	"context"
	"errors"
	"fmt"

	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/services/ledger"
)

// Cost is the number of coins one chat turn consumes.
const Cost int64 = 1

var (
	ErrCompletionFailed = errors.New("chat completion failed")
	ErrRefundFailed     = errors.New("refund failed")
)

// Ledger is the subset of the ledger service a chat turn needs.
type Ledger interface {
	Debit(ctx context.Context, userID string, amount int64) (int64, error)
	Credit(ctx context.Context, userID string, amount int64) (int64, error)
}

// Completer performs the downstream chat-completion call.
type Completer interface {
	Complete(ctx context.Context, body []byte) ([]byte, error)
}

// Gate charges one coin before each chat turn.
type Gate struct {
	ledger    Ledger
	completer Completer
	refund    bool
}

// New returns a Gate. With refund set, a coin spent on a failed completion
// is credited back.
func New(l Ledger, c Completer, refund bool) *Gate {
	return &Gate{ledger: l, completer: c, refund: refund}
}

// Send debits Cost and forwards body to the completer. Insufficient funds
// block the call before anything is sent downstream.
func (g *Gate) Send(ctx context.Context, userID string, body []byte) ([]byte, error) {
	log := logging.FromContext(ctx).With("user_id", userID)

	balance, err := g.ledger.Debit(ctx, userID, Cost)
	if err != nil {
		if errors.Is(err, ledger.ErrNotFound) {
			// Never-created users hold zero coins.
			return nil, fmt.Errorf("chat debit: %w", ledger.ErrInsufficientFunds)
		}

		return nil, fmt.Errorf("chat debit: %w", err)
	}

	log.Debug("chat turn charged", "balance", balance)

	out, err := g.completer.Complete(ctx, body)
	if err == nil {
		return out, nil
	}

	log.Warn("chat completion failed", "error", err)

	if !g.refund {
		return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
	}

	// The client may already be gone; the refund must still land.
	_, rerr := g.ledger.Credit(context.WithoutCancel(ctx), userID, Cost)
	if rerr != nil {
		log.Error("chat refund failed", "error", rerr)
		return nil, errors.Join(fmt.Errorf("%w: %w", ErrCompletionFailed, err), fmt.Errorf("%w: %w", ErrRefundFailed, rerr))
	}

	log.Info("chat turn refunded")

	return nil, fmt.Errorf("%w: %w", ErrCompletionFailed, err)
}
