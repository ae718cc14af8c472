package reconcile

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/fastprodman/coinchat/internal/config"
	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/infra/metrics"
	"github.com/fastprodman/coinchat/internal/infra/pgutils"
	"github.com/fastprodman/coinchat/internal/repos/transactions"
	pgtransactions "github.com/fastprodman/coinchat/internal/repos/transactions/postgres"
	"github.com/fastprodman/coinchat/internal/repos/users"
	pgusers "github.com/fastprodman/coinchat/internal/repos/users/postgres"
	"github.com/fastprodman/coinchat/internal/services/purchase"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v81"
	"github.com/stripe/stripe-go/v81/webhook"
)

// Ledger is the credit side of the ledger service.
type Ledger interface {
	CreditWithin(ctx context.Context, userID string, amount int64, fn func(tx *sql.Tx) error) (int64, error)
}

// Reconciler turns payment confirmations into exactly one credit per
// purchase. Each attempt moves PENDING -> COMPLETED or PENDING -> FAILED.
type Reconciler struct {
	db     *sql.DB
	users  users.Users
	txns   transactions.Transactions
	ledger Ledger

	secret         string
	tolerance      time.Duration
	dedupWindow    time.Duration
	pendingTimeout time.Duration

	newID func() string
	now   func() time.Time
}

func New(dbx *sql.DB, ledger Ledger, stripeCfg config.StripeConfig, cfg config.ReconcileConfig) *Reconciler {
	return &Reconciler{
		db:             dbx,
		users:          pgusers.New(dbx),
		txns:           pgtransactions.New(dbx),
		ledger:         ledger,
		secret:         stripeCfg.WebhookSecret,
		tolerance:      stripeCfg.WebhookTolerance,
		dedupWindow:    cfg.DedupWindow,
		pendingTimeout: cfg.PendingTimeout,
		newID:          uuid.NewString,
		now:            time.Now,
	}
}

type purchaseEvent struct {
	eventID   string
	sessionID string
	userID    string
	email     string
	coins     int64
}

// HandleEvent verifies and applies one webhook delivery. A nil error means
// the delivery may be acknowledged.
func (r *Reconciler) HandleEvent(ctx context.Context, payload []byte, signature string) (Result, error) {
	res, err := r.handle(ctx, payload, signature)
	metrics.WebhookEventsTotal.WithLabelValues(outcomeLabel(res, err)).Inc()

	return res, err
}

func (r *Reconciler) handle(ctx context.Context, payload []byte, signature string) (Result, error) {
	// 1) Authenticity
	event, err := webhook.ConstructEventWithOptions(payload, signature, r.secret, webhook.ConstructEventOptions{
		Tolerance:                r.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrInvalidSignature, err)
	}

	log := logging.FromContext(ctx).With("event_id", event.ID, "event_type", string(event.Type))
	ctx = logging.WithLogger(ctx, log)

	// 2) Filtering
	pe, ok, err := extractPurchase(event)
	if err != nil {
		log.Warn("rejecting webhook", "error", err)
		return Result{EventType: string(event.Type)}, err
	}

	if !ok {
		log.Debug("webhook ignored")
		return Result{Outcome: OutcomeIgnored, EventType: string(event.Type)}, nil
	}

	res := Result{EventType: string(event.Type), UserID: pe.userID, Coins: pe.coins}

	// 3) Dedup
	dup, err := r.findExisting(ctx, pe)
	if err != nil {
		return res, err
	}

	if dup != nil {
		log.Info("duplicate purchase delivery", "transaction_id", dup.ID)

		res.Outcome = OutcomeDuplicate
		res.TransactionID = dup.ID

		return res, nil
	}

	// 4) Record intent; committed before crediting so a concurrent delivery
	// observes it.
	txID := r.newID()

	err = pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		err := r.users.Ensure(tx, pe.userID, pe.email)
		if err != nil {
			return fmt.Errorf("ensure user: %w", err)
		}

		return r.txns.InsertPending(tx, transactions.Transaction{
			ID:                txID,
			UserID:            pe.userID,
			Amount:            pe.coins,
			Type:              transactions.TypePurchase,
			ProviderSessionID: pe.sessionID,
			ProviderEventID:   pe.eventID,
		})
	})
	if err != nil {
		if errors.Is(err, transactions.ErrDuplicateTransaction) {
			// Lost the race to a concurrent delivery of the same session.
			return r.afterLostRace(ctx, res, pe.sessionID)
		}

		return res, fmt.Errorf("record pending purchase: %w", err)
	}

	res.TransactionID = txID

	// 5) Credit and complete in one commit
	balance, err := r.ledger.CreditWithin(ctx, pe.userID, pe.coins, func(tx *sql.Tx) error {
		return r.txns.MarkStatus(tx, txID, transactions.StatusCompleted)
	})
	if err != nil {
		r.markFailed(ctx, log, txID)
		return res, fmt.Errorf("%w: %w", ErrCreditFailure, err)
	}

	log.Info("purchase credited",
		"transaction_id", txID,
		"user_id", pe.userID,
		"coins", pe.coins,
		"balance", balance,
	)

	res.Outcome = OutcomeCredited
	res.Balance = balance

	return res, nil
}

// extractPurchase reports ok=false for events that carry no confirmed payment.
func extractPurchase(event stripe.Event) (purchaseEvent, bool, error) {
	switch event.Type {
	case stripe.EventTypeCheckoutSessionCompleted, stripe.EventTypeCheckoutSessionAsyncPaymentSucceeded:
	default:
		return purchaseEvent{}, false, nil
	}

	if event.Data == nil || len(event.Data.Raw) == 0 {
		return purchaseEvent{}, false, fmt.Errorf("%w: event has no checkout session", ErrInvalidMetadata)
	}

	var sess stripe.CheckoutSession

	err := json.Unmarshal(event.Data.Raw, &sess)
	if err != nil {
		return purchaseEvent{}, false, fmt.Errorf("%w: decode checkout session: %w", ErrInvalidMetadata, err)
	}

	// Delayed payment methods complete the session before the money arrives;
	// they are credited on async_payment_succeeded instead.
	if event.Type == stripe.EventTypeCheckoutSessionCompleted &&
		sess.PaymentStatus == stripe.CheckoutSessionPaymentStatusUnpaid {
		return purchaseEvent{}, false, nil
	}

	userID := strings.TrimSpace(sess.Metadata[purchase.MetadataUserID])
	if userID == "" {
		return purchaseEvent{}, false, fmt.Errorf("%w: missing %s", ErrInvalidMetadata, purchase.MetadataUserID)
	}

	rawCoins := strings.TrimSpace(sess.Metadata[purchase.MetadataCoinAmount])

	coins, err := strconv.ParseInt(rawCoins, 10, 64)
	if err != nil || coins <= 0 {
		return purchaseEvent{}, false, fmt.Errorf("%w: %s %q", ErrInvalidMetadata, purchase.MetadataCoinAmount, rawCoins)
	}

	email := sess.CustomerEmail
	if sess.CustomerDetails != nil && sess.CustomerDetails.Email != "" {
		email = sess.CustomerDetails.Email
	}

	return purchaseEvent{
		eventID:   event.ID,
		sessionID: sess.ID,
		userID:    userID,
		email:     email,
		coins:     coins,
	}, true, nil
}

// findExisting returns the already-completed transaction for pe, or nil when
// a fresh attempt may start.
func (r *Reconciler) findExisting(ctx context.Context, pe purchaseEvent) (*transactions.Transaction, error) {
	if pe.sessionID == "" {
		since := r.now().Add(-r.dedupWindow)

		t, err := r.txns.FindRecentCompleted(ctx, pe.userID, pe.coins, transactions.TypePurchase, since)
		if err != nil {
			if errors.Is(err, transactions.ErrTransactionNotFound) {
				return nil, nil
			}

			return nil, fmt.Errorf("find recent purchase: %w", err)
		}

		return &t, nil
	}

	t, err := r.txns.GetLiveBySession(ctx, pe.sessionID)
	if err != nil {
		if errors.Is(err, transactions.ErrTransactionNotFound) {
			return nil, nil
		}

		return nil, fmt.Errorf("find session purchase: %w", err)
	}

	if t.Status == transactions.StatusCompleted {
		return &t, nil
	}

	if r.now().Sub(t.CreatedAt) < r.pendingTimeout {
		return nil, fmt.Errorf("%w: transaction %s", ErrInFlight, t.ID)
	}

	// A PENDING record is never credited: credit and completion commit
	// together. An abandoned one can be closed and retried.
	err = pgutils.WithTx(ctx, r.db, func(tx *sql.Tx) error {
		return r.txns.MarkStatus(tx, t.ID, transactions.StatusFailed)
	})
	if err != nil {
		if errors.Is(err, transactions.ErrNotPending) {
			return nil, fmt.Errorf("%w: transaction %s changed concurrently", ErrInFlight, t.ID)
		}

		return nil, fmt.Errorf("fail stale purchase: %w", err)
	}

	logging.FromContext(ctx).Warn("abandoned pending purchase failed", "transaction_id", t.ID)

	return nil, nil
}

func (r *Reconciler) afterLostRace(ctx context.Context, res Result, sessionID string) (Result, error) {
	t, err := r.txns.GetLiveBySession(ctx, sessionID)
	if err != nil {
		return res, fmt.Errorf("%w: session %s", ErrInFlight, sessionID)
	}

	if t.Status != transactions.StatusCompleted {
		return res, fmt.Errorf("%w: transaction %s", ErrInFlight, t.ID)
	}

	res.Outcome = OutcomeDuplicate
	res.TransactionID = t.ID

	return res, nil
}

// markFailed closes the attempt even when the request context is gone.
func (r *Reconciler) markFailed(ctx context.Context, log *slog.Logger, txID string) {
	err := pgutils.WithTx(context.WithoutCancel(ctx), r.db, func(tx *sql.Tx) error {
		return r.txns.MarkStatus(tx, txID, transactions.StatusFailed)
	})
	if err != nil {
		log.Error("mark purchase failed", "transaction_id", txID, "error", err)
		return
	}

	log.Warn("purchase credit failed", "transaction_id", txID)
}

func outcomeLabel(res Result, err error) string {
	switch {
	case err == nil:
		return string(res.Outcome)
	case errors.Is(err, ErrInvalidSignature):
		return "invalid_signature"
	case errors.Is(err, ErrInvalidMetadata):
		return "invalid_metadata"
	case errors.Is(err, ErrInFlight):
		return "in_flight"
	case errors.Is(err, ErrCreditFailure):
		return "credit_failure"
	default:
		return "error"
	}
}
