package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/services/ledger"
	"github.com/fastprodman/coinchat/internal/services/purchase"
	"github.com/fastprodman/coinchat/internal/services/reconcile"
)

const (
	maxJSONBody    = 1 << 20 // 1MB
	maxWebhookBody = 1 << 16 // provider payloads are far below this
	purchasePath   = "/coins"
)

type BalanceReader interface {
	Get(ctx context.Context, userID string) (int64, error)
	PollInterval() time.Duration
}

type IntentCreator interface {
	CreateIntent(ctx context.Context, id purchase.Identity, coinAmount int64) (purchase.Intent, error)
	Packages() []purchase.Package
}

type ChatSender interface {
	Send(ctx context.Context, userID string, body []byte) ([]byte, error)
}

type EventHandler interface {
	HandleEvent(ctx context.Context, payload []byte, signature string) (reconcile.Result, error)
}

// HandlerProvider exposes the coin and chat HTTP handlers.
type HandlerProvider struct {
	balances  BalanceReader
	purchases IntentCreator
	chat      ChatSender
	webhooks  EventHandler
}

// NewHandler returns a new Handler provider.
func NewHandler(balances BalanceReader, purchases IntentCreator, chat ChatSender, webhooks EventHandler) *HandlerProvider {
	return &HandlerProvider{
		balances:  balances,
		purchases: purchases,
		chat:      chat,
		webhooks:  webhooks,
	}
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		slog.Error("failed to encode JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func identity(w http.ResponseWriter, r *http.Request) (purchase.Identity, bool) {
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		writeError(w, http.StatusUnauthorized, "authentication required")
	}

	return id, ok
}

// --- Handlers ---

type balanceResponse struct {
	UserID              string `json:"userId"`
	Coins               int64  `json:"coins"`
	PollIntervalSeconds int64  `json:"pollIntervalSeconds"`
}

// GetBalanceHandler handles GET /balance
func (h *HandlerProvider) GetBalanceHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	coins, err := h.balances.Get(r.Context(), id.UserID)
	if err != nil {
		logging.FromContext(r.Context()).Error("get balance", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")

		return
	}

	writeJSON(w, http.StatusOK, balanceResponse{
		UserID:              id.UserID,
		Coins:               coins,
		PollIntervalSeconds: int64(h.balances.PollInterval() / time.Second),
	})
}

// PackagesHandler handles GET /coins/packages
func (h *HandlerProvider) PackagesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"packages": h.purchases.Packages()})
}

type checkoutRequest struct {
	CoinAmount int64 `json:"coinAmount"`
}

// CheckoutHandler handles POST /coins/checkout
func (h *HandlerProvider) CheckoutHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	var req checkoutRequest
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	err := dec.Decode(&req)
	if err != nil {
		if errors.Is(err, io.EOF) {
			writeError(w, http.StatusBadRequest, "empty body")
			return
		}

		writeError(w, http.StatusBadRequest, "invalid JSON")

		return
	}

	intent, err := h.purchases.CreateIntent(r.Context(), id, req.CoinAmount)
	if err != nil {
		switch {
		case errors.Is(err, purchase.ErrInvalidPackage):
			writeError(w, http.StatusBadRequest, "invalid coin package")
		case errors.Is(err, purchase.ErrCheckoutCreationFailed):
			writeError(w, http.StatusBadGateway, "checkout unavailable, please try again")
		default:
			writeError(w, http.StatusInternalServerError, "internal error")
		}

		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"url":       intent.CheckoutURL,
		"sessionId": intent.SessionID,
	})
}

// ChatHandler handles POST /chat
func (h *HandlerProvider) ChatHandler(w http.ResponseWriter, r *http.Request) {
	id, ok := identity(w, r)
	if !ok {
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer r.Body.Close()

	body, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "request too large")
		return
	}

	if !json.Valid(body) {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}

	out, err := h.chat.Send(r.Context(), id.UserID, body)
	if err != nil {
		switch {
		case errors.Is(err, ledger.ErrInsufficientFunds):
			writeJSON(w, http.StatusPaymentRequired, map[string]string{
				"error":       "insufficient coins",
				"purchaseUrl": purchasePath,
			})
		case errors.Is(err, ledger.ErrDebitFailed):
			logging.FromContext(r.Context()).Error("chat debit", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
		default:
			logging.FromContext(r.Context()).Error("chat send", "error", err)
			writeError(w, http.StatusBadGateway, "chat unavailable, please try again")
		}

		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(out)
}

// StripeWebhookHandler handles POST /webhook/stripe. The response is written
// only after the delivery reached a terminal state.
func (h *HandlerProvider) StripeWebhookHandler(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBody)
	defer r.Body.Close()

	payload, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	log := logging.FromContext(r.Context())

	res, err := h.webhooks.HandleEvent(r.Context(), payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, reconcile.ErrInvalidSignature):
			log.Warn("webhook signature rejected", "error", err)
			writeError(w, http.StatusBadRequest, "invalid signature")
		case errors.Is(err, reconcile.ErrInvalidMetadata):
			writeError(w, http.StatusBadRequest, "invalid metadata")
		case errors.Is(err, reconcile.ErrInFlight):
			writeError(w, http.StatusConflict, "purchase in progress")
		default:
			log.Error("webhook processing failed", "error", err)
			writeError(w, http.StatusInternalServerError, "processing failed")
		}

		return
	}

	log.Debug("webhook acknowledged", "outcome", string(res.Outcome))

	writeJSON(w, http.StatusOK, map[string]bool{"received": true})
}
