package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/fastprodman/coinchat/internal/infra/logging"
	"github.com/fastprodman/coinchat/internal/infra/metrics"
	"github.com/stripe/stripe-go/v81"
)

const (
	MetadataUserID     = "userId"
	MetadataCoinAmount = "coinAmount"
)

var (
	ErrInvalidPackage         = errors.New("invalid coin package")
	ErrCheckoutCreationFailed = errors.New("checkout creation failed")
)

// SessionCreator creates hosted checkout sessions. *session.Client from
// stripe-go satisfies it.
type SessionCreator interface {
	New(params *stripe.CheckoutSessionParams) (*stripe.CheckoutSession, error)
}

// EmailLookup resolves the stored contact email of a user.
type EmailLookup interface {
	GetEmail(ctx context.Context, userID string) (string, error)
}

// Identity is the authenticated caller as supplied by the identity provider.
type Identity struct {
	UserID string
	Email  string
}

type Intent struct {
	CheckoutURL string
	SessionID   string
}

type IntentFactory struct {
	catalog  Catalog
	sessions SessionCreator
	emails   EmailLookup
	currency string
	appURL   string
}

func NewIntentFactory(catalog Catalog, sessions SessionCreator, emails EmailLookup, currency, appURL string) *IntentFactory {
	return &IntentFactory{
		catalog:  catalog,
		sessions: sessions,
		emails:   emails,
		currency: currency,
		appURL:   strings.TrimRight(appURL, "/"),
	}
}

// Packages returns the catalog for display.
func (f *IntentFactory) Packages() []Package {
	return f.catalog.Packages()
}

// CreateIntent opens a checkout session charging the catalog price for
// exactly coinAmount coins. The provider later reports the outcome to the
// webhook with the same metadata.
func (f *IntentFactory) CreateIntent(ctx context.Context, id Identity, coinAmount int64) (Intent, error) {
	pkg, ok := f.catalog.Lookup(coinAmount)
	if !ok {
		metrics.CheckoutSessionsTotal.WithLabelValues("invalid_package").Inc()
		return Intent{}, fmt.Errorf("%w: %d coins", ErrInvalidPackage, coinAmount)
	}

	log := logging.FromContext(ctx).With("user_id", id.UserID, "coins", pkg.Coins)

	email := f.resolveEmail(ctx, log, id)

	params := &stripe.CheckoutSessionParams{
		Mode: stripe.String(string(stripe.CheckoutSessionModePayment)),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency: stripe.String(f.currency),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name:        stripe.String(fmt.Sprintf("%d Coins", pkg.Coins)),
						Description: stripe.String(fmt.Sprintf("Purchase %d coins for your account", pkg.Coins)),
					},
					UnitAmount: stripe.Int64(pkg.PriceCents),
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL:        stripe.String(f.appURL + "/coins/success?session_id={CHECKOUT_SESSION_ID}"),
		CancelURL:         stripe.String(f.appURL + "/coins"),
		ClientReferenceID: stripe.String(id.UserID),
	}
	params.Context = ctx

	if email != "" {
		params.CustomerEmail = stripe.String(email)
	}

	params.AddMetadata(MetadataUserID, id.UserID)
	params.AddMetadata(MetadataCoinAmount, strconv.FormatInt(pkg.Coins, 10))

	sess, err := f.sessions.New(params)
	if err != nil {
		metrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		log.Error("create checkout session", "error", err)

		return Intent{}, ErrCheckoutCreationFailed
	}

	if sess == nil || sess.URL == "" {
		metrics.CheckoutSessionsTotal.WithLabelValues("error").Inc()
		log.Error("checkout session has no redirect url")

		return Intent{}, ErrCheckoutCreationFailed
	}

	metrics.CheckoutSessionsTotal.WithLabelValues("ok").Inc()
	log.Info("checkout session created", "session_id", sess.ID)

	return Intent{CheckoutURL: sess.URL, SessionID: sess.ID}, nil
}

// resolveEmail prefers the identity provider's email and falls back to the
// stored one. Lookup failures only cost the prefilled email.
func (f *IntentFactory) resolveEmail(ctx context.Context, log *slog.Logger, id Identity) string {
	if id.Email != "" {
		return id.Email
	}

	if f.emails == nil {
		return ""
	}

	email, err := f.emails.GetEmail(ctx, id.UserID)
	if err != nil {
		log.Debug("no stored email for checkout", "error", err)
		return ""
	}

	return email
}
