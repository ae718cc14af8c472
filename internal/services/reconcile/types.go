package reconcile

import "errors"

var (
	// ErrInvalidSignature and ErrInvalidMetadata are permanent rejections.
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrInvalidMetadata  = errors.New("invalid checkout metadata")
	// ErrInFlight means another delivery of the same purchase is still being
	// processed. The provider is expected to redeliver.
	ErrInFlight = errors.New("purchase already in flight")
	// ErrCreditFailure is transient; the attempt was recorded as FAILED.
	ErrCreditFailure = errors.New("credit failure")
)

type Outcome string

const (
	OutcomeCredited  Outcome = "credited"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeIgnored   Outcome = "ignored"
)

// Result describes an acknowledged event.
type Result struct {
	Outcome       Outcome
	EventType     string
	TransactionID string
	UserID        string
	Coins         int64
	// Balance is the balance right after the credit; zero unless credited.
	Balance int64
}
