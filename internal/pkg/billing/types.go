package billing

import (
	"errors"
	"fmt"
)

// Delivery channels for a payment event. The same real-world payment can be
// reported through both; reconciliation must converge on one ledger mutation.
const (
	ChannelRedirect = "redirect"
	ChannelWebhook  = "webhook"
)

// EventKind is the classified meaning of a processor payload.
type EventKind string

const (
	KindPayment               EventKind = "payment"
	KindPurchase              EventKind = "purchase"
	KindSubscriptionCreated   EventKind = "subscription.created"
	KindSubscriptionRenewed   EventKind = "subscription.renewed"
	KindSubscriptionCancelled EventKind = "subscription.cancelled"
	KindSubscriptionCompleted EventKind = "subscription.completed"
	KindCardSetup             EventKind = "card_setup"
	KindUnknown               EventKind = "unknown"
)

// NormalizedPaymentEvent is the channel-agnostic shape the reconciliation
// engine consumes. Redirect callbacks and webhooks are both normalized into
// this before any ledger decision is made.
type NormalizedPaymentEvent struct {
	Channel                 string
	ProviderEventID         string
	Kind                    EventKind
	UserID                  uint
	InternalReference       string
	ProductClass            string
	ProcessorProductID      string
	ProcessorSubscriptionID string
	ProcessorCustomerID     string
	AmountCents             int
	RawJSON                 string
}

// Outcome reports what a reconcile call did. AlreadyProcessed is a success
// variant: the expected result of both channels reporting the same payment.
type Outcome struct {
	Applied          bool
	AlreadyProcessed bool
	// UserID is the account the event resolved to, which may come from a
	// checkout session or subscription lookup rather than the event itself.
	UserID uint
}

var (
	ErrUnauthorized    = errors.New("billing: unauthorized")
	ErrUserNotFound    = errors.New("billing: user not resolvable")
	ErrProductNotFound = errors.New("billing: product not found")
	// ErrNeedsCheckout signals the one-click charge path cannot complete and
	// the caller should fall back to a full checkout session.
	ErrNeedsCheckout = errors.New("billing: checkout required")
	// ErrTrialAlreadyStarted marks the one-time chat trial as consumed.
	ErrTrialAlreadyStarted = errors.New("billing: trial already started")
)

// ProcessorError wraps an upstream 4xx/5xx from the Fanbases API.
type ProcessorError struct {
	StatusCode int
	Body       string
}

func (e *ProcessorError) Error() string {
	return fmt.Sprintf("fanbases api error: status=%d body=%s", e.StatusCode, e.Body)
}
