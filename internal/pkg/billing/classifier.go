package billing

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

// fanbasesWebhookPayload mirrors the processor's webhook body. Fanbases does
// not send an explicit event type; the meaning is inferred from which fields
// are present. Kept as one struct so the precedence rules below stay in one
// place when the payload shape drifts.
type fanbasesWebhookPayload struct {
	PaymentID    string          `json:"payment_id"`
	Amount       *float64        `json:"amount"`
	ProductPrice *float64        `json:"product_price"`
	ProductID    string          `json:"product_id"`
	CustomerID   string          `json:"customer_id"`
	Item         struct {
		ID string `json:"id"`
	} `json:"item"`
	Subscription *struct {
		ID          string `json:"id"`
		ProductID   string `json:"product_id"`
		StartDate   string `json:"start_date"`
		RenewedAt   string `json:"renewed_at"`
		CancelledAt string `json:"cancelled_at"`
		CompletedAt string `json:"completed_at"`
	} `json:"subscription"`
	Metadata map[string]string `json:"metadata"`
}

// ClassifyWebhookPayload turns a raw Fanbases webhook body into a normalized
// payment event. Precedence, most specific first:
//
//	subscription.cancelled_at  => subscription cancelled
//	subscription.completed_at  => subscription completed
//	subscription.renewed_at    => subscription renewed
//	subscription.start_date    => subscription created
//	product_price              => one-time purchase
//	amount + payment_id        => generic payment success
func ClassifyWebhookPayload(raw []byte) (*NormalizedPaymentEvent, error) {
	var p fanbasesWebhookPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, err
	}

	ev := &NormalizedPaymentEvent{
		Channel: ChannelWebhook,
		Kind:    KindUnknown,
		RawJSON: string(raw),
	}

	ev.InternalReference = strings.TrimSpace(p.Metadata["internal_reference"])
	ev.ProductClass = strings.TrimSpace(p.Metadata["product_type"])
	ev.ProcessorCustomerID = strings.TrimSpace(p.CustomerID)
	if uid := strings.TrimSpace(p.Metadata["user_id"]); uid != "" {
		if n, err := strconv.ParseUint(uid, 10, 64); err == nil {
			ev.UserID = uint(n)
		}
	}

	ev.ProcessorProductID = strings.TrimSpace(p.ProductID)
	if ev.ProcessorProductID == "" {
		ev.ProcessorProductID = strings.TrimSpace(p.Item.ID)
	}
	if ev.ProcessorProductID == "" {
		ev.ProcessorProductID = strings.TrimSpace(p.Metadata["fanbases_product_id"])
	}

	switch {
	case p.Subscription != nil && strings.TrimSpace(p.Subscription.CancelledAt) != "":
		ev.Kind = KindSubscriptionCancelled
	case p.Subscription != nil && strings.TrimSpace(p.Subscription.CompletedAt) != "":
		ev.Kind = KindSubscriptionCompleted
	case p.Subscription != nil && strings.TrimSpace(p.Subscription.RenewedAt) != "":
		ev.Kind = KindSubscriptionRenewed
	case p.Subscription != nil && strings.TrimSpace(p.Subscription.StartDate) != "":
		ev.Kind = KindSubscriptionCreated
	case p.ProductPrice != nil:
		ev.Kind = KindPurchase
		ev.AmountCents = int(*p.ProductPrice)
	case p.Amount != nil && strings.TrimSpace(p.PaymentID) != "":
		ev.Kind = KindPayment
		ev.AmountCents = int(*p.Amount)
	default:
		return nil, errors.New("fanbases webhook payload matches no known event shape")
	}

	if p.Subscription != nil {
		ev.ProcessorSubscriptionID = strings.TrimSpace(p.Subscription.ID)
		if ev.ProcessorProductID == "" {
			ev.ProcessorProductID = strings.TrimSpace(p.Subscription.ProductID)
		}
	}

	ev.ProviderEventID = webhookEventID(&p, ev.Kind, raw)
	return ev, nil
}

// webhookEventID derives a stable idempotency key for a webhook delivery.
// Payments carry a processor payment id; subscription lifecycle events are
// keyed on the subscription id plus the lifecycle timestamp so a renewal is
// distinct from the creation while a redelivered renewal is not.
func webhookEventID(p *fanbasesWebhookPayload, kind EventKind, raw []byte) string {
	if id := strings.TrimSpace(p.PaymentID); id != "" {
		return id
	}
	if p.Subscription != nil {
		subID := strings.TrimSpace(p.Subscription.ID)
		if subID != "" {
			switch kind {
			case KindSubscriptionCreated:
				return "sub:" + subID + ":created:" + strings.TrimSpace(p.Subscription.StartDate)
			case KindSubscriptionRenewed:
				return "sub:" + subID + ":renewed:" + strings.TrimSpace(p.Subscription.RenewedAt)
			case KindSubscriptionCancelled:
				return "sub:" + subID + ":cancelled:" + strings.TrimSpace(p.Subscription.CancelledAt)
			case KindSubscriptionCompleted:
				return "sub:" + subID + ":completed:" + strings.TrimSpace(p.Subscription.CompletedAt)
			}
		}
	}
	sum := sha256.Sum256(raw)
	return "hash:" + hex.EncodeToString(sum[:])
}
