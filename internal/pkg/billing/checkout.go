package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/google/uuid"
	"github.com/growthdeskhq/GrowthDesk/app/models"
	"gorm.io/gorm"
)

// CheckoutResult is returned to the caller who redirects the browser.
type CheckoutResult struct {
	CheckoutURL string
	SessionID   string
}

// ChargeResult reports a completed one-click charge.
type ChargeResult struct {
	ChargeID string
}

// CreateCheckout opens a Fanbases checkout session for a catalog product and
// persists the pending intent before handing the URL back. The metadata
// attached here is echoed by the processor on completion and is the primary
// reconciliation key; the stored session is the fallback when the echo is
// lost.
func (s *Service) CreateCheckout(ctx context.Context, userID uint, internalReference, successURL, cancelURL string) (*CheckoutResult, error) {
	product, err := s.repo.GetProductByInternalReference(internalReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: reference %q", ErrProductNotFound, internalReference)
		}
		return nil, err
	}

	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user id %d", ErrUserNotFound, userID)
		}
		return nil, err
	}

	req := &CheckoutSessionRequest{
		ProductID: product.ProcessorProductID,
		Metadata: map[string]string{
			"user_id":             strconv.FormatUint(uint64(user.ID), 10),
			"product_type":        product.ProductClass,
			"internal_reference":  product.InternalReference,
			"fanbases_product_id": product.ProcessorProductID,
			"email":               user.Email,
			"name":                user.Name,
		},
		SuccessURL: successURL,
		CancelURL:  cancelURL,
		WebhookURL: s.client.WebhookURL,
	}
	if product.ProductClass == models.ProductClassSubscription {
		req.Recurrence = &RecurrenceDescriptor{IntervalDays: subscriptionPeriodDays}
	}

	resp, err := s.client.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}

	amountCents := 0
	if product.PriceCents != nil {
		amountCents = *product.PriceCents
	}
	if err := s.repo.CreateCheckoutSession(&models.CheckoutSession{
		UserID:             user.ID,
		ProcessorSessionID: resp.CheckoutSessionID,
		ProductClass:       product.ProductClass,
		InternalReference:  product.InternalReference,
		AmountCents:        amountCents,
		Status:             models.CheckoutStatusPending,
	}); err != nil {
		return nil, err
	}

	return &CheckoutResult{
		CheckoutURL: resp.PaymentLink,
		SessionID:   resp.CheckoutSessionID,
	}, nil
}

// AbandonPendingCheckout marks the user's most recent pending checkout
// session cancelled after a failed or aborted redirect. Missing sessions are
// not an error; the processor may still deliver a webhook later.
func (s *Service) AbandonPendingCheckout(ctx context.Context, userID uint) error {
	_ = ctx
	session, err := s.repo.LatestPendingCheckoutSession(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil
		}
		return err
	}
	return s.repo.SetCheckoutSessionStatus(session.ProcessorSessionID, models.CheckoutStatusCancelled)
}

// Charge attempts to bill a stored payment method directly for a catalog
// product, skipping the hosted checkout. ErrNeedsCheckout is returned when no
// payment method is on file or when Fanbases disallows server-side rebilling;
// the caller falls back to CreateCheckout.
//
// The charge id is freshly minted and single-use within this call, so the
// effect is applied directly without the event-id deduplication gate; the
// event row is still written for the audit trail.
func (s *Service) Charge(ctx context.Context, userID uint, internalReference string) (*ChargeResult, error) {
	user, err := s.repo.GetUserByID(userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: user id %d", ErrUserNotFound, userID)
		}
		return nil, err
	}
	if !user.HasStoredPaymentMethod() {
		return nil, ErrNeedsCheckout
	}

	product, err := s.repo.GetProductByInternalReference(internalReference)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: reference %q", ErrProductNotFound, internalReference)
		}
		return nil, err
	}

	chargeReq := &ChargeRequest{
		ProductID: product.ProcessorProductID,
		Metadata: map[string]string{
			"user_id":            strconv.FormatUint(uint64(user.ID), 10),
			"product_type":       product.ProductClass,
			"internal_reference": product.InternalReference,
			"charge_ref":         uuid.NewString(),
		},
	}
	if product.PriceCents != nil {
		chargeReq.AmountCents = *product.PriceCents
	}

	resp, err := s.client.ChargeCustomer(ctx, user.FanbasesCustomerID, chargeReq)
	if err != nil {
		if errors.Is(err, ErrRebillingNotAllowed) {
			return nil, ErrNeedsCheckout
		}
		return nil, err
	}

	ev := &NormalizedPaymentEvent{
		Channel:             ChannelRedirect,
		ProviderEventID:     "charge:" + resp.ChargeID,
		Kind:                KindPurchase,
		UserID:              user.ID,
		InternalReference:   product.InternalReference,
		ProductClass:        product.ProductClass,
		ProcessorCustomerID: user.FanbasesCustomerID,
	}
	marker := &models.PaymentEvent{
		Provider:        models.PaymentProviderFanbases,
		ProviderEventID: ev.ProviderEventID,
		Channel:         ev.Channel,
		EventKind:       string(ev.Kind),
		UserID:          user.ID,
	}
	err = s.repo.Transaction(func(tx Repository) error {
		created, stored, err := tx.CreatePaymentEventIfAbsent(marker)
		if err != nil {
			return err
		}
		if !created && stored.AppliedAt != nil {
			return nil
		}
		if err := s.applyProductEffect(tx, user, product, ev); err != nil {
			return err
		}
		applied, err := tx.MarkPaymentEventApplied(stored.ID)
		if err != nil {
			return err
		}
		if !applied {
			return errEventAlreadyApplied
		}
		return nil
	})
	if err != nil {
		if errors.Is(err, errEventAlreadyApplied) {
			return &ChargeResult{ChargeID: resp.ChargeID}, nil
		}
		s.recordFailedAttempt(ev, user.ID, err)
		return nil, err
	}

	return &ChargeResult{ChargeID: resp.ChargeID}, nil
}
