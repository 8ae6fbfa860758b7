package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/growthdeskhq/GrowthDesk/internal/pkg/billing"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/env"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/session"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/usercontext"
)

const billingRequestTimeout = 15 * time.Second

// HandleCheckoutStart opens a Fanbases checkout session for a catalog product
// and sends the browser to the hosted payment page.
func HandleCheckoutStart(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		if wantsJSON(c) {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
		}
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	internalReference := strings.TrimSpace(c.FormValue("internal_reference"))
	if internalReference == "" {
		var body struct {
			InternalReference string `json:"internal_reference"`
		}
		if err := c.BodyParser(&body); err == nil {
			internalReference = strings.TrimSpace(body.InternalReference)
		}
	}
	if internalReference == "" {
		if wantsJSON(c) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "internal_reference is required"})
		}
		return flash.WithError(c, fiber.Map{"type": "error", "message": "No product selected"}).Redirect("/pricing")
	}

	domain := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080")
	successURL := domain + "/billing/confirm"
	cancelURL := domain + "/billing/confirm?redirect_status=cancelled"

	svc := billingService()
	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	result, err := svc.CreateCheckout(ctx, userCtx.UserID, internalReference, successURL, cancelURL)
	if err != nil {
		if errors.Is(err, billing.ErrProductNotFound) {
			if wantsJSON(c) {
				return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown product"})
			}
			return flash.WithError(c, fiber.Map{"type": "error", "message": "Unknown product"}).Redirect("/pricing")
		}
		if wantsJSON(c) {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout could not be started"})
		}
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Checkout could not be started, please try again"}).Redirect("/pricing")
	}

	if wantsJSON(c) {
		return c.JSON(fiber.Map{"checkout_url": result.CheckoutURL, "session_id": result.SessionID})
	}
	return c.Redirect(result.CheckoutURL, fiber.StatusSeeOther)
}

// HandlePaymentConfirm is the browser return leg of a checkout. Fanbases
// redirects here after payment; a missing redirect_status parameter means
// success, which we accept because the session cookie authenticates the user
// and the ledger mutation is idempotent against the webhook delivery.
func HandlePaymentConfirm(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	svc := billingService()
	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	redirectStatus := strings.ToLower(strings.TrimSpace(c.Query("redirect_status")))
	switch redirectStatus {
	case "", "succeeded", "success", "complete", "completed":
		// Proceed to reconciliation below.
	default:
		_ = svc.AbandonPendingCheckout(ctx, userCtx.UserID)
		return c.Render("payment_failed", fiber.Map{
			"Title":   "Payment not completed",
			"Message": "The payment was cancelled or did not complete. You have not been charged.",
			"Retry":   true,
		})
	}

	eventID := strings.TrimSpace(c.Query("payment_id", c.Query("payment_intent")))
	if eventID == "" {
		if sid := strings.TrimSpace(c.Query("checkout_session_id", c.Query("session_id"))); sid != "" {
			eventID = "session:" + sid
		}
	}
	if eventID == "" {
		return c.Render("payment_failed", fiber.Map{
			"Title":   "Payment reference missing",
			"Message": "We could not identify the payment from the redirect. If you were charged, your purchase will be applied automatically within a few minutes.",
			"Retry":   false,
		})
	}

	ev := &billing.NormalizedPaymentEvent{
		Channel:            billing.ChannelRedirect,
		ProviderEventID:    eventID,
		Kind:               billing.KindPayment,
		UserID:             userCtx.UserID,
		InternalReference:  strings.TrimSpace(c.Query("metadata[internal_reference]", c.Query("internal_reference"))),
		ProductClass:       strings.TrimSpace(c.Query("metadata[product_type]")),
		ProcessorProductID: strings.TrimSpace(c.Query("metadata[fanbases_product_id]")),
	}

	outcome, err := svc.Reconcile(ctx, ev)
	if err != nil {
		if errors.Is(err, billing.ErrProductNotFound) || errors.Is(err, billing.ErrUserNotFound) {
			// The payment is real but unmatchable from this channel. The raw
			// event is stored for support; the webhook usually resolves it.
			return c.Render("payment_failed", fiber.Map{
				"Title":   "Payment is being processed",
				"Message": "Your payment was received but could not be matched automatically. It will be applied shortly; contact support if it does not appear.",
				"Retry":   false,
			})
		}
		return c.Status(fiber.StatusInternalServerError).Render("payment_failed", fiber.Map{
			"Title":   "Something went wrong",
			"Message": "Your payment could not be applied. Reloading this page will retry safely; you will not be charged twice.",
			"Retry":   true,
		})
	}

	// Refresh the cached tier and entitlement snapshot so the next render
	// sees the new state.
	invalidateEntitlementCache(userCtx.UserID)
	if tier, terr := svc.ResyncUserTier(ctx, userCtx.UserID); terr == nil {
		_ = session.SetSessionValue(c, "user_tier", tier)
	}

	title := "Payment successful"
	if outcome.AlreadyProcessed {
		title = "Payment already applied"
	}
	return c.Render("payment_success", fiber.Map{
		"Title": title,
	})
}

// HandleFanbasesWebhook is the server-to-server delivery channel. The raw
// body is authenticated with an HMAC signature before anything is parsed.
func HandleFanbasesWebhook(c *fiber.Ctx) error {
	rawBody := append([]byte(nil), c.BodyRaw()...)
	signature := strings.TrimSpace(c.Get("x-webhook-signature"))
	secret := env.GetEnv("FANBASES_WEBHOOK_SECRET", "")

	if !billing.VerifyFanbasesWebhookSignature(rawBody, signature, secret) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "invalid_signature"})
	}

	ev, err := billing.ClassifyWebhookPayload(rawBody)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid_payload"})
	}

	svc := billingService()
	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	outcome, err := svc.Reconcile(ctx, ev)
	if err != nil {
		if errors.Is(err, billing.ErrProductNotFound) || errors.Is(err, billing.ErrUserNotFound) {
			// Permanently unresolvable for us; the event is persisted and
			// archived for manual review. A 2xx stops processor retries.
			return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "flagged": true})
		}
		// Transient ledger failure: a non-2xx makes Fanbases redeliver.
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "reconciliation_failed"})
	}

	if outcome.AlreadyProcessed {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true, "duplicate": true})
	}
	// The resolved user id covers events matched through a checkout session or
	// subscription lookup where the payload itself carried none.
	invalidateEntitlementCache(outcome.UserID)
	return c.Status(fiber.StatusOK).JSON(fiber.Map{"ok": true})
}

// HandleOneClickCharge bills the stored payment method for a product. When no
// method is on file or the processor refuses server-side rebilling, the
// response carries a checkout URL for the hosted fallback.
func HandleOneClickCharge(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{"error": "unauthorized"})
	}

	var body struct {
		InternalReference string `json:"internal_reference"`
	}
	if err := c.BodyParser(&body); err != nil || strings.TrimSpace(body.InternalReference) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "internal_reference is required"})
	}
	internalReference := strings.TrimSpace(body.InternalReference)

	svc := billingService()
	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	result, err := svc.Charge(ctx, userCtx.UserID, internalReference)
	if err == nil {
		invalidateEntitlementCache(userCtx.UserID)
		if tier, terr := svc.ResyncUserTier(ctx, userCtx.UserID); terr == nil {
			_ = session.SetSessionValue(c, "user_tier", tier)
		}
		return c.JSON(fiber.Map{"ok": true, "charge_id": result.ChargeID})
	}

	if errors.Is(err, billing.ErrNeedsCheckout) {
		domain := env.GetEnv("PUBLIC_DOMAIN", "http://localhost:8080")
		checkout, cerr := svc.CreateCheckout(ctx, userCtx.UserID, internalReference,
			domain+"/billing/confirm", domain+"/billing/confirm?redirect_status=cancelled")
		if cerr != nil {
			return c.Status(fiber.StatusBadGateway).JSON(fiber.Map{"error": "checkout could not be started"})
		}
		return c.JSON(fiber.Map{"needs_checkout": true, "checkout_url": checkout.CheckoutURL})
	}
	if errors.Is(err, billing.ErrProductNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "unknown product"})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "charge_failed"})
}

// HandleBillingResync recomputes the user's tier from the subscription ledger
// on demand, the support hatch for a session that drifted out of date.
func HandleBillingResync(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	if !userCtx.IsLoggedIn {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	svc := billingService()
	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	tier, err := svc.ResyncUserTier(ctx, userCtx.UserID)
	if err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Plan resync failed"}).Redirect("/dashboard")
	}

	invalidateEntitlementCache(userCtx.UserID)
	_ = session.SetSessionValue(c, "user_tier", tier)
	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Plan refreshed: " + tier}).Redirect("/dashboard")
}
