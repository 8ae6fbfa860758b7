package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/growthdeskhq/GrowthDesk/app/repository"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/billing"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/entitlements"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/usercontext"
)

const trialDuration = 7 * 24 * time.Hour

// HandleAPIChatAccess reports whether the assistant is available to the
// current user, and if not, which of the two upgrade paths applies. Every
// non-subscribed user is either trial-eligible or subscription-required,
// never both.
func HandleAPIChatAccess(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	user, err := repository.GetGlobalFactory().User.GetByID(userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "user lookup failed"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	state, err := cachedEntitlementState(ctx, userCtx.UserID)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "entitlement check failed"})
	}

	now := time.Now()
	resp := fiber.Map{
		"granted": entitlements.ChatAccess(state),
		"credits": user.Credits,
	}
	if state.TrialActive && user.TrialEndsAt != nil {
		resp["trial_ends_at"] = user.TrialEndsAt.UTC().Format(time.RFC3339)
	}
	if !entitlements.ChatAccess(state) {
		switch {
		case entitlements.NeedsTrial(state.SubscriptionActive, user.TrialStartedAt, user.TrialEndsAt, now):
			resp["needs_trial"] = true
		case entitlements.NeedsSubscription(state.SubscriptionActive, user.TrialStartedAt, user.TrialEndsAt, now):
			resp["needs_subscription"] = true
		}
	}
	return c.JSON(resp)
}

// HandleAPITrialStart begins the one-time assistant trial.
func HandleAPITrialStart(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := billingService().StartTrial(ctx, userCtx.UserID, trialDuration); err != nil {
		if errors.Is(err, billing.ErrTrialAlreadyStarted) {
			return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": "trial_already_used"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "trial_start_failed"})
	}

	invalidateEntitlementCache(userCtx.UserID)

	endsAt := time.Now().Add(trialDuration)
	return c.JSON(fiber.Map{"ok": true, "trial_ends_at": endsAt.UTC().Format(time.RFC3339)})
}

// HandleAPISpendCredits deducts credits for assistant or tool usage. The
// deduction is conditional on balance; an insufficient balance is a clean 402,
// not a negative ledger.
func HandleAPISpendCredits(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	var body struct {
		Amount int64  `json:"amount"`
		Note   string `json:"note"`
	}
	if err := c.BodyParser(&body); err != nil || body.Amount <= 0 {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "positive amount is required"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	ok, err := billingService().SpendCredits(ctx, userCtx.UserID, body.Amount, body.Note)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "spend_failed"})
	}
	if !ok {
		return c.Status(fiber.StatusPaymentRequired).JSON(fiber.Map{"error": "insufficient_credits"})
	}
	return c.JSON(fiber.Map{"ok": true})
}
