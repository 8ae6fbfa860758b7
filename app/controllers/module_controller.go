package controllers

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/growthdeskhq/GrowthDesk/app/models"
	"github.com/growthdeskhq/GrowthDesk/app/repository"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/entitlements"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/usercontext"
)

// moduleAccessDecision resolves the access policy of one module against the
// current user's ledger state.
func moduleAccessDecision(ctx context.Context, userID uint, m *models.CourseModule) (entitlements.AccessDecision, error) {
	repos := repository.GetGlobalFactory()

	state := entitlements.UserState{PurchasedRefs: map[string]bool{}}
	if userID != 0 {
		var err error
		state, err = cachedEntitlementState(ctx, userID)
		if err != nil {
			return entitlements.AccessDecision{}, err
		}
	}

	policy := entitlements.ModuleAccessPolicy{
		AccessType:        m.AccessType,
		RequiredTier:      m.RequiredTier,
		InternalReference: m.InternalReference,
	}
	return entitlements.Resolve(policy, state, repos.Catalog.HasInternalReference), nil
}

// HandleModulesList renders the course portal overview with a lock state per
// module.
func HandleModulesList(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory()

	modules, err := repos.CourseModule.ListPublished()
	if err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Modules could not be loaded"}).Redirect("/")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	type moduleEntry struct {
		Module   models.CourseModule
		Granted  bool
		Reason   string
		Unlock   string
		Checkout string
	}
	entries := make([]moduleEntry, 0, len(modules))
	for i := range modules {
		decision, err := moduleAccessDecision(ctx, userCtx.UserID, &modules[i])
		if err != nil {
			return c.Status(fiber.StatusInternalServerError).SendString("entitlement check failed")
		}
		entries = append(entries, moduleEntry{
			Module:   modules[i],
			Granted:  decision.Granted,
			Reason:   decision.Reason,
			Unlock:   string(decision.UnlockAction),
			Checkout: decision.CheckoutRef,
		})
	}

	return c.Render("modules", fiber.Map{
		"Title":   "Course Modules",
		"Flash":   flash.Get(c),
		"Entries": entries,
	})
}

// HandleModuleView renders a single module, or its paywall when locked.
func HandleModuleView(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory()

	m, err := repos.CourseModule.GetBySlug(c.Params("slug"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).Render("module_not_found", fiber.Map{
			"Title": "Module not found",
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := moduleAccessDecision(ctx, userCtx.UserID, m)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).SendString("entitlement check failed")
	}

	if !decision.Granted {
		return c.Render("module_locked", fiber.Map{
			"Title":       m.Title,
			"Module":      m,
			"Reason":      decision.Reason,
			"Unlock":      string(decision.UnlockAction),
			"CheckoutRef": decision.CheckoutRef,
			"CSRF":        csrfToken(c),
		})
	}
	return c.Render("module", fiber.Map{
		"Title":  m.Title,
		"Module": m,
	})
}

// HandleAPIModuleAccess returns the access decision for a module as JSON, the
// endpoint the portal frontend polls before rendering content.
func HandleAPIModuleAccess(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)
	repos := repository.GetGlobalFactory()

	m, err := repos.CourseModule.GetBySlug(c.Params("slug"))
	if err != nil {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "module not found"})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	decision, err := moduleAccessDecision(ctx, userCtx.UserID, m)
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "entitlement check failed"})
	}

	resp := fiber.Map{
		"slug":    m.Slug,
		"granted": decision.Granted,
	}
	if !decision.Granted {
		resp["reason"] = decision.Reason
		resp["unlock_action"] = string(decision.UnlockAction)
		if decision.CheckoutRef != "" {
			resp["checkout_ref"] = decision.CheckoutRef
		}
	}
	return c.JSON(resp)
}
