package controllers

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/growthdeskhq/GrowthDesk/app/repository"
)

// HandleAdminUsers lists accounts for the support dashboard.
func HandleAdminUsers(c *fiber.Ctx) error {
	repos := repository.GetGlobalFactory()

	page, err := strconv.Atoi(c.Query("page", "1"))
	if err != nil || page < 1 {
		page = 1
	}
	const perPage = 50

	users, err := repos.User.List((page-1)*perPage, perPage)
	if err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Users could not be loaded"}).Redirect("/admin")
	}
	total, _ := repos.User.Count()

	return c.Render("admin_users", fiber.Map{
		"Title": "Users",
		"Flash": flash.Get(c),
		"Users": users,
		"Page":  page,
		"Total": total,
		"CSRF":  csrfToken(c),
	})
}

// HandleAdminCreditAdjust applies a manual balance correction with an audit
// trail line, the support tool for refunds and goodwill credits.
func HandleAdminCreditAdjust(c *fiber.Ctx) error {
	userID, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || userID == 0 {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Invalid user id"}).Redirect("/admin/users")
	}

	delta, err := strconv.ParseInt(strings.TrimSpace(c.FormValue("delta")), 10, 64)
	if err != nil || delta == 0 {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Adjustment must be a non-zero number"}).Redirect("/admin/users")
	}
	note := strings.TrimSpace(c.FormValue("note"))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := billingService().AdjustCredits(ctx, uint(userID), delta, note); err != nil {
		return flash.WithError(c, fiber.Map{"type": "error", "message": "Credit adjustment failed"}).Redirect("/admin/users")
	}

	return flash.WithSuccess(c, fiber.Map{"type": "success", "message": "Credits adjusted"}).Redirect("/admin/users")
}
