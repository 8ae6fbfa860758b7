package controllers

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"

	"github.com/growthdeskhq/GrowthDesk/app/repository"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/usercontext"
)

func HandleStart(c *fiber.Ctx) error {
	return c.Render("index", fiber.Map{
		"Title":      "GrowthDesk",
		"Flash":      flash.Get(c),
		"IsLoggedIn": isLoggedIn(c),
	})
}

func HandlePricing(c *fiber.Ctx) error {
	return c.Render("pricing", fiber.Map{
		"Title":      "Pricing",
		"Flash":      flash.Get(c),
		"IsLoggedIn": isLoggedIn(c),
		"CSRF":       csrfToken(c),
	})
}

func HandleDashboard(c *fiber.Ctx) error {
	userCtx := usercontext.GetUserContext(c)

	user, err := repository.GetGlobalFactory().User.GetByID(userCtx.UserID)
	if err != nil {
		return c.Redirect("/login", fiber.StatusSeeOther)
	}

	return c.Render("dashboard", fiber.Map{
		"Title":    "Dashboard",
		"Flash":    flash.Get(c),
		"Username": user.Name,
		"Credits":  user.Credits,
		"Tier":     user.SubscriptionTier,
		"CSRF":     csrfToken(c),
	})
}
