package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/growthdeskhq/GrowthDesk/app/controllers"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/middleware"
)

type ApiRouter struct {
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Entitlement checks; module access works for anonymous users too so the
	// portal can show lock states before login.
	v1.Get("/modules/:slug/access", controllers.HandleAPIModuleAccess)

	auth := v1.Group("", middleware.RequireAPISessionAuth)
	auth.Get("/chat/access", controllers.HandleAPIChatAccess)
	auth.Post("/trial/start", controllers.HandleAPITrialStart)
	auth.Post("/credits/spend", controllers.HandleAPISpendCredits)
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}
