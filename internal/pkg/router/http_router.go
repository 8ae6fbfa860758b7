package router

import (
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/csrf"

	"github.com/growthdeskhq/GrowthDesk/app/controllers"
	"github.com/growthdeskhq/GrowthDesk/app/repository"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/database"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/env"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/middleware"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/oauth"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/session"
)

type HttpRouter struct {
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// init session
	session.NewSessionStore()

	// init oauth providers
	oauth.Setup()

	// repositories for controllers
	repository.InitGlobalFactory(database.GetDB())

	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware)

	h.registerPublicRoutes(app)
	h.registerCSRFProtectedRoutes(app)
	h.registerAdminRoutes(app)
}

func NewHttpRouter() *HttpRouter {
	return &HttpRouter{}
}

func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	// Social OAuth
	app.Get("/auth/:provider", controllers.HandleOAuthLogin)
	app.Get("/auth/:provider/callback", controllers.HandleOAuthCallback)

	// Payment processor webhook (no CSRF, signature-verified in controller)
	app.Post("/webhooks/fanbases", controllers.HandleFanbasesWebhook)

	// Browser return leg of a checkout. GET because the processor redirects;
	// the handler is idempotent so reloads are safe.
	app.Get("/billing/confirm", controllers.HandlePaymentConfirm)

	// JSON endpoint, session-authenticated. Lives outside the form CSRF
	// group like the /api routes.
	app.Post("/billing/charge", middleware.RequireAPISessionAuth, controllers.HandleOneClickCharge)
}

func (h HttpRouter) registerCSRFProtectedRoutes(app *fiber.App) {
	csrfConf := csrf.Config{
		KeyLookup:      "form:_csrf",
		ContextKey:     "csrf",
		CookieName:     "csrf_",
		CookieSameSite: "Lax",
		Expiration:     1 * time.Hour,
		CookieSecure:   !env.IsDev(),
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/api/")
		},
	}

	group := app.Group("", cors.New(), csrf.New(csrfConf))
	group.Get("/", controllers.HandleStart)
	group.Get("/pricing", controllers.HandlePricing)
	group.Get("/login", controllers.HandleLoginPage)
	group.Post("/login", controllers.HandleLogin)
	group.Get("/register", controllers.HandleRegisterPage)
	group.Post("/register", controllers.HandleRegister)
	group.Post("/logout", middleware.RequireAuth, controllers.HandleLogout)

	group.Get("/dashboard", middleware.RequireAuth, controllers.HandleDashboard)
	group.Get("/modules", controllers.HandleModulesList)
	group.Get("/modules/:slug", controllers.HandleModuleView)

	group.Post("/billing/checkout", middleware.RequireAuth, controllers.HandleCheckoutStart)
	group.Post("/billing/resync", middleware.RequireAuth, controllers.HandleBillingResync)
}

func (h HttpRouter) registerAdminRoutes(app *fiber.App) {
	admin := app.Group("/admin", middleware.RequireAdmin)
	admin.Get("/users", controllers.HandleAdminUsers)
	admin.Post("/users/:id/credits", controllers.HandleAdminCreditAdjust)
}
