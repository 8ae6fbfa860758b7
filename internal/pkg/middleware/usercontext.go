package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/growthdeskhq/GrowthDesk/app/models"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/database"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/session"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/usercontext"
)

// UserContextMiddleware sets up the complete user context for every request.
// This centralizes user session handling for controllers and templates.
func UserContextMiddleware(c *fiber.Ctx) error {
	// Avoid interfering with Goth/Fiber session handling on OAuth routes.
	// Goth uses its own fiber session store and relies on per-request locals.
	if strings.HasPrefix(c.Path(), "/auth/") {
		return c.Next()
	}

	sess, err := session.GetSessionStore().Get(c)
	if err != nil {
		return anonymous(c)
	}

	userID := sess.Get(usercontext.KeyUserID)
	if userID == nil {
		return anonymous(c)
	}

	username := session.GetSessionValue(c, usercontext.KeyUserName)
	isAdmin := sess.Get(usercontext.KeyIsAdmin)

	// Tier with session-first strategy; the DB is only hit when the session
	// has no cached tier (e.g. right after login or a billing resync).
	tier := session.GetSessionValue(c, "user_tier")
	if tier == "" {
		tier = models.TierFree
		if db := database.GetDB(); db != nil {
			var user models.User
			if err := db.First(&user, userID.(uint)).Error; err == nil && user.SubscriptionTier != "" {
				tier = user.SubscriptionTier
			}
		}
		_ = session.SetSessionValue(c, "user_tier", tier)
	}

	userCtx := usercontext.UserContext{
		UserID:     userID.(uint),
		Username:   username,
		IsLoggedIn: true,
		IsAdmin:    isAdmin != nil && isAdmin.(bool),
		Tier:       tier,
	}
	c.Locals(usercontext.KeyUserContext, userCtx)
	c.Locals(usercontext.KeyFromProtected, true)
	c.Locals(usercontext.KeyIsAdmin, userCtx.IsAdmin)

	return c.Next()
}

func anonymous(c *fiber.Ctx) error {
	c.Locals(usercontext.KeyUserContext, usercontext.UserContext{
		IsLoggedIn: false,
		IsAdmin:    false,
	})
	c.Locals(usercontext.KeyFromProtected, false)
	c.Locals(usercontext.KeyIsAdmin, false)
	return c.Next()
}
