package controllers

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/growthdeskhq/GrowthDesk/internal/pkg/billing"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/cache"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/database"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/entitlements"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/eventarchive"
	"github.com/growthdeskhq/GrowthDesk/internal/pkg/usercontext"
)

const entitlementCacheTTL = 5 * time.Minute

var (
	archiverOnce sync.Once
	archiver     *eventarchive.Client
)

// billingService builds the reconciliation service for a request. The archive
// sink is resolved once per process; a disabled archive yields a nil sink.
func billingService() *billing.Service {
	archiverOnce.Do(func() {
		archiver = eventarchive.FromEnv()
	})
	svc := billing.NewServiceFromDB(database.GetDB())
	if archiver != nil {
		svc.SetArchiver(archiver)
	}
	return svc
}

func isLoggedIn(c *fiber.Ctx) bool {
	var fromProtected bool
	if protectedValue := c.Locals(usercontext.KeyFromProtected); protectedValue != nil {
		fromProtected = protectedValue.(bool)
	}

	return fromProtected
}

func entitlementCacheKey(userID uint) string {
	return fmt.Sprintf("entitlements:user:%d", userID)
}

// cachedEntitlementState loads the entitlement snapshot through Redis. The
// cache is short-lived and invalidated after every reconcile, so a stale read
// self-heals within the TTL even if an invalidation is lost.
func cachedEntitlementState(ctx context.Context, userID uint) (entitlements.UserState, error) {
	key := entitlementCacheKey(userID)
	if raw, err := cache.Get(key); err == nil && raw != "" {
		var state entitlements.UserState
		if json.Unmarshal([]byte(raw), &state) == nil && state.PurchasedRefs != nil {
			return state, nil
		}
	}

	state, err := billingService().UserEntitlementState(ctx, userID)
	if err != nil {
		return state, err
	}
	if b, err := json.Marshal(state); err == nil {
		_ = cache.Set(key, string(b), entitlementCacheTTL)
	}
	return state, nil
}

func invalidateEntitlementCache(userID uint) {
	if userID != 0 {
		_ = cache.Delete(entitlementCacheKey(userID))
	}
}

// csrfToken returns the token the CSRF middleware stored for this request.
func csrfToken(c *fiber.Ctx) string {
	if v, ok := c.Locals("csrf").(string); ok {
		return v
	}
	return ""
}

// wantsJSON reports whether the client asked for a JSON response.
func wantsJSON(c *fiber.Ctx) bool {
	accept := c.Get(fiber.HeaderAccept)
	return strings.Contains(accept, fiber.MIMEApplicationJSON) ||
		strings.Contains(c.Get(fiber.HeaderContentType), fiber.MIMEApplicationJSON)
}
