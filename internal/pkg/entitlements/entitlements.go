package entitlements

import (
	"strings"
	"time"

	"github.com/growthdeskhq/GrowthDesk/app/models"
)

type Tier string

const (
	TierFree Tier = "free"
	TierOne  Tier = "tier1"
	TierTwo  Tier = "tier2"
)

// UnlockAction tells a denied caller how access can be obtained.
type UnlockAction string

const (
	UnlockNone      UnlockAction = ""
	UnlockPurchase  UnlockAction = "purchase"
	UnlockSubscribe UnlockAction = "subscribe"
	UnlockBookCall  UnlockAction = "book_call"
)

// Denial reasons surfaced to the caller alongside the unlock action.
const (
	ReasonSubscriptionRequired  = "subscription_required"
	ReasonPurchaseRequired      = "purchase_required"
	ReasonCoachingAccessMissing = "coaching_access_required"
	ReasonCatalogMisconfigured  = "catalog_misconfigured"
)

// ModuleAccessPolicy is the read-only policy attached to a course module.
type ModuleAccessPolicy struct {
	AccessType        string
	RequiredTier      string
	InternalReference string
}

// UserState is the ledger snapshot a resolution runs against. It is computed
// by the caller from store reads; the resolver itself never touches the store.
type UserState struct {
	SubscriptionActive bool
	TrialActive        bool
	DashboardAccess    bool
	PurchasedRefs      map[string]bool
}

// AccessDecision is the outcome of resolving a policy against a user state.
type AccessDecision struct {
	Granted      bool
	Reason       string
	UnlockAction UnlockAction
	// CheckoutRef carries the internal reference to purchase when
	// UnlockAction is UnlockPurchase.
	CheckoutRef string
}

// CatalogLookup reports whether a purchasable catalog entry exists for an
// internal reference. Injected so tests can substitute an in-memory catalog.
type CatalogLookup func(internalReference string) bool

// Resolve evaluates a module access policy against a user state. The match
// order is deliberate: free, book_a_call, tier_required, purchase_required.
func Resolve(policy ModuleAccessPolicy, state UserState, catalogHas CatalogLookup) AccessDecision {
	switch strings.ToLower(strings.TrimSpace(policy.AccessType)) {
	case models.AccessTypeFree, "":
		return AccessDecision{Granted: true}

	case models.AccessTypeBookACall:
		if state.DashboardAccess {
			return AccessDecision{Granted: true}
		}
		return AccessDecision{
			Reason:       ReasonCoachingAccessMissing,
			UnlockAction: UnlockBookCall,
		}

	case models.AccessTypeTierRequired:
		// Trials do not count toward tier-gated modules.
		if state.SubscriptionActive {
			return AccessDecision{Granted: true}
		}
		return AccessDecision{
			Reason:       ReasonSubscriptionRequired,
			UnlockAction: UnlockSubscribe,
		}

	case models.AccessTypePurchaseRequired:
		ref := strings.TrimSpace(policy.InternalReference)
		if state.PurchasedRefs[ref] {
			return AccessDecision{Granted: true}
		}
		if catalogHas == nil || !catalogHas(ref) {
			// A purchase-gated module without a catalog entry is a
			// configuration error, not a free module.
			return AccessDecision{
				Reason:       ReasonCatalogMisconfigured,
				UnlockAction: UnlockNone,
			}
		}
		return AccessDecision{
			Reason:       ReasonPurchaseRequired,
			UnlockAction: UnlockPurchase,
			CheckoutRef:  ref,
		}

	default:
		// Unknown access type: treat as misconfigured, never as free.
		return AccessDecision{
			Reason:       ReasonCatalogMisconfigured,
			UnlockAction: UnlockNone,
		}
	}
}

// ChatAccess is the coarse gate for the AI assistant and premium tools.
func ChatAccess(state UserState) bool {
	return state.SubscriptionActive || state.TrialActive
}

// TrialActive reports whether a started trial is still running at now.
func TrialActive(startedAt, endsAt *time.Time, now time.Time) bool {
	return startedAt != nil && endsAt != nil && now.Before(*endsAt)
}

// TrialExpired reports whether a started trial has run out at now.
func TrialExpired(startedAt, endsAt *time.Time, now time.Time) bool {
	return startedAt != nil && endsAt != nil && !now.Before(*endsAt)
}

// NeedsTrial is true for users who never started a trial and hold no active
// subscription. Together with NeedsSubscription it partitions all
// non-subscribed users.
func NeedsTrial(subscriptionActive bool, startedAt, endsAt *time.Time, now time.Time) bool {
	if subscriptionActive {
		return false
	}
	return !TrialActive(startedAt, endsAt, now) && !TrialExpired(startedAt, endsAt, now)
}

// NeedsSubscription is true for users whose trial expired and who hold no
// active subscription.
func NeedsSubscription(subscriptionActive bool, startedAt, endsAt *time.Time, now time.Time) bool {
	if subscriptionActive {
		return false
	}
	return TrialExpired(startedAt, endsAt, now)
}

// TierRank orders tiers so the best of several subscription rows wins.
func TierRank(tier Tier) int {
	switch tier {
	case TierTwo:
		return 2
	case TierOne:
		return 1
	default:
		return 0
	}
}

// NormalizeTier maps arbitrary input onto a known tier, defaulting to free.
func NormalizeTier(tier string) Tier {
	switch strings.ToLower(strings.TrimSpace(tier)) {
	case string(TierOne):
		return TierOne
	case string(TierTwo):
		return TierTwo
	default:
		return TierFree
	}
}
