package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func catalogWith(refs ...string) CatalogLookup {
	set := map[string]bool{}
	for _, r := range refs {
		set[r] = true
	}
	return func(ref string) bool { return set[ref] }
}

func TestResolveFreeAlwaysGranted(t *testing.T) {
	decision := Resolve(ModuleAccessPolicy{AccessType: "free"}, UserState{}, nil)
	assert.True(t, decision.Granted)

	// An empty access type behaves like free.
	decision = Resolve(ModuleAccessPolicy{}, UserState{}, nil)
	assert.True(t, decision.Granted)
}

func TestResolveBookACall(t *testing.T) {
	policy := ModuleAccessPolicy{AccessType: "book_a_call"}

	decision := Resolve(policy, UserState{DashboardAccess: true}, nil)
	assert.True(t, decision.Granted)

	decision = Resolve(policy, UserState{}, nil)
	assert.False(t, decision.Granted)
	assert.Equal(t, ReasonCoachingAccessMissing, decision.Reason)
	assert.Equal(t, UnlockBookCall, decision.UnlockAction)
}

func TestResolveTierRequired(t *testing.T) {
	policy := ModuleAccessPolicy{AccessType: "tier_required", RequiredTier: "tier1"}

	decision := Resolve(policy, UserState{SubscriptionActive: true}, nil)
	assert.True(t, decision.Granted)

	// An active trial does not unlock tier-gated modules.
	decision = Resolve(policy, UserState{TrialActive: true}, nil)
	assert.False(t, decision.Granted)
	assert.Equal(t, ReasonSubscriptionRequired, decision.Reason)
	assert.Equal(t, UnlockSubscribe, decision.UnlockAction)
}

func TestResolvePurchaseRequired(t *testing.T) {
	policy := ModuleAccessPolicy{AccessType: "purchase_required", InternalReference: "module-funnel"}
	catalog := catalogWith("module-funnel")

	decision := Resolve(policy, UserState{PurchasedRefs: map[string]bool{"module-funnel": true}}, catalog)
	assert.True(t, decision.Granted)

	decision = Resolve(policy, UserState{PurchasedRefs: map[string]bool{}}, catalog)
	assert.False(t, decision.Granted)
	assert.Equal(t, ReasonPurchaseRequired, decision.Reason)
	assert.Equal(t, UnlockPurchase, decision.UnlockAction)
	assert.Equal(t, "module-funnel", decision.CheckoutRef)
}

func TestResolvePurchaseRequiredWithoutCatalogEntry(t *testing.T) {
	policy := ModuleAccessPolicy{AccessType: "purchase_required", InternalReference: "module-gone"}

	// A purchase-gated module whose product vanished from the catalog must
	// not silently become free.
	decision := Resolve(policy, UserState{PurchasedRefs: map[string]bool{}}, catalogWith())
	assert.False(t, decision.Granted)
	assert.Equal(t, ReasonCatalogMisconfigured, decision.Reason)
	assert.Equal(t, UnlockNone, decision.UnlockAction)
}

func TestResolveUnknownAccessType(t *testing.T) {
	decision := Resolve(ModuleAccessPolicy{AccessType: "vip_only"}, UserState{SubscriptionActive: true}, nil)
	assert.False(t, decision.Granted)
	assert.Equal(t, ReasonCatalogMisconfigured, decision.Reason)
}

func TestChatAccess(t *testing.T) {
	assert.True(t, ChatAccess(UserState{SubscriptionActive: true}))
	assert.True(t, ChatAccess(UserState{TrialActive: true}))
	assert.False(t, ChatAccess(UserState{}))
}

func TestTrialPartition(t *testing.T) {
	now := time.Now()
	past := now.Add(-48 * time.Hour)
	recent := now.Add(-time.Hour)
	future := now.Add(time.Hour)

	tests := []struct {
		name               string
		subscriptionActive bool
		startedAt          *time.Time
		endsAt             *time.Time
		needsTrial         bool
		needsSubscription  bool
	}{
		{"never started, no sub", false, nil, nil, true, false},
		{"trial running", false, &recent, &future, false, false},
		{"trial expired", false, &past, &recent, false, true},
		{"subscribed, no trial", true, nil, nil, false, false},
		{"subscribed after expired trial", true, &past, &recent, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gotTrial := NeedsTrial(tt.subscriptionActive, tt.startedAt, tt.endsAt, now)
			gotSub := NeedsSubscription(tt.subscriptionActive, tt.startedAt, tt.endsAt, now)
			assert.Equal(t, tt.needsTrial, gotTrial)
			assert.Equal(t, tt.needsSubscription, gotSub)
			// The two prompts are mutually exclusive by construction.
			assert.False(t, gotTrial && gotSub)
		})
	}
}

func TestTierRankAndNormalize(t *testing.T) {
	assert.Greater(t, TierRank(TierTwo), TierRank(TierOne))
	assert.Greater(t, TierRank(TierOne), TierRank(TierFree))

	assert.Equal(t, TierTwo, NormalizeTier(" Tier2 "))
	assert.Equal(t, TierOne, NormalizeTier("tier1"))
	assert.Equal(t, TierFree, NormalizeTier("platinum"))
	assert.Equal(t, TierFree, NormalizeTier(""))
}
