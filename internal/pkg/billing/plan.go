package billing

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/growthdeskhq/GrowthDesk/internal/pkg/entitlements"
)

// TierPlan couples a subscription tier with the credits granted each
// 30-day billing cycle.
type TierPlan struct {
	Tier           entitlements.Tier
	MonthlyCredits int64
}

var tierPlans = map[string]TierPlan{
	"tier1": {Tier: entitlements.TierOne, MonthlyCredits: 15000},
	"tier2": {Tier: entitlements.TierTwo, MonthlyCredits: 40000},
}

// PlanForReference maps a subscription internal reference to its tier plan.
func PlanForReference(internalReference string) (TierPlan, bool) {
	p, ok := tierPlans[strings.ToLower(strings.TrimSpace(internalReference))]
	return p, ok
}

// ParseTopupCredits extracts the credit quantity from a topup internal
// reference. The convention is a leading integer, e.g. "2500_credits" => 2500.
func ParseTopupCredits(internalReference string) (int64, error) {
	ref := strings.TrimSpace(internalReference)
	i := 0
	for i < len(ref) && ref[i] >= '0' && ref[i] <= '9' {
		i++
	}
	if i == 0 {
		return 0, fmt.Errorf("topup reference %q has no leading credit quantity", internalReference)
	}
	n, err := strconv.ParseInt(ref[:i], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("topup reference %q: %w", internalReference, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("topup reference %q parses to non-positive quantity", internalReference)
	}
	return n, nil
}
