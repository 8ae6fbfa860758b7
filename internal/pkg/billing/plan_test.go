package billing

import (
	"testing"

	"github.com/growthdeskhq/GrowthDesk/internal/pkg/entitlements"
	"github.com/stretchr/testify/assert"
)

func TestPlanForReference(t *testing.T) {
	plan, ok := PlanForReference("tier1")
	assert.True(t, ok)
	assert.Equal(t, entitlements.TierOne, plan.Tier)
	assert.Equal(t, int64(15000), plan.MonthlyCredits)

	plan, ok = PlanForReference(" TIER2 ")
	assert.True(t, ok)
	assert.Equal(t, entitlements.TierTwo, plan.Tier)
	assert.Equal(t, int64(40000), plan.MonthlyCredits)

	_, ok = PlanForReference("tier3")
	assert.False(t, ok)
}

func TestParseTopupCredits(t *testing.T) {
	tests := []struct {
		ref     string
		want    int64
		wantErr bool
	}{
		{"2500_credits", 2500, false},
		{"1000_credits", 1000, false},
		{"500credits", 500, false},
		{" 300_credits ", 300, false},
		{"credits_2500", 0, true},
		{"", 0, true},
		{"0_credits", 0, true},
	}
	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got, err := ParseTopupCredits(tt.ref)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}
