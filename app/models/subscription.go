package models

import "time"

const (
	SubscriptionStatusTrialing  = "trialing"
	SubscriptionStatusActive    = "active"
	SubscriptionStatusCancelled = "cancelled"
	SubscriptionStatusCompleted = "completed"
)

// Subscription holds the single subscription row per user. It is upserted
// keyed on user_id by the reconciliation engine; a renewal extends the
// period, a cancellation flips the status without touching credits.
type Subscription struct {
	ID                      uint       `gorm:"primaryKey" json:"id"`
	UserID                  uint       `gorm:"not null;uniqueIndex" json:"user_id"`
	Tier                    string     `gorm:"type:varchar(20);not null;default:'free'" json:"tier"`
	Status                  string     `gorm:"type:varchar(20);not null;default:'active';index" json:"status"`
	PeriodStart             *time.Time `gorm:"type:timestamp;default:null" json:"period_start,omitempty"`
	PeriodEnd               *time.Time `gorm:"type:timestamp;default:null" json:"period_end,omitempty"`
	ProcessorSubscriptionID string     `gorm:"type:varchar(191);default:'';index" json:"processor_subscription_id"`
	CreatedAt               time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt               time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsActive reports whether the subscription currently grants entitlements.
func (s *Subscription) IsActive(now time.Time) bool {
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrialing {
		return false
	}
	if s.PeriodEnd == nil {
		return true
	}
	return now.Before(*s.PeriodEnd)
}
