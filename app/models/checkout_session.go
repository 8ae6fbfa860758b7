package models

import "time"

const (
	CheckoutStatusPending   = "pending"
	CheckoutStatusCompleted = "completed"
	CheckoutStatusCancelled = "cancelled"
)

// CheckoutSession is the pending-intent record written before a user is sent
// to the Fanbases checkout page. When a redirect comes back without echoed
// metadata, the most recent pending session for the user is the fallback
// reconciliation key. Only status is mutated after creation.
type CheckoutSession struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	UserID             uint      `gorm:"not null;index" json:"user_id"`
	ProcessorSessionID string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"processor_session_id"`
	ProductClass       string    `gorm:"type:varchar(20);not null" json:"product_class"`
	InternalReference  string    `gorm:"type:varchar(191);not null" json:"internal_reference"`
	AmountCents        int       `gorm:"not null;default:0" json:"amount_cents"`
	Status             string    `gorm:"type:varchar(20);not null;default:'pending';index" json:"status"`
	CreatedAt          time.Time `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
