package models

import "time"

const PaymentProviderFanbases = "fanbases"

// PaymentEvent is the coarse idempotency marker and audit log for payment
// deliveries. The unique (provider, provider_event_id) pair serializes
// concurrent deliveries of the same processor event: the insert either wins
// and authorizes a ledger mutation, or loses and reports AlreadyProcessed.
// AppliedAt stays NULL until the ledger mutation committed, so a crash
// between mutation attempt and marker completion is safe to retry.
type PaymentEvent struct {
	ID              uint       `gorm:"primaryKey" json:"id"`
	Provider        string     `gorm:"type:varchar(20);not null;index:ux_payment_events_provider_event,unique,priority:1" json:"provider"`
	ProviderEventID string     `gorm:"type:varchar(191);not null;index:ux_payment_events_provider_event,unique,priority:2" json:"provider_event_id"`
	Channel         string     `gorm:"type:varchar(20);not null" json:"channel"`
	EventKind       string     `gorm:"type:varchar(40);not null;index" json:"event_kind"`
	UserID          uint       `gorm:"index" json:"user_id"`
	PayloadJSON     string     `gorm:"type:longtext" json:"payload_json"`
	AppliedAt       *time.Time `gorm:"type:timestamp;default:null" json:"applied_at,omitempty"`
	ProcessingError string     `gorm:"type:text" json:"processing_error"`
	CreatedAt       time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt       time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}
