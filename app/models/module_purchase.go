package models

import "time"

// ModulePurchase marks a completed one-time unlock of a course module.
// The unique (user_id, internal_reference) pair is the second, finer
// idempotency layer beneath the payment event log: two distinct processor
// events describing the same logical purchase collapse into a single row.
// Rows are inserted once and never updated or deleted by the engine.
type ModulePurchase struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	UserID            uint      `gorm:"not null;index:ux_module_purchases_user_ref,unique,priority:1" json:"user_id"`
	InternalReference string    `gorm:"type:varchar(191);not null;index:ux_module_purchases_user_ref,unique,priority:2" json:"internal_reference"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
}
