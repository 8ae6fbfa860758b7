package models

import "time"

const (
	CreditTxTopup        = "topup"
	CreditTxSubscription = "subscription"
	CreditTxAdmin        = "admin"
	CreditTxSpend        = "spend"
)

// CreditTransaction is an append-only ledger line. Amounts are signed whole
// credits; the per-user sum reconciles to users.credits. Rows are never
// updated or deleted, they are the audit trail for balance disputes.
type CreditTransaction struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	UserID    uint      `gorm:"not null;index" json:"user_id"`
	Amount    int64     `gorm:"not null" json:"amount"`
	Type      string    `gorm:"type:varchar(20);not null;index" json:"type"`
	Metadata  string    `gorm:"type:text" json:"metadata"`
	CreatedAt time.Time `gorm:"autoCreateTime;index" json:"created_at"`
}
