package models

import "time"

// Product classes understood by the reconciliation engine. The class decides
// which ledger mutation a completed payment triggers.
const (
	ProductClassModule       = "module"
	ProductClassSubscription = "subscription"
	ProductClassTopup        = "topup"
	ProductClassCardSetup    = "card_setup"
)

// CatalogProduct maps a stable internal reference (e.g. "1000_credits",
// "tier2", "module-x") to the Fanbases-side product it is sold as. Rows are
// maintained by an admin process and treated as read-only at runtime.
type CatalogProduct struct {
	ID                 uint      `gorm:"primaryKey" json:"id"`
	ProcessorProductID string    `gorm:"type:varchar(191);not null;index" json:"processor_product_id"`
	ProductClass       string    `gorm:"type:varchar(20);not null;index" json:"product_class"`
	InternalReference  string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"internal_reference"`
	PriceCents         *int      `gorm:"default:null" json:"price_cents,omitempty"`
	CreatedAt          time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt          time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsValidProductClass reports whether the given class is one the engine can
// dispatch on.
func IsValidProductClass(class string) bool {
	switch class {
	case ProductClassModule, ProductClassSubscription, ProductClassTopup, ProductClassCardSetup:
		return true
	default:
		return false
	}
}
