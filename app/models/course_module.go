package models

import "time"

// Access types a course module can carry. Evaluation order in the
// entitlements package is deliberate: free, book_a_call, tier_required,
// purchase_required.
const (
	AccessTypeFree             = "free"
	AccessTypeTierRequired     = "tier_required"
	AccessTypePurchaseRequired = "purchase_required"
	AccessTypeBookACall        = "book_a_call"
)

// CourseModule is a gated unit of the learning portal. The access policy
// fields are read-only relative to the billing engine; content fields are
// rendered by the portal UI which is outside this engine's scope.
type CourseModule struct {
	ID                uint      `gorm:"primaryKey" json:"id"`
	Slug              string    `gorm:"type:varchar(191);not null;uniqueIndex" json:"slug"`
	Title             string    `gorm:"type:varchar(200);not null" json:"title"`
	Description       string    `gorm:"type:text" json:"description"`
	AccessType        string    `gorm:"type:varchar(30);not null;default:'free';index" json:"access_type"`
	RequiredTier      string    `gorm:"type:varchar(20);default:''" json:"required_tier"`
	InternalReference string    `gorm:"type:varchar(191);default:'';index" json:"internal_reference"`
	SortOrder         int       `gorm:"default:0" json:"sort_order"`
	IsPublished       bool      `gorm:"default:true;index" json:"is_published"`
	CreatedAt         time.Time `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt         time.Time `gorm:"autoUpdateTime" json:"updated_at"`
}
