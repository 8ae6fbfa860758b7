package repository

import (
	"github.com/growthdeskhq/GrowthDesk/app/models"
)

// UserRepository defines the interface for user-related database operations
type UserRepository interface {
	Create(user *models.User) error
	GetByID(id uint) (*models.User, error)
	GetByEmail(email string) (*models.User, error)
	Update(user *models.User) error
	List(offset, limit int) ([]models.User, error)
	Count() (int64, error)
}

// CourseModuleRepository defines the interface for course module operations
type CourseModuleRepository interface {
	GetBySlug(slug string) (*models.CourseModule, error)
	ListPublished() ([]models.CourseModule, error)
}

// CatalogRepository provides read-only access to the product catalog.
// The catalog is maintained by an external admin process; at runtime the
// engine only reads it.
type CatalogRepository interface {
	GetByInternalReference(internalReference string) (*models.CatalogProduct, error)
	GetByProcessorID(processorProductID string) (*models.CatalogProduct, error)
	HasInternalReference(internalReference string) bool
}

// Repositories struct holds all repository instances
type Repositories struct {
	User         UserRepository
	CourseModule CourseModuleRepository
	Catalog      CatalogRepository
}
