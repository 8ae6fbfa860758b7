package repository

import (
	"sync"

	"gorm.io/gorm"
)

var (
	globalFactory *Repositories
	factoryOnce   sync.Once
)

// NewRepositories creates all repository instances for the given DB handle.
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		User:         NewUserRepository(db),
		CourseModule: NewCourseModuleRepository(db),
		Catalog:      NewCatalogRepository(db),
	}
}

// InitGlobalFactory initializes the process-wide repository factory once.
func InitGlobalFactory(db *gorm.DB) {
	factoryOnce.Do(func() {
		globalFactory = NewRepositories(db)
	})
}

// GetGlobalFactory returns the process-wide repository factory.
func GetGlobalFactory() *Repositories {
	return globalFactory
}
