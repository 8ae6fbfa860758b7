package repository

import (
	"github.com/growthdeskhq/GrowthDesk/app/models"
	"gorm.io/gorm"
)

// courseModuleRepository implements the CourseModuleRepository interface
type courseModuleRepository struct {
	db *gorm.DB
}

// NewCourseModuleRepository creates a new course module repository instance
func NewCourseModuleRepository(db *gorm.DB) CourseModuleRepository {
	return &courseModuleRepository{db: db}
}

func (r *courseModuleRepository) GetBySlug(slug string) (*models.CourseModule, error) {
	var m models.CourseModule
	err := r.db.Where("slug = ? AND is_published = ?", slug, true).First(&m).Error
	if err != nil {
		return nil, err
	}
	return &m, nil
}

func (r *courseModuleRepository) ListPublished() ([]models.CourseModule, error) {
	var modules []models.CourseModule
	err := r.db.Where("is_published = ?", true).Order("sort_order ASC").Find(&modules).Error
	return modules, err
}
