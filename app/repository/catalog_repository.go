package repository

import (
	"github.com/growthdeskhq/GrowthDesk/app/models"
	"gorm.io/gorm"
)

// catalogRepository implements the CatalogRepository interface
type catalogRepository struct {
	db *gorm.DB
}

// NewCatalogRepository creates a new catalog repository instance
func NewCatalogRepository(db *gorm.DB) CatalogRepository {
	return &catalogRepository{db: db}
}

func (r *catalogRepository) GetByInternalReference(internalReference string) (*models.CatalogProduct, error) {
	var p models.CatalogProduct
	err := r.db.Where("internal_reference = ?", internalReference).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *catalogRepository) GetByProcessorID(processorProductID string) (*models.CatalogProduct, error) {
	var p models.CatalogProduct
	err := r.db.Where("processor_product_id = ?", processorProductID).First(&p).Error
	if err != nil {
		return nil, err
	}
	return &p, nil
}

func (r *catalogRepository) HasInternalReference(internalReference string) bool {
	var count int64
	if err := r.db.Model(&models.CatalogProduct{}).
		Where("internal_reference = ?", internalReference).
		Count(&count).Error; err != nil {
		return false
	}
	return count > 0
}
