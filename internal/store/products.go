package store

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalogsync/internal/models"
)

// productFeedColumns are the columns a feed sync is allowed to overwrite.
var productFeedColumns = []string{"name", "data", "data_options", "price", "price_special", "url", "updated_at"}

type ProductRepository struct {
	db *gorm.DB
}

// ProductFilter narrows List. Zero values mean no filtering.
type ProductFilter struct {
	CompanyID string
	Search    string
	Active    *bool
	Offset    int
	Limit     int
}

// FindByKey looks a product up by its business key.
func (r *ProductRepository) FindByKey(ctx context.Context, companyID, pid string) (*models.Product, error) {
	var product models.Product
	err := r.db.WithContext(ctx).
		Where("company_id = ? AND pid = ?", companyID, pid).
		First(&product).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

// Get returns a product with its images.
func (r *ProductRepository) Get(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	if err := r.db.WithContext(ctx).Preload("Images").First(&product, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

// List returns a page of products with images preloaded and the total match count.
func (r *ProductRepository) List(ctx context.Context, f ProductFilter) ([]models.Product, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.Product{})
	if f.CompanyID != "" {
		query = query.Where("company_id = ?", f.CompanyID)
	}
	if f.Search != "" {
		like := "%" + f.Search + "%"
		query = query.Where("name LIKE ? OR pid LIKE ?", like, like)
	}
	if f.Active != nil {
		query = query.Where("is_active = ?", *f.Active)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to count products: %w", err)
	}

	if f.Limit > 0 {
		query = query.Limit(f.Limit)
	}
	var products []models.Product
	if err := query.Offset(f.Offset).Order("created_at, pid").Preload("Images").Find(&products).Error; err != nil {
		return nil, 0, fmt.Errorf("failed to list products: %w", err)
	}
	return products, total, nil
}

// Insert creates the product unless its business key is already taken. It
// reports false when a concurrent writer won the race.
func (r *ProductRepository) Insert(ctx context.Context, p *models.Product) (bool, error) {
	result := r.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "company_id"}, {Name: "pid"}},
			DoNothing: true,
		}).
		Create(p)
	if result.Error != nil {
		return false, fmt.Errorf("failed to create product: %w", result.Error)
	}
	return result.RowsAffected == 1, nil
}

// UpdateFeedFields overwrites the feed-owned columns of an existing, active
// product. A product deactivated since it was read yields ErrInactive and is
// left untouched.
func (r *ProductRepository) UpdateFeedFields(ctx context.Context, p *models.Product) error {
	p.UpdatedAt = time.Now()
	db := r.db.WithContext(ctx)
	result := db.Model(p).Where("is_active = ?", true).Select(productFeedColumns).Updates(p)
	if result.Error != nil {
		return fmt.Errorf("failed to update product: %w", result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}

	var count int64
	if err := db.Model(&models.Product{}).Where("id = ?", p.ID).Count(&count).Error; err != nil {
		return fmt.Errorf("failed to check product %s: %w", p.ID, err)
	}
	if count == 0 {
		return ErrNotFound
	}
	return ErrInactive
}

// SetActive toggles the frozen state of a product. Deactivated products are
// left alone by feed syncs.
func (r *ProductRepository) SetActive(ctx context.Context, id string, active bool) error {
	result := r.db.WithContext(ctx).Model(&models.Product{}).Where("id = ?", id).Update("is_active", active)
	if result.Error != nil {
		return fmt.Errorf("failed to update product state: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
