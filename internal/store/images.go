package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"catalogsync/internal/models"
)

type ImageRepository struct {
	db *gorm.DB
}

// URLs returns the image URLs currently attached to a product.
func (r *ImageRepository) URLs(ctx context.Context, productID string) ([]string, error) {
	var urls []string
	err := r.db.WithContext(ctx).
		Model(&models.ProductImage{}).
		Where("product_id = ?", productID).
		Order("url").
		Pluck("url", &urls).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load product images: %w", err)
	}
	return urls, nil
}

// Delete removes the given URLs from a product and returns the number of rows removed.
func (r *ImageRepository) Delete(ctx context.Context, productID string, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	result := r.db.WithContext(ctx).
		Where("product_id = ? AND url IN ?", productID, urls).
		Delete(&models.ProductImage{})
	if result.Error != nil {
		return 0, fmt.Errorf("failed to delete product images: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// Insert attaches the given URLs to a product in one statement. URLs already
// attached are skipped; the number of new rows is returned.
func (r *ImageRepository) Insert(ctx context.Context, productID string, urls []string) (int64, error) {
	if len(urls) == 0 {
		return 0, nil
	}
	images := make([]models.ProductImage, 0, len(urls))
	for _, url := range urls {
		images = append(images, models.ProductImage{ProductID: productID, URL: url})
	}
	result := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "product_id"}, {Name: "url"}},
			DoNothing: true,
		}).
		Create(&images)
	if result.Error != nil {
		return 0, fmt.Errorf("failed to create product images: %w", result.Error)
	}
	return result.RowsAffected, nil
}
