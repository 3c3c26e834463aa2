package store

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"catalogsync/internal/models"
)

type FeedSourceRepository struct {
	db *gorm.DB
}

// Create stores a new, healthy feed source.
func (r *FeedSourceRepository) Create(ctx context.Context, src *models.FeedSource) error {
	src.IsValid = true
	if err := r.db.WithContext(ctx).Create(src).Error; err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed source %q for company %s: %w", src.URL, src.CompanyID, ErrDuplicate)
		}
		return fmt.Errorf("failed to create feed source: %w", err)
	}
	return nil
}

func (r *FeedSourceRepository) Get(ctx context.Context, id string) (*models.FeedSource, error) {
	var src models.FeedSource
	if err := r.db.WithContext(ctx).First(&src, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &src, nil
}

// List returns the sources of one company, or of every company when companyID is empty.
func (r *FeedSourceRepository) List(ctx context.Context, companyID string) ([]models.FeedSource, error) {
	var sources []models.FeedSource
	query := r.db.WithContext(ctx).Order("created_at")
	if companyID != "" {
		query = query.Where("company_id = ?", companyID)
	}
	if err := query.Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("failed to list feed sources: %w", err)
	}
	return sources, nil
}

// ListValid returns every healthy source, the input of a sweep.
func (r *FeedSourceRepository) ListValid(ctx context.Context) ([]models.FeedSource, error) {
	var sources []models.FeedSource
	if err := r.db.WithContext(ctx).Where("is_valid = ?", true).Order("created_at").Find(&sources).Error; err != nil {
		return nil, fmt.Errorf("failed to list valid feed sources: %w", err)
	}
	return sources, nil
}

// Save persists name and URL edits. The health flag is never taken from the
// caller: it keeps its stored value unless the URL changed, in which case it
// is reset to true.
func (r *FeedSourceRepository) Save(ctx context.Context, src *models.FeedSource) error {
	db := r.db.WithContext(ctx)

	var stored models.FeedSource
	if err := db.First(&stored, "id = ?", src.ID).Error; err != nil {
		return notFound(err)
	}

	columns := []string{"name", "updated_at"}
	if stored.URL != src.URL {
		stored.ApplyURL(src.URL)
		columns = append(columns, "url", "is_valid")
	}
	src.IsValid = stored.IsValid
	src.CompanyID = stored.CompanyID
	src.CreatedAt = stored.CreatedAt

	// is_valid is only written along with a new URL.
	err := db.Model(src).Select(columns).Updates(src).Error
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("feed source %q for company %s: %w", src.URL, src.CompanyID, ErrDuplicate)
		}
		return fmt.Errorf("failed to save feed source: %w", err)
	}
	return nil
}

// Invalidate marks a source unhealthy. Only the health column is written.
func (r *FeedSourceRepository) Invalidate(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Model(&models.FeedSource{}).Where("id = ?", id).Update("is_valid", false)
	if result.Error != nil {
		return fmt.Errorf("failed to invalidate feed source: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}
