package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Product is a catalog entry. (CompanyID, PID) is its business key: PID is
// supplied by the feed and is only unique within a tenant.
type Product struct {
	ID           string            `json:"id" gorm:"type:uuid;primaryKey"`
	CompanyID    string            `json:"company_id" gorm:"size:64;not null;uniqueIndex:idx_products_company_pid" validate:"required,max=64"`
	PID          string            `json:"pid" gorm:"column:pid;size:50;not null;uniqueIndex:idx_products_company_pid;index" validate:"required,max=50"`
	Name         string            `json:"name" gorm:"size:150;not null" validate:"required,max=150"`
	Data         datatypes.JSONMap `json:"data" gorm:"not null"`
	DataOptions  datatypes.JSONMap `json:"data_options"`
	Price        int64             `json:"price" validate:"gte=0"`
	PriceSpecial int64             `json:"price_special" validate:"gte=0"`
	URL          string            `json:"url" gorm:"size:200;not null" validate:"required,url,max=200"`
	IsActive     bool              `json:"is_active" gorm:"not null"`
	CreatedAt    time.Time         `json:"created_at"`
	UpdatedAt    time.Time         `json:"updated_at"`

	Images []ProductImage `json:"images,omitempty" gorm:"foreignKey:ProductID;constraint:OnDelete:CASCADE" validate:"-"`
}

// ProductImage is one image URL attached to a product. A URL appears at most
// once per product.
type ProductImage struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	ProductID string    `json:"product_id" gorm:"type:uuid;not null;uniqueIndex:idx_product_images_product_url"`
	URL       string    `json:"url" gorm:"size:500;not null;uniqueIndex:idx_product_images_product_url" validate:"required,url,max=500"`
	CreatedAt time.Time `json:"created_at"`
}

// ImageURLs returns the URLs of the preloaded images.
func (p *Product) ImageURLs() []string {
	urls := make([]string, 0, len(p.Images))
	for _, img := range p.Images {
		urls = append(urls, img.URL)
	}
	return urls
}

func (p *Product) BeforeCreate(tx *gorm.DB) error {
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	return nil
}

func (i *ProductImage) BeforeCreate(tx *gorm.DB) error {
	if i.ID == "" {
		i.ID = uuid.New().String()
	}
	return nil
}
