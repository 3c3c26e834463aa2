package models

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// FeedSource is a tenant-owned URL expected to serve a JSON product catalog.
//
// IsValid is the feed health flag. It is cleared only by the sync
// orchestrator once every fetch attempt failed, and set again whenever the
// URL is changed (see ApplyURL).
type FeedSource struct {
	ID        string    `json:"id" gorm:"type:uuid;primaryKey"`
	CompanyID string    `json:"company_id" gorm:"size:64;not null;uniqueIndex:idx_feed_sources_company_url"`
	Name      string    `json:"name" gorm:"size:150;not null"`
	URL       string    `json:"url" gorm:"size:200;not null;uniqueIndex:idx_feed_sources_company_url"`
	IsValid   bool      `json:"is_valid" gorm:"not null"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewFeedSource returns a healthy source.
func NewFeedSource(companyID, name, url string) *FeedSource {
	return &FeedSource{
		CompanyID: companyID,
		Name:      name,
		URL:       url,
		IsValid:   true,
	}
}

// ApplyURL sets the URL and gives the feed a fresh chance when it changed.
// It reports whether the health flag was reset.
func (s *FeedSource) ApplyURL(url string) bool {
	if s.URL == url {
		return false
	}
	s.URL = url
	reset := !s.IsValid
	s.IsValid = true
	return reset
}

func (s *FeedSource) BeforeCreate(tx *gorm.DB) error {
	if s.ID == "" {
		s.ID = uuid.New().String()
	}
	return nil
}
