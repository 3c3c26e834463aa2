// Package store holds the gorm repositories behind the catalog engine.
package store

import (
	"context"
	"errors"

	"github.com/lib/pq"
	"gorm.io/gorm"
)

var (
	// ErrNotFound is returned when a record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrDuplicate is returned when a unique business key is already taken.
	ErrDuplicate = errors.New("record already exists")
	// ErrInactive is returned when a feed update hits a deactivated product.
	ErrInactive = errors.New("product is inactive")
)

// Store groups the repositories sharing one gorm handle. Inside Transaction
// every repository is bound to the transaction.
type Store struct {
	db          *gorm.DB
	FeedSources *FeedSourceRepository
	Products    *ProductRepository
	Images      *ImageRepository
}

func New(db *gorm.DB) *Store {
	return &Store{
		db:          db,
		FeedSources: &FeedSourceRepository{db: db},
		Products:    &ProductRepository{db: db},
		Images:      &ImageRepository{db: db},
	}
}

// DB exposes the underlying handle.
func (s *Store) DB() *gorm.DB {
	return s.db
}

// Transaction runs fn with a Store bound to a single database transaction.
// Repositories of the outer Store must not be used inside fn.
func (s *Store) Transaction(ctx context.Context, fn func(tx *Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(New(tx))
	})
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// isUniqueViolation recognizes unique constraint failures from both dialects:
// gorm translates SQLite errors, lib/pq reports SQLSTATE 23505.
func isUniqueViolation(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
