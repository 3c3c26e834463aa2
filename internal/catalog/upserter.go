package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/go-playground/validator/v10"
	"gorm.io/datatypes"

	"catalogsync/internal/models"
	"catalogsync/internal/store"
)

var validate = validator.New()

// UpsertOutcome tells what Upsert did with a product.
type UpsertOutcome int

const (
	// OutcomeCreated means no product existed for the key and one was inserted active.
	OutcomeCreated UpsertOutcome = iota
	// OutcomeUpdated means the feed fields of an active product were overwritten.
	OutcomeUpdated
	// OutcomeFrozen means the product is inactive and was left untouched.
	OutcomeFrozen
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	case OutcomeFrozen:
		return "frozen"
	default:
		return "unknown"
	}
}

// Upserter writes normalized products keyed by (company, pid).
type Upserter struct {
	store *store.Store
}

func NewUpserter(s *store.Store) *Upserter {
	return &Upserter{store: s}
}

// Upsert creates or updates the product for np's business key. Inactive
// products are returned unchanged with outcome Frozen. Images are not
// touched; see Reconciler. A failed validation is a *ValidationError and
// nothing is written.
func (u *Upserter) Upsert(ctx context.Context, np NormalizedProduct) (*models.Product, UpsertOutcome, error) {
	var (
		product *models.Product
		outcome UpsertOutcome
	)
	err := u.store.Transaction(ctx, func(tx *store.Store) error {
		var err error
		product, outcome, err = upsert(ctx, tx, np)
		return err
	})
	if err != nil {
		return nil, 0, err
	}
	return product, outcome, nil
}

func upsert(ctx context.Context, tx *store.Store, np NormalizedProduct) (*models.Product, UpsertOutcome, error) {
	existing, err := tx.Products.FindByKey(ctx, np.CompanyID, np.PID)
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, 0, err
	}
	if existing != nil {
		return update(ctx, tx, existing, np)
	}

	product := &models.Product{
		CompanyID: np.CompanyID,
		PID:       np.PID,
		IsActive:  true,
	}
	applyFeedFields(product, np)
	if err := validate.Struct(product); err != nil {
		return nil, 0, &ValidationError{PID: np.PID, Err: err}
	}

	inserted, err := tx.Products.Insert(ctx, product)
	if err != nil {
		return nil, 0, err
	}
	if inserted {
		return product, OutcomeCreated, nil
	}

	// Another writer created the key after our lookup.
	existing, err = tx.Products.FindByKey(ctx, np.CompanyID, np.PID)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to reload product %q: %w", np.PID, err)
	}
	return update(ctx, tx, existing, np)
}

func update(ctx context.Context, tx *store.Store, existing *models.Product, np NormalizedProduct) (*models.Product, UpsertOutcome, error) {
	if !existing.IsActive {
		return existing, OutcomeFrozen, nil
	}
	applyFeedFields(existing, np)
	if err := validate.Struct(existing); err != nil {
		return nil, 0, &ValidationError{PID: np.PID, Err: err}
	}
	err := tx.Products.UpdateFeedFields(ctx, existing)
	if errors.Is(err, store.ErrInactive) {
		// Deactivated after the lookup.
		frozen, err := tx.Products.FindByKey(ctx, np.CompanyID, np.PID)
		if err != nil {
			return nil, 0, fmt.Errorf("failed to reload product %q: %w", np.PID, err)
		}
		return frozen, OutcomeFrozen, nil
	}
	if err != nil {
		return nil, 0, err
	}
	return existing, OutcomeUpdated, nil
}

func applyFeedFields(p *models.Product, np NormalizedProduct) {
	p.Name = np.Name
	p.Price = np.Price
	p.PriceSpecial = np.PriceSpecial
	p.URL = np.URL
	p.Data = jsonMap(np.Data)
	p.DataOptions = jsonMap(np.DataOptions)
}

func jsonMap(m map[string]interface{}) datatypes.JSONMap {
	if m == nil {
		return datatypes.JSONMap{}
	}
	return datatypes.JSONMap(m)
}
