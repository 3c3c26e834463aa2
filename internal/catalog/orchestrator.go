package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"catalogsync/internal/logger"
	"catalogsync/internal/metrics"
	"catalogsync/internal/models"
	"catalogsync/internal/store"
)

// RunState is the phase of a sync run.
type RunState string

const (
	StateFetching    RunState = "fetching"
	StateNormalizing RunState = "normalizing"
	StatePersisting  RunState = "persisting"
	StateDone        RunState = "done"
	StateInvalidated RunState = "invalidated"
)

// RunResult summarizes one sync run of a feed source. Created, Updated,
// Frozen and Failed partition the normalized products; ImageFailures counts
// written products whose image set could not be reconciled. Failures lists
// both kinds.
type RunResult struct {
	SourceID      string          `json:"source_id"`
	CompanyID     string          `json:"company_id"`
	State         RunState        `json:"state"`
	Received      int             `json:"received"`
	Created       int             `json:"created"`
	Updated       int             `json:"updated"`
	Frozen        int             `json:"frozen"`
	Failed        int             `json:"failed"`
	ImageFailures int             `json:"image_failures"`
	ImagesAdded   int             `json:"images_added"`
	ImagesRemoved int             `json:"images_removed"`
	Failures      []*ProductError `json:"failures,omitempty"`
	StartedAt     time.Time       `json:"started_at"`
	Duration      time.Duration   `json:"duration"`
}

// Orchestrator drives a feed source through fetch, normalization and
// persistence. It keeps no state between runs and is safe for concurrent use.
type Orchestrator struct {
	fetcher    FeedFetcher
	store      *store.Store
	upserter   *Upserter
	reconciler *Reconciler
	logger     *logger.Logger
}

func NewOrchestrator(fetcher FeedFetcher, s *store.Store, logger *logger.Logger) *Orchestrator {
	return &Orchestrator{
		fetcher:    fetcher,
		store:      s,
		upserter:   NewUpserter(s),
		reconciler: NewReconciler(s, NewKeyedMutex()),
		logger:     logger,
	}
}

// Run synchronizes one source. Exhausted fetch retries mark the source
// invalid and end the run in StateInvalidated with a nil error. Structural
// feed errors are returned before anything is written. Per-product failures
// are collected in the result and do not stop the run.
func (o *Orchestrator) Run(ctx context.Context, source *models.FeedSource) (*RunResult, error) {
	result := &RunResult{
		SourceID:  source.ID,
		CompanyID: source.CompanyID,
		State:     StateFetching,
		StartedAt: time.Now(),
	}
	defer func() {
		result.Duration = time.Since(result.StartedAt)
		metrics.RecordSyncRun(string(result.State), result.Duration)
	}()

	records, err := o.fetcher.Fetch(ctx, source.URL)
	if err != nil {
		if !errors.Is(err, ErrFetchExhausted) {
			return result, fmt.Errorf("sync source %s: %w", source.ID, err)
		}
		o.logger.Warn("Feed source %s (%s) unreachable, marking invalid: %v", source.ID, source.URL, err)
		if err := o.store.FeedSources.Invalidate(ctx, source.ID); err != nil {
			return result, fmt.Errorf("failed to invalidate source %s: %w", source.ID, err)
		}
		source.IsValid = false
		result.State = StateInvalidated
		return result, nil
	}

	result.State = StateNormalizing
	result.Received = len(records)
	products, err := CollectNormalized(Normalize(source.CompanyID, records))
	if err != nil {
		return result, fmt.Errorf("sync source %s: %w", source.ID, err)
	}

	result.State = StatePersisting
	for _, np := range products {
		if err := ctx.Err(); err != nil {
			return result, fmt.Errorf("sync source %s: %w", source.ID, err)
		}
		o.persist(ctx, np, result)
	}

	result.State = StateDone
	o.logger.Info("Synced source %s: %d created, %d updated, %d frozen, %d failed, %d image failures",
		source.ID, result.Created, result.Updated, result.Frozen, result.Failed, result.ImageFailures)
	return result, nil
}

func (o *Orchestrator) persist(ctx context.Context, np NormalizedProduct, result *RunResult) {
	product, outcome, err := o.upserter.Upsert(ctx, np)
	if err != nil {
		result.Failed++
		metrics.RecordProduct("failed")
		o.fail(result, newProductError(np.PID, "upsert", err))
		return
	}
	metrics.RecordProduct(outcome.String())

	switch outcome {
	case OutcomeCreated:
		result.Created++
	case OutcomeUpdated:
		result.Updated++
	case OutcomeFrozen:
		result.Frozen++
		return
	}

	diff, err := o.reconciler.Reconcile(ctx, product.ID, np.Images)
	if err != nil {
		result.ImageFailures++
		metrics.RecordProduct("images_failed")
		o.fail(result, newProductError(np.PID, "images", err))
		return
	}
	result.ImagesAdded += len(diff.Add)
	result.ImagesRemoved += len(diff.Remove)
}

func (o *Orchestrator) fail(result *RunResult, perr *ProductError) {
	o.logger.Error("Failed to persist %v", perr)
	result.Failures = append(result.Failures, perr)
}
