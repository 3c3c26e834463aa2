package processors

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"catalogsync/internal/catalog"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/scheduler"
)

// ErrUnknownEvent is returned for event types the worker does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

// Syncer is the part of the scheduler driven by requests.
type Syncer interface {
	SyncSource(ctx context.Context, sourceID string) (*catalog.RunResult, error)
	Sweep(ctx context.Context, sweepID string) (*scheduler.SweepReport, error)
}

type EventProcessor struct {
	syncer Syncer
	logger *logger.Logger
}

func NewEventProcessor(syncer Syncer, logger *logger.Logger) *EventProcessor {
	return &EventProcessor{
		syncer: syncer,
		logger: logger,
	}
}

// Process handles one request event:
//   - feed.sync.requested syncs the source named by source_id
//   - feed.sweep.requested sweeps every healthy source
func (ep *EventProcessor) Process(ctx context.Context, event events.Event) error {
	ep.logger.Debug("Processing event: %+v", event)

	switch event.Type {
	case events.TypeSyncRequested:
		if event.SourceID == "" {
			return fmt.Errorf("%s event without source_id", event.Type)
		}
		result, err := ep.syncer.SyncSource(ctx, event.SourceID)
		if err != nil {
			return err
		}
		ep.logger.Info("Source %s synced: %s", event.SourceID, result.State)
		return nil

	case events.TypeSweepRequested:
		if event.SweepID == "" {
			event.SweepID = uuid.NewString()
		}
		report, err := ep.syncer.Sweep(ctx, event.SweepID)
		if errors.Is(err, scheduler.ErrSweepRunning) {
			ep.logger.Warn("Ignoring sweep request %s: %v", event.SweepID, err)
			return nil
		}
		if err != nil {
			return err
		}
		ep.logger.Info("Sweep %s processed %d/%d sources", report.SweepID, report.Processed, report.Total)
		return nil

	default:
		return fmt.Errorf("%w: %s", ErrUnknownEvent, event.Type)
	}
}
