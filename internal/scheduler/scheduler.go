// Package scheduler runs feed source syncs one at a time or as sweeps over
// every healthy source.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/store"
)

// ErrSweepRunning is returned when a sweep is requested while one is in flight.
var ErrSweepRunning = errors.New("a sweep is already running")

// Runner syncs a single feed source.
type Runner interface {
	Run(ctx context.Context, source *models.FeedSource) (*catalog.RunResult, error)
}

// RunListener is told about every finished source run.
type RunListener interface {
	RunFinished(ctx context.Context, source *models.FeedSource, result *catalog.RunResult, err error)
}

type Options struct {
	// Workers bounds the number of sources synced in parallel by a sweep.
	Workers  int
	Progress ProgressReporter
	Listener RunListener
}

// SweepReport summarizes a finished sweep.
type SweepReport struct {
	SweepID     string               `json:"sweep_id"`
	Status      SweepStatus          `json:"status"`
	Total       int                  `json:"total"`
	Processed   int                  `json:"processed"`
	Succeeded   int                  `json:"succeeded"`
	Invalidated int                  `json:"invalidated"`
	Failed      int                  `json:"failed"`
	Results     []*catalog.RunResult `json:"results"`
	Errors      map[string]string    `json:"errors,omitempty"`
	StartedAt   time.Time            `json:"started_at"`
	Duration    time.Duration        `json:"duration"`
}

type Scheduler struct {
	store    *store.Store
	runner   Runner
	logger   *logger.Logger
	workers  int
	progress ProgressReporter
	listener RunListener

	syncs    singleflight.Group
	sweeping atomic.Bool
	wg       sync.WaitGroup
}

func New(s *store.Store, runner Runner, logger *logger.Logger, opts Options) *Scheduler {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	progress := opts.Progress
	if progress == nil {
		progress = NewLogReporter(logger)
	}
	return &Scheduler{
		store:    s,
		runner:   runner,
		logger:   logger,
		workers:  opts.Workers,
		progress: progress,
		listener: opts.Listener,
	}
}

// SyncSource runs one source synchronously, whatever its health. Concurrent
// calls for the same source share a single run and its result.
func (s *Scheduler) SyncSource(ctx context.Context, sourceID string) (*catalog.RunResult, error) {
	// The shared run must not die with whichever caller started it.
	runCtx := context.WithoutCancel(ctx)
	v, err, shared := s.syncs.Do(sourceID, func() (interface{}, error) {
		source, err := s.store.FeedSources.Get(runCtx, sourceID)
		if err != nil {
			return nil, fmt.Errorf("feed source %s: %w", sourceID, err)
		}
		return s.runSource(runCtx, source)
	})
	if shared {
		s.logger.Debug("Joined in-flight sync of source %s", sourceID)
	}
	result, _ := v.(*catalog.RunResult)
	return result, err
}

// Sweep syncs every healthy source on the worker pool and blocks until all
// are processed. A failing source is recorded and does not stop the others;
// only a failure to list the sources aborts the sweep.
func (s *Scheduler) Sweep(ctx context.Context, sweepID string) (*SweepReport, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return nil, ErrSweepRunning
	}
	defer s.sweeping.Store(false)
	return s.sweep(ctx, sweepID)
}

// StartSweep launches a sweep in the background and returns its id, under
// which progress is reported.
func (s *Scheduler) StartSweep(ctx context.Context) (string, error) {
	if !s.sweeping.CompareAndSwap(false, true) {
		return "", ErrSweepRunning
	}
	sweepID := uuid.NewString()
	bg := context.WithoutCancel(ctx)
	s.report(bg, Progress{SweepID: sweepID, Status: SweepRunning})

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer s.sweeping.Store(false)
		if _, err := s.sweep(bg, sweepID); err != nil {
			s.logger.Error("Sweep %s failed: %v", sweepID, err)
		}
	}()
	return sweepID, nil
}

// Running reports whether a sweep is in flight.
func (s *Scheduler) Running() bool {
	return s.sweeping.Load()
}

// Wait blocks until sweeps started with StartSweep have finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// RunPeriodic sweeps every interval until ctx is cancelled. Ticks that find
// a sweep still running are skipped.
func (s *Scheduler) RunPeriodic(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		return fmt.Errorf("invalid sweep interval %s", interval)
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.logger.Info("Periodic sweeps every %s", interval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			report, err := s.Sweep(ctx, uuid.NewString())
			if errors.Is(err, ErrSweepRunning) {
				s.logger.Warn("Skipping periodic sweep: %v", err)
				continue
			}
			if err != nil {
				s.logger.Error("Periodic sweep failed: %v", err)
				continue
			}
			s.logger.Info("Periodic sweep %s done: %d/%d sources, %d failed, %d invalidated",
				report.SweepID, report.Processed, report.Total, report.Failed, report.Invalidated)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context, sweepID string) (*SweepReport, error) {
	report := &SweepReport{
		SweepID:   sweepID,
		Status:    SweepRunning,
		Errors:    make(map[string]string),
		StartedAt: time.Now(),
	}
	reportCtx := context.WithoutCancel(ctx)

	sources, err := s.store.FeedSources.ListValid(ctx)
	if err != nil {
		report.Status = SweepFailed
		s.report(reportCtx, Progress{SweepID: sweepID, Status: SweepFailed, Error: err.Error()})
		return nil, fmt.Errorf("sweep %s: %w", sweepID, err)
	}
	report.Total = len(sources)
	s.logger.Info("Sweep %s started over %d source(s)", sweepID, report.Total)
	s.report(reportCtx, Progress{SweepID: sweepID, Status: SweepRunning, Total: report.Total})

	// One goroutine delivers per-source reports in order, outside the lock.
	updates := make(chan Progress, len(sources))
	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		for p := range updates {
			s.report(reportCtx, p)
		}
	}()

	var (
		mu sync.Mutex
		g  errgroup.Group
	)
	g.SetLimit(s.workers)
	for i := range sources {
		source := &sources[i]
		g.Go(func() error {
			result, err := s.runSource(ctx, source)

			mu.Lock()
			defer mu.Unlock()
			report.Processed++
			p := Progress{
				SweepID:   sweepID,
				Status:    SweepRunning,
				Processed: report.Processed,
				Total:     report.Total,
				SourceID:  source.ID,
			}
			if result != nil {
				report.Results = append(report.Results, result)
				p.State = string(result.State)
			}
			switch {
			case err != nil:
				report.Failed++
				report.Errors[source.ID] = err.Error()
				p.Error = err.Error()
			case result != nil && result.State == catalog.StateInvalidated:
				report.Invalidated++
			default:
				report.Succeeded++
			}
			updates <- p
			return nil
		})
	}
	g.Wait()
	close(updates)
	<-delivered

	report.Status = SweepCompleted
	if ctx.Err() != nil {
		report.Status = SweepFailed
	}
	report.Duration = time.Since(report.StartedAt)
	s.report(reportCtx, Progress{
		SweepID:   sweepID,
		Status:    report.Status,
		Processed: report.Processed,
		Total:     report.Total,
	})
	return report, nil
}

// runSource runs one source and turns a panic into an error.
func (s *Scheduler) runSource(ctx context.Context, source *models.FeedSource) (result *catalog.RunResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("sync of source %s panicked: %v", source.ID, r)
			s.logger.Error("%v", err)
		}
		if s.listener != nil {
			s.listener.RunFinished(context.WithoutCancel(ctx), source, result, err)
		}
	}()
	return s.runner.Run(ctx, source)
}

func (s *Scheduler) report(ctx context.Context, p Progress) {
	p.UpdatedAt = time.Now()
	if err := s.progress.Report(ctx, p); err != nil {
		s.logger.Warn("Failed to report progress of sweep %s: %v", p.SweepID, err)
	}
}
