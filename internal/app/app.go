// Package app wires the catalog engine from configuration. Both binaries
// build on it.
package app

import (
	"context"
	"errors"
	"time"

	"catalogsync/internal/catalog"
	"catalogsync/internal/config"
	"catalogsync/internal/database"
	"catalogsync/internal/events"
	"catalogsync/internal/logger"
	"catalogsync/internal/scheduler"
	"catalogsync/internal/store"
)

// progressTTL is how long sweep progress stays readable in Redis.
const progressTTL = 24 * time.Hour

type App struct {
	DB        *database.Database
	Store     *store.Store
	Scheduler *scheduler.Scheduler
	Progress  scheduler.ProgressStore
	// Publisher is nil when no Kafka brokers are configured.
	Publisher *events.Publisher

	redis *scheduler.RedisProgress
}

func New(ctx context.Context, cfg *config.Config, log *logger.Logger) (*App, error) {
	db, err := database.New(cfg.DatabaseURL, cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	a := &App{DB: db, Store: store.New(db.DB)}

	if cfg.RedisURL != "" {
		a.redis, err = scheduler.NewRedisProgress(ctx, cfg.RedisURL, progressTTL)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Progress = a.redis
	} else {
		log.Warn("REDIS_URL not set, sweep progress is kept in memory")
		a.Progress = scheduler.NewMemoryProgress()
	}

	reporters := scheduler.MultiReporter{a.Progress, scheduler.NewLogReporter(log.WithPrefix("[sweep]"))}
	var listener scheduler.RunListener
	if len(cfg.KafkaBrokers) > 0 {
		a.Publisher = events.NewKafkaPublisher(cfg.KafkaBrokers, cfg.KafkaEventTopic, log.WithPrefix("[events]"))
		reporters = append(reporters, a.Publisher)
		listener = a.Publisher
	}

	fetcher := catalog.NewFetcher(catalog.FetcherConfig{
		Timeout:           cfg.FeedFetchTimeout,
		MaxAttempts:       cfg.FeedMaxAttempts,
		BaseDelay:         cfg.FeedRetryBaseDelay,
		MaxDelay:          cfg.FeedRetryMaxDelay,
		RequestsPerSecond: cfg.FeedFetchRPS,
	}, log.WithPrefix("[fetch]"))
	orchestrator := catalog.NewOrchestrator(fetcher, a.Store, log)

	a.Scheduler = scheduler.New(a.Store, orchestrator, log, scheduler.Options{
		Workers:  cfg.SweepWorkers,
		Progress: reporters,
		Listener: listener,
	})
	return a, nil
}

// Close waits for background sweeps and releases connections.
func (a *App) Close() error {
	if a.Scheduler != nil {
		a.Scheduler.Wait()
	}
	var errs []error
	if a.Publisher != nil {
		errs = append(errs, a.Publisher.Close())
	}
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, a.DB.Close())
	return errors.Join(errs...)
}
