package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"catalogsync/internal/app"
	"catalogsync/internal/config"
	"catalogsync/internal/logger"
	"catalogsync/internal/worker"
	"catalogsync/internal/worker/processors"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration:", err)
	}

	// Initialize logger
	logger := logger.New(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	engine, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to initialize: %v", err)
	}

	// Consume sync requests when Kafka is configured
	var w *worker.Worker
	if len(cfg.KafkaBrokers) > 0 {
		processor := processors.NewEventProcessor(engine.Scheduler, logger.WithPrefix("[worker]"))
		w = worker.New(cfg, logger, processor)
		logger.Info("Starting worker...")
		go w.Start(ctx)
	} else {
		logger.Warn("KAFKA_BROKERS not set, only periodic sweeps will run")
	}

	// Periodic sweeps until interrupted
	periodicDone := make(chan struct{})
	go func() {
		defer close(periodicDone)
		if err := engine.Scheduler.RunPeriodic(ctx, cfg.SweepInterval); err != nil && ctx.Err() == nil {
			logger.Error("Periodic sweeps stopped: %v", err)
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down worker...")
	if w != nil {
		w.Stop()
	}
	<-periodicDone
	if err := engine.Close(); err != nil {
		logger.Error("Failed to release resources: %v", err)
	}
}
