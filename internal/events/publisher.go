package events

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"

	"catalogsync/internal/catalog"
	"catalogsync/internal/logger"
	"catalogsync/internal/models"
	"catalogsync/internal/scheduler"
)

// MessageWriter is the part of *kafka.Writer the publisher needs.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// Publisher sends events to the event topic. It doubles as the scheduler's
// progress reporter and run listener.
type Publisher struct {
	writer MessageWriter
	logger *logger.Logger
}

func NewKafkaPublisher(brokers []string, topic string, logger *logger.Logger) *Publisher {
	return NewPublisher(&kafka.Writer{
		Addr:                   kafka.TCP(brokers...),
		Topic:                  topic,
		Balancer:               &kafka.Hash{},
		BatchTimeout:           50 * time.Millisecond,
		RequiredAcks:           kafka.RequireOne,
		AllowAutoTopicCreation: true,
	}, logger)
}

func NewPublisher(w MessageWriter, logger *logger.Logger) *Publisher {
	return &Publisher{writer: w, logger: logger}
}

func (p *Publisher) Publish(ctx context.Context, events ...Event) error {
	msgs := make([]kafka.Message, 0, len(events))
	for _, e := range events {
		if e.Timestamp.IsZero() {
			e.Timestamp = time.Now().UTC()
		}
		value, err := e.Encode()
		if err != nil {
			return fmt.Errorf("failed to encode %s event: %w", e.Type, err)
		}
		msgs = append(msgs, kafka.Message{Key: []byte(e.Key()), Value: value})
	}
	if err := p.writer.WriteMessages(ctx, msgs...); err != nil {
		return fmt.Errorf("failed to publish events: %w", err)
	}
	return nil
}

// Report publishes sweep progress.
func (p *Publisher) Report(ctx context.Context, pr scheduler.Progress) error {
	data := map[string]interface{}{
		"status":    string(pr.Status),
		"processed": pr.Processed,
		"total":     pr.Total,
	}
	if pr.State != "" {
		data["state"] = pr.State
	}
	if pr.Error != "" {
		data["error"] = pr.Error
	}
	return p.Publish(ctx, Event{
		Type:      TypeSweepProgress,
		SweepID:   pr.SweepID,
		SourceID:  pr.SourceID,
		Data:      data,
		Timestamp: pr.UpdatedAt,
	})
}

// RunFinished publishes the outcome of a source run.
func (p *Publisher) RunFinished(ctx context.Context, source *models.FeedSource, result *catalog.RunResult, err error) {
	event := Event{SourceID: source.ID, Data: map[string]interface{}{"company_id": source.CompanyID}}
	switch {
	case err != nil:
		event.Type = TypeSyncFailed
		event.Data["error"] = err.Error()
		event.Data["structural"] = isStructural(err)
	case result != nil && result.State == catalog.StateInvalidated:
		event.Type = TypeSourceInvalidated
		event.Data["url"] = source.URL
	default:
		event.Type = TypeSyncCompleted
	}
	if result != nil {
		event.Data["state"] = string(result.State)
		event.Data["created"] = result.Created
		event.Data["updated"] = result.Updated
		event.Data["frozen"] = result.Frozen
		event.Data["failed"] = result.Failed
		event.Data["image_failures"] = result.ImageFailures
	}
	if perr := p.Publish(ctx, event); perr != nil {
		p.logger.Warn("Failed to publish %s for source %s: %v", event.Type, source.ID, perr)
	}
}

// isStructural reports feed errors that retrying will not fix.
func isStructural(err error) bool {
	var fieldErr *catalog.FieldError
	return errors.Is(err, catalog.ErrMissingID) || errors.As(err, &fieldErr)
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
