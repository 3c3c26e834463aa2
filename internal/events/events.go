// Package events defines the Kafka messages that request syncs and announce
// their outcome.
package events

import (
	"encoding/json"
	"fmt"
	"time"
)

// Requests consumed by the worker.
const (
	TypeSyncRequested  = "feed.sync.requested"
	TypeSweepRequested = "feed.sweep.requested"
)

// Notifications published by the engine.
const (
	TypeSyncCompleted     = "feed.sync.completed"
	TypeSyncFailed        = "feed.sync.failed"
	TypeSourceInvalidated = "feed.source.invalidated"
	TypeSweepProgress     = "feed.sweep.progress"
)

type Event struct {
	Type      string                 `json:"type"`
	SourceID  string                 `json:"source_id,omitempty"`
	SweepID   string                 `json:"sweep_id,omitempty"`
	Data      map[string]interface{} `json:"data,omitempty"`
	Timestamp time.Time              `json:"timestamp"`
}

func NewSyncRequested(sourceID string) Event {
	return Event{Type: TypeSyncRequested, SourceID: sourceID, Timestamp: time.Now().UTC()}
}

func NewSweepRequested(sweepID string) Event {
	return Event{Type: TypeSweepRequested, SweepID: sweepID, Timestamp: time.Now().UTC()}
}

// Key partitions events so that those of one source (or sweep) stay ordered.
func (e Event) Key() string {
	if e.SourceID != "" {
		return e.SourceID
	}
	return e.SweepID
}

func (e Event) Encode() ([]byte, error) {
	return json.Marshal(e)
}

func Decode(data []byte) (Event, error) {
	var e Event
	if err := json.Unmarshal(data, &e); err != nil {
		return Event{}, fmt.Errorf("failed to parse event: %w", err)
	}
	if e.Type == "" {
		return Event{}, fmt.Errorf("failed to parse event: missing type")
	}
	return e, nil
}
