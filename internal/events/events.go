// Package events publishes index lifecycle events.
//
// Events are published to subjects of the form:
//   - <prefix>.index.started
//   - <prefix>.index.file
//   - <prefix>.index.completed
//   - <prefix>.index.deleted
//   - <prefix>.conclusions.extracted
//
// Payloads are JSON-encoded Event values. Publishing is best effort: callers
// log failures and carry on.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Type names an event.
type Type string

const (
	IndexStarted         Type = "index.started"
	IndexFile            Type = "index.file"
	IndexCompleted       Type = "index.completed"
	IndexDeleted         Type = "index.deleted"
	ConclusionsExtracted Type = "conclusions.extracted"
)

// Event is one published message.
type Event struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	VaultPath string         `json:"vault_path,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	Data      map[string]any `json:"data,omitempty"`
}

// New creates an event with a fresh ID and the current time.
func New(t Type, vaultPath string, data map[string]any) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		VaultPath: vaultPath,
		Timestamp: time.Now().UTC(),
		Data:      data,
	}
}

// Publisher delivers events.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
	Close() error
}

// NopPublisher drops every event.
type NopPublisher struct{}

func (NopPublisher) Publish(context.Context, Event) error { return nil }
func (NopPublisher) Close() error                         { return nil }

var _ Publisher = NopPublisher{}
