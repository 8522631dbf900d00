// Package events fans committed lifecycle changes out to subscribers.
package events

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

type Type string

const (
	SuggestionCreated   Type = "suggestion.created"
	SuggestionAccepted  Type = "suggestion.accepted"
	SuggestionRejected  Type = "suggestion.rejected"
	DocumentReverted    Type = "document.reverted"
	GenerationCompleted Type = "generation.completed"
)

// Event describes a change that has already been committed.
type Event struct {
	Type           Type           `json:"type"`
	DocumentID     string         `json:"document_id,omitempty"`
	SuggestionID   string         `json:"suggestion_id,omitempty"`
	HistoryEntryID string         `json:"history_entry_id,omitempty"`
	ActorID        string         `json:"actor_id,omitempty"`
	At             time.Time      `json:"at"`
	Data           map[string]any `json:"data,omitempty"`
}

// Publisher is what producers of events depend on.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Handler receives events. Errors are logged and do not stop delivery to
// other handlers.
type Handler func(ctx context.Context, e Event) error

type subscription struct {
	name string
	fn   Handler
}

// Bus delivers every published event to each subscriber in subscription
// order, synchronously.
type Bus struct {
	mu   sync.RWMutex
	subs []subscription
}

func NewBus() *Bus {
	return &Bus{}
}

func (b *Bus) Subscribe(name string, fn Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{name: name, fn: fn})
}

func (b *Bus) Publish(ctx context.Context, e Event) {
	b.mu.RLock()
	subs := append([]subscription(nil), b.subs...)
	b.mu.RUnlock()

	for _, s := range subs {
		deliver(ctx, s, e)
	}
}

func deliver(ctx context.Context, s subscription, e Event) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("event subscriber panicked", "subscriber", s.name, "event", e.Type, "panic", r)
		}
	}()
	if err := s.fn(ctx, e); err != nil {
		slog.Warn("event subscriber failed", "subscriber", s.name, "event", e.Type, "error", err)
	}
}

// Nop discards events.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}

// LogHandler writes each event as a structured log line.
func LogHandler(logger *slog.Logger) Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(ctx context.Context, e Event) error {
		logger.InfoContext(ctx, "event",
			"type", e.Type,
			"document_id", e.DocumentID,
			"suggestion_id", e.SuggestionID,
			"history_entry_id", e.HistoryEntryID,
			"actor", e.ActorID,
		)
		return nil
	}
}
