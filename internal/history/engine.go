// Package history records every change to a document as an append-only,
// per-document sequence of entries.
package history

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/google/uuid"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/events"
	"github.com/af-corp/inkwell/internal/policy"
	"github.com/af-corp/inkwell/internal/store"
	"github.com/af-corp/inkwell/internal/telemetry"
	"github.com/af-corp/inkwell/internal/types"
)

type Engine struct {
	store   store.Store
	policy  policy.Checker
	clock   clock.Clock
	events  events.Publisher
	metrics *telemetry.Metrics
}

// Option customises an Engine.
type Option func(*Engine)

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = c } }
func WithEvents(p events.Publisher) Option { return func(e *Engine) { e.events = p } }
func WithMetrics(m *telemetry.Metrics) Option { return func(e *Engine) { e.metrics = m } }

func NewEngine(s store.Store, checker policy.Checker, opts ...Option) *Engine {
	e := &Engine{store: s, policy: checker, clock: clock.System{}, events: events.Nop{}}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// AppendInput describes one change to record.
type AppendInput struct {
	Before       string
	After        string
	ChangeKind   types.ChangeKind
	ActorID      string
	SuggestionID *string
	TokensUsed   int
}

// Append records a change inside tx. The caller holds the document lock, so
// the sequence it assigns is the next one with no gaps.
func (e *Engine) Append(ctx context.Context, tx store.Tx, in AppendInput) (*types.HistoryEntry, error) {
	if !in.ChangeKind.Valid() {
		return nil, &types.InvalidParameterError{Field: "change_kind", Reason: fmt.Sprintf("unknown change kind %q", in.ChangeKind)}
	}
	last, err := tx.LastSequence(ctx)
	if err != nil {
		return nil, err
	}
	entry := &types.HistoryEntry{
		ID:            uuid.NewString(),
		DocumentID:    tx.Document().ID,
		SuggestionID:  in.SuggestionID,
		ActorID:       in.ActorID,
		ContentBefore: in.Before,
		ContentAfter:  in.After,
		ChangeKind:    in.ChangeKind,
		Sequence:      last + 1,
		TokensUsed:    in.TokensUsed,
		Diff:          Summarize(in.Before, in.After),
		CreatedAt:     e.clock.Now(),
	}
	if err := tx.InsertHistory(ctx, entry); err != nil {
		return nil, err
	}
	e.metrics.RecordHistoryAppend(string(entry.ChangeKind))
	return entry, nil
}

func (e *Engine) Get(ctx context.Context, entryID string) (*types.HistoryEntry, error) {
	return e.store.GetHistoryEntry(ctx, entryID)
}

// List returns a document's entries in sequence order.
func (e *Engine) List(ctx context.Context, documentID string, f types.HistoryFilter) ([]*types.HistoryEntry, error) {
	if f.Limit < 0 || f.Offset < 0 {
		return nil, &types.InvalidParameterError{Field: "limit", Reason: "limit and offset must not be negative"}
	}
	if f.ChangeKind != "" && !f.ChangeKind.Valid() {
		return nil, &types.InvalidParameterError{Field: "change_kind", Reason: fmt.Sprintf("unknown change kind %q", f.ChangeKind)}
	}
	if _, err := e.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	entries, err := e.store.ListHistory(ctx, documentID, f)
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []*types.HistoryEntry{}
	}
	return entries, nil
}

// Statistics aggregates a document's whole history.
func (e *Engine) Statistics(ctx context.Context, documentID string) (*types.HistoryStats, error) {
	entries, err := e.List(ctx, documentID, types.HistoryFilter{})
	if err != nil {
		return nil, err
	}

	stats := &types.HistoryStats{
		DocumentID:   documentID,
		ByChangeKind: make(map[types.ChangeKind]int),
		Contributors: []string{},
	}
	seen := make(map[string]bool)
	for _, entry := range entries {
		stats.TotalChanges++
		stats.TotalTokens += entry.TokensUsed
		stats.ByChangeKind[entry.ChangeKind]++
		if !seen[entry.ActorID] {
			seen[entry.ActorID] = true
			stats.Contributors = append(stats.Contributors, entry.ActorID)
		}
		at := entry.CreatedAt
		if stats.FirstChangeAt == nil || at.Before(*stats.FirstChangeAt) {
			stats.FirstChangeAt = &at
		}
		if stats.LastChangeAt == nil || at.After(*stats.LastChangeAt) {
			stats.LastChangeAt = &at
		}
	}
	sort.Strings(stats.Contributors)
	return stats, nil
}

// Revert restores the content a history entry started from and records the
// revert as a new manual_revert entry. Earlier entries are never modified.
func (e *Engine) Revert(ctx context.Context, entryID string, actor types.Actor) (*types.HistoryEntry, error) {
	target, err := e.store.GetHistoryEntry(ctx, entryID)
	if err != nil {
		return nil, err
	}

	var created *types.HistoryEntry
	err = e.store.InDocumentTx(ctx, target.DocumentID, func(tx store.Tx) error {
		doc := tx.Document()
		ok, err := e.policy.CanEdit(ctx, actor, doc)
		if err != nil {
			return fmt.Errorf("check edit permission: %w", err)
		}
		if !ok {
			return fmt.Errorf("actor %s may not edit document %s: %w", actor.ID, doc.ID, types.ErrForbidden)
		}

		now := e.clock.Now()
		if err := tx.UpdateDocumentContent(ctx, target.ContentBefore, now); err != nil {
			return err
		}
		created, err = e.Append(ctx, tx, AppendInput{
			Before:     doc.Content,
			After:      target.ContentBefore,
			ChangeKind: types.ChangeManualRevert,
			ActorID:    actor.ID,
		})
		return err
	})
	if err != nil {
		return nil, err
	}

	slog.Info("document reverted",
		"document_id", created.DocumentID,
		"reverted_entry", target.ID,
		"sequence", created.Sequence,
		"actor", actor.ID,
	)
	e.events.Publish(ctx, events.Event{
		Type:           events.DocumentReverted,
		DocumentID:     created.DocumentID,
		HistoryEntryID: created.ID,
		ActorID:        actor.ID,
		At:             created.CreatedAt,
		Data:           map[string]any{"reverted_entry_id": target.ID, "sequence": created.Sequence},
	})
	return created, nil
}
