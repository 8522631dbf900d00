// Package store persists documents, suggestions and history entries.
package store

import (
	"context"
	"time"

	"github.com/af-corp/inkwell/internal/types"
)

// Store is the persistence boundary of the suggestion lifecycle. Lookups of
// missing rows fail with an error wrapping types.ErrNotFound.
type Store interface {
	CreateDocument(ctx context.Context, doc *types.Document) error
	GetDocument(ctx context.Context, id string) (*types.Document, error)
	// DeleteDocument removes the document with its suggestions and history.
	DeleteDocument(ctx context.Context, id string) error

	CreateSuggestion(ctx context.Context, s *types.Suggestion) error
	GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error)
	// ListSuggestions returns a document's suggestions, newest first. An empty
	// status lists all of them.
	ListSuggestions(ctx context.Context, documentID string, status types.SuggestionStatus) ([]*types.Suggestion, error)

	GetHistoryEntry(ctx context.Context, id string) (*types.HistoryEntry, error)
	// ListHistory returns a document's entries in sequence order.
	ListHistory(ctx context.Context, documentID string, f types.HistoryFilter) ([]*types.HistoryEntry, error)

	// InDocumentTx runs fn while holding an exclusive lock on the document.
	// Writes made through tx become visible together when fn returns nil and
	// are discarded otherwise.
	InDocumentTx(ctx context.Context, documentID string, fn func(tx Tx) error) error
}

// Tx is the write surface available inside InDocumentTx.
type Tx interface {
	// Document is the locked document as of the start of the transaction.
	Document() *types.Document
	UpdateDocumentContent(ctx context.Context, content string, at time.Time) error
	// TransitionSuggestion moves a pending suggestion of this document to the
	// given status. It fails with types.ErrAlreadyProcessed when the
	// suggestion is no longer pending.
	TransitionSuggestion(ctx context.Context, id string, to types.SuggestionStatus, at time.Time) error
	// LastSequence is the highest history sequence of the document, 0 if none.
	LastSequence(ctx context.Context) (int64, error)
	InsertHistory(ctx context.Context, e *types.HistoryEntry) error
}

func matchesFilter(e *types.HistoryEntry, f types.HistoryFilter) bool {
	if f.ChangeKind != "" && e.ChangeKind != f.ChangeKind {
		return false
	}
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if !f.Since.IsZero() && e.CreatedAt.Before(f.Since) {
		return false
	}
	return true
}

func copyDocument(d *types.Document) *types.Document {
	out := *d
	out.Editors = append([]string(nil), d.Editors...)
	return &out
}

func copySuggestion(s *types.Suggestion) *types.Suggestion {
	out := *s
	if s.Metadata != nil {
		out.Metadata = make(map[string]any, len(s.Metadata))
		for k, v := range s.Metadata {
			out.Metadata[k] = v
		}
	}
	if s.Confidence != nil {
		c := *s.Confidence
		out.Confidence = &c
	}
	if s.ProcessedAt != nil {
		p := *s.ProcessedAt
		out.ProcessedAt = &p
	}
	return &out
}

func copyHistory(e *types.HistoryEntry) *types.HistoryEntry {
	out := *e
	if e.SuggestionID != nil {
		id := *e.SuggestionID
		out.SuggestionID = &id
	}
	return &out
}
