// Package suggestion owns the pending → accepted | rejected lifecycle of AI
// suggestions and applies accepted ones to their document.
package suggestion

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/events"
	"github.com/af-corp/inkwell/internal/history"
	"github.com/af-corp/inkwell/internal/policy"
	"github.com/af-corp/inkwell/internal/store"
	"github.com/af-corp/inkwell/internal/telemetry"
	"github.com/af-corp/inkwell/internal/types"
)

type Manager struct {
	store   store.Store
	history *history.Engine
	policy  policy.Checker
	clock   clock.Clock
	events  events.Publisher
	metrics *telemetry.Metrics
}

// Option customises a Manager.
type Option func(*Manager)

func WithClock(c clock.Clock) Option { return func(m *Manager) { m.clock = c } }
func WithEvents(p events.Publisher) Option { return func(m *Manager) { m.events = p } }
func WithMetrics(mt *telemetry.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

func NewManager(s store.Store, h *history.Engine, checker policy.Checker, opts ...Option) *Manager {
	m := &Manager{store: s, history: h, policy: checker, clock: clock.System{}, events: events.Nop{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// CreateInput carries a provider result and the document it targets.
type CreateInput struct {
	DocumentID string
	WorkflowID string
	AuthorID   string
	// OriginalContent is the text the suggestion replaces. Empty means the
	// suggestion is new text for the document.
	OriginalContent string
	Result          *types.ProviderResult
	// Kind defaults to generation for an empty original and improvement
	// otherwise.
	Kind       types.SuggestionKind
	Confidence *float64
	Metadata   map[string]any
}

func (in CreateInput) validate() error {
	if in.DocumentID == "" {
		return &types.InvalidParameterError{Field: "document_id", Reason: "must not be empty"}
	}
	if in.Result == nil || in.Result.Content == "" {
		return &types.InvalidParameterError{Field: "suggested_content", Reason: "must not be empty"}
	}
	if in.Kind != "" && !in.Kind.Valid() {
		return &types.InvalidParameterError{Field: "kind", Reason: fmt.Sprintf("unknown suggestion kind %q", in.Kind)}
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return &types.InvalidParameterError{Field: "confidence", Reason: "must be between 0 and 1"}
	}
	return nil
}

// Create stores a new pending suggestion for an existing document.
func (m *Manager) Create(ctx context.Context, in CreateInput) (*types.Suggestion, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	if _, err := m.store.GetDocument(ctx, in.DocumentID); err != nil {
		return nil, err
	}

	kind := in.Kind
	if kind == "" {
		kind = types.KindImprovement
		if in.OriginalContent == "" {
			kind = types.KindGeneration
		}
	}

	metadata := make(map[string]any, len(in.Result.RawMetadata)+len(in.Metadata)+2)
	for k, v := range in.Result.RawMetadata {
		metadata[k] = v
	}
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	if in.Result.Model != "" {
		metadata["model"] = in.Result.Model
	}
	if in.Result.ProviderID != "" {
		metadata["provider"] = in.Result.ProviderID
	}

	s := &types.Suggestion{
		ID:               uuid.NewString(),
		DocumentID:       in.DocumentID,
		WorkflowID:       in.WorkflowID,
		AuthorID:         in.AuthorID,
		OriginalContent:  in.OriginalContent,
		SuggestedContent: in.Result.Content,
		Kind:             kind,
		Status:           types.StatusPending,
		Confidence:       in.Confidence,
		Metadata:         metadata,
		TokensUsed:       in.Result.Usage.Total,
		CreatedAt:        m.clock.Now(),
	}
	if err := m.store.CreateSuggestion(ctx, s); err != nil {
		return nil, err
	}

	m.metrics.RecordSuggestion(string(s.Kind), string(s.Status))
	m.events.Publish(ctx, events.Event{
		Type:         events.SuggestionCreated,
		DocumentID:   s.DocumentID,
		SuggestionID: s.ID,
		ActorID:      s.AuthorID,
		At:           s.CreatedAt,
		Data:         map[string]any{"kind": string(s.Kind), "workflow_id": s.WorkflowID},
	})
	return s, nil
}

func (m *Manager) Get(ctx context.Context, id string) (*types.Suggestion, error) {
	return m.store.GetSuggestion(ctx, id)
}

// List returns a document's suggestions, newest first. An empty status lists
// all of them.
func (m *Manager) List(ctx context.Context, documentID string, status types.SuggestionStatus) ([]*types.Suggestion, error) {
	switch status {
	case "", types.StatusPending, types.StatusAccepted, types.StatusRejected:
	default:
		return nil, &types.InvalidParameterError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	if _, err := m.store.GetDocument(ctx, documentID); err != nil {
		return nil, err
	}
	out, err := m.store.ListSuggestions(ctx, documentID, status)
	if err != nil {
		return nil, err
	}
	if out == nil {
		out = []*types.Suggestion{}
	}
	return out, nil
}

// Outcome is the committed result of accepting or rejecting a suggestion.
type Outcome struct {
	Suggestion *types.Suggestion   `json:"suggestion"`
	Document   *types.Document     `json:"document"`
	Entry      *types.HistoryEntry `json:"history_entry"`
}

// Accept applies a pending suggestion to its document. The document write,
// the history entry and the status change commit together or not at all.
func (m *Manager) Accept(ctx context.Context, id string, actor types.Actor) (*Outcome, error) {
	return m.process(ctx, id, actor, types.StatusAccepted)
}

// Reject closes a pending suggestion without touching the document content.
// The rejection is still recorded in the history.
func (m *Manager) Reject(ctx context.Context, id string, actor types.Actor) (*Outcome, error) {
	return m.process(ctx, id, actor, types.StatusRejected)
}

func (m *Manager) process(ctx context.Context, id string, actor types.Actor, to types.SuggestionStatus) (*Outcome, error) {
	s, err := m.store.GetSuggestion(ctx, id)
	if err != nil {
		return nil, err
	}
	doc, err := m.store.GetDocument(ctx, s.DocumentID)
	if err != nil {
		return nil, err
	}
	if err := m.authorize(ctx, actor, doc); err != nil {
		return nil, err
	}
	if s.Status != types.StatusPending {
		return nil, fmt.Errorf("suggestion %s is %s: %w", s.ID, s.Status, types.ErrAlreadyProcessed)
	}

	var out Outcome
	err = m.store.InDocumentTx(ctx, s.DocumentID, func(tx store.Tx) error {
		now := m.clock.Now()
		current := tx.Document()

		after := current.Content
		kind := types.ChangeAIRejected
		if to == types.StatusAccepted {
			merged, err := Merge(current.Content, s.OriginalContent, s.SuggestedContent)
			if err != nil {
				return fmt.Errorf("accept suggestion %s: %w", s.ID, err)
			}
			after = merged
			kind = changeKindFor(s.Kind)
		}

		if err := tx.TransitionSuggestion(ctx, s.ID, to, now); err != nil {
			return err
		}
		if after != current.Content {
			if err := tx.UpdateDocumentContent(ctx, after, now); err != nil {
				return err
			}
		}
		suggestionID := s.ID
		entry, err := m.history.Append(ctx, tx, history.AppendInput{
			Before:       current.Content,
			After:        after,
			ChangeKind:   kind,
			ActorID:      actor.ID,
			SuggestionID: &suggestionID,
			TokensUsed:   s.TokensUsed,
		})
		if err != nil {
			return err
		}

		s.Status = to
		s.ProcessedAt = &now
		out = Outcome{Suggestion: s, Document: tx.Document(), Entry: entry}
		return nil
	})
	if err != nil {
		if errors.Is(err, types.ErrStaleSuggestion) {
			slog.Warn("stale suggestion not applied", "suggestion_id", s.ID, "document_id", s.DocumentID, "actor", actor.ID)
		}
		return nil, err
	}

	eventType := events.SuggestionRejected
	if to == types.StatusAccepted {
		eventType = events.SuggestionAccepted
	}
	slog.Info("suggestion processed",
		"suggestion_id", s.ID,
		"document_id", s.DocumentID,
		"status", to,
		"sequence", out.Entry.Sequence,
		"actor", actor.ID,
	)
	m.metrics.RecordSuggestion(string(s.Kind), string(to))
	m.events.Publish(ctx, events.Event{
		Type:           eventType,
		DocumentID:     s.DocumentID,
		SuggestionID:   s.ID,
		HistoryEntryID: out.Entry.ID,
		ActorID:        actor.ID,
		At:             *s.ProcessedAt,
		Data:           map[string]any{"kind": string(s.Kind), "sequence": out.Entry.Sequence},
	})
	return &out, nil
}

func (m *Manager) authorize(ctx context.Context, actor types.Actor, doc *types.Document) error {
	ok, err := m.policy.CanEdit(ctx, actor, doc)
	if err != nil {
		return fmt.Errorf("check edit permission: %w", err)
	}
	if !ok {
		return fmt.Errorf("actor %s may not edit document %s: %w", actor.ID, doc.ID, types.ErrForbidden)
	}
	return nil
}
