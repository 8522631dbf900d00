// Package service exposes the operations of the inkwell core behind one
// façade used by the HTTP gateway and the admin CLI.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/af-corp/inkwell/internal/cache"
	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/history"
	"github.com/af-corp/inkwell/internal/orchestrator"
	"github.com/af-corp/inkwell/internal/store"
	"github.com/af-corp/inkwell/internal/suggestion"
	"github.com/af-corp/inkwell/internal/types"
)

type Core struct {
	orchestrator *orchestrator.Orchestrator
	suggestions  *suggestion.Manager
	history      *history.Engine
	cache        *cache.Manager
	store        store.Store
	clock        clock.Clock
}

type Option func(*Core)

func WithClock(c clock.Clock) Option { return func(s *Core) { s.clock = c } }

func New(o *orchestrator.Orchestrator, sm *suggestion.Manager, h *history.Engine, c *cache.Manager, s store.Store, opts ...Option) *Core {
	core := &Core{
		orchestrator: o,
		suggestions:  sm,
		history:      h,
		cache:        c,
		store:        s,
		clock:        clock.System{},
	}
	for _, opt := range opts {
		opt(core)
	}
	return core
}

// GenerateOrImprove runs req on behalf of actor, whose id is the ledger subject.
func (c *Core) GenerateOrImprove(ctx context.Context, req *types.NormalizedRequest, actor types.Actor) (*types.ProviderResult, error) {
	return c.orchestrator.GenerateOrImprove(ctx, req, actor.ID)
}

func (c *Core) CreateSuggestion(ctx context.Context, in suggestion.CreateInput) (*types.Suggestion, error) {
	return c.suggestions.Create(ctx, in)
}

// SuggestInput asks the core to produce a suggestion for a document.
type SuggestInput struct {
	DocumentID string
	WorkflowID string
	Request    *types.NormalizedRequest
	// OriginalContent is the span the suggestion replaces. For improve requests
	// it defaults to the request content.
	OriginalContent string
	Confidence      *float64
}

// Suggest generates or improves content and stores the result as a pending
// suggestion authored by actor. Nothing is stored when generation fails.
func (c *Core) Suggest(ctx context.Context, in SuggestInput, actor types.Actor) (*types.Suggestion, error) {
	if in.Request == nil {
		return nil, &types.InvalidParameterError{Field: "request", Reason: "must not be empty"}
	}
	if _, err := c.store.GetDocument(ctx, in.DocumentID); err != nil {
		return nil, err
	}

	res, err := c.orchestrator.GenerateOrImprove(ctx, in.Request, actor.ID)
	if err != nil {
		return nil, err
	}

	original := in.OriginalContent
	if original == "" && in.Request.Operation == types.OpImprove {
		original = in.Request.Content
	}
	kind := types.KindGeneration
	if in.Request.Operation == types.OpImprove {
		kind = types.KindImprovement
	}
	return c.suggestions.Create(ctx, suggestion.CreateInput{
		DocumentID:      in.DocumentID,
		WorkflowID:      in.WorkflowID,
		AuthorID:        actor.ID,
		OriginalContent: original,
		Result:          res,
		Kind:            kind,
		Confidence:      in.Confidence,
		Metadata:        map[string]any{"operation": string(in.Request.Operation)},
	})
}

func (c *Core) GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error) {
	return c.suggestions.Get(ctx, id)
}

func (c *Core) ListSuggestions(ctx context.Context, documentID string, status types.SuggestionStatus) ([]*types.Suggestion, error) {
	return c.suggestions.List(ctx, documentID, status)
}

func (c *Core) AcceptSuggestion(ctx context.Context, id string, actor types.Actor) (*suggestion.Outcome, error) {
	return c.suggestions.Accept(ctx, id, actor)
}

func (c *Core) RejectSuggestion(ctx context.Context, id string, actor types.Actor) (*suggestion.Outcome, error) {
	return c.suggestions.Reject(ctx, id, actor)
}

func (c *Core) GetHistory(ctx context.Context, documentID string, f types.HistoryFilter) ([]*types.HistoryEntry, error) {
	return c.history.List(ctx, documentID, f)
}

func (c *Core) GetHistoryEntry(ctx context.Context, id string) (*types.HistoryEntry, error) {
	return c.history.Get(ctx, id)
}

func (c *Core) HistoryStatistics(ctx context.Context, documentID string) (*types.HistoryStats, error) {
	return c.history.Statistics(ctx, documentID)
}

func (c *Core) RevertHistory(ctx context.Context, entryID string, actor types.Actor) (*types.HistoryEntry, error) {
	return c.history.Revert(ctx, entryID, actor)
}

func (c *Core) CacheStats() cache.Stats {
	return c.cache.Stats()
}

// FlushCache empties the cache. It reports false when the backend failed.
func (c *Core) FlushCache(ctx context.Context) bool {
	slog.Info("flushing cache")
	return c.cache.Flush(ctx)
}

func (c *Core) DeleteCacheKey(ctx context.Context, key string) bool {
	return c.cache.Delete(ctx, key)
}

// NewDocument describes a document to create.
type NewDocument struct {
	Title   string
	Content string
	Editors []string
}

// CreateDocument stores a new document owned by actor.
func (c *Core) CreateDocument(ctx context.Context, in NewDocument, actor types.Actor) (*types.Document, error) {
	if strings.TrimSpace(in.Title) == "" {
		return nil, &types.InvalidParameterError{Field: "title", Reason: "must not be empty"}
	}
	if actor.ID == "" {
		return nil, &types.InvalidParameterError{Field: "owner_id", Reason: "must not be empty"}
	}
	doc := &types.Document{
		ID:        uuid.NewString(),
		Title:     in.Title,
		Content:   in.Content,
		OwnerID:   actor.ID,
		Editors:   in.Editors,
		UpdatedAt: c.clock.Now(),
	}
	if err := c.store.CreateDocument(ctx, doc); err != nil {
		return nil, fmt.Errorf("create document: %w", err)
	}
	slog.Info("document created", "document_id", doc.ID, "actor", actor.ID)
	return doc, nil
}

func (c *Core) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	return c.store.GetDocument(ctx, id)
}
