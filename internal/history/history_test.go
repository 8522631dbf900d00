package history

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/events"
	"github.com/af-corp/inkwell/internal/policy"
	"github.com/af-corp/inkwell/internal/store"
	"github.com/af-corp/inkwell/internal/types"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(_ context.Context, e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func setup(t *testing.T, content string, checker policy.Checker) (*Engine, store.Store, *clock.Fake, *recorder, string) {
	t.Helper()
	s := store.NewMemory()
	doc := &types.Document{ID: "doc-1", Content: content, OwnerID: "alice", UpdatedAt: t0}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	clk := clock.NewFake(t0)
	rec := &recorder{}
	return NewEngine(s, checker, WithClock(clk), WithEvents(rec)), s, clk, rec, doc.ID
}

func appendChange(t *testing.T, e *Engine, s store.Store, docID string, in AppendInput) *types.HistoryEntry {
	t.Helper()
	var entry *types.HistoryEntry
	err := s.InDocumentTx(context.Background(), docID, func(tx store.Tx) error {
		if err := tx.UpdateDocumentContent(context.Background(), in.After, t0); err != nil {
			return err
		}
		var err error
		entry, err = e.Append(context.Background(), tx, in)
		return err
	})
	require.NoError(t, err)
	return entry
}

func TestSummarize(t *testing.T) {
	tests := []struct {
		name          string
		before, after string
		want          types.DiffSummary
	}{
		{"both empty", "", "", types.DiffSummary{Similarity: 1}},
		{"from empty", "", "Hello world", types.DiffSummary{WordsAfter: 2, WordDelta: 2, CharDelta: 11}},
		{"identical", "a b c", "a b c", types.DiffSummary{WordsBefore: 3, WordsAfter: 3, Similarity: 1}},
		{"case insensitive", "Hello World", "hello world", types.DiffSummary{WordsBefore: 2, WordsAfter: 2, Similarity: 1}},
		{"half overlap", "a b", "b c", types.DiffSummary{WordsBefore: 2, WordsAfter: 2, Similarity: 1.0 / 3.0}},
		{"runes not bytes", "café", "cafés", types.DiffSummary{WordsBefore: 1, WordsAfter: 1, CharDelta: 1}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Summarize(tt.before, tt.after)
			require.Equal(t, tt.want.WordsBefore, got.WordsBefore)
			require.Equal(t, tt.want.WordsAfter, got.WordsAfter)
			require.Equal(t, tt.want.WordDelta, got.WordDelta)
			require.Equal(t, tt.want.CharDelta, got.CharDelta)
			require.InDelta(t, tt.want.Similarity, got.Similarity, 1e-9)
		})
	}
}

func TestSimilarity_Bounds(t *testing.T) {
	require.Equal(t, 1.0, Similarity("", ""))
	require.Equal(t, 0.0, Similarity("", "words"))
	require.Equal(t, 0.0, Similarity("alpha", "beta"))
}

func TestAppend_AssignsSequence(t *testing.T) {
	e, s, _, _, docID := setup(t, "", policy.Static(true))

	first := appendChange(t, e, s, docID, AppendInput{Before: "", After: "one", ChangeKind: types.ChangeAIGenerated, ActorID: "alice", TokensUsed: 5})
	second := appendChange(t, e, s, docID, AppendInput{Before: "one", After: "one two", ChangeKind: types.ChangeAIImproved, ActorID: "bob"})

	require.EqualValues(t, 1, first.Sequence)
	require.EqualValues(t, 2, second.Sequence)
	require.Equal(t, 1, second.Diff.WordDelta)
	require.Equal(t, t0, first.CreatedAt)
	require.NotEqual(t, first.ID, second.ID)
}

func TestAppend_RejectsUnknownKind(t *testing.T) {
	e, s, _, _, docID := setup(t, "", policy.Static(true))
	err := s.InDocumentTx(context.Background(), docID, func(tx store.Tx) error {
		_, err := e.Append(context.Background(), tx, AppendInput{ChangeKind: "rewritten"})
		return err
	})
	require.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestAppend_ConcurrentIsGapFree(t *testing.T) {
	e, s, _, _, docID := setup(t, "", policy.Static(true))
	var wg sync.WaitGroup
	for i := 0; i < 25; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.InDocumentTx(context.Background(), docID, func(tx store.Tx) error {
				_, err := e.Append(context.Background(), tx, AppendInput{ChangeKind: types.ChangeAIRejected, ActorID: "alice"})
				return err
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	entries, err := e.List(context.Background(), docID, types.HistoryFilter{})
	require.NoError(t, err)
	require.Len(t, entries, 25)
	for i, entry := range entries {
		require.EqualValues(t, i+1, entry.Sequence)
	}
}

func TestList(t *testing.T) {
	e, s, _, _, docID := setup(t, "", policy.Static(true))
	appendChange(t, e, s, docID, AppendInput{After: "a", ChangeKind: types.ChangeAIGenerated, ActorID: "alice"})
	appendChange(t, e, s, docID, AppendInput{Before: "a", After: "a", ChangeKind: types.ChangeAIRejected, ActorID: "bob"})

	got, err := e.List(context.Background(), docID, types.HistoryFilter{ActorID: "bob"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	require.Equal(t, types.ChangeAIRejected, got[0].ChangeKind)

	got, err = e.List(context.Background(), docID, types.HistoryFilter{ChangeKind: types.ChangeManualRevert})
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Empty(t, got)

	_, err = e.List(context.Background(), "missing", types.HistoryFilter{})
	require.ErrorIs(t, err, types.ErrNotFound)

	_, err = e.List(context.Background(), docID, types.HistoryFilter{ChangeKind: "bogus"})
	require.ErrorIs(t, err, types.ErrInvalidParameter)

	_, err = e.List(context.Background(), docID, types.HistoryFilter{Limit: -1})
	require.ErrorIs(t, err, types.ErrInvalidParameter)
}

func TestStatistics(t *testing.T) {
	e, s, clk, _, docID := setup(t, "", policy.Static(true))

	empty, err := e.Statistics(context.Background(), docID)
	require.NoError(t, err)
	require.Zero(t, empty.TotalChanges)
	require.Nil(t, empty.FirstChangeAt)
	require.Empty(t, empty.Contributors)

	appendChange(t, e, s, docID, AppendInput{After: "a", ChangeKind: types.ChangeAIGenerated, ActorID: "carol", TokensUsed: 40})
	clk.Advance(time.Hour)
	appendChange(t, e, s, docID, AppendInput{Before: "a", After: "a b", ChangeKind: types.ChangeAIImproved, ActorID: "alice", TokensUsed: 60})
	clk.Advance(time.Hour)
	appendChange(t, e, s, docID, AppendInput{Before: "a b", After: "a b", ChangeKind: types.ChangeAIRejected, ActorID: "carol"})

	stats, err := e.Statistics(context.Background(), docID)
	require.NoError(t, err)
	require.Equal(t, 3, stats.TotalChanges)
	require.Equal(t, 100, stats.TotalTokens)
	require.Equal(t, map[types.ChangeKind]int{
		types.ChangeAIGenerated: 1,
		types.ChangeAIImproved:  1,
		types.ChangeAIRejected:  1,
	}, stats.ByChangeKind)
	require.Equal(t, []string{"alice", "carol"}, stats.Contributors)
	require.Equal(t, t0, *stats.FirstChangeAt)
	require.Equal(t, t0.Add(2*time.Hour), *stats.LastChangeAt)

	_, err = e.Statistics(context.Background(), "missing")
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestRevert(t *testing.T) {
	ctx := context.Background()
	e, s, clk, rec, docID := setup(t, "draft", policy.Static(true))
	improved := appendChange(t, e, s, docID, AppendInput{Before: "draft", After: "polished draft", ChangeKind: types.ChangeAIImproved, ActorID: "alice"})
	clk.Advance(time.Minute)

	revert, err := e.Revert(ctx, improved.ID, types.Actor{ID: "alice"})
	require.NoError(t, err)
	require.Equal(t, types.ChangeManualRevert, revert.ChangeKind)
	require.EqualValues(t, 2, revert.Sequence)
	require.Equal(t, "polished draft", revert.ContentBefore)
	require.Equal(t, "draft", revert.ContentAfter)
	require.Nil(t, revert.SuggestionID)

	doc, err := s.GetDocument(ctx, docID)
	require.NoError(t, err)
	require.Equal(t, "draft", doc.Content)

	// the reverted entry itself is untouched
	orig, err := e.Get(ctx, improved.ID)
	require.NoError(t, err)
	require.Equal(t, "polished draft", orig.ContentAfter)

	require.Len(t, rec.events, 1)
	require.Equal(t, events.DocumentReverted, rec.events[0].Type)
	require.Equal(t, improved.ID, rec.events[0].Data["reverted_entry_id"])
}

func TestRevert_Forbidden(t *testing.T) {
	ctx := context.Background()
	e, s, _, rec, docID := setup(t, "draft", policy.Static(false))
	entry := appendChange(t, e, s, docID, AppendInput{Before: "draft", After: "changed", ChangeKind: types.ChangeAIImproved, ActorID: "alice"})

	_, err := e.Revert(ctx, entry.ID, types.Actor{ID: "mallory"})
	require.ErrorIs(t, err, types.ErrForbidden)

	doc, _ := s.GetDocument(ctx, docID)
	require.Equal(t, "changed", doc.Content)
	entries, _ := e.List(ctx, docID, types.HistoryFilter{})
	require.Len(t, entries, 1)
	require.Empty(t, rec.events)
}

func TestRevert_NotFound(t *testing.T) {
	e, _, _, _, _ := setup(t, "", policy.Static(true))
	_, err := e.Revert(context.Background(), "nope", types.Actor{ID: "alice"})
	require.ErrorIs(t, err, types.ErrNotFound)
}
