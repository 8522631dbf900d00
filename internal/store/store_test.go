package store

import (
	"context"
	"errors"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/af-corp/inkwell/internal/types"
)

var t0 = time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)

func seedDocument(t *testing.T, s Store, content string) *types.Document {
	t.Helper()
	doc := &types.Document{ID: uuid.NewString(), Title: "Doc", Content: content, OwnerID: "owner", UpdatedAt: t0}
	require.NoError(t, s.CreateDocument(context.Background(), doc))
	return doc
}

func seedSuggestion(t *testing.T, s Store, docID string, at time.Time) *types.Suggestion {
	t.Helper()
	conf := 0.8
	sg := &types.Suggestion{
		ID: uuid.NewString(), DocumentID: docID, AuthorID: "owner", SuggestedContent: "new",
		Kind: types.KindGeneration, Status: types.StatusPending, Confidence: &conf,
		Metadata: map[string]any{"model": "gpt-test"}, TokensUsed: 12, CreatedAt: at,
	}
	require.NoError(t, s.CreateSuggestion(context.Background(), sg))
	return sg
}

func appendEntry(ctx context.Context, tx Tx, actor string, kind types.ChangeKind, at time.Time) error {
	last, err := tx.LastSequence(ctx)
	if err != nil {
		return err
	}
	return tx.InsertHistory(ctx, &types.HistoryEntry{
		ID: uuid.NewString(), DocumentID: tx.Document().ID, ActorID: actor, ChangeKind: kind,
		ContentBefore: "a", ContentAfter: "b", Sequence: last + 1, CreatedAt: at,
	})
}

// runStoreSuite exercises behavior every Store implementation must share.
func runStoreSuite(t *testing.T, s Store) {
	ctx := context.Background()

	t.Run("not found", func(t *testing.T) {
		_, err := s.GetDocument(ctx, uuid.NewString())
		require.ErrorIs(t, err, types.ErrNotFound)
		_, err = s.GetSuggestion(ctx, uuid.NewString())
		require.ErrorIs(t, err, types.ErrNotFound)
		_, err = s.GetHistoryEntry(ctx, uuid.NewString())
		require.ErrorIs(t, err, types.ErrNotFound)
		err = s.InDocumentTx(ctx, uuid.NewString(), func(Tx) error { return nil })
		require.ErrorIs(t, err, types.ErrNotFound)
	})

	t.Run("suggestion round trip", func(t *testing.T) {
		doc := seedDocument(t, s, "")
		sg := seedSuggestion(t, s, doc.ID, t0)
		got, err := s.GetSuggestion(ctx, sg.ID)
		require.NoError(t, err)
		require.Equal(t, types.StatusPending, got.Status)
		require.Equal(t, "gpt-test", got.Metadata["model"])
		require.InDelta(t, 0.8, *got.Confidence, 1e-9)
		require.Nil(t, got.ProcessedAt)
	})

	t.Run("transaction commits atomically", func(t *testing.T) {
		doc := seedDocument(t, s, "old")
		sg := seedSuggestion(t, s, doc.ID, t0)

		err := s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
			require.Equal(t, "old", tx.Document().Content)
			if err := tx.UpdateDocumentContent(ctx, "new", t0.Add(time.Minute)); err != nil {
				return err
			}
			if err := tx.TransitionSuggestion(ctx, sg.ID, types.StatusAccepted, t0.Add(time.Minute)); err != nil {
				return err
			}
			return appendEntry(ctx, tx, "owner", types.ChangeAIGenerated, t0.Add(time.Minute))
		})
		require.NoError(t, err)

		d, _ := s.GetDocument(ctx, doc.ID)
		require.Equal(t, "new", d.Content)
		got, _ := s.GetSuggestion(ctx, sg.ID)
		require.Equal(t, types.StatusAccepted, got.Status)
		require.NotNil(t, got.ProcessedAt)
		entries, err := s.ListHistory(ctx, doc.ID, types.HistoryFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		require.EqualValues(t, 1, entries[0].Sequence)
	})

	t.Run("transaction rolls back on error", func(t *testing.T) {
		doc := seedDocument(t, s, "keep")
		sg := seedSuggestion(t, s, doc.ID, t0)
		boom := errors.New("boom")

		err := s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
			_ = tx.UpdateDocumentContent(ctx, "lost", t0)
			_ = tx.TransitionSuggestion(ctx, sg.ID, types.StatusAccepted, t0)
			_ = appendEntry(ctx, tx, "owner", types.ChangeAIGenerated, t0)
			return boom
		})
		require.ErrorIs(t, err, boom)

		d, _ := s.GetDocument(ctx, doc.ID)
		require.Equal(t, "keep", d.Content)
		got, _ := s.GetSuggestion(ctx, sg.ID)
		require.Equal(t, types.StatusPending, got.Status)
		entries, _ := s.ListHistory(ctx, doc.ID, types.HistoryFilter{})
		require.Empty(t, entries)
	})

	t.Run("second transition is already processed", func(t *testing.T) {
		doc := seedDocument(t, s, "")
		sg := seedSuggestion(t, s, doc.ID, t0)
		require.NoError(t, s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
			return tx.TransitionSuggestion(ctx, sg.ID, types.StatusRejected, t0)
		}))
		err := s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
			return tx.TransitionSuggestion(ctx, sg.ID, types.StatusAccepted, t0)
		})
		require.ErrorIs(t, err, types.ErrAlreadyProcessed)
	})

	t.Run("concurrent appends keep sequences gap free", func(t *testing.T) {
		doc := seedDocument(t, s, "")
		var wg sync.WaitGroup
		for i := 0; i < 20; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				err := s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
					return appendEntry(ctx, tx, "owner", types.ChangeAIImproved, t0)
				})
				assert.NoError(t, err)
			}()
		}
		wg.Wait()

		entries, err := s.ListHistory(ctx, doc.ID, types.HistoryFilter{})
		require.NoError(t, err)
		require.Len(t, entries, 20)
		for i, e := range entries {
			require.EqualValues(t, i+1, e.Sequence)
		}
	})

	t.Run("history filters", func(t *testing.T) {
		doc := seedDocument(t, s, "")
		kinds := []types.ChangeKind{types.ChangeAIGenerated, types.ChangeAIRejected, types.ChangeAIImproved, types.ChangeAIRejected}
		for i, k := range kinds {
			actor := "alice"
			if i%2 == 1 {
				actor = "bob"
			}
			at := t0.Add(time.Duration(i) * time.Hour)
			require.NoError(t, s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
				return appendEntry(ctx, tx, actor, k, at)
			}))
		}

		got, _ := s.ListHistory(ctx, doc.ID, types.HistoryFilter{ChangeKind: types.ChangeAIRejected})
		require.Len(t, got, 2)
		got, _ = s.ListHistory(ctx, doc.ID, types.HistoryFilter{ActorID: "alice"})
		require.Len(t, got, 2)
		got, _ = s.ListHistory(ctx, doc.ID, types.HistoryFilter{Since: t0.Add(2 * time.Hour)})
		require.Len(t, got, 2)
		got, _ = s.ListHistory(ctx, doc.ID, types.HistoryFilter{Limit: 2, Offset: 1})
		require.Len(t, got, 2)
		require.EqualValues(t, 2, got[0].Sequence)
	})

	t.Run("list suggestions newest first", func(t *testing.T) {
		doc := seedDocument(t, s, "")
		older := seedSuggestion(t, s, doc.ID, t0)
		newer := seedSuggestion(t, s, doc.ID, t0.Add(time.Minute))
		got, err := s.ListSuggestions(ctx, doc.ID, types.StatusPending)
		require.NoError(t, err)
		require.Len(t, got, 2)
		require.Equal(t, newer.ID, got[0].ID)
		require.Equal(t, older.ID, got[1].ID)

		got, _ = s.ListSuggestions(ctx, doc.ID, types.StatusAccepted)
		require.Empty(t, got)
	})

	t.Run("delete waits for open transaction", func(t *testing.T) {
		doc := seedDocument(t, s, "before")
		inTx := make(chan struct{})
		release := make(chan struct{})
		txDone := make(chan error, 1)
		var entryID string

		go func() {
			txDone <- s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
				last, err := tx.LastSequence(ctx)
				if err != nil {
					return err
				}
				entryID = uuid.NewString()
				err = tx.InsertHistory(ctx, &types.HistoryEntry{
					ID: entryID, DocumentID: doc.ID, ActorID: "owner", ChangeKind: types.ChangeAIImproved,
					ContentBefore: "before", ContentAfter: "after", Sequence: last + 1, CreatedAt: t0,
				})
				if err != nil {
					return err
				}
				close(inTx)
				<-release
				return tx.UpdateDocumentContent(ctx, "after", t0)
			})
		}()
		<-inTx

		deleted := make(chan error, 1)
		go func() { deleted <- s.DeleteDocument(ctx, doc.ID) }()
		select {
		case err := <-deleted:
			t.Fatalf("delete returned while a transaction held the document: %v", err)
		case <-time.After(100 * time.Millisecond):
		}

		close(release)
		require.NoError(t, <-txDone)
		require.NoError(t, <-deleted)

		_, err := s.GetDocument(ctx, doc.ID)
		require.ErrorIs(t, err, types.ErrNotFound)
		_, err = s.GetHistoryEntry(ctx, entryID)
		require.ErrorIs(t, err, types.ErrNotFound)
		entries, err := s.ListHistory(ctx, doc.ID, types.HistoryFilter{})
		require.NoError(t, err)
		require.Empty(t, entries)
	})

	t.Run("delete cascades", func(t *testing.T) {
		doc := seedDocument(t, s, "")
		sg := seedSuggestion(t, s, doc.ID, t0)
		require.NoError(t, s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
			return appendEntry(ctx, tx, "owner", types.ChangeAIGenerated, t0)
		}))
		require.NoError(t, s.DeleteDocument(ctx, doc.ID))
		_, err := s.GetSuggestion(ctx, sg.ID)
		require.ErrorIs(t, err, types.ErrNotFound)
		entries, _ := s.ListHistory(ctx, doc.ID, types.HistoryFilter{})
		require.Empty(t, entries)
	})
}

func TestMemoryStore(t *testing.T) {
	runStoreSuite(t, NewMemory())
}

func TestMemoryStore_CreateSuggestionRequiresDocument(t *testing.T) {
	err := NewMemory().CreateSuggestion(context.Background(), &types.Suggestion{ID: "s", DocumentID: "missing"})
	require.ErrorIs(t, err, types.ErrNotFound)
}

func TestMemoryStore_CommitSkipsRemovedDocument(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc := seedDocument(t, s, "")

	err := s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
		// the row disappears underneath the transaction
		s.mu.Lock()
		delete(s.docs, doc.ID)
		s.mu.Unlock()
		return appendEntry(ctx, tx, "owner", types.ChangeAIGenerated, t0)
	})
	require.ErrorIs(t, err, types.ErrNotFound)

	entries, _ := s.ListHistory(ctx, doc.ID, types.HistoryFilter{})
	require.Empty(t, entries)
	require.Empty(t, s.historyByID)
}

func TestMemoryStore_RejectsSequenceGap(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	doc := seedDocument(t, s, "")
	err := s.InDocumentTx(ctx, doc.ID, func(tx Tx) error {
		return tx.InsertHistory(ctx, &types.HistoryEntry{ID: "h", DocumentID: doc.ID, Sequence: 2})
	})
	require.Error(t, err)
}

// TestPostgresStore runs the shared suite against a real database with the
// migrations applied. Set INKWELL_TEST_DATABASE_URL to enable it.
func TestPostgresStore(t *testing.T) {
	dsn := os.Getenv("INKWELL_TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("INKWELL_TEST_DATABASE_URL not set")
	}
	pool, err := pgxpool.New(context.Background(), dsn)
	require.NoError(t, err)
	defer pool.Close()

	runStoreSuite(t, NewPostgres(pool))
}
