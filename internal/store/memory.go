package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/af-corp/inkwell/internal/types"
)

// Memory is an in-process Store used by tests and single-node development.
type Memory struct {
	mu          sync.RWMutex
	docs        map[string]*types.Document
	suggestions map[string]*types.Suggestion
	history     map[string][]*types.HistoryEntry
	historyByID map[string]*types.HistoryEntry

	locksMu sync.Mutex
	locks   map[string]*sync.Mutex
}

func NewMemory() *Memory {
	return &Memory{
		docs:        make(map[string]*types.Document),
		suggestions: make(map[string]*types.Suggestion),
		history:     make(map[string][]*types.HistoryEntry),
		historyByID: make(map[string]*types.HistoryEntry),
		locks:       make(map[string]*sync.Mutex),
	}
}

func (m *Memory) CreateDocument(_ context.Context, doc *types.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[doc.ID]; ok {
		return fmt.Errorf("document %s already exists", doc.ID)
	}
	m.docs[doc.ID] = copyDocument(doc)
	return nil
}

func (m *Memory) GetDocument(_ context.Context, id string) (*types.Document, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.docs[id]
	if !ok {
		return nil, fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return copyDocument(d), nil
}

// DeleteDocument waits for any open transaction on the document to finish.
func (m *Memory) DeleteDocument(_ context.Context, id string) error {
	lock := m.docLock(id)
	lock.Lock()
	defer lock.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[id]; !ok {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	delete(m.docs, id)
	for sid, s := range m.suggestions {
		if s.DocumentID == id {
			delete(m.suggestions, sid)
		}
	}
	for _, e := range m.history[id] {
		delete(m.historyByID, e.ID)
	}
	delete(m.history, id)
	return nil
}

func (m *Memory) CreateSuggestion(_ context.Context, s *types.Suggestion) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.docs[s.DocumentID]; !ok {
		return fmt.Errorf("document %s: %w", s.DocumentID, types.ErrNotFound)
	}
	if _, ok := m.suggestions[s.ID]; ok {
		return fmt.Errorf("suggestion %s already exists", s.ID)
	}
	m.suggestions[s.ID] = copySuggestion(s)
	return nil
}

func (m *Memory) GetSuggestion(_ context.Context, id string) (*types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.suggestions[id]
	if !ok {
		return nil, fmt.Errorf("suggestion %s: %w", id, types.ErrNotFound)
	}
	return copySuggestion(s), nil
}

func (m *Memory) ListSuggestions(_ context.Context, documentID string, status types.SuggestionStatus) ([]*types.Suggestion, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.Suggestion
	for _, s := range m.suggestions {
		if s.DocumentID != documentID || (status != "" && s.Status != status) {
			continue
		}
		out = append(out, copySuggestion(s))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID > out[j].ID
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (m *Memory) GetHistoryEntry(_ context.Context, id string) (*types.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.historyByID[id]
	if !ok {
		return nil, fmt.Errorf("history entry %s: %w", id, types.ErrNotFound)
	}
	return copyHistory(e), nil
}

func (m *Memory) ListHistory(_ context.Context, documentID string, f types.HistoryFilter) ([]*types.HistoryEntry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*types.HistoryEntry
	skipped := 0
	for _, e := range m.history[documentID] {
		if !matchesFilter(e, f) {
			continue
		}
		if skipped < f.Offset {
			skipped++
			continue
		}
		out = append(out, copyHistory(e))
		if f.Limit > 0 && len(out) == f.Limit {
			break
		}
	}
	return out, nil
}

func (m *Memory) docLock(id string) *sync.Mutex {
	m.locksMu.Lock()
	defer m.locksMu.Unlock()
	l, ok := m.locks[id]
	if !ok {
		l = &sync.Mutex{}
		m.locks[id] = l
	}
	return l
}

func (m *Memory) InDocumentTx(ctx context.Context, documentID string, fn func(tx Tx) error) error {
	lock := m.docLock(documentID)
	lock.Lock()
	defer lock.Unlock()

	doc, err := m.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	tx := &memTx{store: m, doc: doc, transitions: make(map[string]transition)}
	if err := fn(tx); err != nil {
		return err
	}
	return m.commit(tx)
}

// commit applies staged writes. Nothing is written when the document is gone.
func (m *Memory) commit(tx *memTx) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	id := tx.doc.ID
	d, ok := m.docs[id]
	if !ok {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	if tx.content != nil {
		d.Content = *tx.content
		d.UpdatedAt = tx.updatedAt
		d.Version++
	}
	for sid, t := range tx.transitions {
		if s, ok := m.suggestions[sid]; ok {
			s.Status = t.to
			at := t.at
			s.ProcessedAt = &at
		}
	}
	for _, e := range tx.entries {
		m.history[id] = append(m.history[id], e)
		m.historyByID[e.ID] = e
	}
	return nil
}

type transition struct {
	to types.SuggestionStatus
	at time.Time
}

// memTx stages writes until commit.
type memTx struct {
	store       *Memory
	doc         *types.Document
	content     *string
	updatedAt   time.Time
	transitions map[string]transition
	entries     []*types.HistoryEntry
}

func (t *memTx) Document() *types.Document {
	d := copyDocument(t.doc)
	if t.content != nil {
		d.Content = *t.content
	}
	return d
}

func (t *memTx) UpdateDocumentContent(_ context.Context, content string, at time.Time) error {
	t.content = &content
	t.updatedAt = at
	return nil
}

func (t *memTx) TransitionSuggestion(_ context.Context, id string, to types.SuggestionStatus, at time.Time) error {
	t.store.mu.RLock()
	s, ok := t.store.suggestions[id]
	var status types.SuggestionStatus
	var docID string
	if ok {
		status, docID = s.Status, s.DocumentID
	}
	t.store.mu.RUnlock()

	if !ok || docID != t.doc.ID {
		return fmt.Errorf("suggestion %s: %w", id, types.ErrNotFound)
	}
	if _, staged := t.transitions[id]; staged || status != types.StatusPending {
		return fmt.Errorf("suggestion %s is %s: %w", id, status, types.ErrAlreadyProcessed)
	}
	t.transitions[id] = transition{to: to, at: at}
	return nil
}

func (t *memTx) LastSequence(context.Context) (int64, error) {
	if n := len(t.entries); n > 0 {
		return t.entries[n-1].Sequence, nil
	}
	t.store.mu.RLock()
	defer t.store.mu.RUnlock()
	entries := t.store.history[t.doc.ID]
	if len(entries) == 0 {
		return 0, nil
	}
	return entries[len(entries)-1].Sequence, nil
}

func (t *memTx) InsertHistory(_ context.Context, e *types.HistoryEntry) error {
	if e.DocumentID != t.doc.ID {
		return fmt.Errorf("history entry for %s inserted in transaction of %s", e.DocumentID, t.doc.ID)
	}
	last, _ := t.LastSequence(context.Background())
	if e.Sequence != last+1 {
		return fmt.Errorf("history sequence %d does not follow %d", e.Sequence, last)
	}
	t.entries = append(t.entries, copyHistory(e))
	return nil
}
