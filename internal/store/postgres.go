package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/af-corp/inkwell/internal/types"
)

// Postgres implements Store on PostgreSQL. JSONB columns are decoded into Go
// values here and nowhere else.
type Postgres struct {
	db *pgxpool.Pool
}

func NewPostgres(db *pgxpool.Pool) *Postgres {
	return &Postgres{db: db}
}

const (
	documentColumns   = `id, title, content, owner_id, editors, version, updated_at`
	suggestionColumns = `id, document_id, workflow_id, author_id, original_content, suggested_content,
		kind, status, confidence, metadata, tokens_used, created_at, processed_at`
	historyColumns = `id, document_id, suggestion_id, actor_id, content_before, content_after,
		change_kind, sequence, tokens_used, diff, created_at`
)

func notFound(what, id string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s %s: %w", what, id, types.ErrNotFound)
	}
	return fmt.Errorf("query %s %s: %w", what, id, err)
}

func scanDocument(row pgx.Row) (*types.Document, error) {
	var d types.Document
	if err := row.Scan(&d.ID, &d.Title, &d.Content, &d.OwnerID, &d.Editors, &d.Version, &d.UpdatedAt); err != nil {
		return nil, err
	}
	return &d, nil
}

func scanSuggestion(row pgx.Row) (*types.Suggestion, error) {
	var (
		s        types.Suggestion
		metadata []byte
		kind     string
		status   string
	)
	err := row.Scan(&s.ID, &s.DocumentID, &s.WorkflowID, &s.AuthorID, &s.OriginalContent, &s.SuggestedContent,
		&kind, &status, &s.Confidence, &metadata, &s.TokensUsed, &s.CreatedAt, &s.ProcessedAt)
	if err != nil {
		return nil, err
	}
	s.Kind = types.SuggestionKind(kind)
	s.Status = types.SuggestionStatus(status)
	if len(metadata) > 0 {
		if err := json.Unmarshal(metadata, &s.Metadata); err != nil {
			return nil, fmt.Errorf("decode suggestion %s metadata: %w", s.ID, err)
		}
	}
	return &s, nil
}

func scanHistory(row pgx.Row) (*types.HistoryEntry, error) {
	var (
		e    types.HistoryEntry
		kind string
		diff []byte
	)
	err := row.Scan(&e.ID, &e.DocumentID, &e.SuggestionID, &e.ActorID, &e.ContentBefore, &e.ContentAfter,
		&kind, &e.Sequence, &e.TokensUsed, &diff, &e.CreatedAt)
	if err != nil {
		return nil, err
	}
	e.ChangeKind = types.ChangeKind(kind)
	if len(diff) > 0 {
		if err := json.Unmarshal(diff, &e.Diff); err != nil {
			return nil, fmt.Errorf("decode history %s diff: %w", e.ID, err)
		}
	}
	return &e, nil
}

func (p *Postgres) CreateDocument(ctx context.Context, doc *types.Document) error {
	editors := doc.Editors
	if editors == nil {
		editors = []string{}
	}
	_, err := p.db.Exec(ctx, `
		INSERT INTO documents (id, title, content, owner_id, editors, version, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, doc.ID, doc.Title, doc.Content, doc.OwnerID, editors, doc.Version, doc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("insert document %s: %w", doc.ID, err)
	}
	return nil
}

func (p *Postgres) GetDocument(ctx context.Context, id string) (*types.Document, error) {
	d, err := scanDocument(p.db.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("document", id, err)
	}
	return d, nil
}

func (p *Postgres) DeleteDocument(ctx context.Context, id string) error {
	tag, err := p.db.Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("document %s: %w", id, types.ErrNotFound)
	}
	return nil
}

func (p *Postgres) CreateSuggestion(ctx context.Context, s *types.Suggestion) error {
	metadata, err := json.Marshal(nonNilMap(s.Metadata))
	if err != nil {
		return fmt.Errorf("encode suggestion metadata: %w", err)
	}
	_, err = p.db.Exec(ctx, `
		INSERT INTO suggestions (id, document_id, workflow_id, author_id, original_content, suggested_content,
		                         kind, status, confidence, metadata, tokens_used, created_at, processed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, s.ID, s.DocumentID, s.WorkflowID, s.AuthorID, s.OriginalContent, s.SuggestedContent,
		string(s.Kind), string(s.Status), s.Confidence, metadata, s.TokensUsed, s.CreatedAt, s.ProcessedAt)
	if err != nil {
		if strings.Contains(err.Error(), "suggestions_document_id_fkey") {
			return fmt.Errorf("document %s: %w", s.DocumentID, types.ErrNotFound)
		}
		return fmt.Errorf("insert suggestion %s: %w", s.ID, err)
	}
	return nil
}

func (p *Postgres) GetSuggestion(ctx context.Context, id string) (*types.Suggestion, error) {
	s, err := scanSuggestion(p.db.QueryRow(ctx, `SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("suggestion", id, err)
	}
	return s, nil
}

func (p *Postgres) ListSuggestions(ctx context.Context, documentID string, status types.SuggestionStatus) ([]*types.Suggestion, error) {
	rows, err := p.db.Query(ctx, `
		SELECT `+suggestionColumns+` FROM suggestions
		WHERE document_id = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC, id DESC
	`, documentID, string(status))
	if err != nil {
		return nil, fmt.Errorf("list suggestions of %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []*types.Suggestion
	for rows.Next() {
		s, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (p *Postgres) GetHistoryEntry(ctx context.Context, id string) (*types.HistoryEntry, error) {
	e, err := scanHistory(p.db.QueryRow(ctx, `SELECT `+historyColumns+` FROM history_entries WHERE id = $1`, id))
	if err != nil {
		return nil, notFound("history entry", id, err)
	}
	return e, nil
}

func (p *Postgres) ListHistory(ctx context.Context, documentID string, f types.HistoryFilter) ([]*types.HistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM history_entries WHERE document_id = $1`
	args := []any{documentID}
	if f.ChangeKind != "" {
		args = append(args, string(f.ChangeKind))
		query += fmt.Sprintf(" AND change_kind = $%d", len(args))
	}
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		query += fmt.Sprintf(" AND actor_id = $%d", len(args))
	}
	if !f.Since.IsZero() {
		args = append(args, f.Since)
		query += fmt.Sprintf(" AND created_at >= $%d", len(args))
	}
	query += " ORDER BY sequence ASC"
	if f.Limit > 0 {
		args = append(args, f.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}
	if f.Offset > 0 {
		args = append(args, f.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := p.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list history of %s: %w", documentID, err)
	}
	defer rows.Close()

	var out []*types.HistoryEntry
	for rows.Next() {
		e, err := scanHistory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (p *Postgres) InDocumentTx(ctx context.Context, documentID string, fn func(tx Tx) error) error {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	doc, err := scanDocument(tx.QueryRow(ctx, `SELECT `+documentColumns+` FROM documents WHERE id = $1 FOR UPDATE`, documentID))
	if err != nil {
		return notFound("document", documentID, err)
	}

	if err := fn(&pgTx{tx: tx, doc: doc}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

type pgTx struct {
	tx  pgx.Tx
	doc *types.Document
}

func (t *pgTx) Document() *types.Document { return copyDocument(t.doc) }

func (t *pgTx) UpdateDocumentContent(ctx context.Context, content string, at time.Time) error {
	_, err := t.tx.Exec(ctx, `
		UPDATE documents SET content = $1, updated_at = $2, version = version + 1 WHERE id = $3
	`, content, at, t.doc.ID)
	if err != nil {
		return fmt.Errorf("update document %s: %w", t.doc.ID, err)
	}
	t.doc.Content = content
	t.doc.UpdatedAt = at
	t.doc.Version++
	return nil
}

func (t *pgTx) TransitionSuggestion(ctx context.Context, id string, to types.SuggestionStatus, at time.Time) error {
	tag, err := t.tx.Exec(ctx, `
		UPDATE suggestions SET status = $1, processed_at = $2
		WHERE id = $3 AND document_id = $4 AND status = 'pending'
	`, string(to), at, id, t.doc.ID)
	if err != nil {
		return fmt.Errorf("update suggestion %s: %w", id, err)
	}
	if tag.RowsAffected() == 1 {
		return nil
	}

	var status string
	err = t.tx.QueryRow(ctx, `SELECT status FROM suggestions WHERE id = $1 AND document_id = $2`, id, t.doc.ID).Scan(&status)
	if err != nil {
		return notFound("suggestion", id, err)
	}
	return fmt.Errorf("suggestion %s is %s: %w", id, status, types.ErrAlreadyProcessed)
}

func (t *pgTx) LastSequence(ctx context.Context) (int64, error) {
	var seq int64
	err := t.tx.QueryRow(ctx, `SELECT COALESCE(MAX(sequence), 0) FROM history_entries WHERE document_id = $1`, t.doc.ID).Scan(&seq)
	if err != nil {
		return 0, fmt.Errorf("last sequence of %s: %w", t.doc.ID, err)
	}
	return seq, nil
}

func (t *pgTx) InsertHistory(ctx context.Context, e *types.HistoryEntry) error {
	diff, err := json.Marshal(e.Diff)
	if err != nil {
		return fmt.Errorf("encode diff: %w", err)
	}
	_, err = t.tx.Exec(ctx, `
		INSERT INTO history_entries (id, document_id, suggestion_id, actor_id, content_before, content_after,
		                             change_kind, sequence, tokens_used, diff, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, e.ID, e.DocumentID, e.SuggestionID, e.ActorID, e.ContentBefore, e.ContentAfter,
		string(e.ChangeKind), e.Sequence, e.TokensUsed, diff, e.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert history entry %s: %w", e.ID, err)
	}
	return nil
}

func nonNilMap(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}
