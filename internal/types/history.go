package types

import "time"

type ChangeKind string

const (
	ChangeAIGenerated  ChangeKind = "ai_generated"
	ChangeAIImproved   ChangeKind = "ai_improved"
	ChangeAIRejected   ChangeKind = "ai_rejected"
	ChangeManualRevert ChangeKind = "manual_revert"
)

func (c ChangeKind) Valid() bool {
	switch c {
	case ChangeAIGenerated, ChangeAIImproved, ChangeAIRejected, ChangeManualRevert:
		return true
	}
	return false
}

// HistoryEntry is one append-only record of a document change.
type HistoryEntry struct {
	ID            string      `json:"id"`
	DocumentID    string      `json:"document_id"`
	SuggestionID  *string     `json:"suggestion_id,omitempty"`
	ActorID       string      `json:"actor_id"`
	ContentBefore string      `json:"content_before"`
	ContentAfter  string      `json:"content_after"`
	ChangeKind    ChangeKind  `json:"change_kind"`
	Sequence      int64       `json:"sequence"`
	TokensUsed    int         `json:"tokens_used"`
	Diff          DiffSummary `json:"diff"`
	CreatedAt     time.Time   `json:"created_at"`
}

// DiffSummary is a coarse size and similarity comparison of two texts.
type DiffSummary struct {
	WordsBefore int     `json:"words_before"`
	WordsAfter  int     `json:"words_after"`
	WordDelta   int     `json:"word_delta"`
	CharDelta   int     `json:"char_delta"`
	Similarity  float64 `json:"similarity"`
}

// HistoryFilter narrows a history listing. Zero values mean no filter.
type HistoryFilter struct {
	ChangeKind ChangeKind
	ActorID    string
	Since      time.Time
	Limit      int
	Offset     int
}

// HistoryStats aggregates the history of one document.
type HistoryStats struct {
	DocumentID    string             `json:"document_id"`
	TotalChanges  int                `json:"total_changes"`
	TotalTokens   int                `json:"total_tokens"`
	ByChangeKind  map[ChangeKind]int `json:"by_change_kind"`
	Contributors  []string           `json:"contributors"`
	FirstChangeAt *time.Time         `json:"first_change_at,omitempty"`
	LastChangeAt  *time.Time         `json:"last_change_at,omitempty"`
}
