package types

import "time"

type SuggestionKind string

const (
	KindGeneration  SuggestionKind = "generation"
	KindImprovement SuggestionKind = "improvement"
	KindCorrection  SuggestionKind = "correction"
)

func (k SuggestionKind) Valid() bool {
	switch k {
	case KindGeneration, KindImprovement, KindCorrection:
		return true
	}
	return false
}

type SuggestionStatus string

const (
	StatusPending  SuggestionStatus = "pending"
	StatusAccepted SuggestionStatus = "accepted"
	StatusRejected SuggestionStatus = "rejected"
)

// Suggestion is a proposed change to a document awaiting a human decision.
// Status only ever moves from pending to accepted or rejected.
type Suggestion struct {
	ID               string           `json:"id"`
	DocumentID       string           `json:"document_id"`
	WorkflowID       string           `json:"workflow_id,omitempty"`
	AuthorID         string           `json:"author_id"`
	OriginalContent  string           `json:"original_content"`
	SuggestedContent string           `json:"suggested_content"`
	Kind             SuggestionKind   `json:"kind"`
	Status           SuggestionStatus `json:"status"`
	Confidence       *float64         `json:"confidence,omitempty"`
	Metadata         map[string]any   `json:"metadata,omitempty"`
	TokensUsed       int              `json:"tokens_used"`
	CreatedAt        time.Time        `json:"created_at"`
	ProcessedAt      *time.Time       `json:"processed_at,omitempty"`
}

// Document is the editable text the suggestions apply to.
type Document struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Content   string    `json:"content"`
	OwnerID   string    `json:"owner_id"`
	Editors   []string  `json:"editors,omitempty"`
	Version   int64     `json:"version"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Actor is the authenticated user performing an operation.
type Actor struct {
	ID    string   `json:"id"`
	Roles []string `json:"roles,omitempty"`
}
