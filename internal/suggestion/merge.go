package suggestion

import (
	"fmt"
	"strings"

	"github.com/af-corp/inkwell/internal/types"
)

// generatedSeparator joins generated text onto a non-empty document.
const generatedSeparator = "\n\n"

// Merge applies a suggestion to the current document content.
//
// An empty original marks pure generation: the suggested text replaces an
// empty document and is appended to anything else. Otherwise every literal
// occurrence of the original is replaced. When the original no longer occurs
// the suggestion is stale and the content is returned unchanged with
// types.ErrStaleSuggestion.
func Merge(content, original, suggested string) (string, error) {
	if original == "" {
		if strings.TrimSpace(content) == "" {
			return suggested, nil
		}
		return content + generatedSeparator + suggested, nil
	}
	if !strings.Contains(content, original) {
		return content, fmt.Errorf("original text no longer present in document: %w", types.ErrStaleSuggestion)
	}
	return strings.ReplaceAll(content, original, suggested), nil
}

// changeKindFor maps what a suggestion did to the history kind recorded on
// acceptance.
func changeKindFor(kind types.SuggestionKind) types.ChangeKind {
	if kind == types.KindGeneration {
		return types.ChangeAIGenerated
	}
	return types.ChangeAIImproved
}
