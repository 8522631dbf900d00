package history

import (
	"strings"
	"unicode/utf8"

	"github.com/af-corp/inkwell/internal/types"
)

// Summarize computes the coarse diff stored with every history entry.
// It is a word-set comparison, not an edit script.
func Summarize(before, after string) types.DiffSummary {
	wb, wa := strings.Fields(before), strings.Fields(after)
	return types.DiffSummary{
		WordsBefore: len(wb),
		WordsAfter:  len(wa),
		WordDelta:   len(wa) - len(wb),
		CharDelta:   utf8.RuneCountInString(after) - utf8.RuneCountInString(before),
		Similarity:  jaccard(wordSet(wb), wordSet(wa)),
	}
}

// Similarity is the Jaccard index of the lower-cased word sets of a and b.
// Two empty texts are identical.
func Similarity(a, b string) float64 {
	return jaccard(wordSet(strings.Fields(a)), wordSet(strings.Fields(b)))
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[strings.ToLower(w)] = struct{}{}
	}
	return set
}

func jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 && len(b) == 0 {
		return 1
	}
	shared := 0
	for w := range a {
		if _, ok := b[w]; ok {
			shared++
		}
	}
	union := len(a) + len(b) - shared
	return float64(shared) / float64(union)
}
