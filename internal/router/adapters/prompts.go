package adapters

import (
	"fmt"
	"strings"

	"github.com/af-corp/inkwell/internal/types"
)

const (
	generateSystemPrompt = "You are a writing assistant embedded in a document editor. " +
		"Write the requested content directly, without preamble or commentary."
	improveSystemPrompt = "You are an editor. Improve the text you are given and return only the revised text, " +
		"preserving its meaning and formatting."
)

var improvementFocus = map[string]string{
	"grammar":     "Fix grammar, spelling and punctuation only.",
	"clarity":     "Make the text clearer and easier to read.",
	"concise":     "Make the text more concise.",
	"expand":      "Expand the text with relevant detail.",
	"tone":        "Adjust the tone as requested.",
	"readability": "Simplify sentence structure for readability.",
}

// buildPrompt returns the system and user prompts for a request. Recognized
// extras: system_prompt, tone, language, improvement_type.
func buildPrompt(req *types.NormalizedRequest) (system, user string) {
	p := req.Parameters

	system = generateSystemPrompt
	if req.Operation == types.OpImprove {
		system = improveSystemPrompt
	}
	if s := p.ExtraString("system_prompt"); s != "" {
		system = s
	}

	var notes []string
	if req.Operation == types.OpImprove {
		if focus, ok := improvementFocus[p.ExtraString("improvement_type")]; ok {
			notes = append(notes, focus)
		}
	}
	if tone := p.ExtraString("tone"); tone != "" {
		notes = append(notes, fmt.Sprintf("Use a %s tone.", tone))
	}
	if lang := p.ExtraString("language"); lang != "" {
		notes = append(notes, fmt.Sprintf("Respond in %s.", lang))
	}
	if len(notes) > 0 {
		system = system + "\n" + strings.Join(notes, "\n")
	}

	if req.Operation == types.OpImprove {
		return system, "Text to improve:\n\n" + req.Content
	}
	return system, req.Content
}
