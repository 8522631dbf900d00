package adapters

import (
	"context"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/af-corp/inkwell/internal/types"
)

// EchoAdapter is an offline provider that answers deterministically. It backs
// local development and end-to-end tests.
type EchoAdapter struct {
	name string
}

func NewEchoAdapter(name string) *EchoAdapter {
	return &EchoAdapter{name: name}
}

func (a *EchoAdapter) Name() string { return a.name }

func (a *EchoAdapter) Call(ctx context.Context, req *types.NormalizedRequest) (*types.ProviderResult, error) {
	if err := validate(req, limits{}); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, classifyTransportError(a.name, err)
	}

	var content string
	switch req.Operation {
	case types.OpImprove:
		content = tidy(req.Content)
	default:
		content = "Draft: " + strings.TrimSpace(req.Content)
	}

	words := func(s string) int { return len(strings.Fields(s)) }
	in, out := words(req.Content), words(content)
	if out > req.Parameters.MaxTokens {
		fields := strings.Fields(content)
		content = strings.Join(fields[:req.Parameters.MaxTokens], " ")
		out = req.Parameters.MaxTokens
	}

	return &types.ProviderResult{
		Content:    content,
		Usage:      types.TokenUsage{Input: in, Output: out, Total: in + out},
		Model:      "echo",
		ProviderID: a.name,
	}, nil
}

// tidy collapses runs of whitespace and capitalizes the first letter.
func tidy(s string) string {
	s = strings.Join(strings.Fields(s), " ")
	if s == "" {
		return s
	}
	r, n := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(r)) + s[n:]
}
