// Package filter screens prompts before they are sent to a provider.
package filter

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/af-corp/inkwell/internal/types"
)

// Action represents the filter decision.
type Action string

const (
	ActionPass  Action = "pass"
	ActionFlag  Action = "flag"
	ActionBlock Action = "block"
)

// Result is returned by each filter.
type Result struct {
	Action     Action
	FilterName string
	Message    string
	Detections int
	Score      float64
}

// Filter is the interface all prompt filters implement.
type Filter interface {
	Name() string
	Enabled() bool
	ScanRequest(ctx context.Context, req *types.NormalizedRequest) Result
}

// Chain runs filters in order, stopping on the first Block.
type Chain struct {
	filters []Filter
}

func NewChain(filters ...Filter) *Chain {
	return &Chain{filters: filters}
}

// Run executes all enabled filters in order. It returns every result and the
// first blocking one, nil if nothing blocked.
func (c *Chain) Run(ctx context.Context, req *types.NormalizedRequest) ([]Result, *Result) {
	var results []Result
	for _, f := range c.filters {
		if !f.Enabled() {
			continue
		}
		r := f.ScanRequest(ctx, req)
		results = append(results, r)
		if r.Action == ActionBlock {
			return results, &r
		}
	}
	return results, nil
}

// Guard runs the chain and turns a block into a *BlockedError. Flags are
// logged and let through.
func (c *Chain) Guard(ctx context.Context, req *types.NormalizedRequest) error {
	results, blocked := c.Run(ctx, req)
	for _, r := range results {
		if r.Action == ActionFlag {
			slog.Warn("prompt flagged", "filter", r.FilterName, "detections", r.Detections, "score", r.Score)
		}
	}
	if blocked != nil {
		return &BlockedError{Filter: blocked.FilterName, Message: blocked.Message}
	}
	return nil
}

// BlockedError reports a prompt stopped by a filter. It matches
// types.ErrContentPolicyViolation.
type BlockedError struct {
	Filter  string
	Message string
}

func (e *BlockedError) Error() string {
	return fmt.Sprintf("%s filter: %s", e.Filter, e.Message)
}

func (e *BlockedError) Is(target error) bool {
	return target == types.ErrContentPolicyViolation
}

// Texts returns the user-controlled text of a request: the content followed
// by string-valued extras in key order.
func Texts(req *types.NormalizedRequest) []string {
	texts := []string{req.Content}
	keys := make([]string, 0, len(req.Parameters.Extra))
	for k := range req.Parameters.Extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if s, ok := req.Parameters.Extra[k].(string); ok && s != "" {
			texts = append(texts, s)
		}
	}
	return texts
}
