// Package secrets keeps credentials out of prompts.
package secrets

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/filter"
	"github.com/af-corp/inkwell/internal/types"
)

// Detection represents a detected secret in text.
type Detection struct {
	PatternName string
	Start       int // byte offset
	End         int
}

// Scanner scans text for secrets using pre-compiled regex patterns.
type Scanner struct {
	patterns []Pattern
	cfg      func() config.SecretsFilterConfig
}

func NewScanner(cfg func() config.SecretsFilterConfig) *Scanner {
	return &Scanner{patterns: DefaultPatterns(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "secrets" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Scan checks a single text string and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, p := range s.patterns {
		for _, loc := range p.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{PatternName: p.Name, Start: loc[0], End: loc[1]})
		}
	}
	return detections
}

func (s *Scanner) ScanTexts(texts []string) []Detection {
	var detections []Detection
	for _, t := range texts {
		detections = append(detections, s.Scan(t)...)
	}
	return detections
}

// ScanRequest implements filter.Filter. Any secret blocks the prompt.
func (s *Scanner) ScanRequest(_ context.Context, req *types.NormalizedRequest) filter.Result {
	detections := s.ScanTexts(filter.Texts(req))
	if len(detections) == 0 {
		return filter.Result{Action: filter.ActionPass, FilterName: s.Name()}
	}

	seen := map[string]bool{}
	var names []string
	for _, d := range detections {
		if !seen[d.PatternName] {
			seen[d.PatternName] = true
			names = append(names, d.PatternName)
		}
	}
	sort.Strings(names)
	return filter.Result{
		Action:     filter.ActionBlock,
		FilterName: s.Name(),
		Message:    fmt.Sprintf("prompt contains credentials (%s)", strings.Join(names, ", ")),
		Detections: len(detections),
		Score:      1,
	}
}
