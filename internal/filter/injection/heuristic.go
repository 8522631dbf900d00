// Package injection scores prompts for instruction-override attempts.
package injection

import (
	"context"
	"fmt"

	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/filter"
	"github.com/af-corp/inkwell/internal/types"
)

// Detection records a matched injection pattern.
type Detection struct {
	RuleName string
	Severity float64
	Category string
	Start    int
	End      int
}

// Scanner scans text for prompt injection patterns.
type Scanner struct {
	rules []Rule
	cfg   func() config.InjectionFilterConfig
}

func NewScanner(cfg func() config.InjectionFilterConfig) *Scanner {
	return &Scanner{rules: DefaultRules(), cfg: cfg}
}

func (s *Scanner) Name() string  { return "injection" }
func (s *Scanner) Enabled() bool { return s.cfg().Enabled }

// Scan checks a single text string and returns all detections.
func (s *Scanner) Scan(text string) []Detection {
	var detections []Detection
	for _, r := range s.rules {
		for _, loc := range r.Regex.FindAllStringIndex(text, -1) {
			detections = append(detections, Detection{
				RuleName: r.Name,
				Severity: r.Severity,
				Category: r.Category,
				Start:    loc[0],
				End:      loc[1],
			})
		}
	}
	return detections
}

// ScanTexts returns every detection and the highest severity among them.
func (s *Scanner) ScanTexts(texts []string) ([]Detection, float64) {
	var all []Detection
	maxScore := 0.0
	for _, t := range texts {
		for _, d := range s.Scan(t) {
			all = append(all, d)
			if d.Severity > maxScore {
				maxScore = d.Severity
			}
		}
	}
	return all, maxScore
}

// ScanRequest implements filter.Filter.
func (s *Scanner) ScanRequest(_ context.Context, req *types.NormalizedRequest) filter.Result {
	detections, score := s.ScanTexts(filter.Texts(req))
	cfg := s.cfg()

	switch {
	case score > 0 && score >= cfg.BlockThreshold:
		return filter.Result{
			Action:     filter.ActionBlock,
			FilterName: s.Name(),
			Message:    fmt.Sprintf("prompt injection detected (score %.2f)", score),
			Detections: len(detections),
			Score:      score,
		}
	case score > 0 && score >= cfg.FlagThreshold:
		return filter.Result{Action: filter.ActionFlag, FilterName: s.Name(), Detections: len(detections), Score: score}
	}
	return filter.Result{Action: filter.ActionPass, FilterName: s.Name(), Score: score}
}
