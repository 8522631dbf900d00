// Package ratelimit tracks per-subject usage along two dimensions, requests
// per window and tokens per day, and decides whether a new call is admitted.
package ratelimit

import (
	"context"
	"time"

	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/types"
)

// TokenWindow is the length of the token dimension's window.
const TokenWindow = 24 * time.Hour

// Limits configures both dimensions. A zero limit disables that dimension.
type Limits struct {
	RequestsPerWindow int64
	RequestWindow     time.Duration
	DailyTokens       int64
}

func LimitsFromConfig(cfg config.LedgerConfig) Limits {
	return Limits{
		RequestsPerWindow: cfg.RequestsPerWindow,
		RequestWindow:     cfg.RequestWindow,
		DailyTokens:       cfg.DailyTokens,
	}
}

// Window is one fixed usage window. It resets lazily once
// now - Start >= its length.
type Window struct {
	Start time.Time `json:"start"`
	Count int64     `json:"count"`
}

// Usage is a subject's current position in both dimensions.
type Usage struct {
	SubjectID string `json:"subject_id"`
	Requests  Window `json:"requests"`
	Tokens    Window `json:"tokens"`
}

// Decision is the outcome of a ledger check.
type Decision struct {
	Allowed    bool
	Dimension  types.QuotaDimension
	Limit      int64
	Used       int64
	RetryAfter time.Duration
}

// Err converts a denial into a *types.QuotaExceededError, or nil when allowed.
func (d Decision) Err(subject string) error {
	if d.Allowed {
		return nil
	}
	return &types.QuotaExceededError{
		SubjectID:  subject,
		Dimension:  d.Dimension,
		Limit:      d.Limit,
		Used:       d.Used,
		RetryAfter: d.RetryAfter,
	}
}

// Ledger is the usage accounting the orchestrator consults before each
// provider call and updates after each success.
type Ledger interface {
	// Check reports whether subject may make another call. It never increments.
	Check(ctx context.Context, subject string) (Decision, error)
	// Record adds one request and tokens to the subject's windows atomically.
	Record(ctx context.Context, subject string, tokens int) error
	// Charge adds tokens to the token window only.
	Charge(ctx context.Context, subject string, tokens int) error
	Usage(ctx context.Context, subject string) (Usage, error)
}

// decide evaluates both dimensions against already rolled-over windows.
func decide(l Limits, u Usage, now time.Time) Decision {
	if l.RequestsPerWindow > 0 && u.Requests.Count >= l.RequestsPerWindow {
		return Decision{
			Dimension:  types.QuotaRequests,
			Limit:      l.RequestsPerWindow,
			Used:       u.Requests.Count,
			RetryAfter: retryAfter(u.Requests.Start, l.RequestWindow, now),
		}
	}
	if l.DailyTokens > 0 && u.Tokens.Count >= l.DailyTokens {
		return Decision{
			Dimension:  types.QuotaTokens,
			Limit:      l.DailyTokens,
			Used:       u.Tokens.Count,
			RetryAfter: retryAfter(u.Tokens.Start, TokenWindow, now),
		}
	}
	return Decision{Allowed: true}
}

func retryAfter(start time.Time, length time.Duration, now time.Time) time.Duration {
	d := start.Add(length).Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
