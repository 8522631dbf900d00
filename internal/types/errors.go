package types

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var (
	ErrInvalidParameter       = errors.New("invalid parameter")
	ErrQuotaExceeded          = errors.New("quota exceeded")
	ErrAllProvidersFailed     = errors.New("all providers failed")
	ErrContentPolicyViolation = errors.New("content policy violation")
	ErrForbidden              = errors.New("forbidden")
	ErrAlreadyProcessed       = errors.New("suggestion already processed")
	ErrNotFound               = errors.New("not found")
	ErrStaleSuggestion        = errors.New("suggestion original content no longer present in document")
)

// InvalidParameterError reports a request field outside its accepted range.
type InvalidParameterError struct {
	Field  string
	Reason string
}

func (e *InvalidParameterError) Error() string {
	return fmt.Sprintf("invalid parameter %s: %s", e.Field, e.Reason)
}

func (e *InvalidParameterError) Is(target error) bool { return target == ErrInvalidParameter }

// QuotaDimension names which ledger limit was hit.
type QuotaDimension string

const (
	QuotaRequests QuotaDimension = "requests"
	QuotaTokens   QuotaDimension = "tokens"
)

type QuotaExceededError struct {
	SubjectID  string
	Dimension  QuotaDimension
	Limit      int64
	Used       int64
	RetryAfter time.Duration
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded for %s: %s %d/%d, retry after %s",
		e.SubjectID, e.Dimension, e.Used, e.Limit, e.RetryAfter.Round(time.Second))
}

func (e *QuotaExceededError) Is(target error) bool { return target == ErrQuotaExceeded }

// ProviderErrorKind classifies a failed backend call.
type ProviderErrorKind string

const (
	ProviderAuth          ProviderErrorKind = "auth"
	ProviderRateLimit     ProviderErrorKind = "rate_limit"
	ProviderTransient     ProviderErrorKind = "transient"
	ProviderContentPolicy ProviderErrorKind = "content_policy"
)

// ProviderError is returned by adapters for any failed call that passed validation.
type ProviderError struct {
	Kind       ProviderErrorKind
	Provider   string
	StatusCode int
	Message    string
	RetryAfter time.Duration
	// PartialUsage is set when the backend reported token usage for a failed call.
	PartialUsage *TokenUsage
	Err          error
}

func (e *ProviderError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s error", e.Provider, e.Kind)
	if e.StatusCode != 0 {
		fmt.Fprintf(&b, " (status %d)", e.StatusCode)
	}
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ProviderError) Unwrap() error { return e.Err }

func (e *ProviderError) Is(target error) bool {
	return target == ErrContentPolicyViolation && e.Kind == ProviderContentPolicy
}

// Retryable reports whether the same provider may be tried again.
func (e *ProviderError) Retryable() bool { return e.Kind == ProviderTransient }

// ProviderKind extracts the provider error kind from err, if any.
func ProviderKind(err error) (ProviderErrorKind, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe.Kind, true
	}
	return "", false
}

// ProviderFailure is one failed attempt recorded by the orchestrator.
type ProviderFailure struct {
	Provider string
	Attempt  int
	Err      error
}

type AllProvidersFailedError struct {
	Causes []ProviderFailure
}

func (e *AllProvidersFailedError) Error() string {
	parts := make([]string, 0, len(e.Causes))
	for _, c := range e.Causes {
		parts = append(parts, fmt.Sprintf("%s#%d: %v", c.Provider, c.Attempt, c.Err))
	}
	return "all providers failed: " + strings.Join(parts, "; ")
}

func (e *AllProvidersFailedError) Is(target error) bool { return target == ErrAllProvidersFailed }

// Kinds returns the error kind of every cause in attempt order.
func (e *AllProvidersFailedError) Kinds() []ProviderErrorKind {
	kinds := make([]ProviderErrorKind, 0, len(e.Causes))
	for _, c := range e.Causes {
		k, ok := ProviderKind(c.Err)
		if !ok {
			k = ProviderTransient
		}
		kinds = append(kinds, k)
	}
	return kinds
}

// OnlyKind reports whether every cause has the given kind.
func (e *AllProvidersFailedError) OnlyKind(kind ProviderErrorKind) bool {
	if len(e.Causes) == 0 {
		return false
	}
	for _, k := range e.Kinds() {
		if k != kind {
			return false
		}
	}
	return true
}
