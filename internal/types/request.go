package types

import "strings"

// Operation is the kind of AI work requested.
type Operation string

const (
	OpGenerate Operation = "generate"
	OpImprove  Operation = "improve"
)

// Parameter bounds accepted by every provider.
const (
	MinTemperature = 0.0
	MaxTemperature = 2.0
	MinMaxTokens   = 1
	MaxMaxTokens   = 4000
)

// NormalizedRequest is the provider-agnostic representation of a single
// generate or improve request. It is treated as immutable once built.
type NormalizedRequest struct {
	Operation    Operation  `json:"operation"`
	Content      string     `json:"content"`
	Parameters   Parameters `json:"parameters"`
	ProviderHint string     `json:"provider,omitempty"`
}

// Parameters are the tuning knobs forwarded to the provider.
type Parameters struct {
	Temperature float64        `json:"temperature"`
	MaxTokens   int            `json:"max_tokens"`
	Model       string         `json:"model,omitempty"`
	Extra       map[string]any `json:"extra,omitempty"`
}

// DefaultParameters returns the parameters used when a caller leaves them unset.
func DefaultParameters() Parameters {
	return Parameters{Temperature: 0.7, MaxTokens: 1000}
}

// ExtraString returns a string-valued extra parameter, or "" when absent.
func (p Parameters) ExtraString(key string) string {
	if p.Extra == nil {
		return ""
	}
	if s, ok := p.Extra[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Validate checks the bounds every provider shares. It never touches the network.
func (r *NormalizedRequest) Validate() error {
	switch r.Operation {
	case OpGenerate, OpImprove:
	default:
		return &InvalidParameterError{Field: "operation", Reason: "must be generate or improve"}
	}
	if strings.TrimSpace(r.Content) == "" {
		return &InvalidParameterError{Field: "content", Reason: "must not be empty"}
	}
	if r.Parameters.Temperature < MinTemperature || r.Parameters.Temperature > MaxTemperature {
		return &InvalidParameterError{Field: "temperature", Reason: "must be between 0 and 2"}
	}
	if r.Parameters.MaxTokens < MinMaxTokens || r.Parameters.MaxTokens > MaxMaxTokens {
		return &InvalidParameterError{Field: "max_tokens", Reason: "must be between 1 and 4000"}
	}
	return nil
}
