package adapters

import (
	"context"
	"fmt"

	"github.com/af-corp/inkwell/internal/types"
)

// ProviderAdapter turns a normalized request into one call against a text
// generation backend. Implementations validate before any network I/O, return
// *types.ProviderError for backend failures, and never retry on their own.
type ProviderAdapter interface {
	Name() string
	Call(ctx context.Context, req *types.NormalizedRequest) (*types.ProviderResult, error)
}

// limits is a backend's subrange of the shared parameter bounds. Zero fields
// leave the shared bound in place.
type limits struct {
	maxOutputTokens int
	maxTemperature  float64
}

// validate applies the shared bounds plus the backend-specific subrange.
func validate(req *types.NormalizedRequest, l limits) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if l.maxTemperature > 0 && req.Parameters.Temperature > l.maxTemperature {
		return &types.InvalidParameterError{
			Field:  "temperature",
			Reason: fmt.Sprintf("exceeds this provider's maximum of %g", l.maxTemperature),
		}
	}
	if l.maxOutputTokens > 0 && req.Parameters.MaxTokens > l.maxOutputTokens {
		return &types.InvalidParameterError{
			Field:  "max_tokens",
			Reason: "exceeds this provider's output limit",
		}
	}
	return nil
}

func modelFor(req *types.NormalizedRequest, fallback string) string {
	if req.Parameters.Model != "" {
		return req.Parameters.Model
	}
	return fallback
}
