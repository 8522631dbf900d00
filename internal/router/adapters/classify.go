package adapters

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/af-corp/inkwell/internal/types"
)

// maxErrorBody caps how much of a backend error body ends up in error messages.
const maxErrorBody = 512

var contentPolicyMarkers = []string{"content_filter", "content_policy", "content policy", "safety system"}

// classifyStatus maps a non-200 backend response onto the error taxonomy.
func classifyStatus(provider string, status int, header http.Header, body []byte) error {
	msg := strings.TrimSpace(string(body))
	if len(msg) > maxErrorBody {
		msg = msg[:maxErrorBody]
	}
	pe := &types.ProviderError{Provider: provider, StatusCode: status, Message: msg}

	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		pe.Kind = types.ProviderAuth
	case status == http.StatusTooManyRequests:
		pe.Kind = types.ProviderRateLimit
		pe.RetryAfter = parseRetryAfter(header)
	case status == http.StatusRequestTimeout || status >= 500:
		pe.Kind = types.ProviderTransient
	case status == http.StatusBadRequest && mentionsContentPolicy(msg):
		pe.Kind = types.ProviderContentPolicy
	default:
		return &types.InvalidParameterError{
			Field:  "request",
			Reason: provider + " rejected the request with status " + strconv.Itoa(status) + ": " + msg,
		}
	}
	return pe
}

// classifyTransportError wraps errors that happened before a response arrived.
// Timeouts, cancellations and connection failures are all transient.
func classifyTransportError(provider string, err error) error {
	pe := &types.ProviderError{Kind: types.ProviderTransient, Provider: provider, Err: err}
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		pe.Message = "timeout"
	case errors.As(err, &netErr) && netErr.Timeout():
		pe.Message = "timeout"
	}
	return pe
}

func mentionsContentPolicy(s string) bool {
	lower := strings.ToLower(s)
	for _, m := range contentPolicyMarkers {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

func parseRetryAfter(h http.Header) time.Duration {
	if h == nil {
		return 0
	}
	v := h.Get("Retry-After")
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		if d := time.Until(t); d > 0 {
			return d
		}
	}
	return 0
}
