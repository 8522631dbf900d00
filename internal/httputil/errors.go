package httputil

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	"github.com/af-corp/inkwell/internal/types"
)

// APIError is the error envelope of every non-2xx response.
type APIError struct {
	Error APIErrorBody `json:"error"`
}

type APIErrorBody struct {
	Message   string `json:"message"`
	Type      string `json:"type"`
	Code      string `json:"code"`
	RequestID string `json:"request_id,omitempty"`
}

func WriteError(w http.ResponseWriter, requestID string, statusCode int, errType, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Request-ID", requestID)
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(APIError{
		Error: APIErrorBody{
			Message:   message,
			Type:      errType,
			Code:      code,
			RequestID: requestID,
		},
	})
}

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, statusCode int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(v)
}

func WriteAuthError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnauthorized, "authentication_error", "invalid_api_key", message)
}

func WriteBadRequestError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_request", message)
}

func WriteInternalError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusInternalServerError, "server_error", "internal_error", message)
}

func WriteServiceUnavailableError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusServiceUnavailable, "server_error", "service_unavailable", message)
}

func WriteContentBlockedError(w http.ResponseWriter, requestID, message string) {
	WriteError(w, requestID, http.StatusUnavailableForLegalReasons, "content_filter_error", "content_blocked", message)
}

// WriteDomainError maps an error from the core onto its HTTP status. Errors
// outside the taxonomy are reported as internal without their message.
func WriteDomainError(w http.ResponseWriter, requestID string, err error) {
	var quota *types.QuotaExceededError
	var failed *types.AllProvidersFailedError

	switch {
	case errors.As(err, &quota):
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(quota.RetryAfter.Seconds()))))
		WriteError(w, requestID, http.StatusTooManyRequests, "rate_limit_error", "quota_exceeded", err.Error())
	case errors.Is(err, types.ErrInvalidParameter):
		WriteError(w, requestID, http.StatusBadRequest, "invalid_request_error", "invalid_parameter", err.Error())
	case errors.Is(err, types.ErrContentPolicyViolation):
		WriteContentBlockedError(w, requestID, err.Error())
	case errors.As(err, &failed):
		if failed.OnlyKind(types.ProviderRateLimit) {
			WriteError(w, requestID, http.StatusServiceUnavailable, "upstream_error", "providers_rate_limited", err.Error())
			return
		}
		WriteError(w, requestID, http.StatusBadGateway, "upstream_error", "all_providers_failed", err.Error())
	case errors.Is(err, types.ErrForbidden):
		WriteError(w, requestID, http.StatusForbidden, "permission_error", "forbidden", err.Error())
	case errors.Is(err, types.ErrNotFound):
		WriteError(w, requestID, http.StatusNotFound, "not_found_error", "not_found", err.Error())
	case errors.Is(err, types.ErrAlreadyProcessed):
		WriteError(w, requestID, http.StatusConflict, "conflict_error", "already_processed", err.Error())
	case errors.Is(err, types.ErrStaleSuggestion):
		WriteError(w, requestID, http.StatusConflict, "conflict_error", "stale_suggestion", err.Error())
	default:
		WriteInternalError(w, requestID, "Internal error")
	}
}
