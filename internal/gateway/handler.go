package gateway

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/af-corp/inkwell/internal/auth"
	"github.com/af-corp/inkwell/internal/httputil"
	"github.com/af-corp/inkwell/internal/router"
	"github.com/af-corp/inkwell/internal/service"
	"github.com/af-corp/inkwell/internal/types"
)

// maxBodyBytes bounds every JSON request body.
const maxBodyBytes = 1 << 20

// Handler holds dependencies for the HTTP handlers.
type Handler struct {
	core    *service.Core
	health  *router.HealthTracker
	version string
}

func NewHandler(core *service.Core, health *router.HealthTracker, version string) *Handler {
	return &Handler{core: core, health: health, version: version}
}

// actor returns the authenticated caller, writing a 401 when there is none.
func actor(w http.ResponseWriter, r *http.Request) (types.Actor, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		httputil.WriteAuthError(w, w.Header().Get("X-Request-ID"), "Not authenticated")
		return types.Actor{}, false
	}
	return id.Actor, true
}

func decodeBody(w http.ResponseWriter, r *http.Request, dest any) bool {
	reqID := w.Header().Get("X-Request-ID")
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes+1))
	if err != nil {
		httputil.WriteBadRequestError(w, reqID, "Failed to read request body")
		return false
	}
	defer r.Body.Close()
	if len(body) > maxBodyBytes {
		httputil.WriteBadRequestError(w, reqID, "Request body too large")
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		httputil.WriteBadRequestError(w, reqID, "Invalid JSON: "+err.Error())
		return false
	}
	return true
}

// generateBody is the wire form of a generate or improve request. Omitted
// parameters take their defaults.
type generateBody struct {
	Operation   types.Operation `json:"operation"`
	Content     string          `json:"content"`
	Temperature *float64        `json:"temperature"`
	MaxTokens   *int            `json:"max_tokens"`
	Model       string          `json:"model"`
	Extra       map[string]any  `json:"extra"`
	Provider    string          `json:"provider"`
}

func (b generateBody) request() *types.NormalizedRequest {
	params := types.DefaultParameters()
	if b.Temperature != nil {
		params.Temperature = *b.Temperature
	}
	if b.MaxTokens != nil {
		params.MaxTokens = *b.MaxTokens
	}
	params.Model = b.Model
	params.Extra = b.Extra
	return &types.NormalizedRequest{
		Operation:    b.Operation,
		Content:      b.Content,
		Parameters:   params,
		ProviderHint: b.Provider,
	}
}

// Generate handles POST /v1/generate
func (h *Handler) Generate(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var body generateBody
	if !decodeBody(w, r, &body) {
		return
	}

	started := time.Now()
	res, err := h.core.GenerateOrImprove(r.Context(), body.request(), who)
	if err != nil {
		slog.Warn("generate failed", "request_id", reqID, "subject", who.ID, "error", err)
		httputil.WriteDomainError(w, reqID, err)
		return
	}
	slog.Info("generate served",
		"request_id", reqID,
		"subject", who.ID,
		"provider", res.ProviderID,
		"total_tokens", res.Usage.Total,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	httputil.WriteJSON(w, http.StatusOK, res)
}

type createDocumentBody struct {
	Title   string   `json:"title"`
	Content string   `json:"content"`
	Editors []string `json:"editors"`
}

// CreateDocument handles POST /v1/documents
func (h *Handler) CreateDocument(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var body createDocumentBody
	if !decodeBody(w, r, &body) {
		return
	}
	doc, err := h.core.CreateDocument(r.Context(), service.NewDocument{Title: body.Title, Content: body.Content, Editors: body.Editors}, who)
	if err != nil {
		httputil.WriteDomainError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, doc)
}

// GetDocument handles GET /v1/documents/{documentID}
func (h *Handler) GetDocument(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	doc, err := h.core.GetDocument(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, doc)
}

type createSuggestionBody struct {
	generateBody
	WorkflowID      string   `json:"workflow_id"`
	OriginalContent string   `json:"original_content"`
	Confidence      *float64 `json:"confidence"`
}

// CreateSuggestion handles POST /v1/documents/{documentID}/suggestions
func (h *Handler) CreateSuggestion(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	who, ok := actor(w, r)
	if !ok {
		return
	}
	var body createSuggestionBody
	if !decodeBody(w, r, &body) {
		return
	}
	s, err := h.core.Suggest(r.Context(), service.SuggestInput{
		DocumentID:      chi.URLParam(r, "documentID"),
		WorkflowID:      body.WorkflowID,
		Request:         body.request(),
		OriginalContent: body.OriginalContent,
		Confidence:      body.Confidence,
	}, who)
	if err != nil {
		httputil.WriteDomainError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, s)
}

// ListSuggestions handles GET /v1/documents/{documentID}/suggestions
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	status := types.SuggestionStatus(r.URL.Query().Get("status"))
	list, err := h.core.ListSuggestions(r.Context(), chi.URLParam(r, "documentID"), status)
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"suggestions": list})
}

// GetSuggestion handles GET /v1/suggestions/{suggestionID}
func (h *Handler) GetSuggestion(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	s, err := h.core.GetSuggestion(r.Context(), chi.URLParam(r, "suggestionID"))
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, s)
}

// AcceptSuggestion handles POST /v1/suggestions/{suggestionID}/accept
func (h *Handler) AcceptSuggestion(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	out, err := h.core.AcceptSuggestion(r.Context(), chi.URLParam(r, "suggestionID"), who)
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// RejectSuggestion handles POST /v1/suggestions/{suggestionID}/reject
func (h *Handler) RejectSuggestion(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	out, err := h.core.RejectSuggestion(r.Context(), chi.URLParam(r, "suggestionID"), who)
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// ListHistory handles GET /v1/documents/{documentID}/history
func (h *Handler) ListHistory(w http.ResponseWriter, r *http.Request) {
	reqID := w.Header().Get("X-Request-ID")
	if _, ok := actor(w, r); !ok {
		return
	}
	f, err := historyFilter(r.URL.Query())
	if err != nil {
		httputil.WriteDomainError(w, reqID, err)
		return
	}
	entries, err := h.core.GetHistory(r.Context(), chi.URLParam(r, "documentID"), f)
	if err != nil {
		httputil.WriteDomainError(w, reqID, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func historyFilter(q url.Values) (types.HistoryFilter, error) {
	f := types.HistoryFilter{
		ChangeKind: types.ChangeKind(q.Get("change_kind")),
		ActorID:    q.Get("actor_id"),
	}
	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, &types.InvalidParameterError{Field: "since", Reason: "must be an RFC 3339 timestamp"}
		}
		f.Since = t
	}
	for name, dest := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return f, &types.InvalidParameterError{Field: name, Reason: "must be an integer"}
		}
		*dest = n
	}
	return f, nil
}

// HistoryStatistics handles GET /v1/documents/{documentID}/history/stats
func (h *Handler) HistoryStatistics(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	stats, err := h.core.HistoryStatistics(r.Context(), chi.URLParam(r, "documentID"))
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, stats)
}

// GetHistoryEntry handles GET /v1/history/{entryID}
func (h *Handler) GetHistoryEntry(w http.ResponseWriter, r *http.Request) {
	if _, ok := actor(w, r); !ok {
		return
	}
	e, err := h.core.GetHistoryEntry(r.Context(), chi.URLParam(r, "entryID"))
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

// RevertHistory handles POST /v1/history/{entryID}/revert
func (h *Handler) RevertHistory(w http.ResponseWriter, r *http.Request) {
	who, ok := actor(w, r)
	if !ok {
		return
	}
	e, err := h.core.RevertHistory(r.Context(), chi.URLParam(r, "entryID"), who)
	if err != nil {
		httputil.WriteDomainError(w, w.Header().Get("X-Request-ID"), err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, e)
}

// admin lets only actors with the admin role through.
func admin(w http.ResponseWriter, r *http.Request) bool {
	who, ok := actor(w, r)
	if !ok {
		return false
	}
	if !slices.Contains(who.Roles, "admin") {
		httputil.WriteError(w, w.Header().Get("X-Request-ID"), http.StatusForbidden, "permission_error", "forbidden", "Admin role required")
		return false
	}
	return true
}

// CacheStats handles GET /v1/cache/stats
func (h *Handler) CacheStats(w http.ResponseWriter, r *http.Request) {
	if !admin(w, r) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, h.core.CacheStats())
}

// FlushCache handles POST /v1/cache/flush
func (h *Handler) FlushCache(w http.ResponseWriter, r *http.Request) {
	if !admin(w, r) {
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"flushed": h.core.FlushCache(r.Context())})
}

// DeleteCacheKey handles DELETE /v1/cache/{key}
func (h *Handler) DeleteCacheKey(w http.ResponseWriter, r *http.Request) {
	if !admin(w, r) {
		return
	}
	key, err := url.PathUnescape(chi.URLParam(r, "key"))
	if err != nil {
		httputil.WriteBadRequestError(w, w.Header().Get("X-Request-ID"), "Invalid cache key")
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]bool{"deleted": h.core.DeleteCacheKey(r.Context(), key)})
}

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	resp := map[string]any{
		"status":  "healthy",
		"version": h.version,
	}
	if h.health != nil {
		resp["providers"] = h.health.Snapshot()
	}
	httputil.WriteJSON(w, http.StatusOK, resp)
}
