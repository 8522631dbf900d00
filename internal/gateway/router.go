package gateway

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
)

// RouterConfig is what NewRouter needs besides the handler.
type RouterConfig struct {
	// Auth authenticates every /v1 route and places the acting user in the
	// request context.
	Auth           func(http.Handler) http.Handler
	AllowedOrigins []string
	MetricsPath    string
	Gatherer       prometheus.Gatherer
}

func NewRouter(h *Handler, rc RouterConfig) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(RequestID)

	if len(rc.AllowedOrigins) > 0 {
		r.Use(cors.New(cors.Options{
			AllowedOrigins:   rc.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Authorization", "Content-Type", "X-Request-ID"},
			ExposedHeaders:   []string{"X-Request-ID", "Retry-After"},
			AllowCredentials: true,
		}).Handler)
	}

	r.Get("/health", h.Health)
	if rc.Gatherer != nil {
		path := rc.MetricsPath
		if path == "" {
			path = "/metrics"
		}
		r.Handle(path, promhttp.HandlerFor(rc.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/v1", func(r chi.Router) {
		if rc.Auth != nil {
			r.Use(rc.Auth)
		}
		r.Post("/generate", h.Generate)

		r.Post("/documents", h.CreateDocument)
		r.Get("/documents/{documentID}", h.GetDocument)
		r.Post("/documents/{documentID}/suggestions", h.CreateSuggestion)
		r.Get("/documents/{documentID}/suggestions", h.ListSuggestions)
		r.Get("/documents/{documentID}/history", h.ListHistory)
		r.Get("/documents/{documentID}/history/stats", h.HistoryStatistics)

		r.Get("/suggestions/{suggestionID}", h.GetSuggestion)
		r.Post("/suggestions/{suggestionID}/accept", h.AcceptSuggestion)
		r.Post("/suggestions/{suggestionID}/reject", h.RejectSuggestion)

		r.Get("/history/{entryID}", h.GetHistoryEntry)
		r.Post("/history/{entryID}/revert", h.RevertHistory)

		r.Get("/cache/stats", h.CacheStats)
		r.Post("/cache/flush", h.FlushCache)
		r.Delete("/cache/{key}", h.DeleteCacheKey)
	})
	return r
}
