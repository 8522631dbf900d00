package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for inkwell. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	GenerationTotal      *prometheus.CounterVec
	ProviderAttemptTotal *prometheus.CounterVec
	ProviderDurationMs   *prometheus.HistogramVec
	TokensTotal          *prometheus.CounterVec
	CacheLookupTotal     *prometheus.CounterVec
	QuotaDeniedTotal     *prometheus.CounterVec
	GuardBlockTotal      *prometheus.CounterVec
	SuggestionTotal      *prometheus.CounterVec
	HistoryAppendTotal   *prometheus.CounterVec
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		GenerationTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_generation_total",
			Help: "Generate and improve requests by operation and outcome.",
		}, []string{"operation", "outcome"}),

		ProviderAttemptTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_provider_attempt_total",
			Help: "Provider calls by provider and result kind.",
		}, []string{"provider", "result"}),

		ProviderDurationMs: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "inkwell_provider_duration_ms",
			Help:    "Provider call latency in milliseconds.",
			Buckets: []float64{50, 100, 250, 500, 1000, 2500, 5000, 10000, 30000, 60000},
		}, []string{"provider"}),

		TokensTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_tokens_total",
			Help: "Tokens consumed by successful provider calls.",
		}, []string{"provider", "direction"}),

		CacheLookupTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_cache_lookup_total",
			Help: "Response cache lookups by result.",
		}, []string{"result"}),

		QuotaDeniedTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_quota_denied_total",
			Help: "Requests denied by the usage ledger.",
		}, []string{"dimension"}),

		GuardBlockTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_guard_block_total",
			Help: "Prompts blocked by the prompt guard.",
		}, []string{"scanner"}),

		SuggestionTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_suggestion_total",
			Help: "Suggestion lifecycle transitions.",
		}, []string{"kind", "status"}),

		HistoryAppendTotal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "inkwell_history_append_total",
			Help: "History entries appended by change kind.",
		}, []string{"change_kind"}),
	}
}

// RecordGeneration records the outcome of one GenerateOrImprove call.
func (m *Metrics) RecordGeneration(operation, outcome string) {
	if m == nil {
		return
	}
	m.GenerationTotal.WithLabelValues(operation, outcome).Inc()
}

// RecordProviderAttempt records one provider call.
func (m *Metrics) RecordProviderAttempt(labels AttemptLabels) {
	if m == nil {
		return
	}
	m.ProviderAttemptTotal.WithLabelValues(labels.Provider, labels.Result).Inc()
	m.ProviderDurationMs.WithLabelValues(labels.Provider).Observe(labels.DurationMs)

	if labels.InputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Provider, "input").Add(float64(labels.InputTokens))
	}
	if labels.OutputTokens > 0 {
		m.TokensTotal.WithLabelValues(labels.Provider, "output").Add(float64(labels.OutputTokens))
	}
}

// RecordCacheLookup records a cache hit or miss.
func (m *Metrics) RecordCacheLookup(hit bool) {
	if m == nil {
		return
	}
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookupTotal.WithLabelValues(result).Inc()
}

func (m *Metrics) RecordQuotaDenied(dimension string) {
	if m == nil {
		return
	}
	m.QuotaDeniedTotal.WithLabelValues(dimension).Inc()
}

func (m *Metrics) RecordGuardBlock(scanner string) {
	if m == nil {
		return
	}
	m.GuardBlockTotal.WithLabelValues(scanner).Inc()
}

func (m *Metrics) RecordSuggestion(kind, status string) {
	if m == nil {
		return
	}
	m.SuggestionTotal.WithLabelValues(kind, status).Inc()
}

func (m *Metrics) RecordHistoryAppend(changeKind string) {
	if m == nil {
		return
	}
	m.HistoryAppendTotal.WithLabelValues(changeKind).Inc()
}

// AttemptLabels holds the values recorded for one provider call.
type AttemptLabels struct {
	Provider     string
	Result       string
	DurationMs   float64
	InputTokens  int
	OutputTokens int
}
