package telemetry

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/stretchr/testify/require"
)

func counterValue(t *testing.T, c *prometheus.CounterVec, labels ...string) float64 {
	t.Helper()
	var m dto.Metric
	require.NoError(t, c.WithLabelValues(labels...).Write(&m))
	return m.GetCounter().GetValue()
}

func TestNewMetrics_Registers(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.RecordGeneration("generate", "ok")

	families, err := reg.Gather()
	require.NoError(t, err)
	names := map[string]bool{}
	for _, f := range families {
		names[f.GetName()] = true
	}
	require.True(t, names["inkwell_generation_total"])

	// a second registration on the same registry must fail
	require.Panics(t, func() { NewMetrics(reg) })
}

func TestRecordProviderAttempt(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordProviderAttempt(AttemptLabels{Provider: "openai", Result: "ok", DurationMs: 120, InputTokens: 10, OutputTokens: 30})
	m.RecordProviderAttempt(AttemptLabels{Provider: "openai", Result: "transient", DurationMs: 30000})

	require.Equal(t, 1.0, counterValue(t, m.ProviderAttemptTotal, "openai", "ok"))
	require.Equal(t, 1.0, counterValue(t, m.ProviderAttemptTotal, "openai", "transient"))
	require.Equal(t, 10.0, counterValue(t, m.TokensTotal, "openai", "input"))
	require.Equal(t, 30.0, counterValue(t, m.TokensTotal, "openai", "output"))

	var hist dto.Metric
	obs, err := m.ProviderDurationMs.GetMetricWithLabelValues("openai")
	require.NoError(t, err)
	require.NoError(t, obs.(prometheus.Histogram).Write(&hist))
	require.EqualValues(t, 2, hist.GetHistogram().GetSampleCount())
}

func TestRecordCounters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.RecordCacheLookup(true)
	m.RecordCacheLookup(false)
	m.RecordCacheLookup(false)
	m.RecordQuotaDenied("tokens")
	m.RecordGuardBlock("secrets")
	m.RecordSuggestion("improvement", "accepted")
	m.RecordHistoryAppend("ai_improved")

	require.Equal(t, 1.0, counterValue(t, m.CacheLookupTotal, "hit"))
	require.Equal(t, 2.0, counterValue(t, m.CacheLookupTotal, "miss"))
	require.Equal(t, 1.0, counterValue(t, m.QuotaDeniedTotal, "tokens"))
	require.Equal(t, 1.0, counterValue(t, m.GuardBlockTotal, "secrets"))
	require.Equal(t, 1.0, counterValue(t, m.SuggestionTotal, "improvement", "accepted"))
	require.Equal(t, 1.0, counterValue(t, m.HistoryAppendTotal, "ai_improved"))
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	require.NotPanics(t, func() {
		m.RecordGeneration("generate", "ok")
		m.RecordProviderAttempt(AttemptLabels{Provider: "x"})
		m.RecordCacheLookup(true)
		m.RecordQuotaDenied("requests")
		m.RecordGuardBlock("injection")
		m.RecordSuggestion("generation", "pending")
		m.RecordHistoryAppend("manual_revert")
	})
}
