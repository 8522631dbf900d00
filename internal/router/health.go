package router

import (
	"sort"
	"sync"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/config"
)

// HealthTracker manages circuit breakers for all providers.
type HealthTracker struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	clock    clock.Clock
	cfg      config.CircuitBreakerConfig
}

// NewHealthTracker gives every provider its own breaker built from cfg.
func NewHealthTracker(cfg config.CircuitBreakerConfig, clk clock.Clock) *HealthTracker {
	return &HealthTracker{
		breakers: make(map[string]*CircuitBreaker),
		clock:    clk,
		cfg:      cfg,
	}
}

// GetBreaker returns (or lazily creates) the circuit breaker for a provider.
func (ht *HealthTracker) GetBreaker(provider string) *CircuitBreaker {
	ht.mu.RLock()
	cb, ok := ht.breakers[provider]
	ht.mu.RUnlock()
	if ok {
		return cb
	}

	ht.mu.Lock()
	defer ht.mu.Unlock()
	if cb, ok := ht.breakers[provider]; ok {
		return cb
	}
	cb = NewCircuitBreaker(ht.cfg, ht.clock)
	ht.breakers[provider] = cb
	return cb
}

func (ht *HealthTracker) IsAvailable(provider string) bool {
	return ht.GetBreaker(provider).Allow()
}

func (ht *HealthTracker) RecordSuccess(provider string) {
	ht.GetBreaker(provider).RecordSuccess()
}

func (ht *HealthTracker) RecordFailure(provider string) {
	ht.GetBreaker(provider).RecordFailure()
}

// ProviderHealth is one provider's breaker state as reported by Snapshot.
type ProviderHealth struct {
	Provider string `json:"provider"`
	State    string `json:"state"`
}

// Snapshot lists the breaker state of every provider seen so far, sorted by name.
func (ht *HealthTracker) Snapshot() []ProviderHealth {
	ht.mu.RLock()
	out := make([]ProviderHealth, 0, len(ht.breakers))
	for name, cb := range ht.breakers {
		out = append(out, ProviderHealth{Provider: name, State: cb.State().String()})
	}
	ht.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].Provider < out[j].Provider })
	return out
}
