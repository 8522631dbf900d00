package router

import (
	"sync"
	"time"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/config"
)

// minRateSamples is how many outcomes the error-rate window needs before the
// rate can trip the breaker.
const minRateSamples = 10

// CircuitState represents the state of a circuit breaker.
type CircuitState int

const (
	StateClosed   CircuitState = iota // healthy, calls flow
	StateOpen                         // unhealthy, calls skipped
	StateHalfOpen                     // probing, one call allowed
)

func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half_open"
	default:
		return "unknown"
	}
}

type outcome struct {
	at     time.Time
	failed bool
}

// CircuitBreaker guards one provider. It opens after FailureThreshold
// consecutive transient failures, or when the share of failures among the
// outcomes of the last ErrorRateWindow reaches ErrorRateThreshold.
type CircuitBreaker struct {
	mu    sync.Mutex
	clock clock.Clock
	cfg   config.CircuitBreakerConfig

	state         CircuitState
	failures      int
	openedAt      time.Time
	probeInFlight bool
	recent        []outcome
}

func NewCircuitBreaker(cfg config.CircuitBreakerConfig, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.System{}
	}
	return &CircuitBreaker{clock: clk, cfg: cfg, state: StateClosed}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.currentState()
}

// currentState moves OPEN to HALF_OPEN once the probe interval elapsed.
// Must be called with mu held.
func (cb *CircuitBreaker) currentState() CircuitState {
	if cb.state == StateOpen && cb.clock.Now().Sub(cb.openedAt) >= cb.cfg.RecoveryProbeInterval {
		cb.state = StateHalfOpen
		cb.probeInFlight = false
	}
	return cb.state
}

// Allow reports whether a call may go through. In HALF_OPEN only one probe is
// admitted until its outcome is recorded.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.currentState() {
	case StateClosed:
		return true
	case StateHalfOpen:
		if cb.probeInFlight {
			return false
		}
		cb.probeInFlight = true
		return true
	}
	return false
}

func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.currentState() != StateClosed {
		cb.recent = cb.recent[:0]
	}
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
	cb.observe(false)
}

func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	switch cb.currentState() {
	case StateClosed:
		cb.observe(true)
		if cb.cfg.FailureThreshold > 0 && cb.failures >= cb.cfg.FailureThreshold {
			cb.open()
			return
		}
		if cb.rateExceeded() {
			cb.open()
		}
	case StateHalfOpen:
		cb.open()
	}
}

// observe appends an outcome and drops the ones that left the window.
func (cb *CircuitBreaker) observe(failed bool) {
	if cb.cfg.ErrorRateThreshold <= 0 || cb.cfg.ErrorRateWindow <= 0 {
		return
	}
	now := cb.clock.Now()
	cb.recent = append(cb.recent, outcome{at: now, failed: failed})
	cutoff := now.Add(-cb.cfg.ErrorRateWindow)
	i := 0
	for i < len(cb.recent) && !cb.recent[i].at.After(cutoff) {
		i++
	}
	cb.recent = cb.recent[i:]
}

func (cb *CircuitBreaker) rateExceeded() bool {
	if len(cb.recent) < minRateSamples {
		return false
	}
	failed := 0
	for _, o := range cb.recent {
		if o.failed {
			failed++
		}
	}
	return float64(failed)/float64(len(cb.recent)) >= cb.cfg.ErrorRateThreshold
}

func (cb *CircuitBreaker) open() {
	cb.state = StateOpen
	cb.openedAt = cb.clock.Now()
	cb.probeInFlight = false
	cb.recent = cb.recent[:0]
}

func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state = StateClosed
	cb.failures = 0
	cb.probeInFlight = false
	cb.recent = cb.recent[:0]
}
