package ratelimit

import (
	"context"
	"sync"
	"time"

	"github.com/af-corp/inkwell/internal/clock"
)

// MemoryLedger keeps usage windows in process memory. All operations are
// serialized, so concurrent records never lose increments.
type MemoryLedger struct {
	mu       sync.Mutex
	limits   Limits
	clock    clock.Clock
	subjects map[string]*Usage
}

func NewMemoryLedger(limits Limits, clk clock.Clock) *MemoryLedger {
	if clk == nil {
		clk = clock.System{}
	}
	return &MemoryLedger{
		limits:   limits,
		clock:    clk,
		subjects: make(map[string]*Usage),
	}
}

// usage returns the subject's windows after lazy rollover. Must be called with mu held.
func (m *MemoryLedger) usage(subject string, now time.Time) *Usage {
	u, ok := m.subjects[subject]
	if !ok {
		u = &Usage{SubjectID: subject}
		m.subjects[subject] = u
	}
	roll(&u.Requests, m.limits.RequestWindow, now)
	roll(&u.Tokens, TokenWindow, now)
	return u
}

func roll(w *Window, length time.Duration, now time.Time) {
	if w.Start.IsZero() || now.Sub(w.Start) >= length {
		w.Start = now
		w.Count = 0
	}
}

func (m *MemoryLedger) Check(_ context.Context, subject string) (Decision, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.clock.Now()
	return decide(m.limits, *m.usage(subject, now), now), nil
}

func (m *MemoryLedger) Record(_ context.Context, subject string, tokens int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage(subject, m.clock.Now())
	u.Requests.Count++
	if tokens > 0 {
		u.Tokens.Count += int64(tokens)
	}
	return nil
}

func (m *MemoryLedger) Charge(_ context.Context, subject string, tokens int) error {
	if tokens <= 0 {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	u := m.usage(subject, m.clock.Now())
	u.Tokens.Count += int64(tokens)
	return nil
}

func (m *MemoryLedger) Usage(_ context.Context, subject string) (Usage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return *m.usage(subject, m.clock.Now()), nil
}
