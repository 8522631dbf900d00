package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/af-corp/inkwell/internal/cache"
	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/ratelimit"
	"github.com/af-corp/inkwell/internal/router"
	"github.com/af-corp/inkwell/internal/types"
)

var t0 = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

type step func(ctx context.Context) (*types.ProviderResult, error)

// stubAdapter replays scripted steps; the last one repeats.
type stubAdapter struct {
	name  string
	mu    sync.Mutex
	steps []step
	calls int
}

func (a *stubAdapter) Name() string { return a.name }

func (a *stubAdapter) Call(ctx context.Context, _ *types.NormalizedRequest) (*types.ProviderResult, error) {
	a.mu.Lock()
	i := a.calls
	a.calls++
	if i >= len(a.steps) {
		i = len(a.steps) - 1
	}
	s := a.steps[i]
	a.mu.Unlock()
	return s(ctx)
}

func (a *stubAdapter) Calls() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.calls
}

func stub(name string, steps ...step) *stubAdapter {
	return &stubAdapter{name: name, steps: steps}
}

func ok(content string, tokens int) step {
	return func(context.Context) (*types.ProviderResult, error) {
		return &types.ProviderResult{Content: content, Usage: types.TokenUsage{Input: tokens / 2, Output: tokens - tokens/2, Total: tokens}, Model: "m"}, nil
	}
}

func fails(kind types.ProviderErrorKind) step {
	return func(context.Context) (*types.ProviderResult, error) {
		return nil, &types.ProviderError{Kind: kind, Message: string(kind)}
	}
}

func hangs() step {
	return func(ctx context.Context) (*types.ProviderResult, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}
}

type blockAll struct{}

func (blockAll) Guard(context.Context, *types.NormalizedRequest) error {
	return types.ErrContentPolicyViolation
}

type harness struct {
	o      *Orchestrator
	ledger *ratelimit.MemoryLedger
	cache  *cache.Manager
	health *router.HealthTracker
	clock  *clock.Fake
	cfg    *config.Config
	sleeps []time.Duration
}

func newHarness(t *testing.T, mutate func(*config.Config), guard Guard, providers ...*stubAdapter) *harness {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Routing.DefaultProvider = "primary"
	cfg.Routing.FallbackProvider = "fallback"
	cfg.Routing.Timeout = time.Second
	cfg.Routing.MaxAttempts = 3
	cfg.Routing.RetryBackoff = 100 * time.Millisecond
	cfg.Ledger.RequestsPerWindow = 100
	cfg.Ledger.DailyTokens = 10000
	if mutate != nil {
		mutate(cfg)
	}

	clk := clock.NewFake(t0)
	registry := router.NewRegistry()
	for _, p := range providers {
		registry.Register(p.name, p)
	}
	backend, err := cache.NewMemoryBackend(64)
	require.NoError(t, err)

	h := &harness{
		ledger: ratelimit.NewMemoryLedger(ratelimit.LimitsFromConfig(cfg.Ledger), clk),
		cache:  cache.NewManager(backend, cache.Options{Enabled: cfg.Cache.Enabled, TTL: time.Minute, Clock: clk}),
		health: router.NewHealthTracker(cfg.Routing.CircuitBreaker, clk),
		clock:  clk,
		cfg:    cfg,
	}
	sleep := func(ctx context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return ctx.Err()
	}
	h.o = New(registry, h.health, h.cache, h.ledger, guard, func() *config.Config { return cfg }, nil,
		WithClock(clk), WithSleep(sleep))
	return h
}

func (h *harness) usage(t *testing.T) ratelimit.Usage {
	t.Helper()
	u, err := h.ledger.Usage(context.Background(), "user-1")
	require.NoError(t, err)
	return u
}

func request(content string) *types.NormalizedRequest {
	return &types.NormalizedRequest{Operation: types.OpImprove, Content: content, Parameters: types.DefaultParameters()}
}

func TestGenerate_SuccessRecordsAndCaches(t *testing.T) {
	ctx := context.Background()
	primary := stub("primary", ok("better text", 30))
	h := newHarness(t, nil, nil, primary)

	res, err := h.o.GenerateOrImprove(ctx, request("text"), "user-1")
	require.NoError(t, err)
	require.Equal(t, "better text", res.Content)
	require.Equal(t, "primary", res.ProviderID)

	u := h.usage(t)
	require.EqualValues(t, 1, u.Requests.Count)
	require.EqualValues(t, 30, u.Tokens.Count)

	again, err := h.o.GenerateOrImprove(ctx, request("text"), "user-1")
	require.NoError(t, err)
	require.Equal(t, res.Content, again.Content)
	require.Equal(t, 1, primary.Calls())
	require.EqualValues(t, 1, h.usage(t).Requests.Count, "cache hits are not charged")
	require.EqualValues(t, 1, h.cache.Stats().Hits)
}

func TestGenerate_CacheHitBypassesQuotaAndGuard(t *testing.T) {
	ctx := context.Background()
	primary := stub("primary", ok("cached", 10))
	h := newHarness(t, func(c *config.Config) { c.Ledger.RequestsPerWindow = 1 }, nil, primary)

	_, err := h.o.GenerateOrImprove(ctx, request("same"), "user-1")
	require.NoError(t, err)

	_, err = h.o.GenerateOrImprove(ctx, request("same"), "user-1")
	require.NoError(t, err)

	_, err = h.o.GenerateOrImprove(ctx, request("different"), "user-1")
	var qe *types.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	require.ErrorIs(t, err, types.ErrQuotaExceeded)
	require.Equal(t, types.QuotaRequests, qe.Dimension)
	require.EqualValues(t, 1, qe.Limit)
	require.Equal(t, time.Minute, qe.RetryAfter)
	require.Equal(t, 1, primary.Calls())
}

func TestGenerate_TokenQuota(t *testing.T) {
	ctx := context.Background()
	primary := stub("primary", ok("x", 60))
	h := newHarness(t, func(c *config.Config) { c.Ledger.DailyTokens = 50 }, nil, primary)

	_, err := h.o.GenerateOrImprove(ctx, request("one"), "user-1")
	require.NoError(t, err)

	_, err = h.o.GenerateOrImprove(ctx, request("two"), "user-1")
	var qe *types.QuotaExceededError
	require.ErrorAs(t, err, &qe)
	require.Equal(t, types.QuotaTokens, qe.Dimension)
	require.EqualValues(t, 60, qe.Used)

	h.clock.Advance(24 * time.Hour)
	_, err = h.o.GenerateOrImprove(ctx, request("two"), "user-1")
	require.NoError(t, err)
}

func TestGenerate_RetriesTransientWithBackoff(t *testing.T) {
	primary := stub("primary", fails(types.ProviderTransient), fails(types.ProviderTransient), ok("third time", 9))
	fallback := stub("fallback", ok("unused", 1))
	h := newHarness(t, nil, nil, primary, fallback)

	res, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	require.NoError(t, err)
	require.Equal(t, "third time", res.Content)
	require.Equal(t, 3, primary.Calls())
	require.Zero(t, fallback.Calls())
	require.Equal(t, []time.Duration{100 * time.Millisecond, 200 * time.Millisecond}, h.sleeps)
}

func TestGenerate_FallbackAfterRetriesExhausted(t *testing.T) {
	primary := stub("primary", fails(types.ProviderTransient))
	fallback := stub("fallback", ok("from fallback", 12))
	h := newHarness(t, nil, nil, primary, fallback)

	res, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	require.NoError(t, err)
	require.Equal(t, "fallback", res.ProviderID)
	require.Equal(t, 3, primary.Calls())
	require.Equal(t, 1, fallback.Calls())
	require.EqualValues(t, 12, h.usage(t).Tokens.Count)
}

func TestGenerate_AllProvidersFailed(t *testing.T) {
	ctx := context.Background()
	primary := stub("primary", fails(types.ProviderTransient))
	fallback := stub("fallback", fails(types.ProviderTransient))
	h := newHarness(t, nil, nil, primary, fallback)

	_, err := h.o.GenerateOrImprove(ctx, request("text"), "user-1")
	require.ErrorIs(t, err, types.ErrAllProvidersFailed)

	var all *types.AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Causes, 4)
	for i, want := range []struct {
		provider string
		attempt  int
	}{{"primary", 1}, {"primary", 2}, {"primary", 3}, {"fallback", 1}} {
		require.Equal(t, want.provider, all.Causes[i].Provider)
		require.Equal(t, want.attempt, all.Causes[i].Attempt)
	}
	require.True(t, all.OnlyKind(types.ProviderTransient))
	require.Equal(t, 1, fallback.Calls(), "the fallback is one hop")

	// failure touches neither ledger nor cache
	u := h.usage(t)
	require.Zero(t, u.Requests.Count)
	require.Zero(t, u.Tokens.Count)
	require.Zero(t, h.cache.Stats().Writes)
}

func TestGenerate_AuthAndRateLimitSkipToFallback(t *testing.T) {
	for _, kind := range []types.ProviderErrorKind{types.ProviderAuth, types.ProviderRateLimit} {
		t.Run(string(kind), func(t *testing.T) {
			primary := stub("primary", fails(kind))
			fallback := stub("fallback", fails(kind))
			h := newHarness(t, nil, nil, primary, fallback)

			_, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
			var all *types.AllProvidersFailedError
			require.ErrorAs(t, err, &all)
			require.True(t, all.OnlyKind(kind))
			require.Equal(t, 1, primary.Calls(), "not retried")
			require.Equal(t, 1, fallback.Calls())
			require.Empty(t, h.sleeps)
		})
	}
}

func TestGenerate_ContentPolicyIsTerminal(t *testing.T) {
	primary := stub("primary", fails(types.ProviderContentPolicy))
	fallback := stub("fallback", ok("unused", 1))
	h := newHarness(t, nil, nil, primary, fallback)

	_, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	require.ErrorIs(t, err, types.ErrContentPolicyViolation)
	require.Equal(t, 1, primary.Calls())
	require.Zero(t, fallback.Calls())
}

func TestGenerate_AdapterInvalidParameterIsTerminal(t *testing.T) {
	primary := stub("primary", func(context.Context) (*types.ProviderResult, error) {
		return nil, &types.InvalidParameterError{Field: "model", Reason: "unknown model"}
	})
	fallback := stub("fallback", ok("unused", 1))
	h := newHarness(t, nil, nil, primary, fallback)

	_, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	require.ErrorIs(t, err, types.ErrInvalidParameter)
	require.Zero(t, fallback.Calls())
}

func TestGenerate_InvalidRequests(t *testing.T) {
	primary := stub("primary", ok("unused", 1))
	h := newHarness(t, nil, nil, primary)

	bad := request("text")
	bad.Parameters.Temperature = 3
	_, err := h.o.GenerateOrImprove(context.Background(), bad, "user-1")
	require.ErrorIs(t, err, types.ErrInvalidParameter)

	hinted := request("text")
	hinted.ProviderHint = "nope"
	_, err = h.o.GenerateOrImprove(context.Background(), hinted, "user-1")
	var ipe *types.InvalidParameterError
	require.ErrorAs(t, err, &ipe)
	require.Equal(t, "provider", ipe.Field)

	_, err = h.o.GenerateOrImprove(context.Background(), nil, "user-1")
	require.ErrorIs(t, err, types.ErrInvalidParameter)
	require.Zero(t, primary.Calls())
}

func TestGenerate_HintSelectsProvider(t *testing.T) {
	primary := stub("primary", ok("primary", 1))
	other := stub("other", ok("other", 1))
	h := newHarness(t, nil, nil, primary, other)

	req := request("text")
	req.ProviderHint = "other"
	res, err := h.o.GenerateOrImprove(context.Background(), req, "user-1")
	require.NoError(t, err)
	require.Equal(t, "other", res.Content)
	require.Zero(t, primary.Calls())
}

func TestGenerate_GuardBlocksBeforeQuota(t *testing.T) {
	primary := stub("primary", ok("unused", 1))
	h := newHarness(t, nil, blockAll{}, primary)

	_, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	require.ErrorIs(t, err, types.ErrContentPolicyViolation)
	require.Zero(t, primary.Calls())
	require.Zero(t, h.usage(t).Requests.Count)
}

func TestGenerate_TimeoutIsTransient(t *testing.T) {
	primary := stub("primary", hangs())
	h := newHarness(t, func(c *config.Config) {
		c.Routing.Timeout = 20 * time.Millisecond
		c.Routing.MaxAttempts = 2
		c.Routing.FallbackProvider = ""
	}, nil, primary)

	_, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	var all *types.AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Causes, 2)
	var pe *types.ProviderError
	require.ErrorAs(t, all.Causes[0].Err, &pe)
	require.Equal(t, types.ProviderTransient, pe.Kind)
	require.Equal(t, "timeout", pe.Message)
}

func TestGenerate_OpenCircuitIsSkipped(t *testing.T) {
	primary := stub("primary", ok("unused", 1))
	fallback := stub("fallback", ok("fallback", 4))
	h := newHarness(t, func(c *config.Config) { c.Routing.CircuitBreaker.FailureThreshold = 2 }, nil, primary, fallback)

	breaker := h.health.GetBreaker("primary")
	breaker.RecordFailure()
	breaker.RecordFailure()

	res, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	require.NoError(t, err)
	require.Equal(t, "fallback", res.Content)
	require.Zero(t, primary.Calls())
}

func TestGenerate_TransientFailuresTripBreaker(t *testing.T) {
	primary := stub("primary", fails(types.ProviderTransient))
	h := newHarness(t, func(c *config.Config) {
		c.Routing.CircuitBreaker.FailureThreshold = 3
		c.Routing.FallbackProvider = ""
	}, nil, primary)

	_, err := h.o.GenerateOrImprove(context.Background(), request("one"), "user-1")
	require.ErrorIs(t, err, types.ErrAllProvidersFailed)
	require.Equal(t, router.StateOpen, h.health.GetBreaker("primary").State())

	_, err = h.o.GenerateOrImprove(context.Background(), request("two"), "user-1")
	var all *types.AllProvidersFailedError
	require.ErrorAs(t, err, &all)
	require.Len(t, all.Causes, 1)
	require.Contains(t, all.Causes[0].Err.Error(), "circuit open")
	require.Equal(t, 3, primary.Calls())
}

func TestGenerate_FailedCallCharging(t *testing.T) {
	partial := func(context.Context) (*types.ProviderResult, error) {
		return nil, &types.ProviderError{Kind: types.ProviderContentPolicy, Message: "refusal", PartialUsage: &types.TokenUsage{Input: 20, Output: 5, Total: 25}}
	}
	tests := []struct {
		policy string
		tokens int64
	}{
		{config.ChargeNone, 0},
		{config.ChargeTokens, 25},
	}
	for _, tt := range tests {
		t.Run(tt.policy, func(t *testing.T) {
			h := newHarness(t, func(c *config.Config) { c.Ledger.ChargeFailedCalls = tt.policy }, nil, stub("primary", partial))
			_, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
			require.ErrorIs(t, err, types.ErrContentPolicyViolation)
			u := h.usage(t)
			require.Equal(t, tt.tokens, u.Tokens.Count)
			require.Zero(t, u.Requests.Count)
		})
	}
}

func TestGenerate_CallerCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	primary := stub("primary", func(context.Context) (*types.ProviderResult, error) {
		cancel()
		return nil, &types.ProviderError{Kind: types.ProviderTransient, Message: "reset"}
	})
	fallback := stub("fallback", ok("unused", 1))
	h := newHarness(t, nil, nil, primary, fallback)

	_, err := h.o.GenerateOrImprove(ctx, request("text"), "user-1")
	require.ErrorIs(t, err, context.Canceled)
	require.Equal(t, 1, primary.Calls())
	require.Zero(t, fallback.Calls())
}

type brokenLedger struct{ ratelimit.Ledger }

func (brokenLedger) Check(context.Context, string) (ratelimit.Decision, error) {
	return ratelimit.Decision{}, errors.New("redis down")
}

func (brokenLedger) Record(context.Context, string, int) error { return errors.New("redis down") }

func TestGenerate_LedgerErrorsFailOpen(t *testing.T) {
	primary := stub("primary", ok("fine", 3))
	h := newHarness(t, nil, nil, primary)
	h.o.ledger = brokenLedger{}

	res, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
	require.NoError(t, err)
	require.Equal(t, "fine", res.Content)
}

func TestGenerate_DisabledCacheAlwaysCallsProvider(t *testing.T) {
	primary := stub("primary", ok("fresh", 2))
	h := newHarness(t, func(c *config.Config) { c.Cache.Enabled = false }, nil, primary)

	for i := 0; i < 2; i++ {
		_, err := h.o.GenerateOrImprove(context.Background(), request("text"), "user-1")
		require.NoError(t, err)
	}
	require.Equal(t, 2, primary.Calls())
	require.EqualValues(t, 2, h.cache.Stats().Misses)
}

func TestBackoff(t *testing.T) {
	require.Equal(t, 100*time.Millisecond, backoff(100*time.Millisecond, 1))
	require.Equal(t, 400*time.Millisecond, backoff(100*time.Millisecond, 3))
	require.Equal(t, maxBackoff, backoff(time.Second, 10))
}
