// Package orchestrator runs a generate or improve request through the cache,
// the prompt guard, the usage ledger and the provider route.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/af-corp/inkwell/internal/cache"
	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/config"
	"github.com/af-corp/inkwell/internal/events"
	"github.com/af-corp/inkwell/internal/filter"
	"github.com/af-corp/inkwell/internal/ratelimit"
	"github.com/af-corp/inkwell/internal/router"
	"github.com/af-corp/inkwell/internal/router/adapters"
	"github.com/af-corp/inkwell/internal/telemetry"
	"github.com/af-corp/inkwell/internal/types"
)

// maxBackoff caps the delay between retries of one provider.
const maxBackoff = 5 * time.Second

// Guard screens prompts that missed the cache.
type Guard interface {
	Guard(ctx context.Context, req *types.NormalizedRequest) error
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

type Orchestrator struct {
	registry *router.Registry
	health   *router.HealthTracker
	cache    *cache.Manager
	ledger   ratelimit.Ledger
	guard    Guard
	cfg      func() *config.Config
	metrics  *telemetry.Metrics
	clock    clock.Clock
	sleep    SleepFunc
	events   events.Publisher
}

// Option customises an Orchestrator.
type Option func(*Orchestrator)

func WithClock(c clock.Clock) Option { return func(o *Orchestrator) { o.clock = c } }
func WithSleep(s SleepFunc) Option { return func(o *Orchestrator) { o.sleep = s } }
func WithEvents(p events.Publisher) Option { return func(o *Orchestrator) { o.events = p } }

func New(registry *router.Registry, health *router.HealthTracker, cacheMgr *cache.Manager, ledger ratelimit.Ledger, guard Guard, cfg func() *config.Config, metrics *telemetry.Metrics, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry: registry,
		health:   health,
		cache:    cacheMgr,
		ledger:   ledger,
		guard:    guard,
		cfg:      cfg,
		metrics:  metrics,
		clock:    clock.System{},
		sleep:    sleepContext,
		events:   events.Nop{},
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// GenerateOrImprove answers req for subjectID. A cache hit returns
// immediately. Otherwise the prompt is screened, the subject's quota checked
// and the providers tried in route order. Only a success records usage and
// fills the cache.
func (o *Orchestrator) GenerateOrImprove(ctx context.Context, req *types.NormalizedRequest, subjectID string) (*types.ProviderResult, error) {
	if req == nil {
		return nil, &types.InvalidParameterError{Field: "request", Reason: "must not be empty"}
	}
	op := string(req.Operation)
	if err := req.Validate(); err != nil {
		o.metrics.RecordGeneration(op, "invalid")
		return nil, err
	}
	if req.ProviderHint != "" {
		if _, ok := o.registry.Get(req.ProviderHint); !ok {
			o.metrics.RecordGeneration(op, "invalid")
			return nil, &types.InvalidParameterError{Field: "provider", Reason: fmt.Sprintf("unknown provider %q", req.ProviderHint)}
		}
	}

	key := o.cache.Key(req)
	if res, ok := o.cache.Get(ctx, key); ok {
		o.metrics.RecordCacheLookup(true)
		o.metrics.RecordGeneration(op, "cache_hit")
		slog.Debug("cache hit", "subject", subjectID, "provider", res.ProviderID)
		return res, nil
	}
	o.metrics.RecordCacheLookup(false)

	if o.guard != nil {
		if err := o.guard.Guard(ctx, req); err != nil {
			var blocked *filter.BlockedError
			if errors.As(err, &blocked) {
				o.metrics.RecordGuardBlock(blocked.Filter)
			}
			slog.Warn("prompt blocked", "subject", subjectID, "error", err)
			o.metrics.RecordGeneration(op, "blocked")
			return nil, err
		}
	}

	decision, err := o.ledger.Check(ctx, subjectID)
	switch {
	case err != nil:
		slog.Warn("usage ledger check failed, allowing request", "subject", subjectID, "error", err)
	case !decision.Allowed:
		o.metrics.RecordQuotaDenied(string(decision.Dimension))
		o.metrics.RecordGeneration(op, "quota_exceeded")
		return nil, decision.Err(subjectID)
	}

	cfg := o.cfg()
	route, err := router.ResolveRoute(o.registry, req.ProviderHint, cfg.Routing.DefaultProvider, cfg.Routing.FallbackProvider)
	if err != nil {
		o.metrics.RecordGeneration(op, "failed")
		return nil, err
	}

	run := &call{req: req, subject: subjectID, routing: cfg.Routing, charge: cfg.Ledger.ChargeFailedCalls}
	res, err := o.try(ctx, run, route.Primary, cfg.Routing.MaxAttempts)
	if res == nil && err == nil && route.Fallback != nil {
		slog.Warn("primary provider failed, using fallback",
			"subject", subjectID,
			"primary", route.Primary.Name(),
			"fallback", route.Fallback.Name(),
		)
		res, err = o.try(ctx, run, route.Fallback, 1)
	}
	if err != nil {
		o.metrics.RecordGeneration(op, outcomeOf(err))
		return nil, err
	}
	if res == nil {
		o.metrics.RecordGeneration(op, "failed")
		return nil, &types.AllProvidersFailedError{Causes: run.causes}
	}

	if err := o.ledger.Record(ctx, subjectID, res.Usage.Total); err != nil {
		slog.Warn("usage ledger record failed", "subject", subjectID, "error", err)
	}
	o.cache.Set(ctx, key, res, 0)
	o.metrics.RecordGeneration(op, "ok")

	slog.Info("generation completed",
		"subject", subjectID,
		"operation", op,
		"provider", res.ProviderID,
		"model", res.Model,
		"tokens", res.Usage.Total,
		"attempts", len(run.causes)+1,
	)
	o.events.Publish(ctx, events.Event{
		Type:    events.GenerationCompleted,
		ActorID: subjectID,
		At:      o.clock.Now(),
		Data: map[string]any{
			"operation": op,
			"provider":  res.ProviderID,
			"model":     res.Model,
			"tokens":    res.Usage.Total,
		},
	})
	return res, nil
}

// call is the state of one GenerateOrImprove across its provider attempts.
type call struct {
	req     *types.NormalizedRequest
	subject string
	routing config.RoutingConfig
	charge  string
	causes  []types.ProviderFailure
}

func (c *call) fail(provider string, attempt int, err error) {
	c.causes = append(c.causes, types.ProviderFailure{Provider: provider, Attempt: attempt, Err: err})
}

// try calls adapter up to attempts times. It returns the result on success, a
// terminal error that must reach the caller unchanged, or neither when the
// next provider in the route should be tried.
func (o *Orchestrator) try(ctx context.Context, c *call, adapter adapters.ProviderAdapter, attempts int) (*types.ProviderResult, error) {
	name := adapter.Name()
	breaker := o.health.GetBreaker(name)

	for attempt := 1; attempt <= attempts; attempt++ {
		if attempt > 1 {
			if err := o.sleep(ctx, backoff(c.routing.RetryBackoff, attempt-1)); err != nil {
				return nil, err
			}
		}
		if !breaker.Allow() {
			c.fail(name, attempt, &types.ProviderError{Kind: types.ProviderTransient, Provider: name, Message: "circuit open"})
			o.metrics.RecordProviderAttempt(telemetry.AttemptLabels{Provider: name, Result: "circuit_open"})
			return nil, nil
		}

		res, err := o.invoke(ctx, c, adapter)
		if err == nil {
			breaker.RecordSuccess()
			return res, nil
		}
		if ctx.Err() != nil {
			// the caller gave up; this is not the provider's fault
			breaker.RecordSuccess()
			return nil, ctx.Err()
		}

		kind, _ := types.ProviderKind(err)
		if kind == types.ProviderTransient {
			breaker.RecordFailure()
		} else {
			breaker.RecordSuccess()
		}
		o.chargeFailure(ctx, c, err)
		c.fail(name, attempt, err)

		slog.Warn("provider call failed",
			"subject", c.subject,
			"provider", name,
			"attempt", attempt,
			"kind", kind,
			"error", err,
		)

		switch {
		case errors.Is(err, types.ErrInvalidParameter), errors.Is(err, types.ErrContentPolicyViolation):
			return nil, err
		case kind == types.ProviderTransient:
			continue
		default:
			// auth and rate limit errors are not retried on the same provider
			return nil, nil
		}
	}
	return nil, nil
}

// invoke makes one bounded call and normalises anything that is not already
// classified into a transient provider error.
func (o *Orchestrator) invoke(ctx context.Context, c *call, adapter adapters.ProviderAdapter) (*types.ProviderResult, error) {
	name := adapter.Name()
	callCtx, cancel := context.WithTimeout(ctx, c.routing.Timeout)
	defer cancel()

	started := time.Now()
	res, err := adapter.Call(callCtx, c.req)
	labels := telemetry.AttemptLabels{Provider: name, DurationMs: float64(time.Since(started).Milliseconds())}

	if err == nil && res == nil {
		err = &types.ProviderError{Kind: types.ProviderTransient, Provider: name, Message: "empty response"}
	}
	if err != nil {
		var pe *types.ProviderError
		switch {
		case errors.As(err, &pe):
			if pe.Provider == "" {
				pe.Provider = name
			}
		case errors.Is(err, types.ErrInvalidParameter):
		case errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil:
			err = &types.ProviderError{Kind: types.ProviderTransient, Provider: name, Message: "timeout", Err: err}
		default:
			err = &types.ProviderError{Kind: types.ProviderTransient, Provider: name, Message: err.Error(), Err: err}
		}
		kind, ok := types.ProviderKind(err)
		if !ok {
			kind = "invalid_parameter"
		}
		labels.Result = string(kind)
		o.metrics.RecordProviderAttempt(labels)
		return nil, err
	}

	if res.ProviderID == "" {
		res.ProviderID = name
	}
	labels.Result = "ok"
	labels.InputTokens = res.Usage.Input
	labels.OutputTokens = res.Usage.Output
	o.metrics.RecordProviderAttempt(labels)
	return res, nil
}

// chargeFailure applies the failed-call charging policy.
func (o *Orchestrator) chargeFailure(ctx context.Context, c *call, err error) {
	if c.charge != config.ChargeTokens {
		return
	}
	var pe *types.ProviderError
	if !errors.As(err, &pe) || pe.PartialUsage == nil || pe.PartialUsage.Total <= 0 {
		return
	}
	if err := o.ledger.Charge(ctx, c.subject, pe.PartialUsage.Total); err != nil {
		slog.Warn("usage ledger charge failed", "subject", c.subject, "error", err)
	}
}

func backoff(base time.Duration, retry int) time.Duration {
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= maxBackoff {
			return maxBackoff
		}
	}
	return d
}

func outcomeOf(err error) string {
	switch {
	case errors.Is(err, types.ErrContentPolicyViolation):
		return "content_policy"
	case errors.Is(err, types.ErrInvalidParameter):
		return "invalid"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "failed"
}
