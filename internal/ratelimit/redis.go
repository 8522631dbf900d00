package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/af-corp/inkwell/internal/clock"
)

// windowScript atomically rolls a fixed window over when it has expired and
// adds an increment.
// KEYS[1] = hash key holding fields start and count
// ARGV[1] = now (unix millis)
// ARGV[2] = window length (millis)
// ARGV[3] = increment (0 for a read)
// Returns: [window_start, count]
var windowScript = redis.NewScript(`
local key = KEYS[1]
local now = tonumber(ARGV[1])
local length = tonumber(ARGV[2])
local inc = tonumber(ARGV[3])

local start = tonumber(redis.call('HGET', key, 'start') or '0')
if start == 0 or now - start >= length then
    start = now
    redis.call('HSET', key, 'start', start, 'count', 0)
end

local count = redis.call('HINCRBY', key, 'count', inc)
redis.call('PEXPIRE', key, start + length - now + 1000)
return {start, count}
`)

// RedisLedger keeps usage windows in Redis so several instances share one
// ledger. If rdb is nil or Redis fails, checks pass (fail open).
type RedisLedger struct {
	rdb    *redis.Client
	limits Limits
	clock  clock.Clock
	prefix string
}

func NewRedisLedger(rdb *redis.Client, limits Limits, clk clock.Clock) *RedisLedger {
	if clk == nil {
		clk = clock.System{}
	}
	return &RedisLedger{rdb: rdb, limits: limits, clock: clk, prefix: "inkwell:ledger"}
}

func (r *RedisLedger) key(dimension, subject string) string {
	return fmt.Sprintf("%s:%s:%s", r.prefix, dimension, subject)
}

func (r *RedisLedger) touch(ctx context.Context, dimension, subject string, length time.Duration, inc int64, now time.Time) (Window, error) {
	if length <= 0 {
		length = time.Minute
	}
	res, err := windowScript.Run(ctx, r.rdb, []string{r.key(dimension, subject)},
		now.UnixMilli(), length.Milliseconds(), inc,
	).Int64Slice()
	if err != nil {
		return Window{}, fmt.Errorf("ledger %s window for %s: %w", dimension, subject, err)
	}
	return Window{Start: time.UnixMilli(res[0]), Count: res[1]}, nil
}

func (r *RedisLedger) usage(ctx context.Context, subject string, now time.Time) (Usage, error) {
	req, err := r.touch(ctx, "requests", subject, r.limits.RequestWindow, 0, now)
	if err != nil {
		return Usage{}, err
	}
	tok, err := r.touch(ctx, "tokens", subject, TokenWindow, 0, now)
	if err != nil {
		return Usage{}, err
	}
	return Usage{SubjectID: subject, Requests: req, Tokens: tok}, nil
}

func (r *RedisLedger) Check(ctx context.Context, subject string) (Decision, error) {
	if r.rdb == nil {
		return Decision{Allowed: true}, nil
	}
	now := r.clock.Now()
	u, err := r.usage(ctx, subject, now)
	if err != nil {
		slog.Warn("ledger check failed, allowing request", "subject", subject, "error", err)
		return Decision{Allowed: true}, nil
	}
	return decide(r.limits, u, now), nil
}

func (r *RedisLedger) Record(ctx context.Context, subject string, tokens int) error {
	if r.rdb == nil {
		return nil
	}
	now := r.clock.Now()
	if _, err := r.touch(ctx, "requests", subject, r.limits.RequestWindow, 1, now); err != nil {
		return err
	}
	if tokens <= 0 {
		return nil
	}
	_, err := r.touch(ctx, "tokens", subject, TokenWindow, int64(tokens), now)
	return err
}

func (r *RedisLedger) Charge(ctx context.Context, subject string, tokens int) error {
	if r.rdb == nil || tokens <= 0 {
		return nil
	}
	_, err := r.touch(ctx, "tokens", subject, TokenWindow, int64(tokens), r.clock.Now())
	return err
}

func (r *RedisLedger) Usage(ctx context.Context, subject string) (Usage, error) {
	if r.rdb == nil {
		return Usage{SubjectID: subject}, nil
	}
	return r.usage(ctx, subject, r.clock.Now())
}
