package ratelimit

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/af-corp/inkwell/internal/clock"
	"github.com/af-corp/inkwell/internal/types"
)

var t0 = time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)

func TestMemoryLedger_RequestsPerWindow(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l := NewMemoryLedger(Limits{RequestsPerWindow: 2, RequestWindow: time.Minute}, clk)

	for i := 0; i < 2; i++ {
		d, err := l.Check(ctx, "alice")
		require.NoError(t, err)
		require.True(t, d.Allowed, "call %d", i)
		require.NoError(t, l.Record(ctx, "alice", 10))
		clk.Advance(10 * time.Second)
	}

	d, err := l.Check(ctx, "alice")
	require.NoError(t, err)
	require.False(t, d.Allowed)
	require.Equal(t, types.QuotaRequests, d.Dimension)
	require.EqualValues(t, 2, d.Used)
	require.Equal(t, 40*time.Second, d.RetryAfter)

	qerr := d.Err("alice")
	require.ErrorIs(t, qerr, types.ErrQuotaExceeded)
	var qe *types.QuotaExceededError
	require.True(t, errors.As(qerr, &qe))
	require.Equal(t, "alice", qe.SubjectID)

	// other subjects are unaffected
	d, _ = l.Check(ctx, "bob")
	require.True(t, d.Allowed)

	clk.Advance(40 * time.Second)
	d, _ = l.Check(ctx, "alice")
	require.True(t, d.Allowed, "window should have rolled over")
	u, _ := l.Usage(ctx, "alice")
	require.Zero(t, u.Requests.Count)
	require.EqualValues(t, 20, u.Tokens.Count, "token window is independent of the request window")
}

func TestMemoryLedger_DailyTokens(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewFake(t0)
	l := NewMemoryLedger(Limits{DailyTokens: 100}, clk)

	require.NoError(t, l.Record(ctx, "alice", 60))
	d, _ := l.Check(ctx, "alice")
	require.True(t, d.Allowed)

	require.NoError(t, l.Record(ctx, "alice", 40))
	d, _ = l.Check(ctx, "alice")
	require.False(t, d.Allowed)
	require.Equal(t, types.QuotaTokens, d.Dimension)
	require.EqualValues(t, 100, d.Limit)
	require.Equal(t, 24*time.Hour, d.RetryAfter)

	clk.Advance(24 * time.Hour)
	d, _ = l.Check(ctx, "alice")
	require.True(t, d.Allowed)
}

func TestMemoryLedger_ChargeOnlyTouchesTokens(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(Limits{RequestsPerWindow: 1, RequestWindow: time.Minute, DailyTokens: 1000}, clock.NewFake(t0))

	require.NoError(t, l.Charge(ctx, "alice", 30))
	u, _ := l.Usage(ctx, "alice")
	require.Zero(t, u.Requests.Count)
	require.EqualValues(t, 30, u.Tokens.Count)

	d, _ := l.Check(ctx, "alice")
	require.True(t, d.Allowed)
}

func TestMemoryLedger_ZeroLimitsDisableDimensions(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(Limits{}, clock.NewFake(t0))
	for i := 0; i < 50; i++ {
		require.NoError(t, l.Record(ctx, "alice", 1000))
	}
	d, _ := l.Check(ctx, "alice")
	require.True(t, d.Allowed)
}

func TestMemoryLedger_ConcurrentRecordsAreNotLost(t *testing.T) {
	ctx := context.Background()
	l := NewMemoryLedger(Limits{RequestWindow: time.Hour}, clock.NewFake(t0))

	var wg sync.WaitGroup
	for i := 0; i < 200; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = l.Record(ctx, "alice", 3)
		}()
	}
	wg.Wait()

	u, err := l.Usage(ctx, "alice")
	require.NoError(t, err)
	require.EqualValues(t, 200, u.Requests.Count)
	require.EqualValues(t, 600, u.Tokens.Count)
}

func TestRedisLedger_NilRedis_FailOpen(t *testing.T) {
	ctx := context.Background()
	l := NewRedisLedger(nil, Limits{RequestsPerWindow: 1, RequestWindow: time.Minute}, nil)

	for i := 0; i < 10; i++ {
		d, err := l.Check(ctx, "alice")
		require.NoError(t, err)
		require.True(t, d.Allowed)
		require.NoError(t, l.Record(ctx, "alice", 100))
	}
	require.NoError(t, l.Charge(ctx, "alice", 5))
	u, err := l.Usage(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, "alice", u.SubjectID)
}

func TestRedisLedger_Key(t *testing.T) {
	l := NewRedisLedger(nil, Limits{}, nil)
	require.Equal(t, "inkwell:ledger:tokens:alice", l.key("tokens", "alice"))
}
