package tracker

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pageweight/internal/cache/memory"
	"github.com/JakeFAU/pageweight/internal/clock"
)

func TestIntervalGate_DebouncesWithinInterval(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	gate := NewIntervalGate(memory.New(clk), clk, 15*time.Minute)
	ctx := context.Background()

	d, err := gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	clk.Advance(14 * time.Minute)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonRunTooRecent, d.Reason)

	clk.Advance(2 * time.Minute)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)
}

// missCache hides existing entries from Get so the add-if-absent claim is
// the only thing standing between two racing triggers.
type missCache struct {
	*memory.Cache
}

func (missCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, nil
}

func TestIntervalGate_LosingTheClaimRejects(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	shared := missCache{memory.New(clk)}
	first := NewIntervalGate(shared, clk, 15*time.Minute)
	second := NewIntervalGate(shared, clk, 15*time.Minute)
	ctx := context.Background()

	d, err := first.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	d, err = second.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonRunTooRecent, d.Reason)
}

func TestIntervalGate_ReplacesLeftoverRunFromPingMode(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	cache := memory.New(clk)
	ctx := context.Background()

	ping := NewPingGate(cache, clk, PingGateConfig{}, nil)
	_, err := ping.RecordPing(ctx)
	require.NoError(t, err)
	d, err := ping.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	gate := NewIntervalGate(cache, clk, 15*time.Minute)
	clk.Advance(10 * time.Minute)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)

	clk.Advance(6 * time.Minute)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	// The replacement carries the interval TTL again.
	clk.Advance(14 * time.Minute)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)

	clk.Advance(24 * time.Hour)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)
}

func TestIntervalGate_ReplacesMalformedRun(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	cache := memory.New(clk)
	ctx := context.Background()
	require.NoError(t, cache.Set(ctx, RunKey, []byte("garbage"), 0))

	gate := NewIntervalGate(cache, clk, 15*time.Minute)
	d, err := gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	raw, ok, err := cache.Get(ctx, RunKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testEpoch.Format(time.RFC3339Nano), string(raw))

	clk.Advance(time.Minute)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)
}

func TestIntervalGate_IgnoresPings(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	_, err := NewIntervalGate(memory.New(clk), clk, 0).RecordPing(context.Background())
	require.ErrorIs(t, err, ErrPingUnsupported)
}

func TestIntervalGate_CacheErrorPropagates(t *testing.T) {
	t.Parallel()

	_, err := NewIntervalGate(brokenCache{}, clock.NewManual(testEpoch), 0).Admit(context.Background())
	require.ErrorIs(t, err, errCacheDown)
}

func TestPingGate_RejectsWithoutPing(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	gate := NewPingGate(memory.New(clk), clk, PingGateConfig{}, nil)

	d, err := gate.Admit(context.Background())
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonNoPing, d.Reason)
}

func TestPingGate_AcceptanceConsumesPing(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	cache := memory.New(clk)
	gate := NewPingGate(cache, clk, PingGateConfig{}, nil)
	ctx := context.Background()

	at, err := gate.RecordPing(ctx)
	require.NoError(t, err)
	require.Equal(t, testEpoch, at)

	clk.Advance(time.Minute)
	d, err := gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	ping, ok, err := cache.Get(ctx, PingKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "-1", string(ping))

	lastRun, ok, err := cache.Get(ctx, RunKey)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, testEpoch.Add(time.Minute).Format(time.RFC3339Nano), string(lastRun))

	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonNoPing, d.Reason)
}

func TestPingGate_RejectsRecentRun(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	gate := NewPingGate(memory.New(clk), clk, PingGateConfig{}, nil)
	ctx := context.Background()

	_, err := gate.RecordPing(ctx)
	require.NoError(t, err)
	d, err := gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)

	clk.Advance(2 * time.Minute)
	_, err = gate.RecordPing(ctx)
	require.NoError(t, err)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonRunTooRecent, d.Reason)

	clk.Advance(4 * time.Minute)
	_, err = gate.RecordPing(ctx)
	require.NoError(t, err)
	d, err = gate.Admit(ctx)
	require.NoError(t, err)
	require.True(t, d.Accepted)
}

func TestPingGate_RejectsStalePing(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	gate := NewPingGate(memory.New(clk), clk, PingGateConfig{PingWindow: 5 * time.Minute}, nil)
	ctx := context.Background()

	_, err := gate.RecordPing(ctx)
	require.NoError(t, err)
	clk.Advance(6 * time.Minute)

	d, err := gate.Admit(ctx)
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, "No ping to process: last ping is older than 5m0s.", d.Reason)
}

func TestPingGate_MalformedPingCountsAsNoPing(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	cache := memory.New(clk)
	require.NoError(t, cache.Set(context.Background(), PingKey, []byte("yesterday"), 0))

	d, err := NewPingGate(cache, clk, PingGateConfig{}, nil).Admit(context.Background())
	require.NoError(t, err)
	require.False(t, d.Accepted)
	require.Equal(t, ReasonNoPing, d.Reason)
}

// frozenReads serves every Get from the state captured before either trigger
// wrote, which is what two triggers interleaving their reads observe.
type frozenReads struct {
	*memory.Cache
	snapshot map[string][]byte
}

func (f frozenReads) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, ok := f.snapshot[key]
	return v, ok, nil
}

func TestPingGate_RacingTriggersMayBothRun(t *testing.T) {
	t.Parallel()

	clk := clock.NewManual(testEpoch)
	cache := memory.New(clk)
	ctx := context.Background()
	_, err := NewPingGate(cache, clk, PingGateConfig{}, nil).RecordPing(ctx)
	require.NoError(t, err)

	ping, _, err := cache.Get(ctx, PingKey)
	require.NoError(t, err)
	view := frozenReads{Cache: cache, snapshot: map[string][]byte{PingKey: ping}}

	a := NewPingGate(view, clk, PingGateConfig{}, nil)
	b := NewPingGate(view, clk, PingGateConfig{}, nil)

	da, err := a.Admit(ctx)
	require.NoError(t, err)
	db, err := b.Admit(ctx)
	require.NoError(t, err)
	require.True(t, da.Accepted)
	require.True(t, db.Accepted)
}

func TestPingGate_CacheErrors(t *testing.T) {
	t.Parallel()

	gate := NewPingGate(brokenCache{}, clock.NewManual(testEpoch), PingGateConfig{}, nil)
	_, err := gate.RecordPing(context.Background())
	require.ErrorIs(t, err, errCacheDown)
	_, err = gate.Admit(context.Background())
	require.ErrorIs(t, err, errCacheDown)
}
