package tracker

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Schedule state keys shared by every trigger of the process.
const (
	PingKey = "last_ping"
	RunKey  = "last_cron"
)

// consumedPing marks a ping that already admitted a run.
const consumedPing = "-1"

// Gate rejection reasons surfaced to trigger callers.
const (
	ReasonNoPing       = "No ping to process."
	ReasonRunTooRecent = "Last run was too recent."
)

// PingGateConfig tunes the ping-gated scheduler.
type PingGateConfig struct {
	// PingWindow is how old a ping may be and still admit a run.
	PingWindow time.Duration
	// MinInterval is the minimum age of the previous run.
	MinInterval time.Duration
}

// PingGate admits a run only after a recent, unconsumed ping and when the
// previous run is old enough. Acceptance overwrites last_cron and consumes the
// ping with plain writes: two triggers racing between the reads and the writes
// can both be admitted.
type PingGate struct {
	cache  Cache
	clock  Clock
	cfg    PingGateConfig
	logger *zap.Logger
}

// NewPingGate constructs a PingGate.
func NewPingGate(cache Cache, clock Clock, cfg PingGateConfig, logger *zap.Logger) *PingGate {
	if cfg.PingWindow <= 0 {
		cfg.PingWindow = 5 * time.Minute
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = 5 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PingGate{cache: cache, clock: clock, cfg: cfg, logger: logger}
}

// RecordPing stores the current time as the ping signal.
func (g *PingGate) RecordPing(ctx context.Context) (time.Time, error) {
	now := g.clock.Now()
	if err := g.cache.Set(ctx, PingKey, encodeTime(now), 0); err != nil {
		return time.Time{}, fmt.Errorf("store ping: %w", err)
	}
	return now, nil
}

// Admit checks the ping and last-run timestamps and, on acceptance, updates
// both before returning.
func (g *PingGate) Admit(ctx context.Context) (Decision, error) {
	now := g.clock.Now()

	raw, ok, err := g.cache.Get(ctx, PingKey)
	if err != nil {
		return Decision{}, fmt.Errorf("read ping: %w", err)
	}
	if !ok || string(raw) == consumedPing {
		return Decision{Reason: ReasonNoPing}, nil
	}
	pingAt, err := decodeTime(raw)
	if err != nil {
		g.logger.Warn("discarding malformed ping value", zap.ByteString("value", raw), zap.Error(err))
		return Decision{Reason: ReasonNoPing}, nil
	}
	if now.Sub(pingAt) > g.cfg.PingWindow {
		return Decision{
			Reason: fmt.Sprintf("No ping to process: last ping is older than %s.", g.cfg.PingWindow),
		}, nil
	}

	if lastRun, found, err := readTime(ctx, g.cache, RunKey); err != nil {
		return Decision{}, err
	} else if found && now.Sub(lastRun) < g.cfg.MinInterval {
		return Decision{Reason: ReasonRunTooRecent}, nil
	}

	if err := g.cache.Set(ctx, RunKey, encodeTime(now), 0); err != nil {
		return Decision{}, fmt.Errorf("store last run: %w", err)
	}
	if err := g.cache.Set(ctx, PingKey, []byte(consumedPing), 0); err != nil {
		return Decision{}, fmt.Errorf("consume ping: %w", err)
	}
	return Decision{Accepted: true}, nil
}

// IntervalGate admits a run when none started within Interval. The last-run
// key is claimed with add-if-absent and expires after Interval, so of two
// racing triggers only the one whose add succeeds runs.
type IntervalGate struct {
	cache    Cache
	clock    Clock
	interval time.Duration
}

// NewIntervalGate constructs an IntervalGate.
func NewIntervalGate(cache Cache, clock Clock, interval time.Duration) *IntervalGate {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &IntervalGate{cache: cache, clock: clock, interval: interval}
}

// RecordPing is not supported: the interval gate ignores pings.
func (g *IntervalGate) RecordPing(context.Context) (time.Time, error) {
	return time.Time{}, ErrPingUnsupported
}

// Admit claims the last-run key for Interval. A value that is already old
// enough, or unreadable, never expired on its own (the ping gate writes it
// without a TTL) and is overwritten instead of claimed.
func (g *IntervalGate) Admit(ctx context.Context) (Decision, error) {
	now := g.clock.Now()
	raw, found, err := g.cache.Get(ctx, RunKey)
	if err != nil {
		return Decision{}, fmt.Errorf("read %s: %w", RunKey, err)
	}
	if found {
		if lastRun, err := decodeTime(raw); err == nil && now.Sub(lastRun) < g.interval {
			return Decision{Reason: ReasonRunTooRecent}, nil
		}
		if err := g.cache.Set(ctx, RunKey, encodeTime(now), g.interval); err != nil {
			return Decision{}, fmt.Errorf("replace last run: %w", err)
		}
		return Decision{Accepted: true}, nil
	}
	added, err := g.cache.AddIfAbsent(ctx, RunKey, encodeTime(now), g.interval)
	if err != nil {
		return Decision{}, fmt.Errorf("claim last run: %w", err)
	}
	if !added {
		return Decision{Reason: ReasonRunTooRecent}, nil
	}
	return Decision{Accepted: true}, nil
}

func readTime(ctx context.Context, cache Cache, key string) (time.Time, bool, error) {
	raw, ok, err := cache.Get(ctx, key)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("read %s: %w", key, err)
	}
	if !ok {
		return time.Time{}, false, nil
	}
	t, err := decodeTime(raw)
	if err != nil {
		// An unreadable timestamp cannot prove a recent run.
		return time.Time{}, false, nil
	}
	return t, true, nil
}

func encodeTime(t time.Time) []byte {
	return []byte(t.UTC().Format(time.RFC3339Nano))
}

func decodeTime(raw []byte) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, string(raw))
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp: %w", err)
	}
	return t, nil
}
