package tracker

import (
	"context"
	"time"
)

// Fetcher performs a single blocking GET. Timeouts surface as errors.
type Fetcher interface {
	Fetch(ctx context.Context, url string) (FetchResponse, error)
}

// Cache is the shared, best-effort key-value store holding schedule state and
// history snapshots. Entries may be evicted at any time.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	AddIfAbsent(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
}

// MeasurementStore is the append-only time-series store.
type MeasurementStore interface {
	Append(ctx context.Context, m Measurement) error
	// Recent returns up to limit measurements for siteURL, newest first.
	Recent(ctx context.Context, siteURL string, limit int) ([]Measurement, error)
}

// Publisher pushes measurement notifications to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Gate decides whether a scheduled run may proceed now.
type Gate interface {
	Admit(ctx context.Context) (Decision, error)
	RecordPing(ctx context.Context) (time.Time, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces measurement IDs.
type IDGenerator interface {
	NewID() (string, error)
}
