package tracker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pageweight/internal/metrics"
)

// HistoryConfig bounds the read path.
type HistoryConfig struct {
	// Limit is the maximum number of measurements returned per site.
	Limit int
	// TTL is how long a cached snapshot is served before the store is re-read.
	TTL time.Duration
}

// HistoryCache is a read-through cache over the measurement store.
type HistoryCache struct {
	cache  Cache
	store  MeasurementStore
	sites  map[string]TrackedSite
	cfg    HistoryConfig
	logger *zap.Logger
}

// NewHistoryCache constructs a HistoryCache for the given sites.
func NewHistoryCache(
	cache Cache,
	store MeasurementStore,
	sites []TrackedSite,
	cfg HistoryConfig,
	logger *zap.Logger,
) *HistoryCache {
	if cfg.Limit <= 0 {
		cfg.Limit = 336
	}
	if cfg.TTL <= 0 {
		cfg.TTL = time.Hour
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	byID := make(map[string]TrackedSite, len(sites))
	for _, s := range sites {
		byID[s.ID] = s
	}
	return &HistoryCache{cache: cache, store: store, sites: byID, cfg: cfg, logger: logger}
}

// HistoryKey is the cache key of a site's snapshot.
func HistoryKey(siteID string) string {
	return siteID + ":recent"
}

// Recent returns up to Limit measurements for the site, newest first. A
// cached snapshot is returned as-is until it expires, even if the store has
// newer rows.
func (h *HistoryCache) Recent(ctx context.Context, siteID string) ([]Measurement, error) {
	site, ok := h.sites[siteID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSite, siteID)
	}
	key := HistoryKey(siteID)

	if cached, hit := h.lookup(ctx, key); hit {
		metrics.ObserveHistoryCache("hit")
		return cached, nil
	}
	metrics.ObserveHistoryCache("miss")

	rows, err := h.store.Recent(ctx, site.BaseURL, h.cfg.Limit)
	if err != nil {
		return nil, fmt.Errorf("query recent measurements: %w", err)
	}
	if rows == nil {
		rows = []Measurement{}
	}
	payload, err := json.Marshal(rows)
	if err != nil {
		return nil, fmt.Errorf("encode history: %w", err)
	}
	// Losing the add to a concurrent reader is harmless.
	if _, err := h.cache.AddIfAbsent(ctx, key, payload, h.cfg.TTL); err != nil {
		h.logger.Warn("history cache add failed", zap.String("key", key), zap.Error(err))
	}
	return rows, nil
}

func (h *HistoryCache) lookup(ctx context.Context, key string) ([]Measurement, bool) {
	raw, ok, err := h.cache.Get(ctx, key)
	if err != nil {
		h.logger.Warn("history cache read failed", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if !ok {
		return nil, false
	}
	var rows []Measurement
	if err := json.Unmarshal(raw, &rows); err != nil {
		h.logger.Warn("history cache entry unreadable", zap.String("key", key), zap.Error(err))
		return nil, false
	}
	if rows == nil {
		rows = []Measurement{}
	}
	return rows, true
}
