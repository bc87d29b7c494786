package tracker

import (
	"context"
	"iter"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/pageweight/internal/metrics"
)

// AssetKind is the bucket an asset URL falls into.
type AssetKind int

// Asset buckets. Skip means the URL is neither fetched nor counted.
const (
	AssetSkip AssetKind = iota
	AssetJS
	AssetCSS
)

func (k AssetKind) String() string {
	switch k {
	case AssetJS:
		return "js"
	case AssetCSS:
		return "css"
	default:
		return "skip"
	}
}

// Classify buckets an absolute asset URL. First match wins: ".js?" anywhere,
// then ".css" anywhere, then a ".js" suffix. Everything else is skipped.
func Classify(assetURL string) AssetKind {
	switch {
	case strings.Contains(assetURL, ".js?"):
		return AssetJS
	case strings.Contains(assetURL, ".css"):
		return AssetCSS
	case strings.HasSuffix(assetURL, ".js"):
		return AssetJS
	default:
		return AssetSkip
	}
}

// AssetSizes is the best-effort byte aggregate over a page's assets.
type AssetSizes struct {
	Total   int64 `json:"total"`
	CSS     int64 `json:"css"`
	JS      int64 `json:"js"`
	Fetched int   `json:"fetched"`
	Failed  int   `json:"failed"`
}

// Aggregator fetches stylesheet and script assets one at a time and sums
// their sizes.
type Aggregator struct {
	fetcher Fetcher
	logger  *zap.Logger
}

// NewAggregator constructs an Aggregator.
func NewAggregator(fetcher Fetcher, logger *zap.Logger) *Aggregator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Aggregator{fetcher: fetcher, logger: logger}
}

// Aggregate fetches every includable URL from urls. A failed asset adds zero
// and never stops the loop.
func (a *Aggregator) Aggregate(ctx context.Context, urls iter.Seq[string], report *Report) AssetSizes {
	var sizes AssetSizes
	for assetURL := range urls {
		kind := Classify(assetURL)
		if kind == AssetSkip {
			continue
		}
		report.Linef("%s", assetURL)

		n, err := a.fetchSize(ctx, assetURL)
		if err != nil {
			sizes.Failed++
			metrics.ObserveAssetFailure(assetURL)
			a.logger.Debug("asset fetch skipped", zap.String("url", assetURL), zap.Error(err))
			continue
		}
		sizes.Fetched++
		sizes.Total += n
		switch kind {
		case AssetJS:
			sizes.JS += n
		case AssetCSS:
			sizes.CSS += n
		}
	}
	return sizes
}

func (a *Aggregator) fetchSize(ctx context.Context, assetURL string) (int64, error) {
	resp, err := a.fetcher.Fetch(ctx, assetURL)
	if err != nil {
		return 0, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return 0, &StatusError{URL: assetURL, StatusCode: resp.StatusCode}
	}
	return int64(len(resp.Body)), nil
}
