package tracker

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/guregu/null/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/pageweight/internal/metrics"
)

const (
	mobileQuery  = "?mobile=true"
	revisionPath = "/media/git-rev.txt"
)

// MeasurerConfig selects the schema variant being recorded.
type MeasurerConfig struct {
	// SplitAssets records CSS and JS byte counts. When false both stay null.
	SplitAssets bool
	// TrackRevision fetches <base>/media/git-rev.txt into CommitID; a failed
	// revision fetch fails the whole site.
	TrackRevision bool
	// Topic is the publish topic for recorded measurements; empty disables it.
	Topic string
}

// Measurer takes one measurement of one tracked site.
type Measurer struct {
	fetcher    Fetcher
	aggregator *Aggregator
	store      MeasurementStore
	publisher  Publisher
	clock      Clock
	ids        IDGenerator
	cfg        MeasurerConfig
	logger     *zap.Logger
}

// NewMeasurer constructs a Measurer. publisher may be nil.
func NewMeasurer(
	fetcher Fetcher,
	store MeasurementStore,
	publisher Publisher,
	clock Clock,
	ids IDGenerator,
	cfg MeasurerConfig,
	logger *zap.Logger,
) *Measurer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Measurer{
		fetcher:    fetcher,
		aggregator: NewAggregator(fetcher, logger.Named("aggregator")),
		store:      store,
		publisher:  publisher,
		clock:      clock,
		ids:        ids,
		cfg:        cfg,
		logger:     logger,
	}
}

// Measure fetches the site's mobile page and its assets and appends exactly
// one Measurement on success. Failures are reported in the result, never
// returned, so sibling sites keep running.
func (m *Measurer) Measure(ctx context.Context, site TrackedSite, report *Report) SiteResult {
	result := SiteResult{Site: site}
	log := m.logger.With(zap.String("site", site.ID), zap.String("url", site.BaseURL))
	report.Linef("%s", site.BaseURL)

	var commit null.String
	if m.cfg.TrackRevision {
		rev, err := m.fetchRevision(ctx, site.BaseURL)
		if err != nil {
			return m.fail(result, report, log, fmt.Errorf("fetch revision: %w", err))
		}
		commit = null.StringFrom(rev)
	}

	resp, err := m.fetcher.Fetch(ctx, site.BaseURL+mobileQuery)
	if err != nil {
		return m.fail(result, report, log, fmt.Errorf("fetch page: %w", err))
	}
	result.StatusCode = resp.StatusCode
	report.Linef("Status Code: %d", resp.StatusCode)
	if resp.StatusCode != http.StatusOK {
		result.Outcome = OutcomeSkipped
		metrics.ObserveSite(site.ID, string(OutcomeSkipped))
		log.Info("page status not 200, skipping", zap.Int("status", resp.StatusCode))
		return result
	}

	pageBytes := int64(len(resp.Body))
	sizes := m.aggregator.Aggregate(ctx, ExtractAssets(string(resp.Body), site.BaseURL), report)
	result.Assets = sizes

	id, err := m.ids.NewID()
	if err != nil {
		return m.fail(result, report, log, fmt.Errorf("generate id: %w", err))
	}
	measurement := Measurement{
		ID:         id,
		Timestamp:  m.clock.Now(),
		SiteURL:    site.BaseURL,
		PageBytes:  pageBytes,
		TotalBytes: pageBytes + sizes.Total,
		CommitID:   commit,
	}
	if m.cfg.SplitAssets {
		measurement.CSSBytes = null.IntFrom(sizes.CSS)
		measurement.JSBytes = null.IntFrom(sizes.JS)
	}
	if err := m.store.Append(ctx, measurement); err != nil {
		return m.fail(result, report, log, fmt.Errorf("append measurement: %w", err))
	}

	report.Linef("Size: %d", pageBytes)
	report.Linef("Assets Size: %d", sizes.Total)

	result.Outcome = OutcomeRecorded
	result.Measurement = &measurement
	metrics.ObserveSite(site.ID, string(OutcomeRecorded))
	metrics.ObserveMeasurement(site.ID, measurement.PageBytes, measurement.TotalBytes)
	log.Info("measurement recorded",
		zap.Int64("page_bytes", measurement.PageBytes),
		zap.Int64("total_bytes", measurement.TotalBytes),
		zap.Int("assets_fetched", sizes.Fetched),
		zap.Int("assets_failed", sizes.Failed),
	)
	m.publish(ctx, measurement, log)
	return result
}

func (m *Measurer) fetchRevision(ctx context.Context, baseURL string) (string, error) {
	url := baseURL + revisionPath
	resp, err := m.fetcher.Fetch(ctx, url)
	if err != nil {
		return "", err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &StatusError{URL: url, StatusCode: resp.StatusCode}
	}
	return strings.TrimSpace(string(resp.Body)), nil
}

func (m *Measurer) fail(result SiteResult, report *Report, log *zap.Logger, err error) SiteResult {
	result.Outcome = OutcomeFailed
	result.Error = err.Error()
	report.Linef("Error: %s", err)
	metrics.ObserveSite(result.Site.ID, string(OutcomeFailed))
	log.Warn("site measurement failed", zap.Error(err))
	return result
}

func (m *Measurer) publish(ctx context.Context, measurement Measurement, log *zap.Logger) {
	if m.publisher == nil || m.cfg.Topic == "" {
		return
	}
	msgID, err := m.publisher.Publish(ctx, m.cfg.Topic, measurement)
	if err != nil {
		log.Warn("publish measurement failed", zap.Error(err))
		return
	}
	log.Debug("measurement published", zap.String("message_id", msgID))
}
