package tracker

import (
	"context"
	"fmt"
	"io"
	"slices"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/pageweight/internal/metrics"
)

// Tracker exposes the trigger operations: ping, run and history.
type Tracker struct {
	sites    []TrackedSite
	byID     map[string]TrackedSite
	gate     Gate
	measurer *Measurer
	history  *HistoryCache
	logger   *zap.Logger
}

// New constructs a Tracker. Sites are measured in identifier order.
func New(sites []TrackedSite, gate Gate, measurer *Measurer, history *HistoryCache, logger *zap.Logger) *Tracker {
	if logger == nil {
		logger = zap.NewNop()
	}
	ordered := slices.Clone(sites)
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].ID < ordered[j].ID })
	byID := make(map[string]TrackedSite, len(ordered))
	for _, s := range ordered {
		byID[s.ID] = s
	}
	return &Tracker{
		sites:    ordered,
		byID:     byID,
		gate:     gate,
		measurer: measurer,
		history:  history,
		logger:   logger,
	}
}

// Sites returns the tracked sites in measurement order.
func (t *Tracker) Sites() []TrackedSite {
	return slices.Clone(t.sites)
}

// Site looks up a tracked site by identifier.
func (t *Tracker) Site(id string) (TrackedSite, bool) {
	s, ok := t.byID[id]
	return s, ok
}

// Ping records the external ping signal.
func (t *Tracker) Ping(ctx context.Context) (time.Time, error) {
	at, err := t.gate.RecordPing(ctx)
	if err != nil {
		return time.Time{}, fmt.Errorf("record ping: %w", err)
	}
	t.logger.Info("ping recorded", zap.Time("at", at))
	return at, nil
}

// Run asks the gate for permission and, when admitted, measures every site
// one after another. Diagnostic lines are mirrored to w as they are produced.
// A rejected run is not an error.
func (t *Tracker) Run(ctx context.Context, w io.Writer) (RunReport, error) {
	report := NewReport(w)
	decision, err := t.gate.Admit(ctx)
	if err != nil {
		metrics.ObserveRun("error")
		return RunReport{Lines: report.Lines()}, fmt.Errorf("admit run: %w", err)
	}
	if !decision.Accepted {
		metrics.ObserveRun("rejected")
		report.Linef("%s", decision.Reason)
		t.logger.Info("run rejected", zap.String("reason", decision.Reason))
		return RunReport{Decision: decision, Lines: report.Lines()}, nil
	}

	metrics.ObserveRun("accepted")
	t.logger.Info("run accepted", zap.Int("sites", len(t.sites)))
	results := make([]SiteResult, 0, len(t.sites))
	for _, site := range t.sites {
		results = append(results, t.measurer.Measure(ctx, site, report))
	}
	return RunReport{Decision: decision, Results: results, Lines: report.Lines()}, nil
}

// History returns the cached recent measurements for a site sorted oldest
// first. Stored order is not trusted since measurements may race.
func (t *Tracker) History(ctx context.Context, siteID string) ([]Measurement, error) {
	rows, err := t.history.Recent(ctx, siteID)
	if err != nil {
		return nil, err
	}
	out := slices.Clone(rows)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })
	return out, nil
}
