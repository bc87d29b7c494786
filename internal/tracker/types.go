package tracker

import (
	"time"

	"github.com/guregu/null/v5"
)

// TrackedSite is one statically configured site under measurement.
type TrackedSite struct {
	ID      string `json:"id"`
	BaseURL string `json:"base_url"`
}

// Measurement is one time-series point for a tracked site. CSSBytes, JSBytes
// and CommitID are optional; an invalid value means "unknown", not zero.
type Measurement struct {
	ID         string      `json:"id" db:"id"`
	Timestamp  time.Time   `json:"timestamp" db:"measured_at"`
	SiteURL    string      `json:"site_url" db:"site_url"`
	PageBytes  int64       `json:"page_bytes" db:"page_bytes"`
	TotalBytes int64       `json:"total_bytes" db:"total_bytes"`
	CSSBytes   null.Int    `json:"css_bytes" db:"css_bytes"`
	JSBytes    null.Int    `json:"js_bytes" db:"js_bytes"`
	CommitID   null.String `json:"commit_id" db:"commit_id"`
}

// AssetBytes returns the bytes contributed by assets alone.
func (m Measurement) AssetBytes() int64 {
	return m.TotalBytes - m.PageBytes
}

// FetchResponse is the result returned by a Fetcher implementation.
type FetchResponse struct {
	URL        string
	StatusCode int
	Body       []byte
	Duration   time.Duration
}

// Outcome classifies what happened to one site during a run.
type Outcome string

// Site outcomes reported in a RunReport.
const (
	OutcomeRecorded Outcome = "recorded"
	OutcomeSkipped  Outcome = "skipped"
	OutcomeFailed   Outcome = "failed"
)

// SiteResult is the per-site result of a measurement run.
type SiteResult struct {
	Site        TrackedSite  `json:"site"`
	Outcome     Outcome      `json:"outcome"`
	StatusCode  int          `json:"status_code,omitempty"`
	Measurement *Measurement `json:"measurement,omitempty"`
	Assets      AssetSizes   `json:"assets"`
	Error       string       `json:"error,omitempty"`
}

// Decision is the gate's answer for one run trigger.
type Decision struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
}

// RunReport is returned to the caller of Tracker.Run.
type RunReport struct {
	Decision Decision     `json:"decision"`
	Results  []SiteResult `json:"results,omitempty"`
	Lines    []string     `json:"lines"`
}

// Recorded counts the sites that produced a measurement.
func (r RunReport) Recorded() int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == OutcomeRecorded {
			n++
		}
	}
	return n
}
