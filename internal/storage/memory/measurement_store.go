// Package memory provides in-process storage for development and tests.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/JakeFAU/pageweight/internal/tracker"
)

// MeasurementStore keeps measurements in memory, grouped by site URL.
type MeasurementStore struct {
	mu     sync.RWMutex
	ids    map[string]struct{}
	bySite map[string][]tracker.Measurement
}

// NewMeasurementStore constructs a MeasurementStore.
func NewMeasurementStore() *MeasurementStore {
	return &MeasurementStore{
		ids:    make(map[string]struct{}),
		bySite: make(map[string][]tracker.Measurement),
	}
}

// Append stores a measurement. IDs must be unique.
func (s *MeasurementStore) Append(_ context.Context, m tracker.Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if m.ID == "" {
		return errors.New("measurement id is required")
	}
	if _, exists := s.ids[m.ID]; exists {
		return errors.New("measurement already exists")
	}
	s.ids[m.ID] = struct{}{}
	s.bySite[m.SiteURL] = append(s.bySite[m.SiteURL], m)
	return nil
}

// Recent returns up to limit measurements for siteURL, newest first.
func (s *MeasurementStore) Recent(_ context.Context, siteURL string, limit int) ([]tracker.Measurement, error) {
	s.mu.RLock()
	rows := s.bySite[siteURL]
	out := make([]tracker.Measurement, len(rows))
	copy(out, rows)
	s.mu.RUnlock()

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if limit >= 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// Len reports how many measurements are stored.
func (s *MeasurementStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}
