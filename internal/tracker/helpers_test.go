package tracker

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/stretchr/testify/mock"
)

type fakeResponse struct {
	status int
	body   string
	err    error
}

// routeFetcher serves canned responses by exact URL and records every call.
type routeFetcher struct {
	mu     sync.Mutex
	routes map[string]fakeResponse
	calls  []string
}

func newRouteFetcher(routes map[string]fakeResponse) *routeFetcher {
	return &routeFetcher{routes: routes}
}

func (f *routeFetcher) Fetch(_ context.Context, url string) (FetchResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, url)
	r, ok := f.routes[url]
	if !ok {
		return FetchResponse{}, fmt.Errorf("no route for %s", url)
	}
	if r.err != nil {
		return FetchResponse{}, r.err
	}
	return FetchResponse{URL: url, StatusCode: r.status, Body: []byte(r.body)}, nil
}

func (f *routeFetcher) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.calls)
}

// sliceStore is an in-package MeasurementStore.
type sliceStore struct {
	mu        sync.Mutex
	rows      []Measurement
	lastLimit int
	err       error
}

func (s *sliceStore) Append(_ context.Context, m Measurement) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows = append(s.rows, m)
	return nil
}

func (s *sliceStore) Recent(_ context.Context, siteURL string, limit int) ([]Measurement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	var out []Measurement
	for _, m := range s.rows {
		if m.SiteURL == siteURL {
			out = append(out, m)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *sliceStore) Rows() []Measurement {
	s.mu.Lock()
	defer s.mu.Unlock()
	return slices.Clone(s.rows)
}

// mockStore and mockPublisher are testify mocks for failure paths.
type mockStore struct {
	mock.Mock
}

func (m *mockStore) Append(ctx context.Context, measurement Measurement) error {
	args := m.Called(ctx, measurement)
	return args.Error(0)
}

func (m *mockStore) Recent(ctx context.Context, siteURL string, limit int) ([]Measurement, error) {
	args := m.Called(ctx, siteURL, limit)
	rows, _ := args.Get(0).([]Measurement)
	return rows, args.Error(1)
}

type mockPublisher struct {
	mock.Mock
}

func (m *mockPublisher) Publish(ctx context.Context, topic string, payload any) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (s *seqIDs) NewID() (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.n++
	return fmt.Sprintf("m-%03d", s.n), nil
}

var errCacheDown = errors.New("cache down")

// brokenCache fails every operation.
type brokenCache struct{}

func (brokenCache) Get(context.Context, string) ([]byte, bool, error) {
	return nil, false, errCacheDown
}

func (brokenCache) Set(context.Context, string, []byte, time.Duration) error {
	return errCacheDown
}

func (brokenCache) AddIfAbsent(context.Context, string, []byte, time.Duration) (bool, error) {
	return false, errCacheDown
}

var testEpoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
