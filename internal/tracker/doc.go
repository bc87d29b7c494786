// Package tracker implements the page-weight measurement core: asset
// extraction, size aggregation, per-site measurement, the debounced run gate,
// and the cached history read path. Collaborators (fetcher, cache, store,
// publisher, clock) are injected through the interfaces in interfaces.go.
package tracker
