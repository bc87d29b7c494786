package tracker

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownSite is returned for site identifiers missing from configuration.
	ErrUnknownSite = errors.New("unknown site")
	// ErrPingUnsupported is returned by gates that do not consume pings.
	ErrPingUnsupported = errors.New("ping signal not used by this scheduler")
)

// StatusError reports a fetch that completed with an unexpected status code.
type StatusError struct {
	URL        string
	StatusCode int
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d for %s", e.StatusCode, e.URL)
}
