package tracker

import (
	"fmt"
	"io"
	"sync"
)

// Report collects the human-readable diagnostic lines of a trigger call.
// When constructed with a writer, each line is also streamed as it happens so
// an operator watching the response can see where a run stalled.
type Report struct {
	mu    sync.Mutex
	out   io.Writer
	lines []string
}

// NewReport returns a Report that mirrors lines to w. w may be nil.
func NewReport(w io.Writer) *Report {
	return &Report{out: w}
}

// Linef appends one formatted line.
func (r *Report) Linef(format string, args ...any) {
	if r == nil {
		return
	}
	line := fmt.Sprintf(format, args...)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lines = append(r.lines, line)
	if r.out != nil {
		// Best-effort: the structured result still carries every line.
		_, _ = fmt.Fprintln(r.out, line)
		if f, ok := r.out.(interface{ Flush() }); ok {
			f.Flush()
		}
	}
}

// Lines returns a copy of the collected lines.
func (r *Report) Lines() []string {
	if r == nil {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.lines))
	copy(out, r.lines)
	return out
}
