// Package progress provides a lightweight tracker that keeps aggregated
// analysis counters (configurations explored, reductions, violations, …) for
// a single check run.  The tracker instance lives in the run context – every
// component that receives the context can atomically update the counters via
// the Delta helper without requiring a global registry.

package progress

import (
	"context"
	"sync"
	"time"
)

// Delta represents an incremental counter change emitted by the verifier or
// the safety checker.  The fields are signed and therefore can be either
// positive (increment) or negative (decrement).
type Delta struct {
	Configurations int
	Reductions     int
	Violations     int
	Findings       int
}

// Stats is a point-in-time copy of the tracker: run identification plus the
// aggregated counters.
type Stats struct {
	RunID     string
	Protocol  string
	StartedAt time.Time

	Configurations int
	Reductions     int
	Violations     int
	Findings       int
}

// Progress keeps aggregated counters for one check run and any nested
// checks.  It is safe for concurrent use.
type Progress struct {
	mu       sync.Mutex
	stats    Stats
	onChange func(Stats)
}

// Update applies the supplied delta to the tracker.  It is safe to call from
// multiple goroutines.  If an onChange callback has been registered it will
// be invoked with a copy of the updated counters outside the critical section
// so that the callback can perform slow operations (e.g. JSON encoding, I/O)
// without blocking the exploration loop.
func (p *Progress) Update(d Delta) {
	if p == nil {
		return
	}

	p.mu.Lock()

	p.stats.Configurations += d.Configurations
	p.stats.Reductions += d.Reductions
	p.stats.Violations += d.Violations
	p.stats.Findings += d.Findings

	snapshot := p.stats
	cb := p.onChange

	p.mu.Unlock()

	if cb != nil {
		cb(snapshot)
	}
}

// Snapshot returns a copy of the tracker suitable for read-only inspection.
func (p *Progress) Snapshot() Stats {
	if p == nil {
		return Stats{}
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stats
}

// OnChange registers a callback that is invoked after every successful
// Update.  Passing nil disables the callback.  Only one callback can be
// active; subsequent calls overwrite the previous value.
func (p *Progress) OnChange(cb func(Stats)) {
	if p == nil {
		return
	}
	p.mu.Lock()
	p.onChange = cb
	p.mu.Unlock()
}

// ----------------------------------------------------------------------------
// Context helpers
// ----------------------------------------------------------------------------

type trackerKeyT struct{}

var trackerKey trackerKeyT

// WithNewTracker creates a new Progress tracker, embeds it in a derived
// context and returns both.  The caller may optionally pass an onChange
// callback that will be invoked after every counter update.
func WithNewTracker(ctx context.Context, runID, protocol string, onChange func(Stats)) (context.Context, *Progress) {
	if ctx == nil {
		ctx = context.Background()
	}
	tr := &Progress{
		stats:    Stats{RunID: runID, Protocol: protocol, StartedAt: time.Now()},
		onChange: onChange,
	}
	return context.WithValue(ctx, trackerKey, tr), tr
}

// FromContext extracts the Progress tracker from ctx.  It returns (tracker,
// ok).  The second return value is false when the context carries no tracker.
func FromContext(ctx context.Context) (*Progress, bool) {
	if ctx == nil {
		return nil, false
	}
	tr, ok := ctx.Value(trackerKey).(*Progress)
	return tr, ok
}

// GetSnapshot is a convenience wrapper that combines FromContext and
// Snapshot.  The boolean return value is false when the context does not
// carry a tracker.
func GetSnapshot(ctx context.Context) (Stats, bool) {
	if tr, ok := FromContext(ctx); ok {
		return tr.Snapshot(), true
	}
	return Stats{}, false
}

// UpdateCtx is a helper that looks up the tracker in ctx (if any) and applies
// the supplied delta.
func UpdateCtx(ctx context.Context, d Delta) {
	if tr, ok := FromContext(ctx); ok {
		tr.Update(d)
	}
}
