// Package analyze defines the shared vocabulary of the per-camera analyzers:
// the availability sentinel, the analyzer lifecycle states, and the health
// tracker the sampling loop consults before spending a call budget on a
// provider.
package analyze

import (
	"errors"
	"sync"
)

// ErrUnavailable reports that an analyzer could not produce an observation
// for this tick. Callers treat it as "no data", not as a pipeline fault: the
// affected feature is marked unavailable and its weight redistributed.
var ErrUnavailable = errors.New("analyze: unavailable")

// State is an analyzer lifecycle state.
type State int

const (
	// Cold means the analyzer has not been asked to warm up yet.
	Cold State = iota
	// Warming means model load or connection setup is in progress.
	Warming
	// Ready means the analyzer is serving observations.
	Ready
	// Unavailable means recent calls failed in a row. The analyzer keeps
	// receiving calls and returns to Ready on the next success; each failed
	// tick degrades only that tick's feature set.
	Unavailable
	// Dead means warm-up itself failed; the analyzer will not recover
	// without a restart.
	Dead
)

func (s State) String() string {
	switch s {
	case Cold:
		return "cold"
	case Warming:
		return "warming"
	case Ready:
		return "ready"
	case Unavailable:
		return "unavailable"
	case Dead:
		return "dead"
	}
	return "unknown"
}

// DefaultUnavailableThreshold is the consecutive-failure count after which a
// tracker declares its analyzer unavailable.
const DefaultUnavailableThreshold = 5

// Tracker follows one analyzer through its lifecycle. The sampling loop
// skips analyzers that are not callable and reports their features as
// unavailable instead of blocking a tick on them. Safe for concurrent use.
type Tracker struct {
	mu        sync.Mutex
	state     State
	failures  int
	threshold int
}

// NewTracker returns a Tracker in the Cold state. threshold is the number of
// consecutive failures that transitions Ready to Unavailable; zero or
// negative selects [DefaultUnavailableThreshold].
func NewTracker(threshold int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultUnavailableThreshold
	}
	return &Tracker{threshold: threshold}
}

// State returns the current lifecycle state.
func (t *Tracker) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Ready reports whether the analyzer is currently healthy.
func (t *Tracker) Ready() bool {
	return t.State() == Ready
}

// Callable reports whether the analyzer should be offered calls this tick.
// Unavailable analyzers stay callable so a recovered backend promotes back
// to Ready on its next success.
func (t *Tracker) Callable() bool {
	s := t.State()
	return s == Ready || s == Unavailable
}

// MarkWarming records that setup has started. It is a no-op once the
// analyzer is Ready or Dead.
func (t *Tracker) MarkWarming() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Cold {
		t.state = Warming
	}
}

// MarkReady records a successful warm-up or a successful call. Any
// consecutive-failure streak resets. A Dead analyzer stays dead.
func (t *Tracker) MarkReady() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Dead {
		return
	}
	t.state = Ready
	t.failures = 0
}

// MarkFailure records a failed call. Once the consecutive-failure streak
// reaches the threshold the analyzer transitions to Unavailable; the return
// value reports whether this call caused that transition. Call failures
// never kill the analyzer: the next successful call restores Ready.
func (t *Tracker) MarkFailure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == Dead {
		return false
	}
	t.failures++
	if t.state == Ready && t.failures >= t.threshold {
		t.state = Unavailable
		return true
	}
	return false
}

// MarkDead forces the terminal state, e.g. when warm-up itself fails.
func (t *Tracker) MarkDead() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.state = Dead
}
