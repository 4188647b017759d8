package audio

import (
	"time"
)

// Accumulator buffers the raw audio fragments of the utterance currently
// being spoken. Fragments are kept in arrival order and are only ever
// cleared as a unit.
//
// An Accumulator is owned by a single session goroutine and is not safe for
// concurrent use.
type Accumulator struct {
	fragments    [][]byte
	size         int
	lastActivity time.Time
	active       bool

	now func() time.Time
}

// AccumulatorStats represents accumulator state for diagnostics
type AccumulatorStats struct {
	Fragments    int       `json:"fragments"`
	Bytes        int       `json:"bytes"`
	Active       bool      `json:"active"`
	LastActivity time.Time `json:"last_activity"`
}

// NewAccumulator creates an empty accumulator
func NewAccumulator() *Accumulator {
	return newAccumulatorWithClock(time.Now)
}

func newAccumulatorWithClock(now func() time.Time) *Accumulator {
	return &Accumulator{
		fragments:    make([][]byte, 0, 64),
		lastActivity: now(),
		now:          now,
	}
}

// Append adds one fragment. Empty fragments are accepted and counted.
// The fragment is copied, callers may reuse their slice.
func (a *Accumulator) Append(fragment []byte) {
	stored := make([]byte, len(fragment))
	copy(stored, fragment)

	a.fragments = append(a.fragments, stored)
	a.size += len(stored)
	a.lastActivity = a.now()
	a.active = true
}

// Snapshot concatenates all fragments in the order Append was called
func (a *Accumulator) Snapshot() []byte {
	out := make([]byte, 0, a.size)
	for _, fragment := range a.fragments {
		out = append(out, fragment...)
	}
	return out
}

// Reset clears all fragments and marks the accumulator inactive.
// The last activity timestamp is left as is.
func (a *Accumulator) Reset() {
	a.fragments = make([][]byte, 0, 64)
	a.size = 0
	a.active = false
}

// Flush returns the snapshot and resets the accumulator in one step.
// Anything appended afterwards belongs to the next utterance.
func (a *Accumulator) Flush() []byte {
	snapshot := a.Snapshot()
	a.Reset()
	return snapshot
}

// IdleDuration returns the wall-clock time since the last Append
func (a *Accumulator) IdleDuration() time.Duration {
	return a.now().Sub(a.lastActivity)
}

// Len returns the number of buffered fragments
func (a *Accumulator) Len() int {
	return len(a.fragments)
}

// Size returns the number of buffered bytes
func (a *Accumulator) Size() int {
	return a.size
}

// IsActive reports whether audio has arrived since the last reset
func (a *Accumulator) IsActive() bool {
	return a.active
}

// Stats returns current accumulator state
func (a *Accumulator) Stats() AccumulatorStats {
	return AccumulatorStats{
		Fragments:    len(a.fragments),
		Bytes:        a.size,
		Active:       a.active,
		LastActivity: a.lastActivity,
	}
}
