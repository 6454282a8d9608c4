// Package clock implements the Lamport-style logical clock that gives every
// operation a totally ordered, replica-tagged timestamp.
package clock

import (
	"fmt"

	"github.com/forgeline/core/pkg/coreerr"
)

// ReplicaId identifies a single writing instance (process x repository).
// It is an opaque, non-empty string, ordered by byte comparison.
type ReplicaId string

// NewReplicaId wraps a raw string as a ReplicaId.
func NewReplicaId(s string) ReplicaId {
	return ReplicaId(s)
}

func (r ReplicaId) String() string {
	return string(r)
}

// Less reports whether r sorts before other under byte comparison.
func (r ReplicaId) Less(other ReplicaId) bool {
	return r < other
}

// LamportTimestamp is (counter, replica), totally ordered by counter then by
// replica.
type LamportTimestamp struct {
	Counter uint64
	Replica ReplicaId
}

// String renders the "counter@replica" display form.
func (t LamportTimestamp) String() string {
	return fmt.Sprintf("%d@%s", t.Counter, t.Replica)
}

// Compare returns -1, 0, or 1 as t sorts before, equal to, or after other.
func (t LamportTimestamp) Compare(other LamportTimestamp) int {
	if t.Counter != other.Counter {
		if t.Counter < other.Counter {
			return -1
		}
		return 1
	}
	if t.Replica == other.Replica {
		return 0
	}
	if t.Replica < other.Replica {
		return -1
	}
	return 1
}

// Less reports whether t sorts strictly before other.
func (t LamportTimestamp) Less(other LamportTimestamp) bool {
	return t.Compare(other) < 0
}

// Clock is a mutable per-replica Lamport clock.
type Clock struct {
	counter uint64
	replica ReplicaId
}

// New creates a clock for replica starting at counter 0.
func New(replica ReplicaId) *Clock {
	return &Clock{replica: replica}
}

// WithState restores a clock at a specific counter, used when a replica
// resumes from a persisted snapshot.
func WithState(replica ReplicaId, counter uint64) *Clock {
	return &Clock{replica: replica, counter: counter}
}

// FromSnapshot restores a clock from a previously observed timestamp,
// adopting its counter only if it advances this replica's own state.
func FromSnapshot(replica ReplicaId, snapshot LamportTimestamp) *Clock {
	c := &Clock{replica: replica}
	if snapshot.Counter > c.counter {
		c.counter = snapshot.Counter
	}
	return c
}

// Counter returns the clock's current counter without advancing it.
func (c *Clock) Counter() uint64 {
	return c.counter
}

// Replica returns the clock's replica identifier.
func (c *Clock) Replica() ReplicaId {
	return c.replica
}

// Snapshot returns the current state as a timestamp, without advancing it.
func (c *Clock) Snapshot() LamportTimestamp {
	return LamportTimestamp{Counter: c.counter, Replica: c.replica}
}

// Tick advances the clock and returns a fresh, strictly greater timestamp.
// Returns a ClockOverflow error if the counter would wrap past 2^64-1.
func (c *Clock) Tick() (LamportTimestamp, error) {
	if c.counter == ^uint64(0) {
		return LamportTimestamp{}, coreerr.ClockOverflow()
	}
	c.counter++
	return c.Snapshot(), nil
}

// Merge folds a remote timestamp into this clock. The counter only ever
// advances: merge is idempotent and monotonic. It always returns the clock's
// resulting snapshot, whether or not the remote timestamp advanced it.
func (c *Clock) Merge(remote LamportTimestamp) LamportTimestamp {
	if remote.Counter > c.counter {
		c.counter = remote.Counter
	}
	return c.Snapshot()
}
