// Package perf samples the cycle and retired-instruction counters that
// replay intervals are measured with.
package perf

import "fmt"

// Snapshot is one reading of the counters.
type Snapshot struct {
	Cycle   uint64
	Instret uint64
}

// Sub returns s - base, component-wise.
func (s Snapshot) Sub(base Snapshot) Snapshot {
	return Snapshot{Cycle: s.Cycle - base.Cycle, Instret: s.Instret - base.Instret}
}

func (s Snapshot) String() string {
	return fmt.Sprintf("cycle=%d instret=%d", s.Cycle, s.Instret)
}

// Counters is a source of snapshots.
type Counters interface {
	Sample() Snapshot
}

// CountersFunc adapts a function to Counters.
type CountersFunc func() Snapshot

// Sample calls f.
func (f CountersFunc) Sample() Snapshot { return f() }

// Manual counters are advanced by their owner, typically a simulator that
// retires instructions one at a time.
type Manual struct {
	Now Snapshot
}

// Sample returns the current value.
func (m *Manual) Sample() Snapshot { return m.Now }

// Retire advances the counters by one instruction taking cycles cycles.
func (m *Manual) Retire(cycles uint64) {
	m.Now.Cycle += cycles
	m.Now.Instret++
}
