package perf

func rdcycle() uint64
func rdinstret() uint64

// Host returns the hart's own cycle and instret CSRs.
func Host() Counters {
	return CountersFunc(func() Snapshot {
		return Snapshot{Cycle: rdcycle(), Instret: rdinstret()}
	})
}
