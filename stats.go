package costack

import "sync/atomic"

type counters struct {
	spawned   atomic.Int64
	completed atomic.Int64
	faulted   atomic.Int64
}

// Stats is a snapshot of a Runtime's counters. The fields are read
// independently and may be momentarily inconsistent with each other.
type Stats struct {
	Threads int

	// Spawned counts every coroutine created by Spawn.
	Spawned int64
	// Completed counts bodies that returned.
	Completed int64
	// Faulted counts bodies that panicked.
	Faulted int64

	// Suspended is the number of coroutines parked waiting for a resume.
	Suspended int
	// Live is the number of coroutines not yet reclaimed.
	Live int
}

// Stats returns a snapshot of rt's counters.
func (rt *Runtime) Stats() Stats {
	rt.suspendedMu.Lock()
	suspended := len(rt.suspended)
	rt.suspendedMu.Unlock()

	return Stats{
		Threads:   rt.cfg.Threads,
		Spawned:   rt.stats.spawned.Load(),
		Completed: rt.stats.completed.Load(),
		Faulted:   rt.stats.faulted.Load(),
		Suspended: suspended,
		Live:      rt.arena.len(),
	}
}
