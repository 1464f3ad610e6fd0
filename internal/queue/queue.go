// Package queue holds the FIFO queues that carry coroutines between the
// dispatcher and run environments.
//
// Two implementations share the Queue interface: Linked, an unbounded linked
// list, and Ring, a fixed-capacity circular buffer whose cursors are atomics
// so that one producer and one consumer can use it without a lock. Neither is
// safe for more than one producer or more than one consumer at a time;
// callers serialize those with their own locks.
package queue

import "errors"

// ErrFull is the panic value raised by Ring.Put when the ring has no free slot.
// Overflowing a ring is a contract violation: size rings for the peak number
// of entries or use TryPut.
var ErrFull = errors.New("queue: ring is full")

type Queue[T any] interface {
	// Put appends v to the back of the queue.
	Put(v T)
	// Get removes and returns the front of the queue.
	Get() (T, bool)
	Len() int
	// Drain moves up to max entries from the front of the queue to the back
	// of dst, never more than dst can hold, and returns how many moved.
	Drain(dst Queue[T], max int) int
	// Clear removes every entry, calling f on each in order.
	Clear(f func(T))
}

// bounded is implemented by queues with a fixed capacity.
type bounded interface {
	Free() int
}

// transfer is the generic Drain: one Get/Put pair per entry.
func transfer[T any](src, dst Queue[T], max int) int {
	if b, ok := dst.(bounded); ok {
		max = min(max, b.Free())
	}
	n := 0
	for n < max {
		v, ok := src.Get()
		if !ok {
			break
		}
		dst.Put(v)
		n++
	}
	return n
}

func clearAll[T any](q Queue[T], f func(T)) {
	for {
		v, ok := q.Get()
		if !ok {
			return
		}
		if f != nil {
			f(v)
		}
	}
}
