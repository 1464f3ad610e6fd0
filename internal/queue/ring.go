package queue

import (
	"fmt"
	"math/bits"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Ring is a fixed-capacity circular buffer.
//
// The write cursor is only advanced by the producer and the read cursor only
// by the consumer; both are atomics, so a slot written before in is published
// is visible to the consumer that observes the new in, and a slot is only
// reused after the consumer has published the matching out. With a single
// producer and a single consumer no lock is needed.
//
// All Capacity slots are usable. Put on a full ring panics with ErrFull;
// TryPut reports false instead. Entries are never dropped or overwritten.
type Ring[T any] struct {
	buf  []T
	mask uint64

	_   cpu.CacheLinePad
	in  atomic.Uint64
	_   cpu.CacheLinePad
	out atomic.Uint64
	_   cpu.CacheLinePad
}

// NewRing returns a ring holding at least capacity entries. The capacity is
// rounded up to a power of two.
func NewRing[T any](capacity int) *Ring[T] {
	if capacity <= 0 {
		panic(fmt.Sprintf("queue: bad ring capacity %d", capacity))
	}
	size := uint64(1) << bits.Len64(uint64(capacity-1))
	return &Ring[T]{
		buf:  make([]T, size),
		mask: size - 1,
	}
}

func (r *Ring[T]) Capacity() int {
	return len(r.buf)
}

func (r *Ring[T]) Len() int {
	return int(r.in.Load() - r.out.Load())
}

// Free returns the number of entries that can be put without overflowing.
func (r *Ring[T]) Free() int {
	return len(r.buf) - r.Len()
}

// TryPut appends v if there is room and reports whether it did.
func (r *Ring[T]) TryPut(v T) bool {
	in := r.in.Load()
	if in-r.out.Load() == uint64(len(r.buf)) {
		return false
	}
	r.buf[in&r.mask] = v
	r.in.Store(in + 1)
	return true
}

func (r *Ring[T]) Put(v T) {
	if !r.TryPut(v) {
		panic(ErrFull)
	}
}

// putSlice appends as much of vs as fits and returns how many were appended.
func (r *Ring[T]) putSlice(vs []T) int {
	in := r.in.Load()
	n := min(len(vs), len(r.buf)-int(in-r.out.Load()))
	start := int(in & r.mask)
	first := copy(r.buf[start:], vs[:n])
	copy(r.buf, vs[first:n])
	r.in.Store(in + uint64(n))
	return n
}

func (r *Ring[T]) Get() (T, bool) {
	var zero T
	out := r.out.Load()
	if out == r.in.Load() {
		return zero, false
	}
	idx := out & r.mask
	v := r.buf[idx]
	r.buf[idx] = zero
	r.out.Store(out + 1)
	return v, true
}

// Drain moves a bounded prefix of r into dst. Between two rings the entries
// are copied in at most two contiguous segments and each cursor is published
// once.
func (r *Ring[T]) Drain(dst Queue[T], max int) int {
	other, ok := dst.(*Ring[T])
	if !ok || other == r {
		return transfer[T](r, dst, max)
	}

	out := r.out.Load()
	n := min(max, int(r.in.Load()-out), other.Free())
	if n <= 0 {
		return 0
	}
	start := int(out & r.mask)
	end := min(start+n, len(r.buf))
	first := other.putSlice(r.buf[start:end])
	second := other.putSlice(r.buf[:n-first])

	var zero T
	for i := 0; i < first; i++ {
		r.buf[start+i] = zero
	}
	for i := 0; i < second; i++ {
		r.buf[i] = zero
	}
	r.out.Store(out + uint64(first+second))
	return first + second
}

func (r *Ring[T]) Clear(f func(T)) {
	clearAll[T](r, f)
}
