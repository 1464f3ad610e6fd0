// Package stack records the call stack of a coroutine at a suspension point.
//
// The Go runtime keeps a parked goroutine's stack intact, so nothing has to
// be copied back on resume. What is captured is the list of program counters
// between the suspension point and the coroutine's entry, which is enough to
// report where a suspended coroutine is waiting and to enforce a bound on how
// deep a coroutine may be when it suspends.
package stack

import (
	"errors"
	"fmt"
	"runtime"
)

// ErrTooDeep is the panic value (wrapped) raised by Capture when a stack is
// deeper than the allowed maximum.
var ErrTooDeep = errors.New("stack: captured stack exceeds maximum depth")

const initialDepth = 32

// A Buffer holds captured program counters. Its capacity grows on demand and
// never shrinks, so a coroutine that suspends repeatedly at the same depth
// allocates once.
type Buffer struct {
	pcs  []uintptr
	size int
}

// Capture records the calling goroutine's stack into b, skipping skip frames
// above the caller of Capture. It returns the number of frames recorded.
//
// Capture panics with an error wrapping ErrTooDeep if the stack has more than
// max frames; the contents of b are unspecified after such a panic.
func (b *Buffer) Capture(skip, max int) int {
	if max <= 0 {
		panic(fmt.Errorf("stack: bad maximum depth %d", max))
	}
	if len(b.pcs) == 0 {
		b.grow(min(initialDepth, max+1))
	}
	for {
		n := runtime.Callers(skip+2, b.pcs)
		if n < len(b.pcs) {
			b.size = n
			return n
		}
		if len(b.pcs) > max {
			panic(fmt.Errorf("%w: more than %d frames", ErrTooDeep, max))
		}
		b.grow(min(2*len(b.pcs), max+1))
	}
}

func (b *Buffer) grow(n int) {
	if n <= len(b.pcs) {
		return
	}
	b.pcs = make([]uintptr, n)
	b.size = 0
}

// Len returns the number of frames recorded by the last Capture.
func (b *Buffer) Len() int {
	return b.size
}

// Cap returns the number of frames b can hold without growing.
func (b *Buffer) Cap() int {
	return len(b.pcs)
}

// PCs returns the recorded program counters. The slice aliases b and is
// overwritten by the next Capture.
func (b *Buffer) PCs() []uintptr {
	return b.pcs[:b.size]
}

// Frames symbolizes the recorded program counters.
func (b *Buffer) Frames() []runtime.Frame {
	if b.size == 0 {
		return nil
	}
	var frames []runtime.Frame
	iter := runtime.CallersFrames(b.PCs())
	for {
		frame, more := iter.Next()
		frames = append(frames, frame)
		if !more {
			break
		}
	}
	return frames
}
