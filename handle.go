package costack

import (
	"sync"
	"unsafe"

	"github.com/kmrgirish/costack/internal/colog"
)

// closedDone is the Done channel of an empty handle.
var closedDone = func() chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}()

// A Handle is the single owning reference to a spawned coroutine. Ownership
// moves with Move and MoveTo and never duplicates. Dropping or releasing a
// handle does not stop the coroutine it named; the coroutine runs to
// completion unresumable.
//
// A Handle is safe for concurrent use.
type Handle struct {
	mu  sync.Mutex
	rt  *Runtime
	ref ref
	out *outcome
}

func (h *Handle) lookup() *coroutine {
	if h.rt == nil {
		return nil
	}
	return h.rt.arena.lookup(h.ref)
}

// Resume asks the coroutine's environment to continue it. It returns false
// if the handle is empty or the coroutine has finished or been reclaimed.
// Resuming a coroutine that has not suspended yet is a no-op that still
// returns true; the call does not block and does not run the coroutine
// synchronously.
func (h *Handle) Resume() bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	co := h.lookup()
	if co == nil || co.Status() == StatusDead {
		return false
	}
	h.rt.resume(co)
	return true
}

// Move transfers ownership to a new handle and leaves h empty.
func (h *Handle) Move() *Handle {
	dst := &Handle{}
	h.MoveTo(dst)
	return dst
}

// MoveTo transfers ownership from h into dst, which is the assignment
// dst = h. If dst already owned a coroutine, that coroutine is detached
// first; it keeps running. h is left empty. Moving a handle into itself does
// nothing.
func (h *Handle) MoveTo(dst *Handle) {
	if h == dst || dst == nil {
		return
	}
	first, second := h, dst
	if uintptr(unsafe.Pointer(second)) < uintptr(unsafe.Pointer(first)) {
		first, second = second, first
	}
	first.mu.Lock()
	defer first.mu.Unlock()
	second.mu.Lock()
	defer second.mu.Unlock()

	dst.detach()

	dst.rt, dst.ref, dst.out = h.rt, h.ref, h.out
	h.rt, h.ref, h.out = nil, ref{}, nil
	if co := dst.lookup(); co != nil {
		co.owner.CompareAndSwap(h, dst)
	}
}

// Release detaches h from its coroutine and leaves h empty. The coroutine
// keeps running.
func (h *Handle) Release() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.detach()
}

func (h *Handle) detach() {
	if co := h.lookup(); co != nil {
		co.owner.CompareAndSwap(h, nil)
	}
	h.rt, h.ref, h.out = nil, ref{}, nil
}

// Valid reports whether h currently owns a coroutine. An owned coroutine
// may already be dead.
func (h *Handle) Valid() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.ref.empty()
}

// Done returns a channel that is closed once the coroutine is dead. The
// channel of an empty handle is already closed.
func (h *Handle) Done() <-chan struct{} {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.out == nil {
		return closedDone
	}
	return h.out.done
}

// Err returns how the coroutine ended: nil if its body returned, a
// *PanicError if it panicked and ErrShutdown if Shutdown dropped it. It is
// nil while the coroutine is live and for an empty handle.
func (h *Handle) Err() error {
	h.mu.Lock()
	out := h.out
	h.mu.Unlock()
	if out == nil {
		return nil
	}
	select {
	case <-out.done:
		return out.err
	default:
		return nil
	}
}

// Status returns the coroutine's current state, StatusDead for an empty or
// stale handle.
func (h *Handle) Status() Status {
	h.mu.Lock()
	defer h.mu.Unlock()
	co := h.lookup()
	if co == nil {
		return StatusDead
	}
	return co.Status()
}

// Stack returns the frames the coroutine was at when it last yielded. It
// returns nil unless the coroutine is suspended right now.
func (h *Handle) Stack() []colog.Stackframe {
	h.mu.Lock()
	co := h.lookup()
	h.mu.Unlock()
	if co == nil {
		return nil
	}

	rt := co.rt
	rt.suspendedMu.Lock()
	defer rt.suspendedMu.Unlock()
	if _, ok := rt.suspended[co]; !ok {
		return nil
	}
	return colog.Frames(co.stack.PCs())
}
