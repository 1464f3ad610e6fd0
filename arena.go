package costack

import "sync"

// A ref names a coroutine by arena slot and generation. The zero ref names
// nothing.
type ref struct {
	idx uint32
	gen uint32
}

func (r ref) empty() bool {
	return r.gen == 0
}

type slot struct {
	gen uint32
	co  *coroutine
}

// arena owns every live coroutine. A slot's generation changes each time it
// is reused, so a ref to a reclaimed coroutine never resolves to whatever
// took its place.
type arena struct {
	mu    sync.Mutex
	slots []slot
	free  []uint32
}

func (a *arena) alloc(co *coroutine) ref {
	a.mu.Lock()
	defer a.mu.Unlock()

	var idx uint32
	if n := len(a.free); n > 0 {
		idx = a.free[n-1]
		a.free = a.free[:n-1]
	} else {
		idx = uint32(len(a.slots))
		a.slots = append(a.slots, slot{})
	}
	s := &a.slots[idx]
	s.gen++
	if s.gen == 0 {
		s.gen = 1
	}
	s.co = co
	return ref{idx: idx, gen: s.gen}
}

func (a *arena) lookup(r ref) *coroutine {
	if r.empty() {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if int(r.idx) >= len(a.slots) {
		return nil
	}
	s := a.slots[r.idx]
	if s.gen != r.gen {
		return nil
	}
	return s.co
}

// release frees r's slot. Releasing a stale ref is a no-op.
func (a *arena) release(r ref) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if r.empty() || int(r.idx) >= len(a.slots) {
		return false
	}
	s := &a.slots[r.idx]
	if s.gen != r.gen || s.co == nil {
		return false
	}
	s.co = nil
	a.free = append(a.free, r.idx)
	return true
}

func (a *arena) len() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.slots) - len(a.free)
}
