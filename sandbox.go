package costack

import (
	"context"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"

	"github.com/kmrgirish/costack/internal/queue"
)

// A sandbox is a run environment: the state owned by one worker. It runs one
// coroutine at a time and keeps the coroutines that have run on it, because
// a coroutine that has yielded only ever resumes on the environment that
// first ran it.
type sandbox struct {
	id  int
	rt  *Runtime
	log *slog.Logger

	running atomic.Pointer[coroutine]

	// ready and dead are only touched by the owning worker.
	ready queue.Queue[*coroutine]
	dead  queue.Queue[*coroutine]

	// reclaimAt is the dead list length that forces a reclaim between
	// resumes. It never exceeds the dead list's capacity.
	reclaimAt int

	// pending receives coroutines resumed from other goroutines.
	pendingMu sync.Mutex
	pending   queue.Queue[*coroutine]
	pendingN  atomic.Int64

	idleMu   sync.Mutex
	idle     *sync.Cond
	signaled bool
}

func newSandbox(rt *Runtime, id int) *sandbox {
	e := &sandbox{
		id:        id,
		rt:        rt,
		log:       rt.log.With("env", id),
		ready:     rt.newQueue(),
		dead:      rt.newQueue(),
		pending:   rt.newQueue(),
		reclaimAt: rt.cfg.LoadBatch,
	}
	if r, ok := e.dead.(*queue.Ring[*coroutine]); ok {
		e.reclaimAt = max(1, min(e.reclaimAt, r.Capacity()))
	}
	e.idle = sync.NewCond(&e.idleMu)
	return e
}

// resume runs co until it yields or finishes.
func (e *sandbox) resume(co *coroutine) {
	if !e.running.CompareAndSwap(nil, co) {
		contractViolation("env %d: resume while another coroutine is running", e.id)
	}

	switch co.Status() {
	case StatusInit:
		co.env = e
		co.setStatus(StatusRunning)
		co.coro.Start(co.entrypoint)
	case StatusPending:
		if co.env != e {
			contractViolation("env %d: resuming coroutine %d owned by env %d", e.id, co.ref.idx, co.env.id)
		}
		co.setStatus(StatusRunning)
		co.coro.Next()
	case StatusDead:
		e.running.Store(nil)
		e.dead.Put(co)
		return
	default:
		contractViolation("env %d: resuming coroutine %d in state %s", e.id, co.ref.idx, co.Status())
	}

	// A coroutine that yielded cleared running and is suspended or already
	// pending again; anything else has finished.
	if s := co.Status(); s == StatusRunning || s == StatusDead {
		co.setStatus(StatusDead)
		e.running.Store(nil)
		e.dead.Put(co)
	}
}

// yield is Task.Yield on the coroutine's own goroutine.
func (e *sandbox) yield(co *coroutine) {
	if co.aborted {
		// Deferred calls of an aborted body; it is already unwinding.
		return
	}
	if e.running.Load() != co {
		contractViolation("env %d: yield from coroutine %d which is not running", e.id, co.ref.idx)
	}
	e.running.Store(nil)
	if co.Status() == StatusRunning {
		co.stack.Capture(2, e.rt.cfg.MaxStackDepth)
		e.rt.suspend(co)
	}
	co.coro.Yield()
	if co.aborted {
		runtime.Goexit()
	}
}

func (e *sandbox) addPending(co *coroutine) {
	e.pendingMu.Lock()
	e.pending.Put(co)
	e.pendingN.Add(1)
	e.pendingMu.Unlock()
	e.notify()
}

func (e *sandbox) popReady() *coroutine {
	if co, ok := e.ready.Get(); ok {
		return co
	}
	if e.pendingN.Load() == 0 {
		return nil
	}
	e.pendingMu.Lock()
	n := e.pending.Drain(e.ready, e.pending.Len())
	e.pendingN.Add(-int64(n))
	e.pendingMu.Unlock()

	co, _ := e.ready.Get()
	return co
}

// load pulls a bounded batch from the global ready queue.
func (e *sandbox) load() {
	e.rt.unload(e.ready, e.rt.cfg.LoadBatch)
}

// reclaim frees every coroutine that finished on this environment.
func (e *sandbox) reclaim() {
	e.dead.Clear(e.rt.release)
}

func (e *sandbox) notify() {
	e.idleMu.Lock()
	e.signaled = true
	e.idle.Signal()
	e.idleMu.Unlock()
}

// sleep blocks until notify is called or the runtime stops.
func (e *sandbox) sleep() {
	e.idleMu.Lock()
	for !e.signaled && e.rt.running.Load() {
		e.idle.Wait()
	}
	e.signaled = false
	e.idleMu.Unlock()
}

// clear empties the environment's queues at shutdown, after its worker has
// exited.
func (e *sandbox) clear() {
	drop := func(co *coroutine) {
		switch co.Status() {
		case StatusInit:
			co.setStatus(StatusDead)
			co.finish(ErrShutdown)
		case StatusPending:
			e.rt.abort(co)
		}
		e.rt.release(co)
	}
	e.ready.Clear(drop)

	var parked []*coroutine
	e.pendingMu.Lock()
	e.pending.Clear(func(co *coroutine) { parked = append(parked, co) })
	e.pendingN.Store(0)
	e.pendingMu.Unlock()
	for _, co := range parked {
		drop(co)
	}

	e.dead.Clear(e.rt.release)

	if e.log.Enabled(context.TODO(), slog.LevelDebug) {
		e.log.Debug("env cleared")
	}
}
