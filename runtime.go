package costack

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"github.com/kmrgirish/costack/internal/queue"
)

// A Runtime is the dispatcher: it owns the worker environments, the global
// ready queue of coroutines that have never run, and the registry of
// suspended coroutines waiting for a resume.
//
// The ready queue and the suspended registry have separate locks; no lock is
// held while a coroutine runs, so environments run fully in parallel.
type Runtime struct {
	cfg Config
	log *slog.Logger

	running atomic.Bool
	workers errgroup.Group

	arena arena
	stats counters

	readyMu     sync.Mutex
	ready       queue.Queue[*coroutine]
	readyClosed bool

	suspendedMu     sync.Mutex
	suspended       map[*coroutine]struct{}
	suspendedClosed bool

	subsMu sync.RWMutex
	subs   []*sandbox

	shutdownOnce sync.Once
}

// Start launches cfg.Threads workers and returns without waiting for them
// to become idle.
func Start(cfg Config) (*Runtime, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}

	rt := &Runtime{
		cfg:       cfg,
		log:       cfg.Logger,
		suspended: make(map[*coroutine]struct{}),
	}
	rt.ready = rt.newQueue()
	rt.running.Store(true)

	for i := 0; i < cfg.Threads; i++ {
		id := i + 1
		rt.workers.Go(func() error {
			return rt.work(id)
		})
	}

	rt.log.Info("runtime started", "threads", cfg.Threads, "queue", string(cfg.Queue))
	return rt, nil
}

func (rt *Runtime) newQueue() queue.Queue[*coroutine] {
	if rt.cfg.Queue == QueueRing {
		return queue.NewRing[*coroutine](rt.cfg.QueueCapacity)
	}
	return queue.NewLinked[*coroutine]()
}

// Spawn creates a coroutine running fn(t, data) and queues it on any
// environment. It does not block. After Shutdown it returns an empty handle.
func (rt *Runtime) Spawn(fn Func, data any) *Handle {
	if fn == nil {
		contractViolation("spawn with nil func")
	}
	if !rt.running.Load() {
		return &Handle{}
	}

	co := newCoroutine(rt, fn, data)
	co.ref = rt.arena.alloc(co)
	h := &Handle{rt: rt, ref: co.ref, out: co.out}
	co.owner.Store(h)
	rt.stats.spawned.Add(1)

	if rt.log.Enabled(context.TODO(), slog.LevelDebug) {
		rt.log.Debug("spawning coroutine", co.logAttrs()...)
	}

	rt.addReady(co)
	return h
}

// addReady queues a never-run coroutine and wakes every environment; the
// first idle one to look takes it.
func (rt *Runtime) addReady(co *coroutine) {
	rt.readyMu.Lock()
	if rt.readyClosed {
		rt.readyMu.Unlock()
		co.setStatus(StatusDead)
		co.finish(ErrShutdown)
		rt.release(co)
		return
	}
	rt.ready.Put(co)
	rt.readyMu.Unlock()

	rt.broadcast()
}

// unload moves up to max never-run coroutines into an environment's queue.
func (rt *Runtime) unload(dst queue.Queue[*coroutine], max int) int {
	rt.readyMu.Lock()
	defer rt.readyMu.Unlock()
	return rt.ready.Drain(dst, max)
}

func (rt *Runtime) subscribe(e *sandbox) {
	rt.subsMu.Lock()
	defer rt.subsMu.Unlock()
	rt.subs = append(rt.subs, e)
}

func (rt *Runtime) broadcast() {
	rt.subsMu.RLock()
	defer rt.subsMu.RUnlock()
	for _, e := range rt.subs {
		e.notify()
	}
}

// suspend registers a yielding coroutine. It runs on the coroutine's
// goroutine before control returns to its environment, so a concurrent
// resume either finds it registered or finds it still running.
func (rt *Runtime) suspend(co *coroutine) {
	rt.suspendedMu.Lock()
	co.setStatus(StatusSuspended)
	rt.suspended[co] = struct{}{}
	rt.suspendedMu.Unlock()
}

// resume hands a suspended coroutine back to the environment that owns it.
// It is a no-op for a coroutine that is not suspended, and reports whether
// it did anything.
func (rt *Runtime) resume(co *coroutine) bool {
	rt.suspendedMu.Lock()
	defer rt.suspendedMu.Unlock()
	if rt.suspendedClosed {
		return false
	}
	if _, ok := rt.suspended[co]; !ok {
		return false
	}
	delete(rt.suspended, co)
	co.setStatus(StatusPending)
	co.env.addPending(co)
	return true
}

// release returns a finished coroutine's arena slot.
func (rt *Runtime) release(co *coroutine) {
	if rt.arena.release(co.ref) {
		co.fn = nil
		co.data = nil
		if rt.log.Enabled(context.TODO(), slog.LevelDebug) {
			rt.log.Debug("reclaimed coroutine", co.logAttrs()...)
		}
	}
}

// abort unwinds a parked coroutine: its pending Yield calls runtime.Goexit,
// deferred calls in its body run, and it finishes with ErrShutdown. The body
// cannot recover from this.
func (rt *Runtime) abort(co *coroutine) {
	co.aborted = true
	co.coro.Next()
}

// Shutdown stops the workers after their current coroutine yields or
// finishes, waits for them to exit and then clears every queue. Coroutines
// that never ran are dropped; suspended and pending ones are unwound. Their
// handles report Err() == ErrShutdown.
//
// A coroutine that never yields keeps its worker, and Shutdown, waiting.
func (rt *Runtime) Shutdown() {
	rt.shutdownOnce.Do(func() {
		rt.running.Store(false)
		rt.broadcast()
		if err := rt.workers.Wait(); err != nil {
			rt.log.Error("worker failed", "err", err)
		}

		rt.readyMu.Lock()
		rt.readyClosed = true
		var never []*coroutine
		rt.ready.Clear(func(co *coroutine) { never = append(never, co) })
		rt.readyMu.Unlock()
		for _, co := range never {
			co.setStatus(StatusDead)
			co.finish(ErrShutdown)
			rt.release(co)
		}

		rt.suspendedMu.Lock()
		rt.suspendedClosed = true
		parked := make([]*coroutine, 0, len(rt.suspended))
		for co := range rt.suspended {
			parked = append(parked, co)
		}
		clear(rt.suspended)
		rt.suspendedMu.Unlock()
		for _, co := range parked {
			rt.abort(co)
			rt.release(co)
		}

		rt.subsMu.RLock()
		envs := rt.subs
		rt.subsMu.RUnlock()
		for _, e := range envs {
			e.clear()
		}

		rt.log.Info("runtime stopped", "dropped", len(never), "unwound", len(parked))
	})
}
