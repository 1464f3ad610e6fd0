package costack

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/kmrgirish/costack/internal/colog"
	"github.com/kmrgirish/costack/internal/coro"
	"github.com/kmrgirish/costack/internal/stack"
)

// Status is the lifecycle state of a coroutine.
type Status int32

const (
	StatusDead Status = iota
	StatusInit
	StatusSuspended
	StatusPending
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusDead:
		return "dead"
	case StatusInit:
		return "init"
	case StatusSuspended:
		return "suspended"
	case StatusPending:
		return "pending"
	case StatusRunning:
		return "running"
	default:
		return "unknown"
	}
}

// Func is the body of a coroutine. t is only valid inside the body; data is
// the value passed to Spawn.
type Func func(t *Task, data any)

// A Task is the running coroutine's view of itself.
type Task struct {
	co *coroutine
}

// Yield suspends the coroutine until its handle is resumed. It must be
// called from the coroutine's own body; anything else is a contract
// violation.
func (t *Task) Yield() {
	co := t.co
	if co == nil || co.env == nil {
		contractViolation("yield outside of a coroutine")
	}
	co.env.yield(co)
}

// outcome is shared between a coroutine and whichever handle owns it, and
// outlives both.
type outcome struct {
	done chan struct{}
	err  error
}

func newOutcome() *outcome {
	return &outcome{done: make(chan struct{})}
}

type coroutine struct {
	rt   *Runtime
	ref  ref
	fn   Func
	data any
	task Task

	status atomic.Int32

	// env is the environment that first ran the coroutine; it never changes
	// afterwards.
	env *sandbox

	// stack holds the frames captured at the last yield. Written by the
	// coroutine before it registers as suspended, read under the
	// dispatcher's suspended lock.
	stack stack.Buffer

	owner atomic.Pointer[Handle]
	out   *outcome

	coro coro.Coro

	// aborted is set by Shutdown before the final switch into a parked
	// coroutine, whose Yield then calls runtime.Goexit.
	aborted bool
}

func newCoroutine(rt *Runtime, fn Func, data any) *coroutine {
	co := &coroutine{
		rt:   rt,
		fn:   fn,
		data: data,
		out:  newOutcome(),
	}
	co.task.co = co
	co.setStatus(StatusInit)
	return co
}

func (co *coroutine) Status() Status {
	return Status(co.status.Load())
}

func (co *coroutine) setStatus(s Status) {
	co.status.Store(int32(s))
}

// finish publishes the coroutine's result. It is called exactly once.
func (co *coroutine) finish(err error) {
	co.out.err = err
	close(co.out.done)
}

func (co *coroutine) logAttrs() []any {
	return []any{"coroutine", co.ref.idx, "gen", co.ref.gen}
}

func (co *coroutine) entrypoint() {
	defer co.exitpoint()
	co.fn(&co.task, co.data)
}

// exitpoint runs as the coroutine's last deferred call. It records how the
// body ended, marks the coroutine dead and hands control back to the
// environment for the last time.
func (co *coroutine) exitpoint() {
	var err error
	recovered := recover()
	switch {
	case recovered != nil && isContractViolation(recovered):
		panic(recovered)
	case co.aborted:
		// Unwound by Goexit from a parked Yield.
		err = ErrShutdown
	case recovered != nil:
		perr := newPanicError(recovered)
		err = perr
		co.rt.stats.faulted.Add(1)
		co.env.log.Error("coroutine panicked", append(co.logAttrs(),
			"panic", fmt.Sprint(perr.Value),
			colog.Stack(2))...)
	default:
		co.rt.stats.completed.Add(1)
	}

	if co.env.log.Enabled(context.TODO(), slog.LevelDebug) {
		co.env.log.Debug("coroutine finished", append(co.logAttrs(), "attended", co.owner.Load() != nil)...)
	}

	co.setStatus(StatusDead)
	co.finish(err)
	co.coro.Finish()
}
