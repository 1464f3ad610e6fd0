/*
Package costack runs stackful coroutines on a fixed pool of worker threads.

A coroutine is a function that can suspend itself in the middle of its body
with [Task.Yield] and later continue from exactly that point, with its local
variables and call stack intact, once its [Handle] is resumed:

	rt, err := costack.Start(costack.Config{Threads: 4})
	if err != nil {
		log.Fatal(err)
	}
	defer rt.Shutdown()

	h := rt.Spawn(func(t *costack.Task, data any) {
		for i := 0; i < 3; i++ {
			fmt.Println(data, i)
			t.Yield()
		}
	}, "tick")

	for h.Resume() {
		time.Sleep(time.Millisecond)
	}

# Scheduling

Each worker owns a run environment. A spawned coroutine goes to a global
ready queue; idle environments pull batches from it and run coroutines one at
a time until they yield or return. Scheduling is cooperative: a coroutine
keeps its worker until it yields.

A coroutine that has yielded is parked in the runtime's suspended registry.
[Handle.Resume] moves it to the pending queue of the environment that last
ran it, and only that environment ever continues it. Resume never blocks and
never runs the coroutine on the caller's goroutine; resuming a coroutine that
is not suspended is a no-op.

# Handles

A Handle is the single owner of a coroutine. [Handle.Move] and
[Handle.MoveTo] transfer ownership and leave the source empty. Releasing or
dropping a handle does not stop its coroutine; it runs to completion and is
reclaimed by its environment. A handle that addresses a reclaimed coroutine
reports Resume() == false, even if the slot has been reused.

# Failures

A panic in a coroutine body is contained: the coroutine dies, the panic is
logged with its stack, and [Handle.Err] returns a [*PanicError]. Misuse of the
runtime (yielding outside the running coroutine, resuming from the wrong
environment, exceeding [Config.MaxStackDepth] at a yield or overflowing a
bounded queue) is a contract violation and panics with an error wrapping
[ErrContract], [stack.ErrTooDeep] or [queue.ErrFull]; these are not
recovered.

[stack.ErrTooDeep]: https://pkg.go.dev/github.com/kmrgirish/costack/internal/stack#ErrTooDeep
[queue.ErrFull]: https://pkg.go.dev/github.com/kmrgirish/costack/internal/queue#ErrFull
*/
package costack
