//go:build linkname

package coro

import (
	_ "unsafe"
)

type coro struct{}

//go:linkname newcoro runtime.newcoro
func newcoro(func(*coro)) *coro

//go:linkname coroswitch runtime.coroswitch
func coroswitch(*coro)

//go:linkname coroexit runtime.coroexit
func coroexit(*coro)

// A Coro is a coroutine: A goroutine with explicit and cheap context switching.
// Coro uses go's runtime coroutine implementation (which otherwise powers
// iter.Pull) using linkname to get low overhead and direct access to coroexit.
//
// Building with this variant requires -ldflags=-checklinkname=0 on go1.23 and
// later.
type Coro struct {
	coro *coro
}

// Start starts the coroutine, running f in a new coroutine. It should be called only
// once on a Coro. It lets the coroutine run until the first call to Yield or the final
// call to Finish.
func (c *Coro) Start(f func()) {
	c.coro = newcoro(func(*coro) {
		f()
		panic("coro: returned without Finish")
	})
	coroswitch(c.coro)
}

// Next must be called from outside the coroutine. It lets the coroutine run
// until the next call to Yield or the final call to Finish. Any goroutine may
// call Next, as long as only one does at a time.
func (c *Coro) Next() {
	coroswitch(c.coro)
}

// Yield must be called from inside the coroutine. It pauses the coroutine,
// yielding to the caller of Next (or Start).
func (c *Coro) Yield() {
	coroswitch(c.coro)
}

// Finish must be called from inside the coroutine, as the last thing it does.
// It yields to the caller of Next (or Start) for the last time and never
// returns.
func (c *Coro) Finish() {
	coroexit(c.coro)
	panic("coro: coroexit returned")
}
