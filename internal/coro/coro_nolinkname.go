//go:build !linkname

package coro

// Coro is an implementation of Coro in coro_linkname.go without using linkname
// to access the go runtime's internals. Control is handed back and forth over
// an unbuffered channel, so exactly one side runs at any time.
type Coro struct {
	runWaitCh chan struct{}
}

func (c *Coro) Start(f func()) {
	c.runWaitCh = make(chan struct{})
	go f()
	<-c.runWaitCh
}

func (c *Coro) Next() {
	c.runWaitCh <- struct{}{}
	<-c.runWaitCh
}

func (c *Coro) Yield() {
	c.runWaitCh <- struct{}{}
	<-c.runWaitCh
}

// Finish hands control back for the last time. Unlike the linkname variant it
// returns, after which the coroutine's goroutine must exit without touching
// shared state.
func (c *Coro) Finish() {
	c.runWaitCh <- struct{}{}
}
