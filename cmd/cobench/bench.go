package main

import (
	"sync/atomic"
	"time"

	"github.com/kmrgirish/costack"
)

type looper struct {
	costack.Able
	loops int
	pause time.Duration
	total *atomic.Int64
}

func (l *looper) Run() {
	for i := 1; i < l.loops; i++ {
		pause(l.pause)
		l.Yield()
	}
	l.total.Add(1)
}

type loopArgs struct {
	loops int
	pause time.Duration
	total *atomic.Int64
}

func loopFunc(t *costack.Task, data any) {
	args := data.(loopArgs)
	for i := 1; i < args.loops; i++ {
		pause(args.pause)
		t.Yield()
	}
	args.total.Add(1)
}

func pause(d time.Duration) {
	if d > 0 {
		time.Sleep(d)
	}
}

// bench spawns the coroutines and resumes them round robin from the calling
// goroutine, dropping each one once Resume reports it dead. It returns the
// number of coroutines that ran to completion.
func bench(rt *costack.Runtime, o options) int64 {
	var total atomic.Int64

	handles := make([]*costack.Handle, 0, o.coroutines)
	for i := 0; i < o.coroutines; i++ {
		switch o.mode {
		case "func":
			handles = append(handles, rt.Spawn(loopFunc, loopArgs{loops: o.loops, pause: o.pause, total: &total}))
		case "able":
			l := &looper{loops: o.loops, pause: o.pause, total: &total}
			l.Start(rt, l)
			handles = append(handles, l.Handle())
		}
	}

	idx := 0
	for len(handles) > 0 {
		pause(o.poll)
		if idx >= len(handles) {
			idx = 0
		}
		if handles[idx].Resume() {
			idx++
			continue
		}
		<-handles[idx].Done()
		handles[idx].Release()
		handles = append(handles[:idx], handles[idx+1:]...)
	}
	return total.Load()
}
