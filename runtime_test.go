package costack

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"runtime"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"golang.org/x/sync/errgroup"

	"github.com/kmrgirish/costack/internal/colog"
)

const testTimeout = 10 * time.Second

func quietLogger() *slog.Logger {
	return NewLogger(io.Discard, LogFormatRaw, slog.LevelError)
}

func startRuntime(t *testing.T, cfg Config) *Runtime {
	t.Helper()
	if cfg.Logger == nil {
		cfg.Logger = quietLogger()
	}
	rt, err := Start(cfg)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(rt.Shutdown)
	return rt
}

// drive resumes every handle until all of them report dead.
func drive(t *testing.T, hs []*Handle) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for {
		live := 0
		for _, h := range hs {
			if h.Resume() {
				live++
			}
		}
		if live == 0 {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("%d coroutines still live after %s", live, testTimeout)
		}
		time.Sleep(10 * time.Microsecond)
	}
	for _, h := range hs {
		waitDone(t, h)
	}
}

func waitDone(t *testing.T, h *Handle) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(testTimeout):
		t.Fatalf("coroutine not done after %s", testTimeout)
	}
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(100 * time.Microsecond)
	}
}

func spawnCounters(rt *Runtime, n, loops int, total *atomic.Int64) []*Handle {
	hs := make([]*Handle, n)
	for i := range hs {
		hs[i] = rt.Spawn(func(task *Task, data any) {
			for j := 0; j < data.(int); j++ {
				total.Add(1)
				task.Yield()
			}
		}, loops)
	}
	return hs
}

func TestCounter(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 4})

	var total atomic.Int64
	hs := spawnCounters(rt, 100, 50, &total)
	drive(t, hs)

	if got := total.Load(); got != 100*50 {
		t.Errorf("total = %d, want %d", got, 100*50)
	}
	for i, h := range hs {
		if err := h.Err(); err != nil {
			t.Errorf("coroutine %d: %v", i, err)
		}
	}
}

func TestManyYields(t *testing.T) {
	coroutines, loops := 200, 999
	if testing.Short() {
		loops = 50
	}
	rt := startRuntime(t, Config{Threads: 6})

	var total atomic.Int64
	drive(t, spawnCounters(rt, coroutines, loops, &total))

	if got, want := total.Load(), int64(coroutines*loops); got != want {
		t.Errorf("total = %d, want %d", got, want)
	}
}

func TestSingleThread(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 1})

	var total atomic.Int64
	drive(t, spawnCounters(rt, 20, 20, &total))

	if got := total.Load(); got != 400 {
		t.Errorf("total = %d, want 400", got)
	}
}

func TestRingQueues(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 3, Queue: QueueRing, QueueCapacity: 1024})

	var total atomic.Int64
	drive(t, spawnCounters(rt, 200, 20, &total))

	if got := total.Load(); got != 200*20 {
		t.Errorf("total = %d, want %d", got, 200*20)
	}
}

// TestExclusiveAndAffine checks that a coroutine never runs on two threads at
// once and always continues on the environment that first ran it, while
// several goroutines spawn concurrently with the workers picking up work.
func TestExclusiveAndAffine(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 4})

	var violations atomic.Int64
	guarded := func(task *Task, _ any) {
		var inside atomic.Bool
		env := task.co.env
		for j := 0; j < 100; j++ {
			if !inside.CompareAndSwap(false, true) {
				violations.Add(1)
			}
			if task.co.env != env || env.running.Load() != task.co {
				violations.Add(1)
			}
			inside.Store(false)
			task.Yield()
		}
	}

	const spawners, perSpawner = 8, 10
	hs := make([]*Handle, spawners*perSpawner)
	var g errgroup.Group
	for i := 0; i < spawners; i++ {
		g.Go(func() error {
			for j := 0; j < perSpawner; j++ {
				h := rt.Spawn(guarded, nil)
				hs[i*perSpawner+j] = h
				h.Resume()
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}
	drive(t, hs)

	if n := violations.Load(); n != 0 {
		t.Errorf("%d violations", n)
	}
}

// TestLocalsSurviveYield checks that a coroutine's locals and call stack are
// intact across suspensions.
func TestLocalsSurviveYield(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 4})

	const n, k = 40, 25
	results := make([]int, n)

	var accumulate func(task *Task, depth, acc int) int
	accumulate = func(task *Task, depth, acc int) int {
		if depth == 0 {
			return acc
		}
		local := acc + depth
		task.Yield()
		return accumulate(task, depth-1, local)
	}

	hs := make([]*Handle, n)
	for i := range hs {
		hs[i] = rt.Spawn(func(task *Task, data any) {
			id := data.(int)
			results[id] = accumulate(task, k, id*1000)
		}, i)
	}
	drive(t, hs)

	want := make([]int, n)
	for i := range want {
		want[i] = i*1000 + k*(k+1)/2
	}
	if diff := cmp.Diff(want, results); diff != "" {
		t.Errorf("results mismatch (-want +got):\n%s", diff)
	}
}

func TestConcurrentSpawners(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 4})

	var total atomic.Int64
	var g errgroup.Group
	for i := 0; i < 8; i++ {
		g.Go(func() error {
			hs := spawnCounters(rt, 25, 20, &total)
			deadline := time.Now().Add(testTimeout)
			for {
				live := 0
				for _, h := range hs {
					if h.Resume() {
						live++
					}
				}
				if live == 0 {
					return nil
				}
				if time.Now().After(deadline) {
					return fmt.Errorf("%d coroutines still live", live)
				}
				time.Sleep(10 * time.Microsecond)
			}
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatal(err)
	}

	if got := total.Load(); got != 8*25*20 {
		t.Errorf("total = %d, want %d", got, 8*25*20)
	}
	waitFor(t, "completion count", func() bool {
		return rt.Stats().Completed == 8*25
	})
}

func TestFaultIsContained(t *testing.T) {
	var logs bytes.Buffer
	rt := startRuntime(t, Config{
		Threads: 2,
		Logger:  NewLogger(&logs, LogFormatRaw, slog.LevelError),
	})

	bad := rt.Spawn(func(task *Task, _ any) {
		task.Yield()
		panic("boom")
	}, nil)

	var total atomic.Int64
	good := spawnCounters(rt, 10, 10, &total)

	drive(t, append(good, bad))

	var perr *PanicError
	if !errors.As(bad.Err(), &perr) {
		t.Fatalf("Err() = %v, want *PanicError", bad.Err())
	}
	if perr.Value != "boom" {
		t.Errorf("panic value = %v, want boom", perr.Value)
	}
	if total.Load() != 100 {
		t.Errorf("total = %d, want 100", total.Load())
	}
	for _, h := range good {
		if err := h.Err(); err != nil {
			t.Errorf("good coroutine: %v", err)
		}
	}
	if got := rt.Stats().Faulted; got != 1 {
		t.Errorf("Faulted = %d, want 1", got)
	}

	rt.Shutdown()
	var found bool
	for _, log := range colog.ParseLog(logs.Bytes()) {
		if log.Msg != "coroutine panicked" {
			continue
		}
		found = true
		if log.Level != slog.LevelError {
			t.Errorf("level = %s, want ERROR", log.Level)
		}
		if log.Panic != "boom" {
			t.Errorf("panic = %q, want boom", log.Panic)
		}
		if len(log.Stackframes) == 0 {
			t.Error("no stackframes")
		}
	}
	if !found {
		t.Errorf("no panic log in:\n%s", logs.String())
	}
}

func TestErrorPanicUnwraps(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 1})

	sentinel := errors.New("sentinel")
	h := rt.Spawn(func(*Task, any) {
		panic(sentinel)
	}, nil)
	waitDone(t, h)

	if !errors.Is(h.Err(), sentinel) {
		t.Errorf("Err() = %v, want to wrap %v", h.Err(), sentinel)
	}
}

func expectGoroutines(t *testing.T, want int) {
	t.Helper()
	start := time.Now()
	for runtime.NumGoroutine() > want {
		if time.Since(start) >= time.Second {
			var buf [64 * 1024]byte
			t.Errorf("%d goroutines, expected at most %d", runtime.NumGoroutine(), want)
			t.Log(string(buf[:runtime.Stack(buf[:], true)]))
			return
		}
		time.Sleep(time.Millisecond)
	}
}

func TestShutdownUnwindsParked(t *testing.T) {
	base := runtime.NumGoroutine()

	rt, err := Start(Config{Threads: 3, Logger: quietLogger()})
	if err != nil {
		t.Fatal(err)
	}

	const n = 30
	var deferred, recovered atomic.Int64
	bodies := []Func{
		func(task *Task, _ any) {
			defer deferred.Add(1)
			for {
				task.Yield()
			}
		},
		// Recovering around Yield must not turn the unwind into a return.
		func(task *Task, _ any) {
			defer deferred.Add(1)
			func() {
				defer func() {
					if recover() != nil {
						recovered.Add(1)
					}
				}()
				task.Yield()
			}()
		},
		func(task *Task, _ any) {
			defer deferred.Add(1)
			for {
				func() {
					defer func() {
						if recover() != nil {
							recovered.Add(1)
						}
					}()
					task.Yield()
				}()
			}
		},
		// Yielding again while unwinding is harmless.
		func(task *Task, _ any) {
			defer deferred.Add(1)
			defer task.Yield()
			for {
				task.Yield()
			}
		},
	}
	hs := make([]*Handle, n)
	for i := range hs {
		hs[i] = rt.Spawn(bodies[i%len(bodies)], nil)
	}
	waitFor(t, "all suspended", func() bool {
		return rt.Stats().Suspended == n
	})

	// Leave some of the plain ones pending. The recovering ones stay parked
	// in their first Yield.
	for i, h := range hs {
		if i%len(bodies) == 0 || i%len(bodies) == 3 {
			h.Resume()
		}
	}

	stopped := make(chan struct{})
	go func() {
		rt.Shutdown()
		rt.Shutdown()
		close(stopped)
	}()
	select {
	case <-stopped:
	case <-time.After(testTimeout):
		t.Fatalf("Shutdown still running after %s", testTimeout)
	}

	if got := deferred.Load(); got != n {
		t.Errorf("deferred = %d, want %d", got, n)
	}
	if got := recovered.Load(); got != 0 {
		t.Errorf("bodies recovered %d times", got)
	}
	if got := rt.Stats().Completed; got != 0 {
		t.Errorf("Completed = %d, want 0", got)
	}
	for i, h := range hs {
		waitDone(t, h)
		if !errors.Is(h.Err(), ErrShutdown) {
			t.Errorf("coroutine %d: Err() = %v, want ErrShutdown", i, h.Err())
		}
		if h.Resume() {
			t.Errorf("coroutine %d: resumed after shutdown", i)
		}
	}
	if s := rt.Stats(); s.Live != 0 || s.Suspended != 0 {
		t.Errorf("after shutdown: %+v", s)
	}
	expectGoroutines(t, base)
}

func TestShutdownDropsUnstarted(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 1})

	started := make(chan struct{})
	unblock := make(chan struct{})
	blocker := rt.Spawn(func(*Task, any) {
		close(started)
		<-unblock
	}, nil)
	<-started

	var ran atomic.Int64
	hs := make([]*Handle, 10)
	for i := range hs {
		hs[i] = rt.Spawn(func(*Task, any) {
			ran.Add(1)
		}, nil)
	}

	stopped := make(chan struct{})
	go func() {
		rt.Shutdown()
		close(stopped)
	}()
	waitFor(t, "stop flag", func() bool {
		return !rt.running.Load()
	})
	close(unblock)
	<-stopped

	if err := blocker.Err(); err != nil {
		t.Errorf("blocker: %v", err)
	}
	if got := ran.Load(); got != 0 {
		t.Errorf("%d unstarted coroutines ran", got)
	}
	for i, h := range hs {
		waitDone(t, h)
		if !errors.Is(h.Err(), ErrShutdown) {
			t.Errorf("coroutine %d: Err() = %v, want ErrShutdown", i, h.Err())
		}
	}
}

func TestSpawnAfterShutdown(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 1})
	rt.Shutdown()

	h := rt.Spawn(func(*Task, any) {
		t.Error("ran after shutdown")
	}, nil)
	if h.Valid() {
		t.Error("handle is valid")
	}
	if h.Resume() {
		t.Error("Resume() = true")
	}
	select {
	case <-h.Done():
	default:
		t.Error("Done() not closed")
	}
}

func TestInvalidConfig(t *testing.T) {
	for _, cfg := range []Config{
		{Threads: -1},
		{LoadBatch: -5},
		{MaxStackDepth: -1},
		{Queue: "heap"},
		{Queue: QueueRing, QueueCapacity: -1},
	} {
		if _, err := Start(cfg); !errors.Is(err, ErrInvalidConfig) {
			t.Errorf("Start(%+v) = %v, want ErrInvalidConfig", cfg, err)
		}
	}
}

func TestConfigDefaults(t *testing.T) {
	cfg, err := Config{}.withDefaults()
	if err != nil {
		t.Fatal(err)
	}
	if cfg.Logger == nil {
		t.Error("no default logger")
	}
	cfg.Logger = nil

	want := Config{
		Threads:       6,
		LoadBatch:     50,
		IdleSpins:     3,
		BackoffBase:   4 * time.Microsecond,
		MaxStackDepth: 1024,
		Queue:         QueueLinked,
		QueueCapacity: 8192,
	}
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("defaults mismatch (-want +got):\n%s", diff)
	}
}

func expectContractPanic(t *testing.T, f func()) {
	t.Helper()
	defer func() {
		t.Helper()
		v := recover()
		err, ok := v.(error)
		if !ok || !errors.Is(err, ErrContract) {
			t.Errorf("recovered %v, want ErrContract", v)
		}
	}()
	f()
}

func TestYieldOutsideCoroutine(t *testing.T) {
	expectContractPanic(t, func() {
		var task Task
		task.Yield()
	})

	rt := startRuntime(t, Config{Threads: 1})
	var saved *Task
	h := rt.Spawn(func(task *Task, _ any) {
		saved = task
	}, nil)
	waitDone(t, h)

	expectContractPanic(t, func() {
		saved.Yield()
	})
}

func TestStats(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 2})

	hs := make([]*Handle, 5)
	for i := range hs {
		hs[i] = rt.Spawn(func(task *Task, _ any) {
			task.Yield()
		}, nil)
	}
	waitFor(t, "suspended", func() bool {
		return rt.Stats().Suspended == 5
	})

	s := rt.Stats()
	if diff := cmp.Diff(Stats{Threads: 2, Spawned: 5, Suspended: 5, Live: 5}, s); diff != "" {
		t.Errorf("stats mismatch (-want +got):\n%s", diff)
	}

	drive(t, hs)
	waitFor(t, "reclaimed", func() bool {
		return rt.Stats().Live == 0
	})
	if got := rt.Stats().Completed; got != 5 {
		t.Errorf("Completed = %d, want 5", got)
	}
}

func TestSpawnNilFunc(t *testing.T) {
	rt := startRuntime(t, Config{Threads: 1})
	expectContractPanic(t, func() {
		rt.Spawn(nil, nil)
	})
	if got := rt.Stats().Spawned; got != 0 {
		t.Errorf("Spawned = %d, want 0", got)
	}
}
