package costack

import (
	"context"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// maxIdleSleep caps the backoff between empty polls.
const maxIdleSleep = time.Millisecond

// work is one worker: it owns a sandbox and runs coroutines on it until the
// runtime stops.
func (rt *Runtime) work(id int) error {
	e := newSandbox(rt, id)
	rt.subscribe(e)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 2 * rt.cfg.BackoffBase
	bo.Multiplier = 2
	bo.RandomizationFactor = 0
	bo.MaxInterval = max(maxIdleSleep, bo.InitialInterval)
	bo.MaxElapsedTime = 0
	bo.Reset()

	if e.log.Enabled(context.TODO(), slog.LevelDebug) {
		e.log.Debug("worker started")
	}

	misses := 0
	for rt.running.Load() {
		if co := e.popReady(); co != nil {
			e.resume(co)
			if e.dead.Len() >= e.reclaimAt {
				e.reclaim()
			}
			if misses > 0 {
				misses = 0
				bo.Reset()
			}
			continue
		}

		if misses > rt.cfg.IdleSpins {
			e.reclaim()
			e.load()
			if e.ready.Len() > 0 {
				misses = 0
				bo.Reset()
				continue
			}
			e.sleep()
			misses = 0
			bo.Reset()
			continue
		}

		e.reclaim()
		e.load()
		misses++
		if e.ready.Len() == 0 {
			time.Sleep(bo.NextBackOff())
		}
	}

	if e.log.Enabled(context.TODO(), slog.LevelDebug) {
		e.log.Debug("worker stopped")
	}
	return nil
}
