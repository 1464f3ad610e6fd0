package costack

import (
	"fmt"
	"log/slog"
	"os"
	"time"
)

// QueueKind selects the queue implementation behind the ready, pending and
// dead queues.
type QueueKind string

const (
	// QueueLinked uses unbounded linked-list queues.
	QueueLinked QueueKind = "linked"
	// QueueRing uses fixed-capacity ring buffers of QueueCapacity entries.
	// Overflowing a ring panics; size it for the peak number of live
	// coroutines.
	QueueRing QueueKind = "ring"
)

// Config configures a Runtime. The zero value is valid and uses the
// defaults documented on each field.
type Config struct {
	// Threads is the number of worker environments. Default 6.
	Threads int
	// LoadBatch bounds how many ready coroutines an environment pulls from
	// the global ready queue at once. Default 50.
	LoadBatch int
	// IdleSpins is how many empty polls (each followed by a reclaim, a load
	// and a short backoff sleep) an environment makes before blocking until
	// woken. Default 3.
	IdleSpins int
	// BackoffBase is the unit of the exponential sleep between empty polls;
	// the first sleep is twice this. Default 4µs.
	BackoffBase time.Duration
	// MaxStackDepth bounds the number of frames a coroutine may have when it
	// yields. Yielding deeper is a contract violation. Default 1024.
	MaxStackDepth int
	// Queue selects the queue implementation. Default QueueLinked.
	Queue QueueKind
	// QueueCapacity is the capacity of each ring when Queue is QueueRing.
	// Default 8192.
	QueueCapacity int
	// Logger receives runtime logs. Default: pretty console logs on stderr
	// at level ERROR.
	Logger *slog.Logger
}

const (
	defaultThreads       = 6
	defaultLoadBatch     = 50
	defaultIdleSpins     = 3
	defaultBackoffBase   = 4 * time.Microsecond
	defaultMaxStackDepth = 1024
	defaultQueueCapacity = 8192
)

func (c Config) withDefaults() (Config, error) {
	if c.Threads == 0 {
		c.Threads = defaultThreads
	}
	if c.LoadBatch == 0 {
		c.LoadBatch = defaultLoadBatch
	}
	if c.IdleSpins == 0 {
		c.IdleSpins = defaultIdleSpins
	}
	if c.BackoffBase == 0 {
		c.BackoffBase = defaultBackoffBase
	}
	if c.MaxStackDepth == 0 {
		c.MaxStackDepth = defaultMaxStackDepth
	}
	if c.Queue == "" {
		c.Queue = QueueLinked
	}
	if c.QueueCapacity == 0 {
		c.QueueCapacity = defaultQueueCapacity
	}
	if c.Logger == nil {
		c.Logger = NewLogger(os.Stderr, LogFormatPretty, slog.LevelError)
	}

	switch {
	case c.Threads < 0:
		return c, fmt.Errorf("%w: threads %d", ErrInvalidConfig, c.Threads)
	case c.LoadBatch < 0:
		return c, fmt.Errorf("%w: load batch %d", ErrInvalidConfig, c.LoadBatch)
	case c.IdleSpins < 0:
		return c, fmt.Errorf("%w: idle spins %d", ErrInvalidConfig, c.IdleSpins)
	case c.BackoffBase < 0:
		return c, fmt.Errorf("%w: backoff base %s", ErrInvalidConfig, c.BackoffBase)
	case c.MaxStackDepth < 0:
		return c, fmt.Errorf("%w: max stack depth %d", ErrInvalidConfig, c.MaxStackDepth)
	case c.Queue != QueueLinked && c.Queue != QueueRing:
		return c, fmt.Errorf("%w: queue kind %q", ErrInvalidConfig, c.Queue)
	case c.QueueCapacity < 0:
		return c, fmt.Errorf("%w: queue capacity %d", ErrInvalidConfig, c.QueueCapacity)
	}
	return c, nil
}
