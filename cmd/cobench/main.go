package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	zapslog "github.com/tommoulard/zap-slog"
	"go.uber.org/zap"

	"github.com/kmrgirish/costack"
)

type options struct {
	threads       int
	coroutines    int
	loops         int
	mode          string
	pause         time.Duration
	poll          time.Duration
	queue         string
	queueCapacity int
	logformat     string
	loglevel      string
	history       string
	list          bool
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var o options
	flags := flag.NewFlagSet("cobench", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() {
		fmt.Fprint(stderr, doc)
		flags.PrintDefaults()
	}
	flags.IntVar(&o.threads, "threads", 6, "number of worker threads")
	flags.IntVar(&o.coroutines, "coroutines", 200, "number of coroutines to spawn")
	flags.IntVar(&o.loops, "loops", 1000, "loop iterations per coroutine, each ending in a yield except the last")
	flags.StringVar(&o.mode, "mode", "able", "coroutine flavour: func (Spawn with a function) or able (embedded Able)")
	flags.DurationVar(&o.pause, "pause", 30*time.Microsecond, "sleep inside each iteration before yielding")
	flags.DurationVar(&o.poll, "poll", time.Microsecond, "sleep between resumes in the driving loop")
	flags.StringVar(&o.queue, "queue", string(costack.QueueLinked), "queue implementation: linked or ring")
	flags.IntVar(&o.queueCapacity, "queue-capacity", 8192, "ring capacity when -queue=ring")
	flags.StringVar(&o.logformat, "logformat", string(costack.LogFormatPretty), "log format: raw, indented or pretty")
	flags.StringVar(&o.loglevel, "loglevel", "ERROR", "log level")
	flags.StringVar(&o.history, "history", "", "bbolt file to record runs in; empty disables history")
	flags.BoolVar(&o.list, "list", false, "print the runs recorded in -history and exit")
	if err := flags.Parse(args); err != nil {
		return o, err
	}
	if flags.NArg() != 0 {
		flags.Usage()
		return o, fmt.Errorf("unexpected arguments %q", flags.Args())
	}
	if o.mode != "func" && o.mode != "able" {
		return o, fmt.Errorf("bad mode %q", o.mode)
	}
	if o.list && o.history == "" {
		return o, errors.New("-list requires -history")
	}
	if o.coroutines < 0 || o.loops < 0 {
		return o, errors.New("coroutines and loops must not be negative")
	}
	return o, nil
}

const doc = `Cobench spawns coroutines that loop and yield, drives them to completion
from a single goroutine, and reports how many finished and how long it took.

Usage: cobench [flags]

`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	if o.list {
		runs, err := loadRuns(o.history)
		if err != nil {
			fmt.Fprintln(stderr, err)
			return 1
		}
		for _, r := range runs {
			fmt.Fprintf(stdout, "%s threads=%d coroutines=%d loops=%d mode=%s queue=%s total=%d use %8d us\n",
				r.Time.Format(time.RFC3339), r.Threads, r.Coroutines, r.Loops, r.Mode, r.Queue, r.Total, r.ElapsedUS)
		}
		return 0
	}

	format, err := costack.ParseLogFormat(o.logformat)
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(o.loglevel)); err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}
	logger := costack.NewLogger(stderr, format, level)

	z, err := zap.NewProduction(zapslog.WrapCore(logger))
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 1
	}
	defer z.Sync()

	rt, err := costack.Start(costack.Config{
		Threads:       o.threads,
		Queue:         costack.QueueKind(o.queue),
		QueueCapacity: o.queueCapacity,
		Logger:        logger,
	})
	if err != nil {
		fmt.Fprintln(stderr, err)
		return 2
	}

	start := time.Now()
	total := bench(rt, o)
	elapsed := time.Since(start)

	stats := rt.Stats()
	rt.Shutdown()

	fmt.Fprintln(stdout, total)
	fmt.Fprintf(stdout, "use %8d us\n", elapsed.Microseconds())

	z.Info("run finished",
		zap.Int("threads", o.threads),
		zap.Int("coroutines", o.coroutines),
		zap.Int("loops", o.loops),
		zap.String("mode", o.mode),
		zap.Int64("total", total),
		zap.Int64("faulted", stats.Faulted),
		zap.Duration("elapsed", elapsed),
	)

	if o.history != "" {
		rec := record{
			Time:       start,
			Threads:    o.threads,
			Coroutines: o.coroutines,
			Loops:      o.loops,
			Mode:       o.mode,
			Queue:      o.queue,
			Total:      total,
			ElapsedUS:  elapsed.Microseconds(),
		}
		best, runs, err := recordRun(o.history, rec)
		if err != nil {
			z.Error("recording history", zap.Error(err))
			return 1
		}
		fmt.Fprintf(stdout, "best %8d us over %d runs\n", best.ElapsedUS, runs)
	}
	return 0
}
