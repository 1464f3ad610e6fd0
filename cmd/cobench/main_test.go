package main

import (
	"bytes"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/rogpeppe/go-internal/testscript"
)

func TestMain(m *testing.M) {
	os.Exit(testscript.RunMain(m, map[string]func() int{
		"cobench": func() int {
			return run(os.Args[1:], os.Stdout, os.Stderr)
		},
	}))
}

func TestScript(t *testing.T) {
	testscript.Run(t, testscript.Params{
		Dir: "testdata",
	})
}

func TestParseFlags(t *testing.T) {
	var stderr bytes.Buffer
	o, err := parseFlags([]string{"-threads", "2", "-mode", "func", "-pause", "0"}, &stderr)
	if err != nil {
		t.Fatal(err)
	}
	want := options{
		threads:       2,
		coroutines:    200,
		loops:         1000,
		mode:          "func",
		poll:          time.Microsecond,
		queue:         "linked",
		queueCapacity: 8192,
		logformat:     "pretty",
		loglevel:      "ERROR",
	}
	if diff := cmp.Diff(want, o, cmp.AllowUnexported(options{})); diff != "" {
		t.Errorf("options mismatch (-want +got):\n%s", diff)
	}

	for _, args := range [][]string{
		{"-mode", "thread"},
		{"-list"},
		{"-loops", "-1"},
		{"extra"},
	} {
		if _, err := parseFlags(args, &stderr); err == nil {
			t.Errorf("parseFlags(%q) succeeded", args)
		}
	}
}

func TestBench(t *testing.T) {
	for _, mode := range []string{"func", "able"} {
		t.Run(mode, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := run([]string{"-threads", "3", "-coroutines", "30", "-loops", "20", "-pause", "0", "-mode", mode}, &stdout, &stderr)
			if code != 0 {
				t.Fatalf("exit %d: %s", code, stderr.String())
			}
			lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
			if len(lines) != 2 || lines[0] != "30" || !strings.HasPrefix(lines[1], "use ") {
				t.Errorf("unexpected output:\n%s", stdout.String())
			}
		})
	}
}

func TestHistory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")

	base := record{Threads: 2, Coroutines: 10, Loops: 5, Mode: "func", Queue: "linked", Total: 10}
	elapsed := []int64{300, 100, 200}
	for i, us := range elapsed {
		rec := base
		rec.ElapsedUS = us
		rec.Time = time.Unix(int64(i), 0).UTC()
		best, runs, err := recordRun(path, rec)
		if err != nil {
			t.Fatal(err)
		}
		if runs != i+1 {
			t.Errorf("run %d: runs = %d", i, runs)
		}
		if want := slices.Min(elapsed[:i+1]); best.ElapsedUS != want {
			t.Errorf("run %d: best = %d, want %d", i, best.ElapsedUS, want)
		}
	}

	other := base
	other.Threads = 4
	other.ElapsedUS = 1
	if _, runs, err := recordRun(path, other); err != nil || runs != 1 {
		t.Errorf("other shape: runs = %d, err = %v", runs, err)
	}

	got, err := loadRuns(path)
	if err != nil {
		t.Fatal(err)
	}
	var want []record
	for i, us := range elapsed {
		rec := base
		rec.ElapsedUS = us
		rec.Time = time.Unix(int64(i), 0).UTC()
		want = append(want, rec)
	}
	want = append(want, other)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
}
