// Package colog describes the structured log records written by the costack
// runtime and helps build and parse them.
package colog

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"runtime"
	"time"
)

type Stackframe struct {
	File     string `json:"file"`
	Function string `json:"function"`
	Line     int    `json:"line"`
}

// Log is one JSON log line as written by the runtime's slog handler.
type Log struct {
	Index int `json:"-"`

	Time        time.Time     `json:"time"`
	Level       slog.Level    `json:"level"`
	Msg         string        `json:"msg"`
	Source      *Stackframe   `json:"source"`
	Env         int           `json:"env"`
	Coroutine   int           `json:"coroutine"`
	Gen         int           `json:"gen"`
	Panic       string        `json:"panic"`
	Stackframes []*Stackframe `json:"stackframes"`
}

// ParseLog parses newline separated JSON log lines. Lines that are not JSON
// objects are skipped.
func ParseLog(logs []byte) []*Log {
	var out []*Log

	for _, line := range bytes.Split(logs, []byte("\n")) {
		if len(bytes.TrimSpace(line)) == 0 {
			continue
		}
		var log Log
		if err := json.Unmarshal(line, &log); err != nil {
			continue
		}
		log.Index = len(out)
		out = append(out, &log)
	}

	return out
}

// Frames symbolizes program counters as captured by runtime.Callers.
func Frames(pcs []uintptr) []Stackframe {
	if len(pcs) == 0 {
		return nil
	}
	var frames []Stackframe
	iter := runtime.CallersFrames(pcs)
	for {
		frame, more := iter.Next()
		frames = append(frames, Stackframe{
			Function: frame.Function,
			File:     frame.File,
			Line:     frame.Line,
		})
		if !more {
			break
		}
	}
	return frames
}

// StackAttr returns a "stackframes" attribute for the given program counters.
func StackAttr(pcs []uintptr) slog.Attr {
	return slog.Any("stackframes", Frames(pcs))
}

// Stack returns a "stackframes" attribute for the calling goroutine, skipping
// skip frames above the caller of Stack.
func Stack(skip int) slog.Attr {
	var stackRaw [256]uintptr
	n := runtime.Callers(skip+2, stackRaw[:])
	return StackAttr(stackRaw[:n])
}
