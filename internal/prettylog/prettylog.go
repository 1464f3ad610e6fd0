// MIT License
//
// # Copyright (c) 2017 Olivier Poitrey
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in
// all copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.
//
// Based on https://github.com/rs/zerolog/blob/master/console.go.

// Package prettylog turns the runtime's JSON log lines into one-line console
// output: time, level, env/coroutine, source, message, then the remaining
// fields sorted by name. Stack frames are printed one per line below.
package prettylog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

const (
	colorRed     = 31
	colorGreen   = 32
	colorYellow  = 33
	colorMagenta = 35
	colorCyan    = 36

	colorBold     = 1
	colorDarkGray = 90
)

const (
	envKey        = "env"
	coroutineKey  = "coroutine"
	genKey        = "gen"
	stackKey      = "stackframes"
	errorKey      = "err"
	timeFormat    = "15:04:05.000000"
	missingIdent  = "-"
	locationWidth = 12
)

type Writer struct {
	mu        sync.Mutex
	out       io.Writer
	formatter formatter
}

// NewWriter returns a Writer that formats JSON log lines written to it and
// writes the result to out. Colour is used when stdout is a terminal, unless
// NO_COLOR is set or TERM is dumb; FORCE_COLOR forces it on.
func NewWriter(out io.Writer) *Writer {
	noColor := (os.Getenv("NO_COLOR") != "") || os.Getenv("TERM") == "dumb" ||
		(!isatty.IsTerminal(os.Stdout.Fd()) && !isatty.IsCygwinTerminal(os.Stdout.Fd()))
	noColor = noColor && os.Getenv("FORCE_COLOR") == ""
	return &Writer{
		out:       out,
		formatter: formatter{noColor: noColor},
	}
}

var bufPool = sync.Pool{
	New: func() any {
		return bytes.NewBuffer(make([]byte, 0, 1024))
	},
}

// Write formats one JSON log line. Input that does not decode is passed
// through unchanged.
func (w *Writer) Write(p []byte) (int, error) {
	var evt map[string]any
	d := json.NewDecoder(bytes.NewReader(p))
	d.UseNumber()
	if err := d.Decode(&evt); err != nil {
		w.mu.Lock()
		defer w.mu.Unlock()
		if _, werr := w.out.Write(p); werr != nil {
			return 0, werr
		}
		return len(p), nil
	}

	buf := bufPool.Get().(*bytes.Buffer)
	defer func() {
		buf.Reset()
		bufPool.Put(buf)
	}()

	w.formatter.format(buf, evt)

	w.mu.Lock()
	defer w.mu.Unlock()
	if _, err := w.out.Write(buf.Bytes()); err != nil {
		return 0, err
	}
	return len(p), nil
}

type formatter struct {
	noColor bool
}

func (f *formatter) format(buf *bytes.Buffer, evt map[string]any) {
	parts := []string{
		f.timestamp(evt[slog.TimeKey]),
		f.level(evt[slog.LevelKey]),
		f.location(evt),
		f.caller(evt[slog.SourceKey]),
		f.message(evt[slog.LevelKey], evt[slog.MessageKey]),
	}
	for _, part := range parts {
		if part == "" {
			continue
		}
		if buf.Len() > 0 {
			buf.WriteByte(' ')
		}
		buf.WriteString(part)
	}

	f.fields(buf, evt)
	buf.WriteByte('\n')
	f.stackframes(buf, evt[stackKey])
}

// fields appends the non well-known fields, err first and the rest sorted.
func (f *formatter) fields(buf *bytes.Buffer, evt map[string]any) {
	names := make([]string, 0, len(evt))
	for name := range evt {
		switch name {
		case slog.TimeKey, slog.LevelKey, slog.MessageKey, slog.SourceKey, envKey, coroutineKey, genKey, stackKey:
			continue
		}
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		if (names[i] == errorKey) != (names[j] == errorKey) {
			return names[i] == errorKey
		}
		return names[i] < names[j]
	})

	for _, name := range names {
		buf.WriteByte(' ')
		buf.WriteString(f.colorize(name+"=", colorCyan))
		buf.WriteString(f.fieldValue(name, evt[name]))
	}
}

func (f *formatter) fieldValue(name string, v any) string {
	var s string
	switch v := v.(type) {
	case string:
		s = v
		if needsQuote(v) {
			s = strconv.Quote(v)
		}
	case json.Number:
		s = v.String()
	default:
		b, err := json.Marshal(v)
		if err != nil {
			return f.colorize(fmt.Sprintf("[error: %v]", err), colorRed)
		}
		s = string(b)
	}
	if name == errorKey {
		return f.colorize(s, colorBold, colorRed)
	}
	return s
}

func (f *formatter) stackframes(buf *bytes.Buffer, v any) {
	frames, ok := v.([]any)
	if !ok {
		return
	}
	for _, frame := range frames {
		m, ok := frame.(map[string]any)
		if !ok {
			continue
		}
		fmt.Fprintf(buf, "    %s\n        %s:%s\n", m["function"], m["file"], m["line"])
	}
}

// needsQuote returns true when the string s should be quoted in output.
func needsQuote(s string) bool {
	for i := range s {
		if s[i] < 0x20 || s[i] > 0x7e || s[i] == ' ' || s[i] == '\\' || s[i] == '"' {
			return true
		}
	}
	return false
}

// colorize wraps s in the given ANSI codes unless colour is disabled.
func (f *formatter) colorize(s string, codes ...int) string {
	if f.noColor {
		return s
	}
	for _, c := range codes {
		s = fmt.Sprintf("\x1b[%dm%s\x1b[0m", c, s)
	}
	return s
}

func (f *formatter) timestamp(v any) string {
	s, ok := v.(string)
	if !ok {
		return ""
	}
	if ts, err := time.Parse(time.RFC3339Nano, s); err == nil {
		s = ts.UTC().Format(timeFormat)
	}
	return f.colorize(s, colorDarkGray)
}

var levelColors = map[slog.Level]int{
	slog.LevelDebug: colorMagenta,
	slog.LevelInfo:  colorGreen,
	slog.LevelWarn:  colorYellow,
	slog.LevelError: colorRed,
}

var levelNames = map[slog.Level]string{
	slog.LevelDebug: "DBG",
	slog.LevelInfo:  "INF",
	slog.LevelWarn:  "WRN",
	slog.LevelError: "ERR",
}

func (f *formatter) level(v any) string {
	s, ok := v.(string)
	if !ok {
		return "???"
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err == nil {
		if name, ok := levelNames[level]; ok {
			return f.colorize(name, levelColors[level])
		}
	}
	if len(s) > 3 {
		s = s[:3]
	}
	return strings.ToUpper(s)
}

// location renders "env/coroutine", with - for a missing side.
func (f *formatter) location(evt map[string]any) string {
	env, coroutine := missingIdent, missingIdent
	if v, ok := evt[envKey].(json.Number); ok {
		env = v.String()
	}
	if v, ok := evt[coroutineKey].(json.Number); ok {
		coroutine = v.String()
	}
	s := env + "/" + coroutine
	if len(s) < locationWidth {
		s += strings.Repeat(" ", locationWidth-len(s))
	}
	return s
}

func (f *formatter) caller(v any) string {
	m, ok := v.(map[string]any)
	if !ok {
		return ""
	}
	file, _ := m["file"].(string)
	line, _ := m["line"].(json.Number)
	if file == "" {
		return ""
	}
	s := fmt.Sprintf("%s/%s:%s", path.Base(path.Dir(file)), path.Base(file), line)
	return f.colorize(s, colorDarkGray) + f.colorize(" >", colorCyan)
}

func (f *formatter) message(level, v any) string {
	s, _ := v.(string)
	if s == "" {
		return ""
	}
	if l, _ := level.(string); l == slog.LevelDebug.String() {
		return s
	}
	return f.colorize(s, colorBold)
}
