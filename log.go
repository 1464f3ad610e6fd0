package costack

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"

	"github.com/kmrgirish/costack/internal/prettylog"
)

// LogFormat selects how NewLogger renders log lines.
type LogFormat string

const (
	// LogFormatRaw writes one JSON object per line.
	LogFormatRaw LogFormat = "raw"
	// LogFormatIndented writes indented JSON.
	LogFormatIndented LogFormat = "indented"
	// LogFormatPretty writes human readable console lines.
	LogFormatPretty LogFormat = "pretty"
)

// ParseLogFormat parses raw, indented or pretty.
func ParseLogFormat(s string) (LogFormat, error) {
	switch k := LogFormat(s); k {
	case LogFormatRaw, LogFormatIndented, LogFormatPretty:
		return k, nil
	default:
		return "", fmt.Errorf("bad log format %q", s)
	}
}

// NewLogger returns a JSON slog logger writing to out in the given format.
func NewLogger(out io.Writer, format LogFormat, level slog.Level) *slog.Logger {
	ho := slog.HandlerOptions{
		Level:     level,
		AddSource: true,
	}
	return slog.New(slog.NewJSONHandler(makeConsoleWriter(out, format), &ho))
}

type indentedWriter struct {
	out io.Writer
}

func (w *indentedWriter) Write(p []byte) (n int, err error) {
	if len(p) > 0 && p[len(p)-1] == '\n' {
		var x any
		if err := json.Unmarshal(p, &x); err == nil {
			o := json.NewEncoder(w.out)
			o.SetIndent("", "  ")
			if err := o.Encode(x); err != nil {
				return 0, err
			}
			return len(p), nil
		}
	}
	return w.out.Write(p)
}

func makeConsoleWriter(out io.Writer, format LogFormat) io.Writer {
	switch format {
	case LogFormatRaw:
		return out
	case LogFormatIndented:
		return &indentedWriter{
			out: out,
		}
	case LogFormatPretty:
		return prettylog.NewWriter(out)
	default:
		panic(format)
	}
}
