// Package logging builds the process-wide slog handler.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/lmittmann/tint"
	"golang.org/x/term"
)

// Formats accepted by New
const (
	FormatJSON   = "json"
	FormatPretty = "pretty"
	FormatAuto   = "auto"
)

// ParseLevel maps debug, info, warn and error to slog levels. Empty is info.
func ParseLevel(level string) (slog.Level, error) {
	var l slog.Level
	if level == "" {
		return slog.LevelInfo, nil
	}
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", level)
	}
	return l, nil
}

// New returns a handler writing to out. "auto" picks the colorized handler when out
// is a terminal and JSON otherwise.
func New(format, level string, out io.Writer) (slog.Handler, error) {
	lvl, err := ParseLevel(level)
	if err != nil {
		return nil, err
	}

	switch strings.ToLower(format) {
	case FormatJSON:
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}), nil
	case FormatPretty:
		return pretty(out, lvl, !isTerminal(out)), nil
	case FormatAuto, "":
		if isTerminal(out) {
			return pretty(out, lvl, false), nil
		}
		return slog.NewJSONHandler(out, &slog.HandlerOptions{Level: lvl}), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func pretty(out io.Writer, level slog.Level, noColor bool) slog.Handler {
	return tint.NewHandler(out, &tint.Options{
		Level:      level,
		TimeFormat: time.TimeOnly,
		NoColor:    noColor,
	})
}

func isTerminal(out io.Writer) bool {
	f, ok := out.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// Setup installs the handler as the default logger
func Setup(format, level string) error {
	h, err := New(format, level, os.Stderr)
	if err != nil {
		return err
	}
	slog.SetDefault(slog.New(h))
	return nil
}
