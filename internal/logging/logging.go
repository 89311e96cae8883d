// Package logging builds the zerolog logger used for structured run logs.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// New returns a logger that writes JSON to file. If file is empty, logs
// go to stderr so they never mix with command output on stdout.
//
// The level parameter can be one of: trace, debug, info, warn, error.
// An empty level means info. Non-nil extra writers receive every event too.
func New(level string, file string, extra ...io.Writer) (zerolog.Logger, func(), error) {
	closer := func() {}

	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), closer, fmt.Errorf("log level: %w", err)
	}

	var writer io.Writer = os.Stderr
	if file != "" {
		if err := os.MkdirAll(filepath.Dir(file), 0o755); err != nil {
			return zerolog.Nop(), closer, fmt.Errorf("create logs dir: %w", err)
		}
		f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), closer, err
		}
		closer = func() { _ = f.Close() }
		writer = f
	}

	writers := []io.Writer{writer}
	for _, w := range extra {
		if w != nil {
			writers = append(writers, w)
		}
	}
	if len(writers) > 1 {
		writer = zerolog.MultiLevelWriter(writers...)
	}

	return NewWithWriter(lvl, writer), closer, nil
}

// NewWithWriter returns a timestamped JSON logger at lvl.
func NewWithWriter(lvl zerolog.Level, w io.Writer) zerolog.Logger {
	return zerolog.New(w).
		With().
		Timestamp().
		Str("app", "mantis2ado").
		Logger().
		Level(lvl)
}

// NewConsole returns a human-readable logger for an interactive terminal.
// Events below minLevel are dropped even if level is lower.
func NewConsole(level string, minLevel zerolog.Level, w io.Writer) (zerolog.Logger, error) {
	if strings.TrimSpace(level) == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return zerolog.Nop(), fmt.Errorf("log level: %w", err)
	}
	if lvl < minLevel {
		lvl = minLevel
	}
	console := zerolog.ConsoleWriter{Out: w, TimeFormat: "15:04:05"}
	return zerolog.New(console).With().Timestamp().Logger().Level(lvl), nil
}
