// Package logging builds the slog loggers the rest of the toolkit receives by injection:
// a leveled text console handler, optionally fanned out to a JSON log file.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	slogmulti "github.com/samber/slog-multi"
)

// Options selects where and how verbosely to log
type Options struct {
	// Level is "debug", "info", "warn" or "error". Empty means info
	Level string

	// File appends JSON log records to the named file in addition to the console
	File string
}

// ParseLevel maps a level name to a slog level
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "", "info":
		return slog.LevelInfo, nil
	case "debug":
		return slog.LevelDebug, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
	}
}

// New builds a logger per the options. The returned cleanup closes the log file, when one
// was opened
func New(options Options) (*slog.Logger, func(), error) {
	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, nil, err
	}

	console := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})

	if options.File == "" {
		return slog.New(console), func() {}, nil
	}

	file, err := os.OpenFile(options.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}

	// The file gets everything regardless of the console level, so bug reports carry
	// the detail the console hid
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: slog.LevelDebug})

	logger := slog.New(slogmulti.Fanout(console, fileHandler))

	return logger, func() { file.Close() }, nil
}

// Discard returns a logger that drops everything, for tests and defaults
func Discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}
