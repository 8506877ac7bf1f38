// Package logging provides structured logging for baton components.
package logging

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config holds logging configuration.
type Config struct {
	// Level is one of debug, info, warn, error.
	Level string
	// Path is an optional log file path. Empty logs to stderr only.
	Path string
	// Format is json or text.
	Format string
}

var (
	root   zerolog.Logger
	rootMu sync.RWMutex
	inited bool
)

// Init configures the process-wide logger. Safe to call more than once;
// the last call wins.
func Init(cfg Config) error {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stderr
	if cfg.Path != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0755); err != nil {
			return fmt.Errorf("create log directory: %w", err)
		}
		f, err := os.OpenFile(cfg.Path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	if cfg.Format != "json" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: time.RFC3339}
	}

	rootMu.Lock()
	root = zerolog.New(out).Level(level).With().Timestamp().Logger()
	inited = true
	rootMu.Unlock()
	return nil
}

// Component returns a logger tagged with the given component name.
// If Init has not been called, logs go to stderr at info level.
func Component(name string) zerolog.Logger {
	rootMu.RLock()
	defer rootMu.RUnlock()
	if !inited {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
			Level(zerolog.InfoLevel).
			With().Timestamp().Str("component", name).Logger()
	}
	return root.With().Str("component", name).Logger()
}

func parseLevel(level string) (zerolog.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zerolog.InfoLevel, nil
	case "debug":
		return zerolog.DebugLevel, nil
	case "warn":
		return zerolog.WarnLevel, nil
	case "error":
		return zerolog.ErrorLevel, nil
	default:
		return zerolog.InfoLevel, fmt.Errorf("invalid log level: %s", level)
	}
}
