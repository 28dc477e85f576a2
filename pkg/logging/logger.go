// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package logging provides structured logging for Pulse components.
//
// The logger is a thin layer over log/slog with two destinations:
//
//   - stderr (default), text on a terminal and JSON otherwise
//   - an optional daily log file, always JSON
//
// # Basic Usage
//
//	logger := logging.New(logging.Config{Level: logging.LevelInfo, Service: "pulse"})
//	defer logger.Close()
//	slog.SetDefault(logger.Slog())
//
// # Security Considerations
//
// This package does NOT redact anything. Callers log "key_present" style
// booleans instead of API keys or raw feedback text.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/mattn/go-isatty"
)

// =============================================================================
// Log Levels
// =============================================================================

// Level represents log severity levels.
//
// Levels follow the slog convention and are ordered by severity:
// Debug < Info < Warn < Error
type Level int

const (
	// LevelDebug is for development troubleshooting.
	LevelDebug Level = iota

	// LevelInfo is for normal operational messages.
	LevelInfo

	// LevelWarn is for recoverable issues such as provider fallbacks.
	LevelWarn

	// LevelError is for failed operations the process survives.
	LevelError
)

// String returns "DEBUG", "INFO", "WARN", "ERROR", or "UNKNOWN".
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

func (l Level) toSlogLevel() slog.Level {
	switch l {
	case LevelDebug:
		return slog.LevelDebug
	case LevelInfo:
		return slog.LevelInfo
	case LevelWarn:
		return slog.LevelWarn
	case LevelError:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// ParseLevel converts a case-insensitive level name to a Level.
//
// # Inputs
//
//   - s: "debug", "info", "warn"/"warning" or "error".
//
// # Outputs
//
//   - Level: The parsed level, LevelInfo when s is empty.
//   - error: Non-nil for unknown names.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return LevelDebug, nil
	case "", "info":
		return LevelInfo, nil
	case "warn", "warning":
		return LevelWarn, nil
	case "error":
		return LevelError, nil
	default:
		return LevelInfo, fmt.Errorf("unknown log level %q", s)
	}
}

// =============================================================================
// Configuration
// =============================================================================

// Format selects the stderr encoding.
type Format string

const (
	// FormatAuto picks text when stderr is a terminal and JSON otherwise.
	FormatAuto Format = ""
	// FormatJSON always writes JSON.
	FormatJSON Format = "json"
	// FormatText always writes slog's key=value text.
	FormatText Format = "text"
)

// Config configures the Logger behavior.
//
// A zero-value Config writes Info+ messages to stderr, format chosen by
// FormatAuto.
type Config struct {
	// Level sets the minimum log level. Default: LevelInfo
	Level Level

	// Format selects the stderr encoding. Default: FormatAuto
	Format Format

	// LogDir enables file logging. Files are named "{Service}_{YYYY-MM-DD}.log".
	// Supports ~ expansion. Default: "" (disabled)
	LogDir string

	// Service is attached to every record as the "service" attribute.
	Service string

	// Quiet disables stderr output.
	Quiet bool

	// Output replaces stderr. Used by tests.
	Output io.Writer
}

// =============================================================================
// Logger
// =============================================================================

// Logger provides structured logging with stderr and file output.
//
// # Thread Safety
//
// Safe for concurrent use. Close is guarded by a mutex.
type Logger struct {
	slog   *slog.Logger
	config Config
	file   *os.File
	mu     sync.Mutex
}

// New creates a new Logger with the given configuration.
//
// File logging failures (unwritable directory) are reported on stderr and
// the logger continues without the file.
func New(config Config) *Logger {
	opts := &slog.HandlerOptions{Level: config.Level.toSlogLevel()}
	logger := &Logger{config: config}

	var handlers []slog.Handler
	if !config.Quiet {
		out := config.Output
		if out == nil {
			out = os.Stderr
		}
		if useJSON(config.Format, out) {
			handlers = append(handlers, slog.NewJSONHandler(out, opts))
		} else {
			handlers = append(handlers, slog.NewTextHandler(out, opts))
		}
	}

	if config.LogDir != "" {
		file, err := openLogFile(config.LogDir, config.Service)
		if err != nil {
			fmt.Fprintf(os.Stderr, "logging: file output disabled: %v\n", err)
		} else {
			logger.file = file
			handlers = append(handlers, slog.NewJSONHandler(file, opts))
		}
	}

	var handler slog.Handler
	switch len(handlers) {
	case 0:
		handler = slog.NewTextHandler(io.Discard, opts)
	case 1:
		handler = handlers[0]
	default:
		handler = &multiHandler{handlers: handlers}
	}

	if config.Service != "" {
		handler = handler.WithAttrs([]slog.Attr{slog.String("service", config.Service)})
	}
	logger.slog = slog.New(handler)
	return logger
}

// Default returns an Info-level stderr logger for the "pulse" service.
func Default() *Logger {
	return New(Config{Level: LevelInfo, Service: "pulse"})
}

// Slog returns the underlying slog.Logger.
func (l *Logger) Slog() *slog.Logger {
	return l.slog
}

// With returns a child logger sharing the file handle.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{slog: l.slog.With(args...), config: l.config, file: l.file}
}

// Close syncs and closes the log file, if any. Safe to call twice.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.file == nil {
		return nil
	}
	syncErr := l.file.Sync()
	closeErr := l.file.Close()
	l.file = nil
	if syncErr != nil {
		return fmt.Errorf("sync log file: %w", syncErr)
	}
	if closeErr != nil {
		return fmt.Errorf("close log file: %w", closeErr)
	}
	return nil
}

// =============================================================================
// Multi-Handler (Internal)
// =============================================================================

// multiHandler fans out log records to multiple slog handlers.
type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, r.Level) {
			if err := handler.Handle(ctx, r.Clone()); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithAttrs(attrs)
	}
	return &multiHandler{handlers: handlers}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	handlers := make([]slog.Handler, len(h.handlers))
	for i, handler := range h.handlers {
		handlers[i] = handler.WithGroup(name)
	}
	return &multiHandler{handlers: handlers}
}

// =============================================================================
// Helper Functions
// =============================================================================

// useJSON resolves FormatAuto against the destination. Only *os.File
// destinations can be terminals.
func useJSON(format Format, out io.Writer) bool {
	switch format {
	case FormatJSON:
		return true
	case FormatText:
		return false
	}
	f, ok := out.(*os.File)
	if !ok {
		return true
	}
	fd := f.Fd()
	return !isatty.IsTerminal(fd) && !isatty.IsCygwinTerminal(fd)
}

func openLogFile(dir, service string) (*os.File, error) {
	dir = expandPath(dir)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("create log directory %s: %w", dir, err)
	}
	if service == "" {
		service = "pulse"
	}
	name := fmt.Sprintf("%s_%s.log", service, time.Now().Format("2006-01-02"))
	return os.OpenFile(filepath.Join(dir, name), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
}

// expandPath expands a leading ~ to the user's home directory.
func expandPath(path string) string {
	if strings.HasPrefix(path, "~") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, path[1:])
		}
	}
	return path
}
