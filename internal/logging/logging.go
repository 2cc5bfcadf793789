// Package logging builds the pslog loggers used across udsipc.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
package logging

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
	"pkt.systems/pslog"
)

var (
	noOnce   sync.Once
	noLogger pslog.Logger
)

// NoopLogger returns a disabled logger that discards all entries.
func NoopLogger() pslog.Logger {
	noOnce.Do(func() {
		noLogger = pslog.NewWithOptions(io.Discard, pslog.Options{
			Mode:     pslog.ModeStructured,
			MinLevel: pslog.Disabled,
		})
	})
	return noLogger
}

// EnsureLogger returns l when non-nil, otherwise a disabled logger.
func EnsureLogger(l pslog.Logger) pslog.Logger {
	if l != nil {
		return l
	}
	return NoopLogger()
}

// WithSubsystem tags every entry of l with sys=subsystem.
func WithSubsystem(l pslog.Logger, subsystem string) pslog.Logger {
	l = EnsureLogger(l)
	subsystem = strings.Trim(subsystem, ". ")
	if subsystem == "" {
		return l
	}
	return l.With("sys", subsystem)
}

// New returns a structured logger writing to w at the given level.
func New(w io.Writer, level pslog.Level) pslog.Logger {
	if w == nil {
		w = os.Stderr
	}
	return pslog.NewWithOptions(w, pslog.Options{
		Mode:     pslog.ModeStructured,
		MinLevel: level,
	})
}

// ParseLevel parses s, falling back to info for unknown names. The second
// result reports whether s was recognised.
func ParseLevel(s string) (pslog.Level, bool) {
	if level, ok := pslog.ParseLevel(strings.ToLower(strings.TrimSpace(s))); ok {
		return level, true
	}
	return pslog.InfoLevel, false
}

// FileConfig configures a rotated log file.
type FileConfig struct {
	Path       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// OpenFile returns a rotating writer for cfg.Path. The caller closes it.
func OpenFile(cfg FileConfig) (io.WriteCloser, error) {
	if dir := filepath.Dir(cfg.Path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return &lumberjack.Logger{
		Filename:   cfg.Path,
		MaxSize:    max(cfg.MaxSizeMB, 10),
		MaxBackups: max(cfg.MaxBackups, 1),
		MaxAge:     max(cfg.MaxAgeDays, 7),
		Compress:   cfg.Compress,
	}, nil
}
