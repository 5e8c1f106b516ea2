// Package alertlog maintains a local append-only stream of SLA alert
// events, rotated by size so the file never grows without bound.
package alertlog

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/loykin/slamon/internal/event"
	lj "gopkg.in/natefinch/lumberjack.v2"
)

const (
	DefaultMaxSizeMB  = 10
	DefaultMaxBackups = 5
	DefaultMaxAgeDays = 30
)

// Config describes the alert log destination.
type Config struct {
	File       string // alert log path; empty disables the log
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	Compress   bool
}

// Log writes alert events as one JSON object per line.
// The zero value (or a config with an empty File) is a no-op logger.
type Log struct {
	mu sync.Mutex
	w  *lj.Logger
}

// New opens an alert log at the configured path.
func New(c Config) *Log {
	if c.File == "" {
		return &Log{}
	}
	if c.MaxSizeMB <= 0 {
		c.MaxSizeMB = DefaultMaxSizeMB
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = DefaultMaxBackups
	}
	if c.MaxAgeDays <= 0 {
		c.MaxAgeDays = DefaultMaxAgeDays
	}
	return &Log{w: &lj.Logger{
		Filename:   c.File,
		MaxSize:    c.MaxSizeMB,
		MaxBackups: c.MaxBackups,
		MaxAge:     c.MaxAgeDays,
		Compress:   c.Compress,
	}}
}

// Write appends an alert event to the log. Non-alert events are rejected
// so the stream stays a pure violation record.
func (l *Log) Write(ev event.Event) error {
	if l == nil || l.w == nil {
		return nil
	}
	if ev.Kind != event.KindAlert {
		return fmt.Errorf("alertlog: refusing %s event %s", ev.Kind, ev.ID)
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("alertlog: marshal event %s: %w", ev.ID, err)
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, err := l.w.Write(append(b, '\n')); err != nil {
		return fmt.Errorf("alertlog: write event %s: %w", ev.ID, err)
	}
	return nil
}

// Close closes the underlying file.
func (l *Log) Close() error {
	if l == nil || l.w == nil {
		return nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.w.Close()
}
