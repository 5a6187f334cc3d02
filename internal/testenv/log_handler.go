// Package testenv provides helpers shared by package tests.
package testenv

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/surrealdb/surrealtodo/pkg/logger"
)

// LogHandler is a slog.Handler that keeps formatted records in memory,
// numbered from 0 and without timestamps, so tests can assert on them.
type LogHandler struct {
	state *logState
	attrs []slog.Attr
	group string

	ignoreDebug bool
}

type logState struct {
	mu    sync.Mutex
	lines []string
}

type LogHandlerOption func(*LogHandler)

// WithIgnoreDebug drops DEBUG records.
func WithIgnoreDebug() LogHandlerOption {
	return func(h *LogHandler) {
		h.ignoreDebug = true
	}
}

func NewLogHandler(opts ...LogHandlerOption) *LogHandler {
	h := &LogHandler{state: &logState{}}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// NewLogger returns a logger.Logger backed by a new LogHandler.
func NewLogger(opts ...LogHandlerOption) (logger.Logger, *LogHandler) {
	h := NewLogHandler(opts...)
	return logger.New(h), h
}

func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return !(h.ignoreDebug && level == slog.LevelDebug)
}

//nolint:gocritic
func (h *LogHandler) Handle(_ context.Context, r slog.Record) error {
	var sb strings.Builder
	for _, a := range h.attrs {
		h.writeAttr(&sb, "", a)
	}
	prefix := ""
	if h.group != "" {
		prefix = h.group + "."
	}
	r.Attrs(func(a slog.Attr) bool {
		h.writeAttr(&sb, prefix, a)
		return true
	})

	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	line := fmt.Sprintf("[%d] %s: %s", len(h.state.lines), r.Level, r.Message)
	if sb.Len() > 0 {
		line += " " + sb.String()
	}
	h.state.lines = append(h.state.lines, line)
	return nil
}

func (h *LogHandler) writeAttr(sb *strings.Builder, prefix string, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		for _, ga := range a.Value.Group() {
			h.writeAttr(sb, prefix+a.Key+".", ga)
		}
		return
	}
	if sb.Len() > 0 {
		sb.WriteString(", ")
	}
	fmt.Fprintf(sb, "%s%s=%v", prefix, a.Key, a.Value.Any())
}

func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	c := *h
	c.attrs = append(append([]slog.Attr(nil), h.attrs...), attrs...)
	return &c
}

func (h *LogHandler) WithGroup(name string) slog.Handler {
	c := *h
	if c.group == "" {
		c.group = name
	} else {
		c.group += "." + name
	}
	return &c
}

// Lines returns a copy of the records handled so far.
func (h *LogHandler) Lines() []string {
	h.state.mu.Lock()
	defer h.state.mu.Unlock()
	return append([]string(nil), h.state.lines...)
}

// Contains reports whether any record contains substr.
func (h *LogHandler) Contains(substr string) bool {
	for _, l := range h.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}
