package logging

import (
	"context"
	"errors"
	"log/slog"
)

// splitHandler sends each record to the terminal and to the gleaner.log
// journal. The two sides keep their own levels.
type splitHandler struct {
	terminal slog.Handler
	journal  slog.Handler
}

func newSplitHandler(terminal, journal slog.Handler) slog.Handler {
	switch {
	case terminal == nil && journal == nil:
		return NoopHandler{}
	case journal == nil:
		return terminal
	case terminal == nil:
		return journal
	}
	return &splitHandler{terminal: terminal, journal: journal}
}

func (h *splitHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.terminal.Enabled(ctx, level) || h.journal.Enabled(ctx, level)
}

func (h *splitHandler) Handle(ctx context.Context, record slog.Record) error {
	var termErr, journalErr error
	if h.terminal.Enabled(ctx, record.Level) {
		termErr = h.terminal.Handle(ctx, record.Clone())
	}
	if h.journal.Enabled(ctx, record.Level) {
		journalErr = h.journal.Handle(ctx, record)
	}
	return errors.Join(termErr, journalErr)
}

func (h *splitHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &splitHandler{terminal: h.terminal.WithAttrs(attrs), journal: h.journal.WithAttrs(attrs)}
}

func (h *splitHandler) WithGroup(name string) slog.Handler {
	return &splitHandler{terminal: h.terminal.WithGroup(name), journal: h.journal.WithGroup(name)}
}

// journalLevel is the level gleaner.log records at. The journal keeps info
// lines even when the terminal is quieter so `gleaner logs` has a history.
func journalLevel(terminal slog.Level) slog.Level {
	return min(terminal, slog.LevelInfo)
}
