package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
)

// journalHandler writes the JSON lines of gleaner.log. Records carry the
// item, stage, run, step run and correlation ids found on the context, so a
// line logged through a bare component logger is still matched by
// `gleaner logs --item`.
type journalHandler struct {
	inner   slog.Handler
	bound   map[string]struct{}
	grouped bool
}

func newJSONHandler(w io.Writer, lvl slog.Leveler, addSource bool) slog.Handler {
	opts := slog.HandlerOptions{
		Level:       lvl,
		AddSource:   addSource,
		ReplaceAttr: journalAttr,
	}
	return &journalHandler{inner: slog.NewJSONHandler(w, &opts)}
}

// journalAttr renames slog's built-in keys to ts/level/msg and flattens
// values the log tailer compares as strings.
func journalAttr(groups []string, attr slog.Attr) slog.Attr {
	if len(groups) > 0 {
		return attr
	}
	switch attr.Key {
	case slog.TimeKey:
		attr.Key = "ts"
		if attr.Value.Kind() == slog.KindTime {
			attr.Value = slog.StringValue(formatJournalTimestamp(attr.Value.Time()))
		}
	case slog.LevelKey:
		if lvl, ok := attr.Value.Any().(slog.Level); ok {
			attr.Value = slog.StringValue(LevelName(lvl))
		}
	case slog.SourceKey:
		if src, ok := attr.Value.Any().(*slog.Source); ok && src != nil {
			attr.Value = slog.StringValue(fmt.Sprintf("%s:%d", filepath.Base(src.File), src.Line))
		}
	case "error":
		if err, ok := attr.Value.Any().(error); ok && err != nil {
			attr.Value = slog.StringValue(err.Error())
		}
	}
	return attr
}

// LevelName maps a level onto the four names gleaner.log uses. Levels
// between the named ones round down.
func LevelName(lvl slog.Level) string {
	switch {
	case lvl < slog.LevelInfo:
		return "debug"
	case lvl < slog.LevelWarn:
		return "info"
	case lvl < slog.LevelError:
		return "warn"
	default:
		return "error"
	}
}

func (h *journalHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *journalHandler) Handle(ctx context.Context, record slog.Record) error {
	if extra := h.missingContextFields(ctx, record); len(extra) > 0 {
		record = record.Clone()
		record.AddAttrs(extra...)
	}
	return h.inner.Handle(ctx, record)
}

// missingContextFields returns the context ids not already present on the
// record or bound to the handler. Inside a group nothing is added; the ids
// belong at the top level.
func (h *journalHandler) missingContextFields(ctx context.Context, record slog.Record) []slog.Attr {
	if h.grouped {
		return nil
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return nil
	}
	present := make(map[string]struct{}, len(h.bound)+record.NumAttrs())
	for key := range h.bound {
		present[key] = struct{}{}
	}
	record.Attrs(func(a slog.Attr) bool {
		present[a.Key] = struct{}{}
		return true
	})
	out := fields[:0]
	for _, f := range fields {
		if _, ok := present[f.Key]; !ok {
			out = append(out, f)
		}
	}
	return out
}

func (h *journalHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	bound := h.bound
	if !h.grouped {
		bound = make(map[string]struct{}, len(h.bound)+len(attrs))
		for key := range h.bound {
			bound[key] = struct{}{}
		}
		for _, a := range attrs {
			bound[a.Key] = struct{}{}
		}
	}
	return &journalHandler{inner: h.inner.WithAttrs(attrs), bound: bound, grouped: h.grouped}
}

func (h *journalHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	return &journalHandler{inner: h.inner.WithGroup(name), bound: h.bound, grouped: true}
}
