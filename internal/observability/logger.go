package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"

	"github.com/samber/oops"
)

// Logger writes one JSON object per line. Messages are snake_case event
// names; everything else goes in fields.
type Logger struct {
	base *slog.Logger
}

func NewLogger() *Logger {
	return NewLoggerTo(os.Stdout, slog.LevelInfo)
}

func NewLoggerTo(w io.Writer, level slog.Level) *Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: level,
		ReplaceAttr: func(_ []string, a slog.Attr) slog.Attr {
			switch a.Key {
			case slog.TimeKey:
				a.Key = "timestamp"
				a.Value = slog.StringValue(a.Value.Time().UTC().Format("2006-01-02T15:04:05.000000000Z07:00"))
			case slog.MessageKey:
				a.Key = "message"
			case slog.LevelKey:
				if lvl, ok := a.Value.Any().(slog.Level); ok {
					a.Value = slog.StringValue(strings.ToLower(lvl.String()))
				}
			}
			return a
		},
	})
	return &Logger{base: slog.New(handler)}
}

// With returns a logger that adds fields to every entry.
func (l *Logger) With(fields map[string]any) *Logger {
	list := attrs(fields)
	args := make([]any, len(list))
	for i, a := range list {
		args[i] = a
	}
	return &Logger{base: l.base.With(args...)}
}

func (l *Logger) Debug(message string, fields map[string]any) {
	l.write(slog.LevelDebug, message, fields)
}

func (l *Logger) Info(message string, fields map[string]any) {
	l.write(slog.LevelInfo, message, fields)
}

func (l *Logger) Warn(message string, fields map[string]any) {
	l.write(slog.LevelWarn, message, fields)
}

func (l *Logger) Error(message string, fields map[string]any) {
	l.write(slog.LevelError, message, fields)
}

// Err logs err at error level. Errors built with oops contribute their code
// and context as fields.
func (l *Logger) Err(message string, err error, fields map[string]any) {
	merged := make(map[string]any, len(fields)+3)
	for k, v := range fields {
		merged[k] = v
	}
	merged["error"] = err.Error()
	if oopsErr, ok := oops.AsOops(err); ok {
		if code := oopsErr.Code(); code != nil && code != "" {
			merged["error_code"] = code
		}
		if ctx := oopsErr.Context(); len(ctx) > 0 {
			merged["error_context"] = ctx
		}
	}
	l.write(slog.LevelError, message, merged)
}

func (l *Logger) write(level slog.Level, message string, fields map[string]any) {
	l.base.LogAttrs(context.Background(), level, message, attrs(fields)...)
}

func attrs(fields map[string]any) []slog.Attr {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]slog.Attr, 0, len(keys))
	for _, k := range keys {
		out = append(out, slog.Any(k, fields[k]))
	}
	return out
}
