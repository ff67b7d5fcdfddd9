package orm

import (
	"context"
	"log/slog"
)

// SlogLogger is a Logger writing every query at debug level.
type SlogLogger struct {
	L *slog.Logger
}

// NewSlogLogger returns a SlogLogger for l, or for slog.Default() when l is nil.
func NewSlogLogger(l *slog.Logger) SlogLogger {
	if l == nil {
		l = slog.Default()
	}
	return SlogLogger{L: l}
}

func (l SlogLogger) Log(ctx context.Context, query string, args ...any) {
	l.L.DebugContext(ctx, "query",
		slog.String("sql", query),
		slog.Any("args", args),
	)
}

var _ Logger = SlogLogger{}
