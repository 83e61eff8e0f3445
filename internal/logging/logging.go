// Package logging is a thin structured-logging wrapper around log/slog,
// upgrading plain log.Printf-style calls to slog's structured key/value
// fields, the same upgrade path stdlib itself offers as of Go 1.21.
package logging

import (
	"context"
	"log/slog"
	"os"
	"strings"
)

// Fields is a convenience alias for the variadic key/value pairs slog
// accepts, used at call sites that build up attributes conditionally.
type Fields = []any

// New builds the process-wide logger, writing JSON to stdout at the
// given level. Components that need source/z/x/y context call With on
// the returned logger rather than threading a Fields slice everywhere.
func New(level slog.Level) *slog.Logger {
	h := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})
	return slog.New(h)
}

// ParseLevel maps the LOG_LEVEL environment variable's conventional
// string values onto slog.Level, defaulting to Info on anything else.
func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// Filter holds a per-component minimum level, parsed from a
// "component=level,component=level" string (e.g. TILESERV_LOG=
// "source=debug,pg=warn").
type Filter map[string]slog.Level

// ParseFilter parses the TILESERV_LOG environment variable into a
// per-component level filter. Malformed entries are skipped rather than
// failing startup.
func ParseFilter(s string) Filter {
	f := make(Filter)
	if strings.TrimSpace(s) == "" {
		return f
	}
	for _, pair := range strings.Split(s, ",") {
		kv := strings.SplitN(strings.TrimSpace(pair), "=", 2)
		if len(kv) != 2 {
			continue
		}
		component := strings.TrimSpace(kv[0])
		if component == "" {
			continue
		}
		f[component] = ParseLevel(kv[1])
	}
	return f
}

// Enabled reports whether component should log at level, falling back to
// the process default when no per-component override is configured.
func (f Filter) Enabled(component string, level, defaultLevel slog.Level) bool {
	if min, ok := f[component]; ok {
		return level >= min
	}
	return level >= defaultLevel
}

// For returns a child logger tagged with the named component, the unit
// Filter entries key on (e.g. "source", "pg", "cache").
func For(base *slog.Logger, component string) *slog.Logger {
	return base.With("component", component)
}

// WithTile returns a child logger carrying the z/x/y/source_id fields
// common to nearly every tile-serving log line.
func WithTile(l *slog.Logger, sourceID string, z, x, y uint32) *slog.Logger {
	return l.With("source_id", sourceID, "z", z, "x", x, "y", y)
}

// WithErr returns a child logger carrying an error field, named "err" to
// match slog's own conventional attribute name for error values.
func WithErr(l *slog.Logger, err error) *slog.Logger {
	return l.With("err", err)
}

type ctxKey struct{}

// IntoContext stores l in ctx for retrieval by request-scoped code via
// FromContext.
func IntoContext(ctx context.Context, l *slog.Logger) context.Context {
	return context.WithValue(ctx, ctxKey{}, l)
}

// FromContext retrieves the logger stored by IntoContext, falling back to
// slog.Default() if none was attached.
func FromContext(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(ctxKey{}).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
