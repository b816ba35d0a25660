// Package main is the entry point for the NuGet registry server.
package main

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/viper"
	"go.opentelemetry.io/otel/trace"

	"github.com/stacklok/nuget-registry-server/cmd/nuget-registry-api/app"
	"github.com/stacklok/nuget-registry-server/internal/config"
)

// logSettings reads NUGET_REGISTRY_LOG_LEVEL and NUGET_REGISTRY_LOG_FORMAT.
// A bare LOG_LEVEL is honored when the prefixed variable is unset.
func logSettings() (slog.Level, string) {
	v := viper.New()
	v.SetEnvPrefix(config.EnvPrefix)
	v.AutomaticEnv()
	v.SetDefault("LOG_FORMAT", "json")

	raw := v.GetString("LOG_LEVEL")
	if raw == "" {
		raw = os.Getenv("LOG_LEVEL")
	}

	var level slog.Level
	switch strings.ToLower(raw) {
	case "", "info":
		level = slog.LevelInfo
	case "debug":
		level = slog.LevelDebug
	case "warn", "warning":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		slog.Warn("Unrecognized log level, using info", "value", raw)
		level = slog.LevelInfo
	}
	return level, strings.ToLower(v.GetString("LOG_FORMAT"))
}

func newLogger(out io.Writer, level slog.Level, format string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler = slog.NewJSONHandler(out, opts)
	if format == "text" {
		h = slog.NewTextHandler(out, opts)
	}
	return slog.New(spanContextHandler{h})
}

// spanContextHandler adds trace_id and span_id to records logged with a
// context carrying a sampled or remote span.
type spanContextHandler struct {
	slog.Handler
}

func (h spanContextHandler) Handle(ctx context.Context, r slog.Record) error {
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		r.AddAttrs(
			slog.String("trace_id", sc.TraceID().String()),
			slog.String("span_id", sc.SpanID().String()),
		)
	}
	return h.Handler.Handle(ctx, r)
}

func (h spanContextHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return spanContextHandler{h.Handler.WithAttrs(attrs)}
}

func (h spanContextHandler) WithGroup(name string) slog.Handler {
	return spanContextHandler{h.Handler.WithGroup(name)}
}

func main() {
	// stderr, since version and pack print results on stdout
	level, format := logSettings()
	slog.SetDefault(newLogger(os.Stderr, level, format))

	if err := app.NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
