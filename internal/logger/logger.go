// Package logger configures zerolog for the service.
package logger

import (
	"context"
	"os"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

// Setup installs the global logger. Pretty output is meant for local runs.
func Setup(level string, pretty bool) {
	lvl, err := zerolog.ParseLevel(level)
	if err != nil || level == "" {
		lvl = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(lvl)
	zerolog.TimeFieldFormat = time.RFC3339Nano

	if pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
		return
	}
	log.Logger = zerolog.New(os.Stderr).With().Timestamp().Str("service", "petmarket").Logger()
}

// FromContext returns the global logger enriched with the request id and the
// active trace, if any.
func FromContext(ctx context.Context) *zerolog.Logger {
	l := log.Logger.With()
	if reqID := middleware.GetReqID(ctx); reqID != "" {
		l = l.Str("request_id", reqID)
	}
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		l = l.Str("trace_id", sc.TraceID().String()).Str("span_id", sc.SpanID().String())
	}
	logger := l.Logger()
	return &logger
}
