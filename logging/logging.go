// Package logging installs and hands out the process-wide zerolog logger.
package logging

import (
	"context"
	"os"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

type ctxKey struct{}

var loggerKey = ctxKey{}

// Initialize installs the default (info-level) console logger.
func Initialize() {
	InitializeWithLevel(zerolog.InfoLevel)
}

// InitializeWithLevel installs the console logger at the given level.
func InitializeWithLevel(level zerolog.Level) {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	zerolog.SetGlobalLevel(level)

	consoleWriter := zerolog.ConsoleWriter{
		Out:        os.Stderr,
		TimeFormat: "15:04:05",
	}
	log.Logger = zerolog.New(consoleWriter).
		With().
		Timestamp().
		Caller().
		Logger()
}

// FromContext extracts a logger previously attached with WithContext, falling
// back to the global logger.
func FromContext(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return log.Logger
	}
	if logger, ok := ctx.Value(loggerKey).(zerolog.Logger); ok {
		return logger
	}
	return log.Logger
}

// WithContext attaches logger to ctx so a later FromContext call recovers it.
func WithContext(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// WithCycleID tags the logger (and the returned context) with a fresh
// correlation id for one scheduled task invocation, so every log line emitted
// during that cycle can be grepped together.
func WithCycleID(ctx context.Context, taskName string) (context.Context, zerolog.Logger) {
	logger := FromContext(ctx).With().
		Str("cycle_id", uuid.NewString()).
		Str("task", taskName).
		Logger()
	return WithContext(ctx, logger), logger
}
