// Package logctx carries the zerolog logger through context.Context so the
// pipeline stages can log with run-scoped fields (run_id, stage, object)
// without threading a logger parameter everywhere.
package logctx

import (
	"context"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type loggerKey struct{}

var (
	defaultLogger     zerolog.Logger
	defaultLoggerOnce sync.Once
)

// Default returns the process-wide fallback logger: JSON to stderr with
// timestamps, used when a context carries no logger.
func Default() zerolog.Logger {
	defaultLoggerOnce.Do(func() {
		defaultLogger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	})
	return defaultLogger
}

// With returns a new context with the given logger attached.
func With(ctx context.Context, logger zerolog.Logger) context.Context {
	return context.WithValue(ctx, loggerKey{}, logger)
}

// From extracts the logger from ctx, falling back to Default. Never
// returns a zero-value logger.
func From(ctx context.Context) zerolog.Logger {
	if ctx == nil {
		return Default()
	}
	if logger, ok := ctx.Value(loggerKey{}).(zerolog.Logger); ok {
		return logger
	}
	return Default()
}

// WithStage returns a context whose logger carries the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	logger := From(ctx).With().Str("stage", stage).Logger()
	return With(ctx, logger)
}

// WithStr returns a context whose logger carries an extra string field.
func WithStr(ctx context.Context, key, value string) context.Context {
	logger := From(ctx).With().Str(key, value).Logger()
	return With(ctx, logger)
}

// New builds the logger for an invocation. If debug is true the level is
// Debug, otherwise Info. If human is true output goes through the console
// writer instead of raw JSON.
func New(debug, human bool) zerolog.Logger {
	level := zerolog.InfoLevel
	if debug {
		level = zerolog.DebugLevel
	}

	var output zerolog.LevelWriter
	if human {
		output = zerolog.LevelWriterAdapter{Writer: zerolog.ConsoleWriter{
			Out:        os.Stderr,
			TimeFormat: time.RFC3339,
		}}
	} else {
		output = zerolog.LevelWriterAdapter{Writer: os.Stderr}
	}

	return zerolog.New(output).Level(level).With().Timestamp().Logger()
}
