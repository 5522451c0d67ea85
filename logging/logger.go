// Package logging defines the structured logger used across the orchestrator and
// a zerolog-backed implementation of it.
package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

// Logger is a leveled, structured logger. Arguments after msg are alternating key/value pairs.
type Logger interface {
	Debug(ctx context.Context, msg string, keyvals ...interface{})
	Info(ctx context.Context, msg string, keyvals ...interface{})
	Warn(ctx context.Context, msg string, keyvals ...interface{})
	Error(ctx context.Context, msg string, keyvals ...interface{})
}

// Format selects the output encoding of a zerolog logger.
type Format string

const (
	FormatJSON    Format = "json"
	FormatConsole Format = "console"
)

// Options configures New.
type Options struct {
	// Level is one of debug, info, warn or error (default: info).
	Level string

	// Format is json or console (default: json).
	Format Format

	// Output is where log lines are written (default: os.Stderr).
	Output io.Writer
}

// ZerologLogger adapts a zerolog.Logger to Logger.
type ZerologLogger struct {
	log zerolog.Logger
}

// Compile-time check that ZerologLogger implements Logger.
var _ Logger = (*ZerologLogger)(nil)

// New builds a zerolog-backed Logger from options.
func New(opts Options) (*ZerologLogger, error) {
	level := zerolog.InfoLevel
	if opts.Level != "" {
		parsed, err := zerolog.ParseLevel(strings.ToLower(opts.Level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", opts.Level, err)
		}
		level = parsed
	}

	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	switch opts.Format {
	case "", FormatJSON:
	case FormatConsole:
		out = zerolog.ConsoleWriter{Out: out}
	default:
		return nil, fmt.Errorf("invalid log format %q", opts.Format)
	}

	return NewZerolog(zerolog.New(out).Level(level).With().Timestamp().Logger()), nil
}

// NewZerolog wraps an existing zerolog.Logger.
func NewZerolog(l zerolog.Logger) *ZerologLogger {
	return &ZerologLogger{log: l}
}

// Debug logs msg at debug level with keyvals as fields.
func (z *ZerologLogger) Debug(ctx context.Context, msg string, keyvals ...interface{}) {
	z.log.Debug().Ctx(ctx).Fields(keyvals).Msg(msg)
}

// Info logs msg at info level with keyvals as fields.
func (z *ZerologLogger) Info(ctx context.Context, msg string, keyvals ...interface{}) {
	z.log.Info().Ctx(ctx).Fields(keyvals).Msg(msg)
}

// Warn logs msg at warn level with keyvals as fields.
func (z *ZerologLogger) Warn(ctx context.Context, msg string, keyvals ...interface{}) {
	z.log.Warn().Ctx(ctx).Fields(keyvals).Msg(msg)
}

// Error logs msg at error level with keyvals as fields.
func (z *ZerologLogger) Error(ctx context.Context, msg string, keyvals ...interface{}) {
	z.log.Error().Ctx(ctx).Fields(keyvals).Msg(msg)
}

type nopLogger struct{}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nopLogger{}
}

func (nopLogger) Debug(context.Context, string, ...interface{}) {}
func (nopLogger) Info(context.Context, string, ...interface{})  {}
func (nopLogger) Warn(context.Context, string, ...interface{})  {}
func (nopLogger) Error(context.Context, string, ...interface{}) {}
