// Package logging provides leveled, structured logging for animacore,
// backed by zerolog. The wrapper shape (Debug/Info/Warn/Error plus
// Printf-compatible methods) exists so call sites don't depend directly on
// zerolog's event-builder API, and so a test double can satisfy the same
// interfaces.Logger contract the rest of the core depends on.
package logging

import (
	"io"
	"os"

	"github.com/rs/zerolog"
)

// LogLevel mirrors zerolog.Level so callers never import zerolog directly.
type LogLevel int8

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l LogLevel) zerolog() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarn:
		return zerolog.WarnLevel
	case LevelError:
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// Config controls logger construction.
type Config struct {
	Level  LogLevel
	Output io.Writer
	// Pretty enables zerolog's human-readable console writer; disabled in
	// production where output is expected to be scraped as JSON lines.
	Pretty bool
}

// DefaultConfig returns a sensible default configuration: info level, stderr.
func DefaultConfig() *Config {
	return &Config{Level: LevelInfo, Output: os.Stderr}
}

// Logger wraps a zerolog.Logger with the level-method shape the rest of the
// core is built against.
type Logger struct {
	z zerolog.Logger
}

// NewLogger creates a new Logger from Config; nil uses DefaultConfig.
func NewLogger(cfg *Config) *Logger {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	if cfg.Pretty {
		out = zerolog.ConsoleWriter{Out: out}
	}
	z := zerolog.New(out).With().Timestamp().Logger().Level(cfg.Level.zerolog())
	return &Logger{z: z}
}

var defaultLogger = NewLogger(nil)

// Default returns the process-wide default logger.
func Default() *Logger { return defaultLogger }

// SetDefault replaces the process-wide default logger.
func SetDefault(l *Logger) { defaultLogger = l }

// With returns a child logger with the given structured fields attached to
// every subsequent entry, e.g. l.With("device_id", 1, "channel", 4).
func (l *Logger) With(kv ...any) *Logger {
	ctx := l.z.With()
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ctx = ctx.Interface(key, kv[i+1])
	}
	return &Logger{z: ctx.Logger()}
}

func (l *Logger) event(lvl LogLevel, msg string, kv []any) {
	ev := l.z.WithLevel(lvl.zerolog())
	for i := 0; i+1 < len(kv); i += 2 {
		key, ok := kv[i].(string)
		if !ok {
			continue
		}
		ev = ev.Interface(key, kv[i+1])
	}
	ev.Msg(msg)
}

func (l *Logger) Debug(msg string, kv ...any) { l.event(LevelDebug, msg, kv) }
func (l *Logger) Info(msg string, kv ...any)  { l.event(LevelInfo, msg, kv) }
func (l *Logger) Warn(msg string, kv ...any)  { l.event(LevelWarn, msg, kv) }
func (l *Logger) Error(msg string, kv ...any) { l.event(LevelError, msg, kv) }

// Printf-style logging, for call sites that pass a pre-formatted string.
func (l *Logger) Debugf(format string, args ...any) { l.z.Debug().Msgf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.z.Info().Msgf(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.z.Warn().Msgf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.z.Error().Msgf(format, args...) }

// Printf satisfies the legacy interfaces.Logger.Printf contract used by
// components that predate structured logging.
func (l *Logger) Printf(format string, args ...any) { l.Infof(format, args...) }

// Global convenience functions against the default logger.
func Debug(msg string, kv ...any) { Default().Debug(msg, kv...) }
func Info(msg string, kv ...any)  { Default().Info(msg, kv...) }
func Warn(msg string, kv ...any)  { Default().Warn(msg, kv...) }
func Error(msg string, kv ...any) { Default().Error(msg, kv...) }
