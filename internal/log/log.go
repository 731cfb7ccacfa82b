// Package log provides SNAS's structured logging, adapted from
// warren's pkg/log: a global zerolog.Logger, component-scoped child
// loggers, and level/format configuration through Init (cmd/snasd takes
// the format from internal/config and always uses the info level).
//
// Password hashes, plaintext passwords, and full user records are
// never passed to any log call in this codebase; only usernames, error
// kinds, and operation names are.
package log

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the global logger instance, set by Init.
var Logger zerolog.Logger

// Level is a logging verbosity level.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls Init.
type Config struct {
	Level  Level
	Format string // "json" or "console"
	Output io.Writer
}

// Init initializes the global logger. Call once at process startup,
// before any other package logs.
func Init(cfg Config) {
	var level zerolog.Level
	switch cfg.Level {
	case DebugLevel:
		level = zerolog.DebugLevel
	case WarnLevel:
		level = zerolog.WarnLevel
	case ErrorLevel:
		level = zerolog.ErrorLevel
	default:
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	output := cfg.Output
	if output == nil {
		output = os.Stdout
	}

	if cfg.Format == "json" {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{Out: output, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
	}
}

func init() {
	// Usable before Init is called (e.g. in tests), defaulting to
	// console output at info level.
	Init(Config{Level: InfoLevel, Format: "console"})
}

// WithComponent returns a child logger tagging every entry with
// component.
func WithComponent(component string) zerolog.Logger {
	return Logger.With().Str("component", component).Logger()
}

// WithUsername returns a child logger tagging every entry with
// username. Never pass a password or hash through this path.
func WithUsername(username string) zerolog.Logger {
	return Logger.With().Str("username", username).Logger()
}

func Info(msg string)  { Logger.Info().Msg(msg) }
func Debug(msg string) { Logger.Debug().Msg(msg) }
func Warn(msg string)  { Logger.Warn().Msg(msg) }
func Error(msg string) { Logger.Error().Msg(msg) }

func Errorf(msg string, err error) { Logger.Error().Err(err).Msg(msg) }
func Fatal(msg string)             { Logger.Fatal().Msg(msg) }
