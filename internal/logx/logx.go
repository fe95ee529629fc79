// Package logx wires the core's structured logging.
package logx

import (
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
)

// Logger is the package-level logger used when a component isn't handed
// one explicitly.
var Logger zerolog.Logger

// Level is a coarse logging level, mirrored onto zerolog's levels.
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
)

// Config controls how Init builds the global logger.
type Config struct {
	Level      Level
	JSONOutput bool
	Output     io.Writer
}

// Init builds the global Logger from cfg. Call once at process startup.
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

	if cfg.JSONOutput {
		Logger = zerolog.New(output).With().Timestamp().Logger()
	} else {
		Logger = zerolog.New(zerolog.ConsoleWriter{
			Out:        output,
			TimeFormat: time.RFC3339,
		}).With().Timestamp().Logger()
	}
}

// WithWorker returns a child logger tagged with the owning worker id.
func WithWorker(id int) zerolog.Logger {
	return Logger.With().Int("worker", id).Logger()
}

// WithSession returns a child logger tagged with a session id.
func WithSession(id uint64) zerolog.Logger {
	return Logger.With().Uint64("session", id).Logger()
}

// WithTarget returns a child logger tagged with a backend target name.
func WithTarget(target string) zerolog.Logger {
	return Logger.With().Str("target", target).Logger()
}

func init() {
	// A usable default so packages that log before Init (tests, early
	// bootstrap) don't panic on a zero-value Logger.
	Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Timestamp().Logger()
}
