package logging

import (
	"fmt"
	"io"

	"github.com/rs/zerolog"
)

// Logger is the logging contract used throughout the library. All
// components log through this interface so that hosts can plug in
// their own sink.
type Logger interface {
	Error(format string, args ...interface{})
	Warning(format string, args ...interface{})
	Info(format string, args ...interface{})
	Debug(format string, args ...interface{})

	InfoEnabled() bool
	DebugEnabled() bool
}

// Level controls the verbosity of the default logger.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarning
	LevelError
)

func (l Level) zerologLevel() zerolog.Level {
	switch l {
	case LevelDebug:
		return zerolog.DebugLevel
	case LevelInfo:
		return zerolog.InfoLevel
	case LevelWarning:
		return zerolog.WarnLevel
	default:
		return zerolog.ErrorLevel
	}
}

// ParseLevel converts a level name ("debug", "info", "warning",
// "error") to a Level. Unknown names map to LevelInfo.
func ParseLevel(name string) Level {
	switch name {
	case "debug":
		return LevelDebug
	case "warning", "warn":
		return LevelWarning
	case "error":
		return LevelError
	default:
		return LevelInfo
	}
}

type zeroLogger struct {
	log zerolog.Logger
}

// NewLogger creates the default Logger writing structured lines to w
// at the given level.
func NewLogger(w io.Writer, level Level) Logger {
	return &zeroLogger{
		log: zerolog.New(w).Level(level.zerologLevel()).With().Timestamp().Logger(),
	}
}

func (z *zeroLogger) Error(format string, args ...interface{}) {
	z.log.Error().Msg(fmt.Sprintf(format, args...))
}

func (z *zeroLogger) Warning(format string, args ...interface{}) {
	z.log.Warn().Msg(fmt.Sprintf(format, args...))
}

func (z *zeroLogger) Info(format string, args ...interface{}) {
	z.log.Info().Msg(fmt.Sprintf(format, args...))
}

func (z *zeroLogger) Debug(format string, args ...interface{}) {
	z.log.Debug().Msg(fmt.Sprintf(format, args...))
}

func (z *zeroLogger) InfoEnabled() bool {
	return z.log.GetLevel() <= zerolog.InfoLevel
}

func (z *zeroLogger) DebugEnabled() bool {
	return z.log.GetLevel() <= zerolog.DebugLevel
}

type discardLogger struct{}

// Discard returns a Logger that drops everything. Used in tests and
// by hosts that want no log output.
func Discard() Logger { return discardLogger{} }

func (discardLogger) Error(string, ...interface{})   {}
func (discardLogger) Warning(string, ...interface{}) {}
func (discardLogger) Info(string, ...interface{})    {}
func (discardLogger) Debug(string, ...interface{})   {}
func (discardLogger) InfoEnabled() bool              { return false }
func (discardLogger) DebugEnabled() bool             { return false }
