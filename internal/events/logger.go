package events

import (
	"fmt"
	"strings"
)

// Level is a logging severity. Lower values are more verbose.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelSilent
)

// String returns the lowercase level name.
func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	case LevelSilent:
		return "silent"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel maps a level name to a Level, defaulting to info.
func ParseLevel(name string) Level {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return LevelDebug
	case "warn", "warning":
		return LevelWarn
	case "error":
		return LevelError
	case "silent", "off", "none":
		return LevelSilent
	default:
		return LevelInfo
	}
}

// Logger forwards diagnostic text to the host as logging events, dropping
// anything below its threshold.
type Logger struct {
	emitter   Emitter
	threshold Level
}

// NewLogger returns a logger emitting through e at or above threshold.
func NewLogger(e Emitter, threshold Level) *Logger {
	return &Logger{emitter: e, threshold: threshold}
}

// Enabled reports whether a call at level would be emitted.
func (l *Logger) Enabled(level Level) bool {
	return l != nil && l.emitter != nil && level < LevelSilent && level >= l.threshold
}

func (l *Logger) log(level Level, text string) {
	if !l.Enabled(level) {
		return
	}
	l.emitter.Emit(Event{Type: TypeLogging, Verbosity: level, Text: text})
}

// Debug emits text at debug level.
func (l *Logger) Debug(text string) { l.log(LevelDebug, text) }

// Info emits text at info level.
func (l *Logger) Info(text string) { l.log(LevelInfo, text) }

// Warn emits text at warn level.
func (l *Logger) Warn(text string) { l.log(LevelWarn, text) }

// Error emits text at error level.
func (l *Logger) Error(text string) { l.log(LevelError, text) }

// Debugf formats and emits at debug level.
func (l *Logger) Debugf(format string, args ...any) {
	if l.Enabled(LevelDebug) {
		l.log(LevelDebug, fmt.Sprintf(format, args...))
	}
}

// Infof formats and emits at info level.
func (l *Logger) Infof(format string, args ...any) {
	if l.Enabled(LevelInfo) {
		l.log(LevelInfo, fmt.Sprintf(format, args...))
	}
}

// Warnf formats and emits at warn level.
func (l *Logger) Warnf(format string, args ...any) {
	if l.Enabled(LevelWarn) {
		l.log(LevelWarn, fmt.Sprintf(format, args...))
	}
}

// Errorf formats and emits at error level.
func (l *Logger) Errorf(format string, args ...any) {
	if l.Enabled(LevelError) {
		l.log(LevelError, fmt.Sprintf(format, args...))
	}
}
