// Package log is a small leveled logger in the shape the rest of the
// repository expects: a Logger sink, a level Filter, and a Helper that
// components hold onto and call Debugf/Infof/Warnf/Errorf on.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
)

// Level is a logging severity.
type Level int

// Severities, lowest first.
const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "DEBUG"
	case LevelInfo:
		return "INFO"
	case LevelWarn:
		return "WARN"
	case LevelError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Logger is the sink every Helper ultimately writes through.
type Logger interface {
	Log(level Level, msg string)
}

// stdLogger writes to an io.Writer via the standard library logger.
type stdLogger struct {
	std *log.Logger
}

// NewStdLogger returns a Logger that writes to w, one line per record.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{std: log.New(w, "", log.LstdFlags)}
}

func (l *stdLogger) Log(level Level, msg string) {
	l.std.Printf("%s %s", level, msg)
}

// filter gates a Logger so only records at or above a minimum level pass.
type filter struct {
	next Logger
	min  Level
}

// FilterOption configures a Filter.
type FilterOption func(*filter)

// FilterLevel sets the minimum level that passes the filter.
func FilterLevel(min Level) FilterOption {
	return func(f *filter) { f.min = min }
}

// NewFilter wraps next with level gating.
func NewFilter(next Logger, opts ...FilterOption) Logger {
	f := &filter{next: next, min: LevelWarn}
	for _, opt := range opts {
		opt(f)
	}
	return f
}

func (f *filter) Log(level Level, msg string) {
	if level < f.min {
		return
	}
	f.next.Log(level, msg)
}

// Helper is the ergonomic wrapper components call into.
type Helper struct {
	logger Logger
}

// NewHelper wraps a Logger.
func NewHelper(logger Logger) *Helper {
	return &Helper{logger: logger}
}

// Debugf logs at LevelDebug.
func (h *Helper) Debugf(format string, args ...interface{}) {
	h.logger.Log(LevelDebug, fmt.Sprintf(format, args...))
}

// Infof logs at LevelInfo.
func (h *Helper) Infof(format string, args ...interface{}) {
	h.logger.Log(LevelInfo, fmt.Sprintf(format, args...))
}

// Warnf logs at LevelWarn.
func (h *Helper) Warnf(format string, args ...interface{}) {
	h.logger.Log(LevelWarn, fmt.Sprintf(format, args...))
}

// Errorf logs at LevelError.
func (h *Helper) Errorf(format string, args ...interface{}) {
	h.logger.Log(LevelError, fmt.Sprintf(format, args...))
}

// Debug logs a single message at LevelDebug.
func (h *Helper) Debug(msg string) { h.logger.Log(LevelDebug, msg) }

// Warn logs a single message at LevelWarn.
func (h *Helper) Warn(msg string) { h.logger.Log(LevelWarn, msg) }

// New builds the default helper: stderr, filtered to min.
func New(min Level) *Helper {
	return NewHelper(NewFilter(NewStdLogger(os.Stderr), FilterLevel(min)))
}
