// Package elflog provides the small leveled logger used throughout the
// debug-info acquisition core, in the same shape as the saferwall/pe
// log.Helper: a Logger interface callers can swap in their own backend
// for, a level filter, and a std-writer default.
package elflog

import (
	"fmt"
	"io"
	"log"
	"sync"
)

// Level is a logging severity.
type Level int8

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
		return "?"
	}
}

// Logger is the minimal backend contract. Callers may supply their own
// implementation (e.g. to route into a host application's logging
// framework); the core never assumes a concrete backend.
type Logger interface {
	Log(level Level, msg string)
}

// stdLogger writes to an io.Writer via the standard library logger.
type stdLogger struct {
	mu  sync.Mutex
	std *log.Logger
}

// NewStdLogger returns a Logger that writes every record to w.
func NewStdLogger(w io.Writer) Logger {
	return &stdLogger{std: log.New(w, "", log.LstdFlags)}
}

func (s *stdLogger) Log(level Level, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.std.Printf("[%s] %s", level, msg)
}

// filter wraps a Logger and drops records below a minimum level.
type filter struct {
	next Logger
	min  Level
}

// NewFilter returns a Logger that forwards to next only records at or
// above min.
func NewFilter(next Logger, min Level) Logger {
	return &filter{next: next, min: min}
}

func (f *filter) Log(level Level, msg string) {
	if level < f.min {
		return
	}
	f.next.Log(level, msg)
}

// Helper is the ergonomic wrapper the rest of the core calls through,
// mirroring pe.File.logger usage (pe.logger.Errorf(...), pe.logger.Debugf(...)).
type Helper struct {
	logger Logger
}

// NewHelper wraps logger. A nil logger is replaced with a warn-level
// std logger writing to io.Discard, so callers never need a nil check.
func NewHelper(logger Logger) *Helper {
	if logger == nil {
		logger = NewFilter(NewStdLogger(io.Discard), LevelWarn)
	}
	return &Helper{logger: logger}
}

func (h *Helper) Debugf(format string, args ...any) { h.logger.Log(LevelDebug, fmt.Sprintf(format, args...)) }
func (h *Helper) Infof(format string, args ...any)  { h.logger.Log(LevelInfo, fmt.Sprintf(format, args...)) }
func (h *Helper) Warnf(format string, args ...any)  { h.logger.Log(LevelWarn, fmt.Sprintf(format, args...)) }
func (h *Helper) Errorf(format string, args ...any) { h.logger.Log(LevelError, fmt.Sprintf(format, args...)) }

func (h *Helper) Debug(msg string) { h.logger.Log(LevelDebug, msg) }
func (h *Helper) Warn(msg string)  { h.logger.Log(LevelWarn, msg) }
