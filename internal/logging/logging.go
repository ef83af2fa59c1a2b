// Package logging provides zerolog-based structured logging for plantsync.
package logging

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

var (
	mu  sync.RWMutex
	log = zerolog.New(os.Stderr).With().Timestamp().Logger()
)

// Init configures the global logger. Level is one of debug, info, warn,
// error; unknown values fall back to info. Safe to call more than once.
func Init(level string, out io.Writer) {
	if out == nil {
		out = os.Stderr
	}

	lvl := zerolog.InfoLevel
	switch strings.ToLower(level) {
	case "debug":
		lvl = zerolog.DebugLevel
	case "info":
		lvl = zerolog.InfoLevel
	case "warn":
		lvl = zerolog.WarnLevel
	case "error":
		lvl = zerolog.ErrorLevel
	}

	mu.Lock()
	log = zerolog.New(out).Level(lvl).With().Timestamp().Logger()
	mu.Unlock()
}

// L returns the global logger. Components that want a scoped logger derive
// from it: logging.L().With().Str("component", "sync").Logger().
func L() zerolog.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return log
}

// Debug starts a debug-level log event.
func Debug() *zerolog.Event {
	l := L()
	return l.Debug()
}

// Info starts an info-level log event.
func Info() *zerolog.Event {
	l := L()
	return l.Info()
}

// Warn starts a warn-level log event.
func Warn() *zerolog.Event {
	l := L()
	return l.Warn()
}

// Error starts an error-level log event.
func Error() *zerolog.Event {
	l := L()
	return l.Error()
}
