// Package monitoring holds the diagnostic logger shared by the playback,
// transport and loader packages.
package monitoring

import (
	"log"

	"github.com/google/uuid"
)

// Logf is the package-level diagnostic logger. It defaults to log.Printf but may
// be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// NewRunID returns a short identifier for one playback run, used to tie
// together the log lines of a session.
func NewRunID() string {
	return uuid.NewString()[:8]
}

// WithPrefix returns a logger that prepends "[prefix] " to every line and
// forwards to whatever Logf is at call time.
func WithPrefix(prefix string) func(format string, v ...interface{}) {
	return func(format string, v ...interface{}) {
		Logf("["+prefix+"] "+format, v...)
	}
}
