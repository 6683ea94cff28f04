// Package logging provides the single structured logging sink used across
// the capture and decode planes. Every subsystem gets its own named logger
// so log lines can be filtered the way the host collaborator prefers
// without the subsystems knowing anything about each other.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/log"
)

// Logger is the interface subsystems depend on. It is satisfied by
// *log.Logger and by the no-op logger returned by Discard, so tests never
// need a real sink.
type Logger interface {
	Debug(msg interface{}, keyvals ...interface{})
	Info(msg interface{}, keyvals ...interface{})
	Warn(msg interface{}, keyvals ...interface{})
	Error(msg interface{}, keyvals ...interface{})
	With(keyvals ...interface{}) *log.Logger
}

var (
	mu      sync.Mutex
	root    = log.NewWithOptions(os.Stderr, log.Options{ReportTimestamp: true})
	sinkSet bool
)

// SetOutput redirects every named logger obtained through For to w. Intended
// for host integrations that want capture/decode logs folded into their own
// stream; tests typically call this with io.Discard or a bytes.Buffer.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	root.SetOutput(w)
	sinkSet = true
}

// SetLevel adjusts verbosity for all subsystem loggers at once.
func SetLevel(level log.Level) {
	mu.Lock()
	defer mu.Unlock()
	root.SetLevel(level)
}

// For returns the named logger for a subsystem, e.g. "driver", "transport",
// "decode", "manager". Names are cheap; callers may request the same name
// from multiple packages and get loggers that share level/output settings.
func For(subsystem string) *log.Logger {
	mu.Lock()
	defer mu.Unlock()
	return root.With("subsystem", subsystem)
}

// Discard returns a logger that writes nowhere, grounded on the teacher's
// habit of keeping log calls in place even when output is suppressed
// (kissutil.go's -q quiet flag) rather than scattering nil checks.
func Discard() *log.Logger {
	return log.NewWithOptions(io.Discard, log.Options{})
}
