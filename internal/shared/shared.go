// package shared defines helpers used across the client: logging, identity
// generation, and configuration.
package shared

import (
	"io"
	"os"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"
)

// NewLogger creates a new [log.Logger] writing to the given [io.Writer], with
// timestamps and caller reporting enabled.
//
// The writer defaults to [os.Stderr].
func NewLogger(w io.Writer) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	opts := log.Options{ReportTimestamp: true, ReportCaller: true}
	return log.NewWithOptions(w, opts)
}

// ComponentLogger creates a child [log.Logger] tagged with a component name.
// Client subsystems (queue, reconciler, session) log through one of these so
// output can be filtered per component.
func ComponentLogger(l *log.Logger, component string, kv ...any) *log.Logger {
	args := append([]any{"component", component}, kv...)
	return l.With(args...)
}

// SetLogLevel sets the [log.Level] for the given [log.Logger].
func SetLogLevel(l *log.Logger, ll log.Level) {
	l.SetLevel(ll)
}

// ParseLogLevel maps a config string onto a [log.Level], defaulting to info.
func ParseLogLevel(s string) log.Level {
	switch s {
	case "debug":
		return log.DebugLevel
	case "warn":
		return log.WarnLevel
	case "error":
		return log.ErrorLevel
	default:
		return log.InfoLevel
	}
}

// GenerateID generates a new v4 [uuid.UUID] as a string.
//
// Used for local identity (servers, covers, now-playing records, operation
// handles); remote ids are server-assigned and kept separate.
func GenerateID() string {
	return uuid.New().String()
}
