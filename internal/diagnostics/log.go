// Package diagnostics wires up structured logging for the proxy. It is
// ambient stack (SPEC_FULL.md §2.1): spec.md scopes "logging setup"
// itself out of the core, but every core component still needs a
// logger passed down as a field, never read from a global, so tests
// can inject an isolated one.
package diagnostics

import (
	"os"

	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// NewLogger builds a logrus.Logger configured the way the teacher's
// logger.NewConsoleFormatter configures one for an interactive
// terminal, with level parsed from the YAML config (SPEC_FULL.md
// §2.3).
func NewLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.Out = os.Stderr
	log.Formatter = newConsoleFormatter()

	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		parsed = logrus.InfoLevel
	}
	log.Level = parsed
	return log
}

func newConsoleFormatter() *prefixed.TextFormatter {
	f := &prefixed.TextFormatter{}
	f.FullTimestamp = true
	f.TimestampFormat = "2006-01-02 15:04:05 MST"
	return f
}
