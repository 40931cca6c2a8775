// Package logger provides the client's structured logger.
//
// Every subsystem gets its own tagged entry the same way the teacher code
// calls logger.New("session") or logger.New("peer <- "+addr): a component
// name that shows up on every line so a run's log can be grepped by
// subsystem.
package logger

import (
	"os"

	"github.com/sirupsen/logrus"
)

var root = logrus.New()

func init() {
	root.SetOutput(os.Stderr)
	root.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	if lvl, err := logrus.ParseLevel(os.Getenv("BT_LOG_LEVEL")); err == nil {
		root.SetLevel(lvl)
	} else {
		root.SetLevel(logrus.InfoLevel)
	}
}

// SetLevel overrides the level derived from BT_LOG_LEVEL.
func SetLevel(lvl logrus.Level) {
	root.SetLevel(lvl)
}

// New returns a logger tagged with the given component name.
func New(component string) *logrus.Entry {
	return root.WithField("component", component)
}
