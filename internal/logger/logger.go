// Package logger builds the structured loggers shared by every component.
package logger

import (
	"io"
	"os"
	"strings"

	"github.com/charmbracelet/log"
)

// New returns a root logger writing to w at the named level.
// Unknown levels fall back to info.
func New(w io.Writer, level string) *log.Logger {
	if w == nil {
		w = os.Stderr
	}
	l := log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
	})
	l.SetLevel(ParseLevel(level))
	return l
}

// ParseLevel maps a configured level name to a log level.
func ParseLevel(level string) log.Level {
	lvl, err := log.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return log.InfoLevel
	}
	return lvl
}

// Discard returns a logger that drops everything, for tests.
func Discard() *log.Logger {
	l := log.New(io.Discard)
	l.SetLevel(log.FatalLevel)
	return l
}

// Component derives a prefixed child logger, tolerating a nil parent.
func Component(parent *log.Logger, name string) *log.Logger {
	if parent == nil {
		return Discard()
	}
	return parent.WithPrefix(name)
}
