package utils

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// NewLogger creates the application logger. Production output is JSON so
// that fields such as buyerUid and itemId are searchable; development output
// stays human readable.
func NewLogger(level string, jsonOutput bool) *logrus.Logger {
	return newLogger(os.Stdout, level, jsonOutput)
}

// NewDiscardLogger returns a logger that drops everything, for tests
func NewDiscardLogger() *logrus.Logger {
	return newLogger(io.Discard, "panic", false)
}

func newLogger(out io.Writer, level string, jsonOutput bool) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	logger.SetLevel(lvl)

	if jsonOutput {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	}
	return logger
}
