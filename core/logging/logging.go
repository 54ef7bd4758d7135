// Package logging builds the process logger and gives core packages a safe
// default when callers pass no logger.
package logging

import (
	"io"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const CorrelationField = "correlation_id"

// New returns a text logger writing to out. Every entry carries a fresh
// correlation id so one invocation's lines can be grouped.
func New(out io.Writer, verbose bool) *logrus.Entry {
	logger := logrus.New()
	logger.SetOutput(out)
	logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	logger.SetLevel(logrus.InfoLevel)
	if verbose {
		logger.SetLevel(logrus.DebugLevel)
	}
	return logger.WithField(CorrelationField, uuid.NewString())
}

// OrDiscard returns logger, or a logger that drops everything when it is nil.
func OrDiscard(logger logrus.FieldLogger) logrus.FieldLogger {
	if logger != nil {
		return logger
	}
	discard := logrus.New()
	discard.SetOutput(io.Discard)
	return discard
}
