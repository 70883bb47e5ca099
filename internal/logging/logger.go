package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/mohammad-safakhou/yurei/config"
)

// Logger is the structured logger handed to every component.
type Logger = logrus.FieldLogger

// New creates a logger configured from the log section. Unknown levels fall
// back to info.
func New(cfg config.LogConfig) *logrus.Logger {
	return newWithWriter(cfg, os.Stderr)
}

func newWithWriter(cfg config.LogConfig, w io.Writer) *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(w)
	if strings.EqualFold(cfg.Format, "text") {
		logger.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		logger.SetFormatter(&logrus.JSONFormatter{})
	}
	level, err := logrus.ParseLevel(strings.TrimSpace(cfg.Level))
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)
	return logger
}

// WithService returns an entry that tags every line with the service name.
func WithService(logger *logrus.Logger, service string) Logger {
	return logger.WithField("service", service)
}

// Discard returns a logger that drops everything.
func Discard() Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}
