package logger

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
)

// New builds a logger from level, format ("json" or "text") and output ("stdout", "stderr" or a file path).
func New(level, format, output string) (*logrus.Logger, error) {
	log := logrus.New()

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	log.SetLevel(lvl)

	if format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch output {
	case "", "stdout":
		log.SetOutput(os.Stdout)
	case "stderr":
		log.SetOutput(os.Stderr)
	default:
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, err
		}
		log.SetOutput(file)
	}

	return log, nil
}

// Discard returns a logger that drops everything. Used by tests.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

// Component tags a logger with the component name used across the codebase.
func Component(log logrus.FieldLogger, name string) logrus.FieldLogger {
	if log == nil {
		log = Discard()
	}
	return log.WithField("component", name)
}
