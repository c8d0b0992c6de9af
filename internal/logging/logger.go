package logging

import (
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

// Log is the process-wide logger configured by Init
var Log = logrus.StandardLogger()

// Init configures the standard logrus logger from the log level and format
func Init(level, format string) error {
	return Configure(Log, os.Stderr, level, format)
}

// Configure applies level and format to logger, writing to out
func Configure(logger *logrus.Logger, out io.Writer, level, format string) error {
	logger.SetOutput(out)

	lvl, err := logrus.ParseLevel(strings.ToLower(strings.TrimSpace(level)))
	if err != nil {
		return err
	}
	logger.SetLevel(lvl)

	if strings.EqualFold(format, "json") {
		logger.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logger.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
	return nil
}

// Component returns an entry tagged with the component name
func Component(name string) *logrus.Entry {
	return Log.WithField("component", name)
}
