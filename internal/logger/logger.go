// Package logger builds the logrus logger used by the node-dmx tools.
package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
)

// New creates a logger writing to stdout with full timestamps. The
// level string follows logrus ("debug", "info", "warn", "error").
func New(level string) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stdout)
	log.Formatter = &logrus.TextFormatter{
		TimestampFormat:  "2006-01-02 15:04:05.0000",
		FullTimestamp:    true,
		QuoteEmptyFields: true,
	}

	if level == "" {
		level = "info"
	}
	parsed, err := logrus.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("logger: invalid level %q: %w", level, err)
	}
	log.SetLevel(parsed)
	return log, nil
}
