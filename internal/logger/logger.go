package logger

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

var Logger *logrus.Logger

func init() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	Logger.SetLevel(logrus.InfoLevel)

	// LOG_LEVEL=debug wins until the configuration is loaded
	if level := os.Getenv("LOG_LEVEL"); level != "" {
		if parsedLevel, err := logrus.ParseLevel(strings.ToLower(level)); err == nil {
			Logger.SetLevel(parsedLevel)
		}
	}
}

// WithComponent adds a component field to the logger
func WithComponent(component string) *logrus.Entry {
	return Logger.WithField("component", component)
}

// ApplyLevel sets the global level from a configuration string.
// An empty or unknown level leaves the current level untouched and is reported as false.
func ApplyLevel(level string) bool {
	if level == "" {
		return false
	}
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		return false
	}
	Logger.SetLevel(parsed)
	return true
}
