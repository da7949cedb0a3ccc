package config

import (
	"os"

	"github.com/sirupsen/logrus"
)

// Logger is the shared application logger.
var Logger *logrus.Logger

// NewLoggerService initializes the global logger. The level comes from
// the LOG_LEVEL environment variable and defaults to info.
func NewLoggerService() {
	Logger = logrus.New()
	Logger.SetOutput(os.Stdout)
	Logger.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	level, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL"))
	if err != nil {
		level = logrus.InfoLevel
	}
	Logger.SetLevel(level)
}
