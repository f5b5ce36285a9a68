// Package logging builds the process logger.
package logging

import (
	"fmt"
	"io"
	"os"

	"github.com/sirupsen/logrus"

	"docqa/internal/domain"
)

type Config struct {
	Level  string
	Format string
	// Output defaults to stderr.
	Output io.Writer
}

// New returns a logger with the configured level and formatter ("text" or "json").
func New(cfg Config) (*logrus.Logger, error) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: logging.level: %v", domain.ErrConfiguration, err)
	}

	log := logrus.New()
	log.SetLevel(level)
	if cfg.Output != nil {
		log.SetOutput(cfg.Output)
	} else {
		log.SetOutput(os.Stderr)
	}

	switch cfg.Format {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{})
	default:
		return nil, fmt.Errorf("%w: logging.format %q is not text or json", domain.ErrConfiguration, cfg.Format)
	}
	return log, nil
}

// Discard returns a logger that drops everything.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
