// Package logging builds the logrus logger shared by every component.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
)

type Options struct {
	Level  string // panic, fatal, error, warn, info, debug, trace
	Format string // text or json
	Output io.Writer
}

// New returns a logger configured from opts. Logs go to stderr unless
// Output is set, so they never interleave with answers printed on stdout.
func New(opts Options) (*logrus.Logger, error) {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	if opts.Output != nil {
		log.SetOutput(opts.Output)
	}

	level := logrus.InfoLevel
	if opts.Level != "" {
		l, err := logrus.ParseLevel(opts.Level)
		if err != nil {
			return nil, err
		}
		level = l
	}
	log.SetLevel(level)

	switch strings.ToLower(opts.Format) {
	case "", "text":
		log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	case "json":
		log.SetFormatter(&logrus.JSONFormatter{
			FieldMap: logrus.FieldMap{
				logrus.FieldKeyTime: "timestamp",
				logrus.FieldKeyMsg:  "message",
			},
		})
	default:
		return nil, fmt.Errorf("unknown log format %q", opts.Format)
	}
	return log, nil
}

// Discard returns a logger that drops everything. Used by tests and by
// components constructed without a logger.
func Discard() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}
