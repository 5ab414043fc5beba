// Package logging wraps logrus behind the Logger interface shared by the
// scheduler, task queue, and orchestrator: Infof/Warnf/Errorf plus WithField.
// The printf-style methods mirror logrus's, but WithField returns a Logger,
// so a *logrus.Logger does not itself satisfy the interface.
package logging

import (
	"io"
	"os"

	"github.com/retrack/retrack/config"
	"github.com/sirupsen/logrus"
)

// Logger is a minimal logging interface, implemented over a logrus.Entry.
type Logger interface {
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
	WithField(key string, value any) Logger
}

type logrusLogger struct {
	entry *logrus.Entry
}

// New builds a Logger from the process log configuration: level, format
// (json or text), and optional file output alongside stderr.
func New(cfg config.LogConfig) (Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	base.SetLevel(level)

	if cfg.Format == "text" {
		base.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	} else {
		base.SetFormatter(&logrus.JSONFormatter{})
	}

	out := io.Writer(os.Stderr)
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return nil, err
		}
		out = io.MultiWriter(os.Stderr, f)
	}
	base.SetOutput(out)

	return &logrusLogger{entry: logrus.NewEntry(base)}, nil
}

// NewDefault builds a Logger with info-level JSON output to stderr, for
// tests and command-line tools that do not load a full AppConfig.
func NewDefault() Logger {
	l, _ := New(config.LogConfig{Level: "info", Format: "json"})
	return l
}

func (l *logrusLogger) Infof(format string, args ...any)  { l.entry.Infof(format, args...) }
func (l *logrusLogger) Warnf(format string, args ...any)  { l.entry.Warnf(format, args...) }
func (l *logrusLogger) Errorf(format string, args ...any) { l.entry.Errorf(format, args...) }

func (l *logrusLogger) WithField(key string, value any) Logger {
	return &logrusLogger{entry: l.entry.WithField(key, value)}
}
