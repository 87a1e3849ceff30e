package logging

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger wraps logrus with file rotation plus stdout output.
type Logger struct {
	log *logrus.Logger
}

// New creates a Logger writing to dir/gateway.log (rotated) and stdout.
// An empty dir disables the file sink.
func New(dir, level string) (*Logger, error) {
	l := logrus.New()
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		lvl = logrus.InfoLevel
	}
	l.SetLevel(lvl)

	var out io.Writer = os.Stdout
	if dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, err
		}
		rotated := &lumberjack.Logger{
			Filename:   filepath.Join(dir, "gateway.log"),
			MaxSize:    50, // megabytes
			MaxBackups: 5,
			MaxAge:     14, // days
			Compress:   true,
		}
		out = io.MultiWriter(rotated, os.Stdout)
	}
	l.SetOutput(out)

	return &Logger{log: l}, nil
}

// NewNop returns a logger that discards everything; used by tests.
func NewNop() *Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return &Logger{log: l}
}

func (l *Logger) Debugf(format string, args ...any) { l.log.Debugf(format, args...) }
func (l *Logger) Infof(format string, args ...any)  { l.log.Infof(format, args...) }
func (l *Logger) Warnf(format string, args ...any)  { l.log.Warnf(format, args...) }
func (l *Logger) Errorf(format string, args ...any) { l.log.Errorf(format, args...) }
func (l *Logger) Fatalf(format string, args ...any) { l.log.Fatalf(format, args...) }

// WithField returns a logrus entry carrying a contextual field.
func (l *Logger) WithField(key string, value any) *logrus.Entry {
	return l.log.WithField(key, value)
}
