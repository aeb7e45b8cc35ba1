package appcli

import (
	"io"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// NewLogger builds the CLI logger. With LogFile set, output goes to a
// rotating file instead of stderr; the returned closer releases it.
func NewLogger(cfg Config) (*logrus.Logger, io.Closer) {
	l := logrus.New()
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.WarnLevel
	}
	l.SetLevel(level)

	if cfg.LogFile == "" {
		l.SetOutput(os.Stderr)
		return l, io.NopCloser(nil)
	}
	rot := &lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    10, // megabytes
		MaxBackups: 3,
		MaxAge:     28, // days
	}
	l.SetOutput(rot)
	l.SetFormatter(&logrus.JSONFormatter{})
	return l, rot
}
