package logger

import (
	"fmt"
	"os"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Log is usable before Init so packages can log from tests.
var Log = logrus.New()

// Init configures level, format (text|json) and output (stdout, stderr or a
// file path rotated by lumberjack).
func Init(level, format, output string) error {
	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("log level: %w", err)
	}
	Log.SetLevel(lvl)

	if format == "json" {
		Log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		Log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	switch output {
	case "", "stdout":
		Log.SetOutput(os.Stdout)
	case "stderr":
		Log.SetOutput(os.Stderr)
	default:
		Log.SetOutput(&lumberjack.Logger{
			Filename:   output,
			MaxSize:    100,
			MaxBackups: 7,
			MaxAge:     28,
			Compress:   true,
		})
	}

	return nil
}

func WithFields(fields logrus.Fields) *logrus.Entry {
	return Log.WithFields(fields)
}

func Info(args ...interface{}) {
	Log.Info(args...)
}

func Infof(format string, args ...interface{}) {
	Log.Infof(format, args...)
}

func Error(args ...interface{}) {
	Log.Error(args...)
}

func Warn(args ...interface{}) {
	Log.Warn(args...)
}

func Fatalf(format string, args ...interface{}) {
	Log.Fatalf(format, args...)
}
