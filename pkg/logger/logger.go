// Package logger wraps logrus with optional file output and rotation.
// Init configures both the package Logger and the global logrus instance so
// component loggers created via logrus.WithField share the same sinks.
package logger

import (
	"io"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Logger is the shared instance configured by Init.
var Logger = logrus.New()

// Config holds the logging settings.
type Config struct {
	Level      string `yaml:"level" json:"level"`           // debug, info, warn, error
	OutputFile string `yaml:"outputFile" json:"outputFile"` // empty: console only
	MaxSizeMB  int    `yaml:"maxSizeMb" json:"maxSizeMb"`
	MaxBackups int    `yaml:"maxBackups" json:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays" json:"maxAgeDays"`
	Compress   bool   `yaml:"compress" json:"compress"`
}

// Init configures level, format and output sinks.
func Init(cfg Config) error {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}

	formatter := &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05",
	}

	writers := []io.Writer{os.Stdout}
	if cfg.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.OutputFile), 0o755); err != nil {
			return err
		}
		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.OutputFile,
			MaxSize:    orDefault(cfg.MaxSizeMB, 100),
			MaxBackups: orDefault(cfg.MaxBackups, 3),
			MaxAge:     orDefault(cfg.MaxAgeDays, 7),
			Compress:   cfg.Compress,
		})
	}
	out := io.MultiWriter(writers...)

	Logger.SetLevel(level)
	Logger.SetFormatter(formatter)
	Logger.SetOutput(out)

	// component loggers use the global logrus instance
	logrus.SetLevel(level)
	logrus.SetFormatter(formatter)
	logrus.SetOutput(out)
	return nil
}

func orDefault(v, def int) int {
	if v <= 0 {
		return def
	}
	return v
}

func Debugf(format string, args ...interface{}) { Logger.Debugf(format, args...) }
func Infof(format string, args ...interface{})  { Logger.Infof(format, args...) }
func Warnf(format string, args ...interface{})  { Logger.Warnf(format, args...) }
func Errorf(format string, args ...interface{}) { Logger.Errorf(format, args...) }

// WithField creates a tagged entry on the shared logger.
func WithField(key string, value interface{}) *logrus.Entry {
	return Logger.WithField(key, value)
}
