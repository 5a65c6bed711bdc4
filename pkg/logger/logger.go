// Package logger provides structured logging for GameServer Doctor using Logrus.
// It supports both JSON and text formats, multiple log levels, and structured field logging.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/sirupsen/logrus"
)

// Global logger instance
var (
	log            *logrus.Logger
	mu             sync.Mutex
	currentLogFile io.Closer
)

// init creates a default logger instance
func init() {
	log = logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})
	log.SetOutput(os.Stdout)
}

// Initialize sets up the global logger with the specified configuration.
// This function is thread-safe and can be called multiple times.
// Parameters:
//   - level: Log level (debug, info, warn, error, fatal)
//   - format: Output format (json, text)
//   - output: Output destination (stdout, stderr, file)
//   - outputFile: File path when output is "file"
func Initialize(level, format, output, outputFile string) error {
	mu.Lock()
	defer mu.Unlock()

	// Close existing file if re-initializing
	if currentLogFile != nil {
		if err := currentLogFile.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "Warning: failed to close previous log file: %v\n", err)
		}
		currentLogFile = nil
	}

	lvl, err := logrus.ParseLevel(level)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}

	newLog := logrus.New()
	newLog.SetLevel(lvl)

	switch format {
	case "json":
		newLog.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02T15:04:05.000Z07:00",
		})
	case "text":
		newLog.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	default:
		return fmt.Errorf("invalid log format %q: must be json or text", format)
	}

	switch output {
	case "stdout":
		newLog.SetOutput(os.Stdout)
	case "stderr":
		newLog.SetOutput(os.Stderr)
	case "file":
		if outputFile == "" {
			return fmt.Errorf("logFile must be specified when logOutput is 'file'")
		}
		file, err := os.OpenFile(outputFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("failed to open log file %q: %w", outputFile, err)
		}
		currentLogFile = file
		newLog.SetOutput(file)
	default:
		return fmt.Errorf("invalid log output %q: must be stdout, stderr, or file", output)
	}

	log = newLog
	return nil
}

// Get returns the global logger instance
func Get() *logrus.Logger {
	return log
}

// WithFields returns a logger entry with structured fields.
// Use this to add context to log messages:
//
//	logger.WithFields(logrus.Fields{
//	    "component": "supervisor",
//	    "server": "srv-42",
//	}).Info("Monitor loop started")
func WithFields(fields logrus.Fields) *logrus.Entry {
	return log.WithFields(fields)
}

// WithField returns a logger entry with a single structured field
func WithField(key string, value interface{}) *logrus.Entry {
	return log.WithField(key, value)
}

// WithError returns a logger entry with an error field
func WithError(err error) *logrus.Entry {
	return log.WithError(err)
}

// Debugf logs a formatted message at level Debug
func Debugf(format string, args ...interface{}) {
	log.Debugf(format, args...)
}

// Infof logs a formatted message at level Info
func Infof(format string, args ...interface{}) {
	log.Infof(format, args...)
}

// Warnf logs a formatted message at level Warn
func Warnf(format string, args ...interface{}) {
	log.Warnf(format, args...)
}

// Errorf logs a formatted message at level Error
func Errorf(format string, args ...interface{}) {
	log.Errorf(format, args...)
}

// Fatalf logs a formatted message at level Fatal then calls os.Exit(1)
func Fatalf(format string, args ...interface{}) {
	log.Fatalf(format, args...)
}

// Close closes the log file if one is open. Safe to call multiple times.
func Close() error {
	mu.Lock()
	defer mu.Unlock()

	if currentLogFile != nil {
		err := currentLogFile.Close()
		currentLogFile = nil
		return err
	}
	return nil
}
