package logger

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger is the process-wide logging facade, backed by logrus.
//
// The plain functions (Debug/Info/Warn/Error) log with printf-style
// formatting. The X variants tag the entry with a module name so that
// output from different services can be filtered.
var (
	mu  sync.RWMutex
	log = newDefault()
)

func newDefault() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(os.Stderr)
	l.SetLevel(logrus.InfoLevel)
	l.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05.000",
	})
	return l
}

// SetLevel sets the global log level by name (debug/info/warn/error).
// Unknown names leave the level unchanged.
func SetLevel(level string) {
	parsed, err := logrus.ParseLevel(strings.ToLower(level))
	if err != nil {
		Warn("unknown log level %q, keeping current level", level)
		return
	}
	mu.Lock()
	defer mu.Unlock()
	log.SetLevel(parsed)
}

// SetOutput redirects log output (used by tests and the daemon).
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(w)
}

func Debug(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.Debugf(format, args...)
}

func Info(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.Infof(format, args...)
}

func Warn(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.Warnf(format, args...)
}

func Error(format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.Errorf(format, args...)
}

// DebugX logs a debug entry tagged with a module name.
func DebugX(module string, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.WithField("module", module).Debug(fmt.Sprintf(format, args...))
}

// InfoX logs an info entry tagged with a module name.
func InfoX(module string, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.WithField("module", module).Info(fmt.Sprintf(format, args...))
}

// WarnX logs a warning entry tagged with a module name.
func WarnX(module string, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.WithField("module", module).Warn(fmt.Sprintf(format, args...))
}

// ErrorX logs an error entry tagged with a module name.
func ErrorX(module string, format string, args ...interface{}) {
	mu.RLock()
	defer mu.RUnlock()
	log.WithField("module", module).Error(fmt.Sprintf(format, args...))
}
