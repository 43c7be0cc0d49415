// Package logger provides levelled logging for forgebridge.
// Debug and info messages are only written in verbose mode; warnings and
// errors are always written. Output goes to stderr unless redirected.
package logger

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

var (
	mu      sync.RWMutex
	verbose bool
	log     = newLogger(os.Stderr)
)

func newLogger(w io.Writer) *logrus.Logger {
	l := logrus.New()
	l.SetOutput(w)
	l.SetFormatter(prefixFormatter{})
	l.SetLevel(logrus.WarnLevel)
	return l
}

// prefixFormatter renders "[LEVEL] message key=value ...".
type prefixFormatter struct{}

func (prefixFormatter) Format(e *logrus.Entry) ([]byte, error) {
	var b bytes.Buffer
	b.WriteString("[")
	b.WriteString(strings.ToUpper(levelName(e.Level)))
	b.WriteString("] ")
	b.WriteString(e.Message)

	keys := make([]string, 0, len(e.Data))
	for k := range e.Data {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		fmt.Fprintf(&b, " %s=%v", k, e.Data[k])
	}
	b.WriteByte('\n')
	return b.Bytes(), nil
}

func levelName(l logrus.Level) string {
	if l == logrus.WarnLevel {
		return "warn"
	}
	return l.String()
}

// SetVerbose enables or disables verbose logging.
func SetVerbose(v bool) {
	mu.Lock()
	defer mu.Unlock()
	verbose = v
	if v {
		log.SetLevel(logrus.DebugLevel)
	} else {
		log.SetLevel(logrus.WarnLevel)
	}
}

// IsVerbose returns true if verbose mode is enabled.
func IsVerbose() bool {
	mu.RLock()
	defer mu.RUnlock()
	return verbose
}

// SetOutput sets the output writer.
// Defaults to os.Stderr. Useful for testing.
func SetOutput(w io.Writer) {
	mu.Lock()
	defer mu.Unlock()
	log.SetOutput(w)
}

// Debug logs a message if verbose mode is enabled.
func Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Debugf(format, args...)
}

// Section prints a section header if verbose mode is enabled.
func Section(name string) {
	mu.RLock()
	defer mu.RUnlock()
	log.Infof("=== %s ===", name)
}

// Info logs an informational message if verbose mode is enabled.
func Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Infof(format, args...)
}

// Warn logs a warning.
func Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Warnf(format, args...)
}

// Error logs an error.
func Error(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	log.Errorf(format, args...)
}

// Entry is a logger carrying structured fields.
type Entry struct {
	entry *logrus.Entry
}

// WithFields returns an entry that appends fields to every message.
func WithFields(fields map[string]any) *Entry {
	return &Entry{entry: log.WithFields(logrus.Fields(fields))}
}

// Debug logs at debug level.
func (e *Entry) Debug(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	e.entry.Debugf(format, args...)
}

// Info logs at info level.
func (e *Entry) Info(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	e.entry.Infof(format, args...)
}

// Warn logs at warn level.
func (e *Entry) Warn(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	e.entry.Warnf(format, args...)
}

// Error logs at error level.
func (e *Entry) Error(format string, args ...any) {
	mu.RLock()
	defer mu.RUnlock()
	e.entry.Errorf(format, args...)
}
