package logging

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"fpsarena/server/internal/config"
)

var (
	globalMu     sync.RWMutex
	globalLogger = newNopLogger()
)

// Level represents log verbosity ordering.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{"debug", "info", "warn", "error", "fatal"}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "info"
	}
	return levelNames[l]
}

// ParseLevel maps a configured level name onto a Level.
func ParseLevel(raw string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "debug":
		return DebugLevel, nil
	case "info", "":
		return InfoLevel, nil
	case "warn", "warning":
		return WarnLevel, nil
	case "error":
		return ErrorLevel, nil
	case "fatal":
		return FatalLevel, nil
	default:
		return InfoLevel, fmt.Errorf("unknown log level %q", raw)
	}
}

// Field represents a structured logging attribute.
type Field struct {
	Key   string
	Value any
}

func String(key, value string) Field { return Field{Key: key, Value: value} }
func Int(key string, value int) Field { return Field{Key: key, Value: value} }
func Int64(key string, value int64) Field { return Field{Key: key, Value: value} }
func Uint64(key string, value uint64) Field { return Field{Key: key, Value: value} }
func Bool(key string, value bool) Field { return Field{Key: key, Value: value} }
func Float64(key string, value float64) Field { return Field{Key: key, Value: value} }
func Strings(key string, values []string) Field { return Field{Key: key, Value: values} }

// Duration renders the value in milliseconds so log consumers can aggregate it.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key + "_ms", Value: float64(value) / float64(time.Millisecond)}
}

// Error stores the error message under the "error" key.
func Error(err error) Field {
	if err == nil {
		return Field{Key: "error", Value: nil}
	}
	return Field{Key: "error", Value: err.Error()}
}

// Logger emits one JSON object per line with inherited contextual fields.
type Logger struct {
	mu     *sync.Mutex
	level  Level
	writer syncWriter
	fields map[string]any
	exit   func(int)
}

type syncWriter interface {
	io.Writer
	Sync() error
}

type teeWriter []syncWriter

func (t teeWriter) Write(p []byte) (int, error) {
	for _, w := range t {
		if _, err := w.Write(p); err != nil {
			return 0, err
		}
	}
	return len(p), nil
}

func (t teeWriter) Sync() error {
	var errs []error
	for _, w := range t {
		if err := w.Sync(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// New builds the process logger: a rotating file mirrored to stdout.
func New(cfg config.LoggingConfig) (*Logger, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("logging path must be specified")
	}
	level, err := ParseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	file, err := newRotatingWriter(cfg)
	if err != nil {
		return nil, err
	}
	logger := NewWithWriter(teeWriter{file, os.Stdout}, level)
	ReplaceGlobals(logger)
	return logger, nil
}

// NewWithWriter logs to an arbitrary writer; used by tools and tests that
// want to inspect output.
func NewWithWriter(w io.Writer, level Level) *Logger {
	sw, ok := w.(syncWriter)
	if !ok {
		sw = nopSync{w}
	}
	return &Logger{
		mu:     &sync.Mutex{},
		level:  level,
		writer: sw,
		fields: map[string]any{"service": "arena"},
		exit:   os.Exit,
	}
}

// NewTestLogger returns a logger that discards output.
func NewTestLogger() *Logger {
	return newNopLogger()
}

func newNopLogger() *Logger {
	return &Logger{
		mu:     &sync.Mutex{},
		level:  DebugLevel,
		writer: nopSync{io.Discard},
		fields: make(map[string]any),
		exit:   os.Exit,
	}
}

// ReplaceGlobals swaps the fallback logger used by nil receivers.
func ReplaceGlobals(logger *Logger) {
	if logger == nil {
		return
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// L returns the current global logger.
func L() *Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

// With returns a child logger carrying the extra fields. The child shares
// the parent's writer and lock.
func (l *Logger) With(fields ...Field) *Logger {
	if l == nil {
		return L().With(fields...)
	}
	clone := &Logger{
		mu:     l.mu,
		level:  l.level,
		writer: l.writer,
		fields: make(map[string]any, len(l.fields)+len(fields)),
		exit:   l.exit,
	}
	for k, v := range l.fields {
		clone.fields[k] = v
	}
	for _, field := range fields {
		clone.fields[field.Key] = field.Value
	}
	return clone
}

// Enabled reports whether messages at level would be written.
func (l *Logger) Enabled(level Level) bool {
	if l == nil {
		return L().Enabled(level)
	}
	return level >= l.level
}

// Sync flushes buffered output.
func (l *Logger) Sync() error {
	if l == nil || l.writer == nil {
		return nil
	}
	return l.writer.Sync()
}

func (l *Logger) Debug(message string, fields ...Field) { l.log(DebugLevel, message, fields...) }
func (l *Logger) Info(message string, fields ...Field) { l.log(InfoLevel, message, fields...) }
func (l *Logger) Warn(message string, fields ...Field) { l.log(WarnLevel, message, fields...) }
func (l *Logger) Error(message string, fields ...Field) { l.log(ErrorLevel, message, fields...) }

// Fatal logs and terminates the process.
func (l *Logger) Fatal(message string, fields ...Field) { l.log(FatalLevel, message, fields...) }

func (l *Logger) log(level Level, message string, fields ...Field) {
	if l == nil {
		L().log(level, message, fields...)
		return
	}
	if level < l.level {
		return
	}
	entry := make(map[string]any, len(l.fields)+len(fields)+3)
	for k, v := range l.fields {
		entry[k] = v
	}
	for _, field := range fields {
		entry[field.Key] = field.Value
	}
	entry["timestamp"] = time.Now().UTC().Format(time.RFC3339Nano)
	entry["level"] = level.String()
	entry["message"] = message
	line, err := json.Marshal(entry)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	_, _ = l.writer.Write(append(line, '\n'))
	if level == FatalLevel {
		_ = l.writer.Sync()
		l.exit(1)
	}
}

type nopSync struct{ io.Writer }

func (nopSync) Sync() error { return nil }
