package logging

import (
	"context"
	"fmt"
	"maps"
	"strings"
	"sync"
)

// Level orders log severity; a logger drops anything below its level.
type Level int

const (
	DebugLevel Level = iota
	InfoLevel
	WarnLevel
	ErrorLevel
	FatalLevel
)

var levelNames = [...]string{
	DebugLevel: "DEBUG",
	InfoLevel:  "INFO",
	WarnLevel:  "WARN",
	ErrorLevel: "ERROR",
	FatalLevel: "FATAL",
}

func (l Level) String() string {
	if l < DebugLevel || l > FatalLevel {
		return "UNKNOWN"
	}
	return levelNames[l]
}

// ParseLevel accepts the level names case-insensitively, plus "warning".
// An empty name means info.
func ParseLevel(name string) (Level, error) {
	upper := strings.ToUpper(strings.TrimSpace(name))
	switch upper {
	case "":
		return InfoLevel, nil
	case "WARNING":
		return WarnLevel, nil
	}
	for l, n := range levelNames {
		if n == upper {
			return Level(l), nil
		}
	}
	return InfoLevel, fmt.Errorf("unknown log level %q", name)
}

// Fields are key/value pairs attached to a log line
type Fields map[string]any

// Merge returns a new map holding f overlaid with each of others in turn
func (f Fields) Merge(others ...Fields) Fields {
	out := make(Fields, len(f))
	maps.Copy(out, f)
	for _, o := range others {
		maps.Copy(out, o)
	}
	return out
}

// Logger is what every package in this module logs through
type Logger interface {
	Debug(msg string, fields ...Fields)
	Info(msg string, fields ...Fields)
	Warn(msg string, fields ...Fields)
	Error(err error, msg string, fields ...Fields)
	Fatal(err error, msg string, fields ...Fields)

	WithFields(fields Fields) Logger
	WithContext(ctx context.Context) Logger

	SetLevel(level Level)
}

type contextKey struct{}

// ContextWithFields attaches fields to ctx for WithContext to pick up.
// Fields already on ctx are kept unless overridden.
func ContextWithFields(ctx context.Context, fields Fields) context.Context {
	if existing, ok := fieldsFromContext(ctx); ok {
		fields = existing.Merge(fields)
	}
	return context.WithValue(ctx, contextKey{}, fields)
}

func fieldsFromContext(ctx context.Context) (Fields, bool) {
	if ctx == nil {
		return nil, false
	}
	fields, ok := ctx.Value(contextKey{}).(Fields)
	return fields, ok
}

var (
	globalMu     sync.RWMutex
	globalLogger Logger = NewDefaultLogger()
)

// SetGlobalLogger replaces the process-wide logger. nil installs a NoOpLogger.
func SetGlobalLogger(logger Logger) {
	if logger == nil {
		logger = &NoOpLogger{}
	}
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

func GetGlobalLogger() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

func Debug(msg string, fields ...Fields) { GetGlobalLogger().Debug(msg, fields...) }
func Info(msg string, fields ...Fields)  { GetGlobalLogger().Info(msg, fields...) }
func Warn(msg string, fields ...Fields)  { GetGlobalLogger().Warn(msg, fields...) }

func Error(err error, msg string, fields ...Fields) {
	GetGlobalLogger().Error(err, msg, fields...)
}

func Fatal(err error, msg string, fields ...Fields) {
	GetGlobalLogger().Fatal(err, msg, fields...)
}

// WithFields derives from the global logger at call time; later
// SetGlobalLogger calls do not affect the returned logger.
func WithFields(fields Fields) Logger {
	return GetGlobalLogger().WithFields(fields)
}

func WithContext(ctx context.Context) Logger {
	return GetGlobalLogger().WithContext(ctx)
}

func SetLevel(level Level) {
	GetGlobalLogger().SetLevel(level)
}
