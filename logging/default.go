package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

const (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorYellow = "\033[33m"
	colorBold   = "\033[1m"
)

// componentKey is rendered as a line prefix instead of a key=value pair
const componentKey = "component"

var levelColors = map[Level]string{
	WarnLevel:  colorYellow,
	ErrorLevel: colorRed,
	FatalLevel: colorBold + colorRed,
}

// sink is shared by a logger and everything derived from it, so SetLevel
// on any of them applies to all.
type sink struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	level  atomic.Int32
	colors bool
	exit   func(code int)
	now    func() time.Time
}

func (s *sink) writer(level Level) io.Writer {
	if level >= WarnLevel {
		return s.errOut
	}
	return s.out
}

func (s *sink) write(level Level, line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = io.WriteString(s.writer(level), line)
}

// DefaultLogger writes one line per entry:
//
//	2026/01/02 15:04:05.000000 [WARN] serial_link: Failed to open serial port error="..." port=/dev/ttyACM0
//
// Debug and Info go to out; Warn and above go to errOut, colored when enabled.
type DefaultLogger struct {
	sink   *sink
	fields Fields
}

// NewDefaultLogger logs to stdout/stderr, colored when stdout is a terminal
func NewDefaultLogger() *DefaultLogger {
	return NewLogger(os.Stdout, os.Stderr, isTerminal(os.Stdout))
}

func NewDefaultLoggerNoColor() *DefaultLogger {
	return NewLogger(os.Stdout, os.Stderr, false)
}

// NewLogger builds a logger at InfoLevel over the given writers
func NewLogger(out, errOut io.Writer, useColors bool) *DefaultLogger {
	s := &sink{
		out:    out,
		errOut: errOut,
		colors: useColors,
		exit:   os.Exit,
		now:    time.Now,
	}
	s.level.Store(int32(InfoLevel))
	return &DefaultLogger{sink: s, fields: Fields{}}
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return info.Mode()&os.ModeCharDevice != 0
}

func (d *DefaultLogger) enabled(level Level) bool {
	return level >= Level(d.sink.level.Load())
}

func (d *DefaultLogger) entry(level Level, err error, msg string, extra []Fields) {
	if !d.enabled(level) {
		return
	}

	fields := d.fields
	if len(extra) > 0 {
		fields = fields.Merge(extra...)
	}

	var b strings.Builder
	b.WriteString(d.sink.now().Format("2006/01/02 15:04:05.000000"))
	b.WriteByte(' ')

	color := ""
	if d.sink.colors {
		color = levelColors[level]
	}
	b.WriteString(color)
	b.WriteString("[" + level.String() + "] ")
	if c, ok := fields[componentKey]; ok {
		fmt.Fprintf(&b, "%v: ", c)
	}
	b.WriteString(msg)
	if err != nil {
		b.WriteString(": " + err.Error())
	}
	writeFields(&b, fields)
	if color != "" {
		b.WriteString(colorReset)
	}
	b.WriteByte('\n')

	d.sink.write(level, b.String())
	if level == FatalLevel {
		d.sink.exit(1)
	}
}

// writeFields appends " key=value" for every field but the component, in key
// order. Values containing spaces are quoted.
func writeFields(b *strings.Builder, fields Fields) {
	keys := make([]string, 0, len(fields))
	for k := range fields {
		if k != componentKey {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)

	for _, k := range keys {
		v := fmt.Sprint(fields[k])
		if strings.ContainsAny(v, " \t\"") {
			v = fmt.Sprintf("%q", v)
		}
		b.WriteString(" " + k + "=" + v)
	}
}

func (d *DefaultLogger) Debug(msg string, fields ...Fields) {
	d.entry(DebugLevel, nil, msg, fields)
}

func (d *DefaultLogger) Info(msg string, fields ...Fields) {
	d.entry(InfoLevel, nil, msg, fields)
}

func (d *DefaultLogger) Warn(msg string, fields ...Fields) {
	d.entry(WarnLevel, nil, msg, fields)
}

func (d *DefaultLogger) Error(err error, msg string, fields ...Fields) {
	d.entry(ErrorLevel, err, msg, fields)
}

// Fatal logs and then terminates the process with status 1
func (d *DefaultLogger) Fatal(err error, msg string, fields ...Fields) {
	d.entry(FatalLevel, err, msg, fields)
}

func (d *DefaultLogger) WithFields(fields Fields) Logger {
	return &DefaultLogger{sink: d.sink, fields: d.fields.Merge(fields)}
}

func (d *DefaultLogger) WithContext(ctx context.Context) Logger {
	fields, ok := fieldsFromContext(ctx)
	if !ok {
		return d
	}
	return d.WithFields(fields)
}

func (d *DefaultLogger) SetLevel(level Level) {
	d.sink.level.Store(int32(level))
}

// NoOpLogger discards everything
type NoOpLogger struct{}

func (n *NoOpLogger) Debug(string, ...Fields)            {}
func (n *NoOpLogger) Info(string, ...Fields)             {}
func (n *NoOpLogger) Warn(string, ...Fields)             {}
func (n *NoOpLogger) Error(error, string, ...Fields)     {}
func (n *NoOpLogger) Fatal(error, string, ...Fields)     {}
func (n *NoOpLogger) WithFields(Fields) Logger           { return n }
func (n *NoOpLogger) WithContext(context.Context) Logger { return n }
func (n *NoOpLogger) SetLevel(Level)                     {}
