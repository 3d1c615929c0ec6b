package logger

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"strings"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// Logger wraps zerolog with typed fields and an optional error collector.
// Children from With and Component share the parent's collector slot, so a
// collector attached later still sees their errors.
type Logger struct {
	zl   zerolog.Logger
	slot *collectorSlot
}

type collectorSlot struct {
	c atomic.Pointer[LogCollector]
}

type Config struct {
	Level      string // debug, info, warn, error
	Format     string // json or console
	Output     string // stdout, stderr or a file path
	TimeFormat string
}

func New(cfg *Config) (*Logger, error) {
	if err := SetLevel(cfg.Level); err != nil {
		return nil, err
	}

	var out io.Writer
	switch cfg.Output {
	case "", "stdout":
		out = os.Stdout
	case "stderr":
		out = os.Stderr
	default:
		f, err := os.OpenFile(cfg.Output, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open log file: %w", err)
		}
		out = f
	}

	tf := cfg.TimeFormat
	if tf == "" {
		tf = time.RFC3339Nano
	}
	zerolog.TimeFieldFormat = tf
	if cfg.Format == "console" {
		out = zerolog.ConsoleWriter{Out: out, TimeFormat: "15:04:05.000"}
	}

	return NewWithWriter(out), nil
}

// NewWithWriter builds a JSON logger on w. Tests use it to capture output.
func NewWithWriter(w io.Writer) *Logger {
	zl := zerolog.New(w).With().Timestamp().CallerWithSkipFrameCount(4).Logger()
	return &Logger{zl: zl, slot: &collectorSlot{}}
}

// SetLevel changes the process-wide level. Config reloads call it.
func SetLevel(level string) error {
	if level == "" {
		level = "info"
	}
	lvl, err := zerolog.ParseLevel(strings.ToLower(level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", level, err)
	}
	zerolog.SetGlobalLevel(lvl)
	return nil
}

func (l *Logger) Debug(msg string, fields ...Field) { l.write(l.zl.Debug(), msg, fields) }
func (l *Logger) Info(msg string, fields ...Field)  { l.write(l.zl.Info(), msg, fields) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.write(l.zl.Warn(), msg, fields) }

// Error logs and, when a collector is attached, queues the entry for the digest.
func (l *Logger) Error(msg string, fields ...Field) {
	l.write(l.zl.Error(), msg, fields)
	if l.slot == nil {
		return
	}
	if c := l.slot.c.Load(); c != nil {
		c.AddLog("error", msg, fieldMap(fields), caller(1))
	}
}

func (l *Logger) write(ev *zerolog.Event, msg string, fields []Field) {
	if ev == nil {
		return
	}
	for _, f := range fields {
		f.addTo(ev)
	}
	ev.Msg(msg)
}

// With returns a child logger that stamps every event with the given fields.
func (l *Logger) With(fields ...Field) *Logger {
	ctx := l.zl.With()
	for _, f := range fields {
		ctx = ctx.Interface(f.Key, f.value())
	}
	return &Logger{zl: ctx.Logger(), slot: l.slot}
}

// Component is a child logger tagged with the component name.
func (l *Logger) Component(name string) *Logger {
	return &Logger{zl: l.zl.With().Str("component", name).Logger(), slot: l.slot}
}

// Detached returns a copy that never feeds the collector. Whatever delivers
// the digest logs through it.
func (l *Logger) Detached() *Logger {
	return &Logger{zl: l.zl}
}

// Nop discards everything and never collects.
func Nop() *Logger {
	return &Logger{zl: zerolog.Nop()}
}

// AddCollector attaches an error collector, replacing and flushing any previous one.
func (l *Logger) AddCollector(cfg *CollectionConfig) {
	if l.slot == nil {
		return
	}
	if old := l.slot.c.Swap(NewLogCollector(cfg, l)); old != nil {
		old.Close()
	}
}

// RemoveCollector detaches the collector and flushes what it holds.
func (l *Logger) RemoveCollector() {
	if l.slot == nil {
		return
	}
	if old := l.slot.c.Swap(nil); old != nil {
		old.Close()
	}
}

func caller(skip int) string {
	_, file, line, ok := runtime.Caller(skip + 1)
	if !ok {
		return "unknown"
	}
	if i := strings.LastIndex(file, "TradeFusion/"); i >= 0 {
		file = file[i+len("TradeFusion/"):]
	}
	return fmt.Sprintf("%s:%d", file, line)
}

func fieldMap(fields []Field) map[string]interface{} {
	if len(fields) == 0 {
		return nil
	}
	m := make(map[string]interface{}, len(fields))
	for _, f := range fields {
		m[f.Key] = f.value()
	}
	return m
}

type fieldKind uint8

const (
	kindAny fieldKind = iota
	kindString
	kindInt
	kindFloat
	kindBool
	kindError
	kindStrings
)

// Field is one structured key/value. Build it with the constructors below.
type Field struct {
	Key  string
	kind fieldKind
	str  string
	num  int64
	flt  float64
	obj  interface{}
}

func (f Field) addTo(ev *zerolog.Event) {
	switch f.kind {
	case kindString:
		ev.Str(f.Key, f.str)
	case kindInt:
		ev.Int64(f.Key, f.num)
	case kindFloat:
		ev.Float64(f.Key, f.flt)
	case kindBool:
		ev.Bool(f.Key, f.num == 1)
	case kindError:
		if err, _ := f.obj.(error); err != nil {
			ev.AnErr(f.Key, err)
		}
	case kindStrings:
		ev.Strs(f.Key, f.obj.([]string))
	default:
		ev.Interface(f.Key, f.obj)
	}
}

func (f Field) value() interface{} {
	switch f.kind {
	case kindString:
		return f.str
	case kindInt:
		return f.num
	case kindFloat:
		return f.flt
	case kindBool:
		return f.num == 1
	case kindError:
		if err, _ := f.obj.(error); err != nil {
			return err.Error()
		}
		return nil
	}
	return f.obj
}

func String(key, value string) Field { return Field{Key: key, kind: kindString, str: value} }

func Int(key string, value int) Field { return Field{Key: key, kind: kindInt, num: int64(value)} }

func Int64(key string, value int64) Field { return Field{Key: key, kind: kindInt, num: value} }

func Float(key string, value float64) Field { return Field{Key: key, kind: kindFloat, flt: value} }

func Bool(key string, value bool) Field {
	f := Field{Key: key, kind: kindBool}
	if value {
		f.num = 1
	}
	return f
}

// Duration is logged in milliseconds.
func Duration(key string, value time.Duration) Field {
	return Field{Key: key, kind: kindInt, num: value.Milliseconds()}
}

func Error(err error) Field { return Field{Key: "error", kind: kindError, obj: err} }

func Strings(key string, value []string) Field {
	return Field{Key: key, kind: kindStrings, obj: value}
}

func Any(key string, value interface{}) Field { return Field{Key: key, kind: kindAny, obj: value} }
