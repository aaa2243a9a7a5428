// Package logger is the structured logging layer of the engine: zap
// underneath, plus the field vocabulary (user, cohort, skill, epoch...)
// every component logs with.
package logger

import (
	"io"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type (
	Level = zapcore.Level
	Field = zap.Field
)

// parseLevel falls back to info for anything unrecognised.
func parseLevel(s string) Level {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "warning" {
		s = "warn"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(s)); err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}

// Options configures New.
type Options struct {
	Output io.Writer
	Level  Level
	// Format is "json" (default) or "console".
	Format    string
	AddCaller bool
}

func DefaultOptions() Options {
	return Options{Output: os.Stdout, Level: zapcore.InfoLevel, Format: "json", AddCaller: true}
}

// Logger wraps a zap.Logger.
type Logger struct {
	zl *zap.Logger
}

func New(opts Options) *Logger {
	if opts.Output == nil {
		opts.Output = os.Stdout
	}

	var enc zapcore.Encoder
	if opts.Format == "console" {
		enc = zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig())
	} else {
		ec := zap.NewProductionEncoderConfig()
		ec.TimeKey = "timestamp"
		ec.EncodeTime = zapcore.RFC3339NanoTimeEncoder
		enc = zapcore.NewJSONEncoder(ec)
	}

	var zopts []zap.Option
	if opts.AddCaller {
		zopts = append(zopts, zap.AddCaller(), zap.AddCallerSkip(1))
	}
	core := zapcore.NewCore(enc, zapcore.AddSync(opts.Output), zap.NewAtomicLevelAt(opts.Level))
	return &Logger{zl: zap.New(core, zopts...)}
}

// NewFromSettings builds a logger from the LOG_FORMAT and LOG_LEVEL settings.
// Binaries log to stderr so that stdout stays free for command output.
func NewFromSettings(format, level string) *Logger {
	opts := DefaultOptions()
	opts.Output = os.Stderr
	opts.Format = format
	opts.Level = parseLevel(level)
	return New(opts)
}

// Nop discards everything.
func Nop() *Logger { return &Logger{zl: zap.NewNop()} }

func (l *Logger) With(fields ...Field) *Logger { return &Logger{zl: l.zl.With(fields...)} }
func (l *Logger) Named(name string) *Logger    { return &Logger{zl: l.zl.Named(name)} }

func (l *Logger) Debug(msg string, fields ...Field) { l.zl.Debug(msg, fields...) }
func (l *Logger) Info(msg string, fields ...Field)  { l.zl.Info(msg, fields...) }
func (l *Logger) Warn(msg string, fields ...Field)  { l.zl.Warn(msg, fields...) }
func (l *Logger) Error(msg string, fields ...Field) { l.zl.Error(msg, fields...) }

// Sync flushes buffered entries; the error from syncing a terminal is noise.
func (l *Logger) Sync() { _ = l.zl.Sync() }

func String(key, value string) Field                 { return zap.String(key, value) }
func Int(key string, value int) Field                { return zap.Int(key, value) }
func Int64(key string, value int64) Field            { return zap.Int64(key, value) }
func Float64(key string, value float64) Field        { return zap.Float64(key, value) }
func Bool(key string, value bool) Field              { return zap.Bool(key, value) }
func Any(key string, value any) Field                { return zap.Any(key, value) }
func Duration(key string, value time.Duration) Field { return zap.Duration(key, value) }
func Err(err error) Field                            { return zap.Error(err) }

// ══════════════════════════════════════════════════════════════════════════════
// ENGINE FIELDS
// ══════════════════════════════════════════════════════════════════════════════

func UserID(id string) Field          { return String("user_id", id) }
func ActivityID(id string) Field      { return String("activity_id", id) }
func Skill(name string) Field         { return String("skill", name) }
func Cohort(key string) Field         { return String("cohort", key) }
func Epoch(n int64) Field             { return Int64("epoch", n) }
func Date(t time.Time) Field          { return String("date", t.Format(time.DateOnly)) }
func Operation(name string) Field     { return String("operation", name) }
func Latency(d time.Duration) Field   { return Duration("latency", d) }
func StreakLength(n int) Field        { return Int("streak", n) }
func IncentiveKind(kind string) Field { return String("incentive", kind) }
