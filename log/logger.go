// Package log provides structured logging with session context.
//
// Two logger variants are available:
//   - Logger: Non-sugared zap.Logger for the session runtime (structured fields)
//   - SugaredLogger: Printf-style logging for CLI/debug surfaces
//
// Use Logger.Sugar() to obtain a SugaredLogger when needed.
package log

import (
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Context identifies the session a log entry belongs to.
// Empty fields are omitted from output.
type Context struct {
	SessionID string
	Mode      string // "session" or "oneshot"
	Tool      string // resolved exiftool path
}

// Logger provides structured logging with session context.
type Logger struct {
	zap    *zap.Logger
	fields []zap.Field
	level  zapcore.Level
}

// SugaredLogger provides printf-style logging for CLI and debug surfaces.
type SugaredLogger struct {
	sugar *zap.SugaredLogger
}

// NewLogger creates a new logger with session context.
// Output defaults to os.Stderr.
func NewLogger(ctx Context) *Logger {
	return newLoggerWithWriter(ctx, os.Stderr, zapcore.DebugLevel)
}

// NewLoggerLevel is like NewLogger but drops entries below level.
func NewLoggerLevel(ctx Context, level zapcore.Level) *Logger {
	return newLoggerWithWriter(ctx, os.Stderr, level)
}

// Nop returns a logger that discards everything.
func Nop() *Logger {
	return &Logger{zap: zap.NewNop(), level: zapcore.InvalidLevel}
}

// WithOutput returns a new logger with a different output writer.
// Context fields already attached are kept.
func (l *Logger) WithOutput(w io.Writer) *Logger {
	level := l.level
	if level == zapcore.InvalidLevel {
		level = zapcore.DebugLevel
	}
	return &Logger{zap: zap.New(newCore(w, level)).With(l.fields...), fields: l.fields, level: level}
}

// With returns a logger carrying additional session context.
func (l *Logger) With(ctx Context) *Logger {
	extra := contextFields(ctx)
	fields := append(append([]zap.Field(nil), l.fields...), extra...)
	return &Logger{zap: l.zap.With(extra...), fields: fields, level: l.level}
}

func newCore(w io.Writer, level zapcore.Level) zapcore.Core {
	encoderConfig := zapcore.EncoderConfig{
		TimeKey:     "timestamp",
		LevelKey:    "level",
		MessageKey:  "message",
		EncodeTime:  zapcore.RFC3339NanoTimeEncoder,
		EncodeLevel: zapcore.LowercaseLevelEncoder,
	}
	return zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderConfig),
		zapcore.AddSync(w),
		level,
	)
}

func newLoggerWithWriter(ctx Context, w io.Writer, level zapcore.Level) *Logger {
	fields := contextFields(ctx)
	return &Logger{zap: zap.New(newCore(w, level)).With(fields...), fields: fields, level: level}
}

func contextFields(ctx Context) []zap.Field {
	var fields []zap.Field
	if ctx.SessionID != "" {
		fields = append(fields, zap.String("session_id", ctx.SessionID))
	}
	if ctx.Mode != "" {
		fields = append(fields, zap.String("mode", ctx.Mode))
	}
	if ctx.Tool != "" {
		fields = append(fields, zap.String("tool", ctx.Tool))
	}
	return fields
}

// Debug logs a debug message.
func (l *Logger) Debug(message string, fields map[string]any) {
	l.zap.Debug(message, zap.Any("fields", fields))
}

// Info logs an info message.
func (l *Logger) Info(message string, fields map[string]any) {
	l.zap.Info(message, zap.Any("fields", fields))
}

// Warn logs a warning message.
func (l *Logger) Warn(message string, fields map[string]any) {
	l.zap.Warn(message, zap.Any("fields", fields))
}

// Error logs an error message.
func (l *Logger) Error(message string, fields map[string]any) {
	l.zap.Error(message, zap.Any("fields", fields))
}

// Sync flushes buffered entries.
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// Sugar returns a SugaredLogger for printf-style logging.
func (l *Logger) Sugar() *SugaredLogger {
	return &SugaredLogger{sugar: l.zap.Sugar()}
}

// Debugf logs a debug message with printf-style formatting.
func (s *SugaredLogger) Debugf(template string, args ...any) {
	s.sugar.Debugf(template, args...)
}

// Infof logs an info message with printf-style formatting.
func (s *SugaredLogger) Infof(template string, args ...any) {
	s.sugar.Infof(template, args...)
}

// Warnf logs a warning message with printf-style formatting.
func (s *SugaredLogger) Warnf(template string, args ...any) {
	s.sugar.Warnf(template, args...)
}

// Errorf logs an error message with printf-style formatting.
func (s *SugaredLogger) Errorf(template string, args ...any) {
	s.sugar.Errorf(template, args...)
}

// With returns a SugaredLogger with additional context fields.
func (s *SugaredLogger) With(args ...any) *SugaredLogger {
	return &SugaredLogger{sugar: s.sugar.With(args...)}
}
