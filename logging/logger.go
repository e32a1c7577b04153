package logging

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Moonlight-Companies/gomodbus/common"
)

// Logger implements the common.LoggerInterface and common.LoggerInterfaceHexdump
// on top of a zap.SugaredLogger.
type Logger struct {
	mu     sync.Mutex
	level  common.LogLevel
	atom   zap.AtomicLevel
	writer io.Writer
	fields map[string]interface{}
	sugar  *zap.SugaredLogger
}

// Option is a function that configures a Logger
type Option func(*Logger)

// WithLevel sets the log level
func WithLevel(level common.LogLevel) Option {
	return func(l *Logger) {
		l.level = level
	}
}

// WithWriter sets the writer for the logger
func WithWriter(writer io.Writer) Option {
	return func(l *Logger) {
		l.writer = writer
	}
}

// WithFields adds fields to the logger
func WithFields(fields map[string]interface{}) Option {
	return func(l *Logger) {
		if l.fields == nil {
			l.fields = make(map[string]interface{})
		}
		for k, v := range fields {
			l.fields[k] = v
		}
	}
}

func toZapLevel(level common.LogLevel) zapcore.Level {
	switch level {
	case common.LevelTrace, common.LevelDebug:
		return zapcore.DebugLevel
	case common.LevelInfo:
		return zapcore.InfoLevel
	case common.LevelWarn:
		return zapcore.WarnLevel
	case common.LevelError:
		return zapcore.ErrorLevel
	default:
		return zapcore.FatalLevel + 1 // above fatal: nothing logs
	}
}

// NewLogger creates a new logger with the given options
func NewLogger(options ...Option) *Logger {
	logger := &Logger{
		level:  common.LevelInfo,
		writer: os.Stdout,
		fields: make(map[string]interface{}),
	}

	for _, option := range options {
		option(logger)
	}

	logger.atom = zap.NewAtomicLevelAt(toZapLevel(logger.level))
	logger.sugar = logger.buildSugar()

	return logger
}

func (l *Logger) buildSugar() *zap.SugaredLogger {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.RFC3339TimeEncoder
	encoder := zapcore.NewConsoleEncoder(encoderCfg)

	core := zapcore.NewCore(encoder, zapcore.AddSync(l.writer), l.atom)
	base := zap.New(core)

	sugar := base.Sugar()
	if len(l.fields) > 0 {
		args := make([]interface{}, 0, len(l.fields)*2)
		for k, v := range l.fields {
			args = append(args, k, v)
		}
		sugar = sugar.With(args...)
	}
	return sugar
}

// Trace logs a trace message. Zap has no dedicated trace level, so it
// is mapped onto debug with the message prefixed by "TRACE ".
func (l *Logger) Trace(ctx context.Context, format string, args ...interface{}) {
	if l.level <= common.LevelTrace {
		l.sugar.Debugf("TRACE "+format, args...)
	}
}

// Debug logs a debug message
func (l *Logger) Debug(ctx context.Context, format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

// Info logs an info message
func (l *Logger) Info(ctx context.Context, format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

// Warn logs a warning message
func (l *Logger) Warn(ctx context.Context, format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

// Error logs an error message
func (l *Logger) Error(ctx context.Context, format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

// WithFields returns a new logger with the given fields merged in
func (l *Logger) WithFields(fields map[string]interface{}) common.LoggerInterface {
	return NewLogger(
		WithLevel(l.level),
		WithWriter(l.writer),
		WithFields(l.fields),
		WithFields(fields),
	)
}

// GetLevel returns the current log level
func (l *Logger) GetLevel() common.LogLevel {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.level
}

// SetLevel sets the log level
func (l *Logger) SetLevel(level common.LogLevel) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.level = level
	l.atom.SetLevel(toZapLevel(level))
}

// Hexdump outputs a hexdump of the given data at TRACE level.
// Format: offset   00 01 02 03 04 05 06 07 | 08 09 0a 0b 0c 0d 0e 0f
func (l *Logger) Hexdump(ctx context.Context, data []byte) {
	if l.GetLevel() > common.LevelTrace {
		return
	}

	var b strings.Builder
	b.WriteString("HEXDUMP\n")
	b.WriteString("offset   00 01 02 03 04 05 06 07 | 08 09 0a 0b 0c 0d 0e 0f\n")

	for i := 0; i < len(data); i += 16 {
		fmt.Fprintf(&b, "%08x", i)
		for j := 0; j < 16; j++ {
			if j == 8 {
				b.WriteString(" |")
			}
			b.WriteString(" ")
			if i+j < len(data) {
				fmt.Fprintf(&b, "%02x", data[i+j])
			} else {
				b.WriteString("  ")
			}
		}
		b.WriteString("\n")
	}

	l.sugar.Debug(b.String())
}
