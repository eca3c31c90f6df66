// Package logging contains the logger interface used across scanclient and a
// zap-backed implementation of it.
package logging

import (
	"sync"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
)

var (
	globalMu     sync.RWMutex
	globalLogger = NewLogger("scanclient")
)

// Logger is the logging interface handed to every long-lived component. It is
// a thin facade over a zap sugared logger so call sites stay mockable and the
// host can swap sinks without process-wide state.
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Debugw(msg string, keysAndValues ...interface{})

	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Infow(msg string, keysAndValues ...interface{})

	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Warnw(msg string, keysAndValues ...interface{})

	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Errorw(msg string, keysAndValues ...interface{})

	// Sublogger returns a logger with the given name appended.
	Sublogger(name string) Logger

	// AsZap exposes the underlying sugared logger for libraries that want one.
	AsZap() *zap.SugaredLogger
}

// ReplaceGlobal replaces the fallback global logger.
func ReplaceGlobal(logger Logger) {
	globalMu.Lock()
	globalLogger = logger
	globalMu.Unlock()
}

// Global returns the fallback global logger.
func Global() Logger {
	globalMu.RLock()
	defer globalMu.RUnlock()
	return globalLogger
}

type impl struct {
	sugared *zap.SugaredLogger
}

// NewLoggerConfig returns the default console config: Info+, ISO timestamps,
// no stacktraces.
func NewLoggerConfig() zap.Config {
	return zap.Config{
		Level:    zap.NewAtomicLevelAt(zap.InfoLevel),
		Encoding: "console",
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "ts",
			LevelKey:       "level",
			NameKey:        "logger",
			MessageKey:     "msg",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.CapitalLevelEncoder,
			EncodeTime:     zapcore.ISO8601TimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
		},
		DisableStacktrace: true,
		OutputPaths:       []string{"stdout"},
		ErrorOutputPaths:  []string{"stderr"},
	}
}

// NewLogger returns a named logger that outputs Info+ logs to stdout.
func NewLogger(name string) Logger {
	logger, err := NewLoggerConfig().Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &impl{logger.Sugar().Named(name)}
}

// NewDebugLogger returns a named logger that outputs Debug+ logs to stdout.
func NewDebugLogger(name string) Logger {
	config := NewLoggerConfig()
	config.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
	logger, err := config.Build()
	if err != nil {
		logger = zap.NewNop()
	}
	return &impl{logger.Sugar().Named(name)}
}

// NewTestLogger returns a logger that writes through the test harness.
func NewTestLogger(tb testing.TB) Logger {
	return &impl{zaptest.NewLogger(tb, zaptest.WrapOptions(zap.AddCaller())).Sugar()}
}

// FromZap wraps an existing sugared logger.
func FromZap(sugared *zap.SugaredLogger) Logger {
	return &impl{sugared}
}

func (l *impl) Debug(args ...interface{})                 { l.sugared.Debug(args...) }
func (l *impl) Debugf(format string, args ...interface{}) { l.sugared.Debugf(format, args...) }
func (l *impl) Debugw(msg string, keysAndValues ...interface{}) {
	l.sugared.Debugw(msg, keysAndValues...)
}
func (l *impl) Info(args ...interface{})                 { l.sugared.Info(args...) }
func (l *impl) Infof(format string, args ...interface{}) { l.sugared.Infof(format, args...) }
func (l *impl) Infow(msg string, keysAndValues ...interface{}) {
	l.sugared.Infow(msg, keysAndValues...)
}
func (l *impl) Warn(args ...interface{})                 { l.sugared.Warn(args...) }
func (l *impl) Warnf(format string, args ...interface{}) { l.sugared.Warnf(format, args...) }
func (l *impl) Warnw(msg string, keysAndValues ...interface{}) {
	l.sugared.Warnw(msg, keysAndValues...)
}
func (l *impl) Error(args ...interface{})                 { l.sugared.Error(args...) }
func (l *impl) Errorf(format string, args ...interface{}) { l.sugared.Errorf(format, args...) }
func (l *impl) Errorw(msg string, keysAndValues ...interface{}) {
	l.sugared.Errorw(msg, keysAndValues...)
}
func (l *impl) Sublogger(name string) Logger { return &impl{l.sugared.Named(name)} }
func (l *impl) AsZap() *zap.SugaredLogger    { return l.sugared }
