// Package log provides the structured, leveled logger used across the
// protocol stack. It is a thin convenience wrapper over go.uber.org/zap's
// SugaredLogger, exposing the key/value call shape the rest of this module
// uses: log.Debug(msg, "key", value, ...).
package log

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger is the interface every component logs through. A Logger can be
// narrowed with With to attach fields that are carried on every subsequent
// call (the node address, the egress interface, ...).
type Logger interface {
	Debug(msg string, fields ...any)
	Info(msg string, fields ...any)
	Error(msg string, fields ...any)
	With(fields ...any) Logger
}

type zapLogger struct {
	sugar *zap.SugaredLogger
}

// New builds a Logger writing human-readable, leveled output to stderr. It
// is meant for CLI/daemon usage (cmd/meshnode); tests use Discard.
func New(level zapcore.Level) Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(level)
	l, err := cfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		// zap.NewDevelopmentConfig().Build() only fails on a broken sink/encoder
		// configuration, which New never constructs; treat as unreachable.
		panic(err)
	}
	return &zapLogger{sugar: l.Sugar()}
}

// Discard returns a Logger that drops every line; used by components that
// accept an optional logger and default to silence.
func Discard() Logger {
	return &zapLogger{sugar: zap.NewNop().Sugar()}
}

func (l *zapLogger) Debug(msg string, fields ...any) { l.sugar.Debugw(msg, fields...) }
func (l *zapLogger) Info(msg string, fields ...any)  { l.sugar.Infow(msg, fields...) }
func (l *zapLogger) Error(msg string, fields ...any) { l.sugar.Errorw(msg, fields...) }

func (l *zapLogger) With(fields ...any) Logger {
	return &zapLogger{sugar: l.sugar.With(fields...)}
}
