package log

import (
	"io"
	stdlog "log"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type nopLogger struct{}

// NewNopLogger returns a logger that discards every record.
func NewNopLogger() Logger {
	return nopLogger{}
}

func (l nopLogger) Subsystem() string { return "" }

func (l nopLogger) WithSubsystem(_ string) Logger { return l }

func (l nopLogger) With(_ ...zap.Field) Logger { return l }

func (l nopLogger) Debug(_ string, _ ...zap.Field) {}

func (l nopLogger) Info(_ string, _ ...zap.Field) {}

func (l nopLogger) Warn(_ string, _ ...zap.Field) {}

func (l nopLogger) Error(_ string, _ ...zap.Field) {}

func (l nopLogger) Sync() error { return nil }

func (l nopLogger) StdLogger(_ zapcore.Level) *stdlog.Logger {
	return stdlog.New(io.Discard, "", 0)
}
