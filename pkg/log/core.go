package log

import (
	"bytes"

	"go.uber.org/zap/zapcore"
)

// unfilteredCore wraps a core so Check accepts records below the core's
// level. Level filtering is done by logger so enabled subsystems can log at
// any level.
type unfilteredCore struct {
	zapcore.Core
}

func (c *unfilteredCore) With(fields []zapcore.Field) zapcore.Core {
	return &unfilteredCore{Core: c.Core.With(fields)}
}

func (c *unfilteredCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	return ce.AddCore(ent, c.Core)
}

// stdWriter adapts a logger to io.Writer for the standard library logger.
type stdWriter struct {
	write func(msg string)
}

func (w *stdWriter) Write(p []byte) (int, error) {
	w.write(string(bytes.TrimSpace(p)))
	return len(p), nil
}
