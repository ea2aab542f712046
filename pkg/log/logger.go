// Package log provides the structured logger used by every swimrelay
// component.
//
// Each record carries a 'subsystem' field naming the component that logged
// it. Subsystems are dot separated, so enabling a subsystem with
// '--log.subsystems' also enables its children:
//
//	main           process lifecycle and config
//	swim           membership and failure detection
//	swim.relay     NAT relay parents and packet routing
//	swim.watcher   membership change events
//	transport      UDP packet transport
//	sampling       peer sampling for parent discovery
//	natdetect      STUN NAT classification
//	discovery      etcd bootstrap registry
//	aggregator     status report aggregator
//	admin          admin HTTP server ('admin.access' for requests)
package log

import (
	"fmt"
	stdlog "log"
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Logger writes structured records at or above the configured level, plus
// records at any level from the enabled subsystems.
//
// zap.Logger filters by level before a record reaches its core, so it can't
// let debug records from an enabled subsystem through. Logger checks the
// subsystem itself then hands records to zap.
type Logger interface {
	Subsystem() string
	// WithSubsystem returns a logger for the given subsystem.
	WithSubsystem(s string) Logger
	With(fields ...zap.Field) Logger
	Debug(msg string, fields ...zap.Field)
	Info(msg string, fields ...zap.Field)
	Warn(msg string, fields ...zap.Field)
	Error(msg string, fields ...zap.Field)
	Sync() error
	// StdLogger returns a standard library logger that writes each line as a
	// record with the given level, such as for http.Server.ErrorLog.
	StdLogger(level zapcore.Level) *stdlog.Logger
}

const defaultSubsystem = "main"

type logger struct {
	core zapcore.Core

	subsystem string
	// verbose is set when the subsystem is enabled, so every level is logged.
	verbose bool
	enabled []string

	errorOutput zapcore.WriteSyncer
}

func NewLogger(conf *Config) (Logger, error) {
	level, err := zapLevelFromString(conf.Level)
	if err != nil {
		return nil, err
	}

	output := conf.Output
	if output == "" {
		output = "stderr"
	}
	sink, _, err := zap.Open(output)
	if err != nil {
		return nil, fmt.Errorf("open sink: %s: %w", output, err)
	}

	return &logger{
		core: &unfilteredCore{
			Core: zapcore.NewCore(
				newEncoder(conf.Encoding), sink, zap.NewAtomicLevelAt(level),
			),
		},
		subsystem:   defaultSubsystem,
		verbose:     subsystemEnabled(defaultSubsystem, conf.Subsystems),
		enabled:     conf.Subsystems,
		errorOutput: zapcore.Lock(os.Stderr),
	}, nil
}

func (l *logger) Subsystem() string {
	return l.subsystem
}

func (l *logger) WithSubsystem(s string) Logger {
	if s == l.subsystem {
		return l
	}

	clone := *l
	clone.subsystem = s
	clone.verbose = subsystemEnabled(s, l.enabled)
	return &clone
}

func (l *logger) With(fields ...zap.Field) Logger {
	if len(fields) == 0 {
		return l
	}

	clone := *l
	clone.core = l.core.With(fields)
	return &clone
}

func (l *logger) Debug(msg string, fields ...zap.Field) {
	l.log(zap.DebugLevel, msg, fields)
}

func (l *logger) Info(msg string, fields ...zap.Field) {
	l.log(zap.InfoLevel, msg, fields)
}

func (l *logger) Warn(msg string, fields ...zap.Field) {
	l.log(zap.WarnLevel, msg, fields)
}

func (l *logger) Error(msg string, fields ...zap.Field) {
	l.log(zap.ErrorLevel, msg, fields)
}

func (l *logger) Sync() error {
	return l.core.Sync()
}

func (l *logger) StdLogger(level zapcore.Level) *stdlog.Logger {
	return stdlog.New(&stdWriter{
		write: func(msg string) {
			l.log(level, msg, nil)
		},
	}, "", 0)
}

func (l *logger) log(level zapcore.Level, msg string, fields []zap.Field) {
	if !l.verbose && level < zapcore.DPanicLevel && !l.core.Enabled(level) {
		return
	}

	ce := l.core.Check(zapcore.Entry{
		// The encoder writes the logger name as 'subsystem'.
		LoggerName: l.subsystem,
		Time:       time.Now(),
		Level:      level,
		Message:    msg,
	}, nil)
	if ce == nil {
		return
	}
	ce.ErrorOutput = l.errorOutput
	ce.Write(fields...)
}

func newEncoder(encoding string) zapcore.Encoder {
	encoderConfig := zap.NewProductionEncoderConfig()
	encoderConfig.NameKey = "subsystem"
	encoderConfig.EncodeTime = zapcore.TimeEncoderOfLayout(
		"2006-01-02T15:04:05.999Z07:00",
	)

	if encoding == "console" {
		encoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderConfig)
	}
	return zapcore.NewJSONEncoder(encoderConfig)
}

// subsystemEnabled returns whether the subsystem or one of its parents is
// enabled, such as 'swim' enables 'swim.relay' but not 'swimmer'.
func subsystemEnabled(subsystem string, enabled []string) bool {
	for _, s := range enabled {
		if subsystem == s || strings.HasPrefix(subsystem, s+".") {
			return true
		}
	}
	return false
}

func zapLevelFromString(s string) (zapcore.Level, error) {
	switch s {
	case "debug":
		return zap.DebugLevel, nil
	case "info":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zapcore.Level(0), fmt.Errorf("unsupported level: %s", s)
	}
}
