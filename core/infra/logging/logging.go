package logging

import (
	"os"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const (
	envLogLevel  = "LOG_LEVEL"
	envLogFormat = "LOG_FORMAT"
)

var (
	initOnce sync.Once
	level    = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	base     *zap.SugaredLogger
)

func logger() *zap.SugaredLogger {
	initOnce.Do(func() {
		if raw := strings.TrimSpace(os.Getenv(envLogLevel)); raw != "" {
			if lvl, ok := parseLevel(raw); ok {
				level.SetLevel(lvl)
			}
		}
		base = build(os.Getenv(envLogFormat), zapcore.AddSync(os.Stderr))
	})
	return base
}

func build(format string, out zapcore.WriteSyncer) *zap.SugaredLogger {
	encCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "component",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	}
	var enc zapcore.Encoder
	if strings.EqualFold(strings.TrimSpace(format), "json") {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		encCfg.ConsoleSeparator = " "
		enc = zapcore.NewConsoleEncoder(encCfg)
	}
	return zap.New(zapcore.NewCore(enc, out, level)).Sugar()
}

// Info logs a message with key/value fields under a component name.
func Info(component, msg string, kv ...interface{}) {
	named(component).Infow(msg, normalize(kv)...)
}

// Warn logs a warning with key/value fields under a component name.
func Warn(component, msg string, kv ...interface{}) {
	named(component).Warnw(msg, normalize(kv)...)
}

// Error logs an error message with key/value fields under a component name.
func Error(component, msg string, kv ...interface{}) {
	named(component).Errorw(msg, normalize(kv)...)
}

// Debug logs a debug message with key/value fields under a component name.
func Debug(component, msg string, kv ...interface{}) {
	named(component).Debugw(msg, normalize(kv)...)
}

// SetLevel changes the process-wide level. Unknown names are rejected.
func SetLevel(name string) bool {
	lvl, ok := parseLevel(name)
	if !ok {
		return false
	}
	logger()
	level.SetLevel(lvl)
	return true
}

// Level returns the current process-wide level name.
func Level() string {
	return level.Level().String()
}

// Sync flushes buffered entries.
func Sync() {
	_ = logger().Sync()
}

func named(component string) *zap.SugaredLogger {
	return logger().Named(strings.ToUpper(component))
}

// parseLevel accepts zap names plus the syslog style names stored in the
// LOGGING category (warning, critical, ...).
func parseLevel(name string) (zapcore.Level, bool) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "debug":
		return zapcore.DebugLevel, true
	case "info":
		return zapcore.InfoLevel, true
	case "warn", "warning":
		return zapcore.WarnLevel, true
	case "error":
		return zapcore.ErrorLevel, true
	case "critical", "fatal":
		return zapcore.DPanicLevel, true
	default:
		return zapcore.InfoLevel, false
	}
}

// normalize pads an odd key/value list so the last key is still emitted.
func normalize(kv []interface{}) []interface{} {
	if len(kv)%2 != 0 {
		kv = append(kv, "(missing)")
	}
	return kv
}
