package log

import (
	"strings"
	"sync/atomic"

	"go.uber.org/zap"
)

func init() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	zap.ReplaceGlobals(logger)
	SetLevel(INFO)
}

type Level int32

const (
	DEBUG Level = iota
	INFO
	WARNING
	ERROR
	FATAL
)

var logLevel atomic.Int32

func enabled(level Level) bool {
	return Level(logLevel.Load()) <= level
}

func Debug(format string, args ...interface{}) {
	if enabled(DEBUG) {
		zap.S().Debugf(format, args...)
	}
}

func Info(format string, args ...interface{}) {
	if enabled(INFO) {
		zap.S().Infof(format, args...)
	}
}

func Warn(format string, args ...interface{}) {
	if enabled(WARNING) {
		zap.S().Warnf(format, args...)
	}
}

func Error(format string, args ...interface{}) {
	if enabled(ERROR) {
		zap.S().Errorf(format, args...)
	}
}

func Fatal(format string, args ...interface{}) {
	zap.S().Fatalf(format, args...)
}

// Log dispatches to the function matching level.
func Log(level Level, format string, args ...interface{}) {
	switch level {
	case DEBUG:
		Debug(format, args...)
	case INFO:
		Info(format, args...)
	case WARNING:
		Warn(format, args...)
	case ERROR:
		Error(format, args...)
	case FATAL:
		Fatal(format, args...)
	}
}

func SetLevel(level Level) {
	logLevel.Store(int32(level))
}

func GetLevel() Level {
	return Level(logLevel.Load())
}

// ParseLevel maps a config string to a Level, falling back to INFO.
func ParseLevel(s string) Level {
	switch strings.ToLower(s) {
	case "fatal":
		return FATAL
	case "error":
		return ERROR
	case "warning", "warn":
		return WARNING
	case "debug":
		return DEBUG
	default:
		return INFO
	}
}

// Sync flushes any buffered log entries.
func Sync() {
	_ = zap.L().Sync()
}
