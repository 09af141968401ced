// Package logger provides the shared logging facility for regsync.
//
// Output is human-readable console text when attached to a terminal and
// structured JSON otherwise, so scheduled runs produce machine-readable
// logs without any configuration. The UNSTRUCTURED_LOGS environment
// variable overrides the terminal detection in either direction.
package logger

import (
	"os"
	"strconv"

	"github.com/spf13/viper"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"
)

var log = zap.NewNop().Sugar()

// Initialize configures the process-wide logger. The debug viper flag
// lowers the level to debug. Safe to call more than once; the last
// call wins.
func Initialize() {
	level := zapcore.InfoLevel
	if viper.GetBool("debug") {
		level = zapcore.DebugLevel
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	if unstructuredLogs() {
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stderr), level)
	log = zap.New(core).Sugar()
}

// unstructuredLogs reports whether console output was requested. The
// default is console output on a terminal and JSON everywhere else.
func unstructuredLogs() bool {
	if v, ok := os.LookupEnv("UNSTRUCTURED_LOGS"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return term.IsTerminal(int(os.Stderr.Fd()))
}

// Sync flushes any buffered log entries.
func Sync() error {
	return log.Sync()
}

// Debug logs at debug level with structured key-value pairs.
func Debug(msg string, keysAndValues ...any) {
	log.Debugw(msg, keysAndValues...)
}

// Info logs at info level with structured key-value pairs.
func Info(msg string, keysAndValues ...any) {
	log.Infow(msg, keysAndValues...)
}

// Warn logs at warn level with structured key-value pairs.
func Warn(msg string, keysAndValues ...any) {
	log.Warnw(msg, keysAndValues...)
}

// Error logs at error level with structured key-value pairs.
func Error(msg string, keysAndValues ...any) {
	log.Errorw(msg, keysAndValues...)
}

// Debugf logs at debug level with printf semantics.
func Debugf(format string, args ...any) {
	log.Debugf(format, args...)
}

// Infof logs at info level with printf semantics.
func Infof(format string, args ...any) {
	log.Infof(format, args...)
}

// Warnf logs at warn level with printf semantics.
func Warnf(format string, args ...any) {
	log.Warnf(format, args...)
}

// Errorf logs at error level with printf semantics.
func Errorf(format string, args ...any) {
	log.Errorf(format, args...)
}

// Fatalf logs at fatal level with printf semantics and exits.
func Fatalf(format string, args ...any) {
	log.Fatalf(format, args...)
}
