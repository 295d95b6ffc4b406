// Package logger provides the process-wide leveled logger for CumulusFS.
//
// All packages log through the package-level printf-style functions so
// that output format and destination stay a deployment concern. The
// implementation rides on go.uber.org/zap; Setup selects encoder and
// sink from the logging configuration.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	log   = newLogger("text", "stdout")
)

func newLogger(format, output string) *zap.SugaredLogger {
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	if format == "json" {
		enc = zapcore.NewJSONEncoder(encCfg)
	} else {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	sink, _, err := zap.Open(output)
	if err != nil {
		// Fall back to stdout rather than losing logs entirely.
		sink, _, _ = zap.Open("stdout")
	}

	return zap.New(zapcore.NewCore(enc, sink, level)).Sugar()
}

// Setup reconfigures the global logger. Valid formats are "text" and
// "json"; output is "stdout", "stderr" or a file path.
func Setup(lvl, format, output string) error {
	SetLevel(lvl)

	sink, _, err := zap.Open(output)
	if err != nil {
		return fmt.Errorf("failed to open log output %q: %w", output, err)
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder

	var enc zapcore.Encoder
	switch format {
	case "json":
		enc = zapcore.NewJSONEncoder(encCfg)
	default:
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	log = zap.New(zapcore.NewCore(enc, sink, level)).Sugar()
	return nil
}

// SetLevel adjusts the minimum level. Unknown values are ignored.
func SetLevel(lvl string) {
	switch strings.ToUpper(lvl) {
	case "DEBUG":
		level.SetLevel(zapcore.DebugLevel)
	case "INFO":
		level.SetLevel(zapcore.InfoLevel)
	case "WARN":
		level.SetLevel(zapcore.WarnLevel)
	case "ERROR":
		level.SetLevel(zapcore.ErrorLevel)
	}
}

func Debug(format string, v ...any) {
	log.Debugf(format, v...)
}

func Info(format string, v ...any) {
	log.Infof(format, v...)
}

func Warn(format string, v ...any) {
	log.Warnf(format, v...)
}

func Error(format string, v ...any) {
	log.Errorf(format, v...)
}

// Sync flushes buffered log entries. Called on shutdown.
func Sync() {
	_ = log.Sync()
}
