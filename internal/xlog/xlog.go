// Package xlog wires the structured logging shared by the ppcb-client,
// ppcb-server and cards-server entry points, following the zap + lumberjack pattern of the rest of
// this codebase's ambient stack.
package xlog

import (
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// stderrSink adapts os.Stderr to zapcore.WriteSyncer without letting a
// Sync() on a non-syncable stream (true of a redirected stderr on some
// platforms) fail the whole log pipeline.
type stderrSink struct{}

func (stderrSink) Write(p []byte) (int, error) { return os.Stderr.Write(p) }
func (stderrSink) Sync() error                 { return nil }

// New builds a logger that writes structured JSON lines to stderr, and
// additionally to a rotated file when logFile is non-empty. Wire-level
// output (file bytes, line protocol) never touches this logger — both
// servers reserve stdout for that.
func New(debug bool, logFile string) *zap.Logger {
	level := zapcore.InfoLevel
	if debug {
		level = zapcore.DebugLevel
	}
	enabler := zap.LevelEnablerFunc(func(lvl zapcore.Level) bool { return lvl >= level })

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.SecondsDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(zapcore.AddSync(stderrSink{})), enabler),
	}
	if logFile != "" {
		hook := &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    64,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(hook), enabler))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller())
}
