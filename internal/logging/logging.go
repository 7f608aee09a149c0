// Package logging builds the process logger.
package logging

import (
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Stderr is the file value that selects standard error instead of a log file.
const Stderr = "-"

// New returns a JSON logger at level writing to file, rotated by size. The
// returned closer flushes and releases the sink.
func New(level, file string) (*zap.SugaredLogger, io.Closer) {
	var sink zapcore.WriteSyncer
	var closer io.Closer = nopCloser{}
	if file == Stderr || file == "" {
		sink = zapcore.Lock(os.Stderr)
	} else {
		rotator := &lumberjack.Logger{
			Filename:   file,
			MaxSize:    10, // megabytes
			MaxBackups: 3,
		}
		sink = zapcore.AddSync(rotator)
		closer = rotator
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encoderCfg), sink, ParseLevel(level))

	logger := zap.New(core)
	return logger.Sugar(), closerFunc(func() error {
		logger.Sync()
		return closer.Close()
	})
}

// ParseLevel maps a config level name to a zap level. Unknown names mean info.
func ParseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zap.DebugLevel
	case "error":
		return zap.ErrorLevel
	case "warn", "warning":
		return zap.WarnLevel
	default:
		return zap.InfoLevel
	}
}

type closerFunc func() error

func (f closerFunc) Close() error { return f() }

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
