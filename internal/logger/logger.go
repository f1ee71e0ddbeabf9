// Package logger builds the structured zap logger shared by every component.
package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New creates a JSON logger at the given level. Development mode disables sampling
// and adds stack traces from warn upwards.
func New(level string, development bool) (*zap.Logger, error) {
	zapCfg := zap.NewProductionConfig()
	zapCfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	zapCfg.EncoderConfig.EncodeCaller = zapcore.ShortCallerEncoder
	zapCfg.Level = zap.NewAtomicLevelAt(parseLevel(level))

	opts := []zap.Option{zap.AddStacktrace(zapcore.ErrorLevel)}
	if development {
		zapCfg.Sampling = nil
		zapCfg.Development = true
		opts = []zap.Option{zap.AddStacktrace(zapcore.WarnLevel)}
	}

	z, err := zapCfg.Build(opts...)
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return z.With(zap.String("service", "webcam-capture")), nil
}

func parseLevel(level string) zapcore.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zapcore.DebugLevel
	case "warn", "warning":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
