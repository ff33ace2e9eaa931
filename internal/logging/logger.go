// Package logging builds the process-wide zap logger.
package logging

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"biasaudit/internal/config"
)

// New builds a zap logger writing to stdout.
func New(cfg config.LogConfig, loc *time.Location) (*zap.Logger, error) {
	return NewWithWriter(cfg, loc, os.Stdout)
}

// NewWithWriter builds a zap logger writing one record per line to w.
func NewWithWriter(cfg config.LogConfig, loc *time.Location, w io.Writer) (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Level, err)
	}
	if loc == nil {
		loc = time.UTC
	}

	core := zapcore.NewCore(newEncoder(cfg.Format, loc), zapcore.AddSync(w), level)
	return zap.New(core, zap.AddCaller()), nil
}

func newEncoder(format string, loc *time.Location) zapcore.Encoder {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(t.In(loc).Format(time.RFC3339Nano))
	}

	if format == "console" {
		return zapcore.NewConsoleEncoder(encoderCfg)
	}
	return zapcore.NewJSONEncoder(encoderCfg)
}
