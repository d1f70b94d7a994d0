// Package logging builds the zap logger for pricetagd.
//
// JSON output is the production default; console output is for development.
// When telemetry is enabled, log records are also bridged onto the active
// OTel logger provider so logs correlate with spans.
package logging

import (
	"fmt"
	"os"

	"go.opentelemetry.io/contrib/bridges/otelzap"
	"go.opentelemetry.io/otel/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aislelabs/pricetagd/internal/config"
)

// New creates a logger from the logging config section. otelProvider may be
// nil to disable the OTel bridge.
func New(cfg config.LoggingConfig, otelProvider log.LoggerProvider) (*zap.Logger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}

	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = "ts"
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	var encoder zapcore.Encoder
	switch cfg.Format {
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	default:
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	core := zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), level)
	if otelProvider != nil {
		otelCore := otelzap.NewCore("pricetagd", otelzap.WithLoggerProvider(otelProvider))
		core = zapcore.NewTee(core, otelCore)
	}

	logger := zap.New(core,
		zap.AddCaller(),
		zap.AddStacktrace(zapcore.ErrorLevel),
	).With(zap.String("service", "pricetagd"))

	return logger, nil
}

func parseLevel(level string) (zapcore.Level, error) {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(level)); err != nil {
		return zapcore.InfoLevel, fmt.Errorf("invalid log level %q: %w", level, err)
	}
	return l, nil
}
