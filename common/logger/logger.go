package logger

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Log is the process-wide logger. It is a no-op until Initialize runs.
var Log = zap.NewNop()

// RequestIDKey is the gin context key holding the request id.
const RequestIDKey = "request_id"

// Initialize sets up the logger for env.
func Initialize(env string) *zap.Logger {
	return InitializeWithWriter(env, nil)
}

// InitializeWithWriter sets up the logger and, when sink is non-nil, tees every
// entry into it as JSON (used for CloudWatch Logs).
func InitializeWithWriter(env string, sink io.Writer) *zap.Logger {
	Log = build(env, sink, os.Stdout)
	return Log
}

func build(env string, sink io.Writer, console io.Writer) *zap.Logger {
	config := configFor(env)

	if sink == nil {
		l, err := config.Build()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
			os.Exit(1)
		}
		return l
	}

	level := zap.NewAtomicLevelAt(config.Level.Level())
	consoleCore := zapcore.NewCore(zapcore.NewConsoleEncoder(config.EncoderConfig), zapcore.AddSync(console), level)
	sinkCore := zapcore.NewCore(zapcore.NewJSONEncoder(jsonEncoderConfig(config.EncoderConfig)), zapcore.AddSync(sink), level)
	return zap.New(zapcore.NewTee(consoleCore, sinkCore), zap.AddCaller(), zap.AddStacktrace(zapcore.ErrorLevel))
}

func configFor(env string) zap.Config {
	if env == "production" {
		config := zap.NewProductionConfig()
		config.EncoderConfig.TimeKey = "timestamp"
		config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
		return config
	}
	config := zap.NewDevelopmentConfig()
	config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	return config
}

// jsonEncoderConfig strips terminal colors from entries shipped to a remote sink.
func jsonEncoderConfig(cfg zapcore.EncoderConfig) zapcore.EncoderConfig {
	cfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	return cfg
}
