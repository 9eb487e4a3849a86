package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ServiceName is attached to every log line.
const ServiceName = "render-gate"

// Per-second sampling for production logs. Denial and rate limit events
// arrive in bursts from a single abusive caller.
const (
	sampleFirst      = 100
	sampleThereafter = 100
)

func level(debugMode bool) zap.AtomicLevel {
	if debugMode {
		return zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return zap.NewAtomicLevelAt(zapcore.InfoLevel)
}

// NewProductionLogger creates a JSON logger. Debug mode disables sampling.
func NewProductionLogger(debugMode bool) (*zap.Logger, error) {
	config := zap.NewProductionConfig()
	config.Level = level(debugMode)
	config.Encoding = "json"
	config.EncoderConfig = zapcore.EncoderConfig{
		TimeKey:        "ts",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.LowercaseLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.MillisDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}
	config.InitialFields = map[string]any{"service": ServiceName}
	config.Sampling = nil
	if !debugMode {
		config.Sampling = &zap.SamplingConfig{Initial: sampleFirst, Thereafter: sampleThereafter}
	}

	return config.Build()
}

// NewDevelopmentLogger creates a console logger for local runs.
func NewDevelopmentLogger(debugMode bool) (*zap.Logger, error) {
	config := zap.NewDevelopmentConfig()
	config.Level = level(debugMode)
	config.InitialFields = map[string]any{"service": ServiceName}
	return config.Build()
}

// Named returns a child logger for a component, or a no-op logger when base is nil.
func Named(base *zap.Logger, component string) *zap.Logger {
	if base == nil {
		return zap.NewNop()
	}
	return base.Named(component)
}

// Sync flushes buffered entries. Safe to call more than once.
func Sync(logger *zap.Logger) error {
	if logger == nil {
		return nil
	}
	return logger.Sync()
}
