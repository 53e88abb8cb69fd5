package logger

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type LoggerOpts struct {
	Level string

	// Development switches to the console encoder.
	Development bool
}

// New creates a new logger. The returned level can be changed at runtime.
func New(opts LoggerOpts) (*zap.Logger, zap.AtomicLevel) {
	config := zap.NewProductionConfig()

	if opts.Development {
		config = zap.NewDevelopmentConfig()
	}

	config.Level = zap.NewAtomicLevelAt(ParseLevel(opts.Level))

	logger, err := config.Build()

	if err != nil {
		panic(err)
	}

	return logger, config.Level
}

// ParseLevel parses a level name, defaulting to info.
func ParseLevel(level string) zapcore.Level {
	if level == "" {
		return zap.InfoLevel
	}

	l, err := zapcore.ParseLevel(level)

	if err != nil {
		return zap.InfoLevel
	}

	return l
}
