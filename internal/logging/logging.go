// Package logging builds the application's zap.Logger from a level string.
// Every long-lived component gets a named sub-logger via logger.Named(...),
// matching the convention used throughout this repository.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger for the given level ("debug", "info", "warn", "error").
// debug uses zap's development config (console encoding, caller info); every
// other level uses the production JSON config. An unrecognized level falls
// back to "info" rather than failing startup.
func New(level string) (*zap.Logger, error) {
	var cfg zap.Config
	if level == "debug" {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
	}

	lvl, err := zapLevel(level)
	if err != nil {
		lvl = zap.InfoLevel
	}
	cfg.Level = zap.NewAtomicLevelAt(lvl)

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("logging: failed to build logger: %w", err)
	}
	return logger, nil
}

func zapLevel(level string) (zapcore.Level, error) {
	switch level {
	case "debug":
		return zap.DebugLevel, nil
	case "info", "":
		return zap.InfoLevel, nil
	case "warn":
		return zap.WarnLevel, nil
	case "error":
		return zap.ErrorLevel, nil
	default:
		return zap.InfoLevel, fmt.Errorf("logging: unrecognized level %q", level)
	}
}
