// Package util provides shared logging, stats and id helpers.
package util

import (
	"fmt"

	"github.com/pterm/pterm"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func init() {
	pterm.DefaultLogger.ShowTime = true
	pterm.DefaultLogger.TimeFormat = "02 Jan 15:04:05"
	pterm.DefaultLogger.MaxWidth = 1000
}

// Leveled console logging backed by pterm. Used for operator-facing output;
// library packages log through zap.

func LogDebug(format string, args ...interface{}) {
	pterm.DefaultLogger.Debug(fmt.Sprintf(format, args...))
}

func LogInfo(format string, args ...interface{}) {
	pterm.DefaultLogger.Info(fmt.Sprintf(format, args...))
}

func LogSuccess(format string, args ...interface{}) {
	pterm.Success.Println(fmt.Sprintf(format, args...))
}

func LogWarning(format string, args ...interface{}) {
	pterm.DefaultLogger.Warn(fmt.Sprintf(format, args...))
}

func LogError(format string, args ...interface{}) {
	pterm.DefaultLogger.Error(fmt.Sprintf(format, args...))
}

// EnableDebug configures the console logger to show debug messages.
func EnableDebug() {
	pterm.DefaultLogger.Level = pterm.LogLevelDebug
}

// NewLogger builds the process-wide structured logger.
func NewLogger(debug bool) (*zap.Logger, error) {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("build logger: %w", err)
	}
	return logger, nil
}
