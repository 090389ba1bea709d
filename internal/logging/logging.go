// Package logging sets up the structured logger used throughout gatewayd.
package logging

import (
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds the default production logger, or a more verbose development
// logger when verbose is true. It is built once at startup and passed down
// by reference; nothing in this repository reaches for a package-level
// logger.
func New(verbose bool) (*zap.Logger, error) {
	cfg := zap.NewProductionConfig()
	cfg.EncoderConfig.TimeKey = "ts"
	cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zap.DebugLevel)
		cfg.Development = true
		cfg.Encoding = "console"
	}

	logger, err := cfg.Build()
	if err != nil {
		return nil, fmt.Errorf("building logger: %w", err)
	}
	return logger, nil
}

// Nop returns a logger that discards everything; useful as a safe default
// for components constructed without an explicit logger (e.g. in tests).
func Nop() *zap.Logger {
	return zap.NewNop()
}
