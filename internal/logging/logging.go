// Package logging builds the service's zap loggers.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger for development and test environments and a
// JSON production logger otherwise, named after the service.
func New(env, name string) (*zap.Logger, error) {
	var cfg zap.Config
	switch env {
	case "development", "dev", "local", "test":
		cfg = zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	default:
		cfg = zap.NewProductionConfig()
		cfg.EncoderConfig.TimeKey = "ts"
		cfg.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	}
	l, err := cfg.Build()
	if err != nil {
		return nil, err
	}
	if name != "" {
		l = l.Named(name)
	}
	return l, nil
}

// Must is New that panics, for main packages.
func Must(env, name string) *zap.Logger {
	l, err := New(env, name)
	if err != nil {
		panic(err)
	}
	return l
}
