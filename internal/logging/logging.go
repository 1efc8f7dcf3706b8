// Package logging builds the zap logger shared by the wins binary.
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Config returns the zap configuration for a CLI output format. Text output
// gets a console encoder; json and yaml output get the production JSON
// encoder so logs are machine-read like the command output. Logs always go
// to stderr so command output on stdout stays parseable.
func Config(format string, verbose bool) zap.Config {
	var cfg zap.Config
	if format == "text" {
		cfg = zap.NewDevelopmentConfig()
		cfg.Development = false
		cfg.DisableStacktrace = true
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalLevelEncoder
	} else {
		cfg = zap.NewProductionConfig()
	}

	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}
	cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	if verbose {
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	}
	return cfg
}

// New builds the logger for format at info level, or debug level when verbose.
func New(format string, verbose bool) (*zap.Logger, error) {
	return Config(format, verbose).Build()
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.Logger) *zap.Logger {
	if l == nil {
		return zap.NewNop()
	}
	return l
}
