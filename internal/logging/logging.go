// Package logging builds the process-wide zap logger and small typed field
// helpers used across components, in the teacher's style (packages/api/main.go).
package logging

import (
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New builds a *zap.Logger. local=true yields a development encoder
// (console, colorized, debug level); otherwise a production JSON encoder.
func New(local bool) (*zap.Logger, error) {
	if local {
		cfg := zap.NewDevelopmentConfig()
		cfg.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		return cfg.Build()
	}

	return zap.NewProduction()
}

// WithProjectID tags a log entry with the project it concerns.
func WithProjectID(projectID string) zap.Field {
	return zap.String("project_id", projectID)
}

// WithSandboxID tags a log entry with the sandbox it concerns.
func WithSandboxID(sandboxID string) zap.Field {
	return zap.String("sandbox_id", sandboxID)
}

// WithRole tags a log entry with a sandbox role (worker/cacheMaster).
func WithRole(role string) zap.Field {
	return zap.String("role", role)
}

// WithHash tags a log entry with a dep-cache hash.
func WithHash(hash string) zap.Field {
	return zap.String("hash", hash)
}
