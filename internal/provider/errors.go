package provider

import "errors"

// Sentinel errors for the provider client, one small errors.go per package,
// matching the teacher's convention (orchestrator/errors.go, sandbox/errors.go,
// sandbox/store/errors.go) of distinct typed errors per owning package
// instead of one central error type.
var (
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrQuotaExceeded       = errors.New("provider quota exceeded")
	ErrImageMissing        = errors.New("image reference missing")
	ErrSandboxUnreachable  = errors.New("sandbox unreachable")
	ErrProtected           = errors.New("refused: sandbox is protected")
	ErrDevServerTimeout    = errors.New("dev server did not become responsive")
)
