package orchestrator

import "errors"

// Typed error taxonomy surfaced by the Orchestrator (spec §7). Each wraps a
// lower-level error from provider/objectstore/pool with a stable sentinel
// the HTTP layer can map to a status code via errors.Is.
var (
	ErrPoolExhausted    = errors.New("orchestrator: pool exhausted")
	ErrSandboxUnreachable = errors.New("orchestrator: sandbox unreachable")
	ErrPrewarmIncomplete  = errors.New("orchestrator: prewarm incomplete")
	ErrInstallFailed      = errors.New("orchestrator: install failed")
	ErrDevServerTimeout   = errors.New("orchestrator: dev server did not become healthy in time")
	ErrStoreUnavailable   = errors.New("orchestrator: store unavailable")
	ErrConcurrencyCapped  = errors.New("orchestrator: concurrency capped")
	ErrProjectNotFound    = errors.New("orchestrator: project not found")
)
