package pool

import "errors"

var (
	ErrPoolExhausted     = errors.New("pool exhausted")
	ErrPrewarmIncomplete = errors.New("prewarm did not reach minimum size/stability window")
	// ErrAttemptedCacheMasterDestroy marks the critical invariant violation
	// spec §7/§8 property 1 forbids: it must never actually cause a destroy,
	// only be logged loudly if a code path somehow reaches the check.
	ErrAttemptedCacheMasterDestroy = errors.New("attempted to destroy cache master")
)
