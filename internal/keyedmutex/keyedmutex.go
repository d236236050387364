// Package keyedmutex provides a per-key mutual-exclusion lock, used by the
// Orchestrator to serialize getOrCreateSandbox/setupProject calls per project
// (spec §4.6, §5) the way the teacher serializes per-sandbox operations in
// sandbox/reservations/reservation.go, reimplemented here as a plain
// refcounted lock map rather than a SetOnce-based reservation, since our
// callers just need mutual exclusion and an "already locked, await it" signal
// rather than a result future.
package keyedmutex

import "sync"

type entry struct {
	mu       sync.Mutex
	refCount int
}

// KeyedMutex hands out a per-key lock. Lock blocks until the key is free,
// then returns an unlock function. Keys with no outstanding holders are
// garbage collected from the internal map.
type KeyedMutex struct {
	mu      sync.Mutex
	entries map[string]*entry
}

// New constructs an empty KeyedMutex.
func New() *KeyedMutex {
	return &KeyedMutex{entries: make(map[string]*entry)}
}

// Lock acquires the lock for key, blocking if another holder is active, and
// returns a function that releases it. Callers MUST call the returned
// function exactly once.
func (k *KeyedMutex) Lock(key string) func() {
	k.mu.Lock()
	e, ok := k.entries[key]
	if !ok {
		e = &entry{}
		k.entries[key] = e
	}
	e.refCount++
	k.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}
}

// TryLock attempts to acquire the lock for key without blocking. It reports
// whether the lock was acquired; on success it also returns the unlock
// function. The orchestrator itself uses only Lock; its "background warming
// already in progress" check waits on the session's warmDone channel instead.
func (k *KeyedMutex) TryLock(key string) (unlock func(), ok bool) {
	k.mu.Lock()
	e, exists := k.entries[key]
	if !exists {
		e = &entry{}
		k.entries[key] = e
	}
	e.refCount++
	k.mu.Unlock()

	if !e.mu.TryLock() {
		k.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
		return nil, false
	}

	return func() {
		e.mu.Unlock()

		k.mu.Lock()
		e.refCount--
		if e.refCount == 0 {
			delete(k.entries, key)
		}
		k.mu.Unlock()
	}, true
}
