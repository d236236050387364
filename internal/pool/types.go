// Package pool is the Warm Pool Manager (spec §4.4): it owns the pool of
// worker and cache-master sandboxes, pre-warms workers from a cache-master's
// package-manager store, allocates/releases workers to projects, and
// destroys excess/aged unallocated workers — never cache-masters.
package pool

import (
	"fmt"
	"strings"
	"time"
)

// Role distinguishes pool workers from protected cache-masters (spec §3).
type Role string

const (
	RoleWorker      Role = "worker"
	RoleCacheMaster Role = "cacheMaster"
)

// Reserved is the transient allocatedTo sentinel set during the allocation
// health check (spec §3, §5): the reconciler/reaper MUST treat it as in-use.
const Reserved = "RESERVED"

const (
	workerNamePrefix      = "pool-"
	cacheMasterNamePrefix = "cache-"
	legacyCacheMasterPrefix = "ws-cache-"
	workspaceNamePrefix   = "ws-"
)

// Sandbox is a pool entry (spec §3). Invariants enforced by this package:
//   - role=cacheMaster ⇒ protected=true ∧ allocatedTo=nil
//   - cacheReady ⇒ prewarmed
//   - allocatedTo=Reserved is transient, set only during allocate()'s
//     verification step.
type Sandbox struct {
	SandboxID     string
	Name          string
	AgentEndpoint string
	ImageRef      string
	CreatedAt     time.Time
	Role          Role
	Prewarmed     bool
	CacheReady    bool
	// AllocatedTo is nil, Reserved, or a projectId.
	AllocatedTo *string
	AllocatedAt *time.Time
	Protected   bool
}

// IsAllocated reports whether the sandbox is bound to a real project (not nil,
// not the Reserved sentinel).
func (s *Sandbox) IsAllocated() bool {
	return s.AllocatedTo != nil && *s.AllocatedTo != Reserved
}

// IsReserved reports whether the sandbox is in the transient Reserved state.
func (s *Sandbox) IsReserved() bool {
	return s.AllocatedTo != nil && *s.AllocatedTo == Reserved
}

// IsFree reports whether the sandbox is neither allocated nor reserved.
func (s *Sandbox) IsFree() bool {
	return s.AllocatedTo == nil
}

// WorkerName synthesizes a pool worker name (spec §6: `pool-<ts>-<rand>`).
func WorkerName(ts int64, rand string) string {
	return fmt.Sprintf("%s%d-%s", workerNamePrefix, ts, rand)
}

// CacheMasterName synthesizes a cache-master name (spec §6: `cache-<ts>-<rand>`).
func CacheMasterName(ts int64, rand string) string {
	return fmt.Sprintf("%s%d-%s", cacheMasterNamePrefix, ts, rand)
}

// IsPoolName reports whether name matches any recognized pool prefix
// (worker, cache-master, or legacy cache-master), used by the reconciler's
// orphan-adoption scan (spec §4.4, §4.8).
func IsPoolName(name string) bool {
	return strings.HasPrefix(name, workerNamePrefix) ||
		strings.HasPrefix(name, cacheMasterNamePrefix) ||
		strings.HasPrefix(name, legacyCacheMasterPrefix)
}

// IsCacheMasterName reports whether name matches a cache-master prefix
// (current or legacy).
func IsCacheMasterName(name string) bool {
	return strings.HasPrefix(name, cacheMasterNamePrefix) || strings.HasPrefix(name, legacyCacheMasterPrefix)
}

// IsWorkspaceName reports whether name is a per-project workspace sandbox
// (`ws-<projectId>`), as opposed to a pool sandbox.
func IsWorkspaceName(name string) bool {
	return strings.HasPrefix(name, workspaceNamePrefix) && !IsCacheMasterName(name)
}
