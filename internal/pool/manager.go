package pool

import (
	"context"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/dchest/uniuri"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
	"github.com/cloudide-dev/workspace-orchestrator/internal/semaphore"
)

// Manager owns the pool list exclusively (spec §3 Ownership, §5): only it
// adds/removes sandbox entries; the Orchestrator may mutate allocation
// fields of entries it was handed, but never the map itself.
type Manager struct {
	mu    sync.Mutex
	byID  map[string]*Sandbox

	cfg      cfg.PoolConfig
	provider *provider.Client
	sem      *semaphore.Semaphore
	log      *zap.Logger

	imageRef string
	memoryMB int
	vcpu     int

	activeUsers int
}

// New constructs a Manager. imageRef/memoryMB/vcpu are the fixed pool-worker
// sizing (spec §4.6: "a fixed size" for pool workers, unlike orchestrator
// cold-starts which size dynamically).
func New(c cfg.PoolConfig, providerCfg cfg.ProviderConfig, pc *provider.Client, log *zap.Logger, imageRef string, memoryMB, vcpu int) (*Manager, error) {
	sem, err := semaphore.NewAdjustableSemaphore(int64(providerCfg.MaxConcurrency))
	if err != nil {
		return nil, fmt.Errorf("constructing provider semaphore: %w", err)
	}

	return &Manager{
		byID:     make(map[string]*Sandbox),
		cfg:      c,
		provider: pc,
		sem:      sem,
		log:      log,
		imageRef: imageRef,
		memoryMB: memoryMB,
		vcpu:     vcpu,
	}, nil
}

// isProtected implements the triple-check safety invariant (spec §5): a
// sandbox is protected if its id is in the hard-coded list, its name matches
// a cache-master prefix, or its role is cacheMaster.
func (m *Manager) isProtected(s *Sandbox) bool {
	if s.Protected {
		return true
	}
	if IsCacheMasterName(s.Name) {
		return true
	}
	if s.Role == RoleCacheMaster {
		return true
	}
	for _, id := range m.cfg.ProtectedSandboxIDs {
		if id == s.SandboxID {
			return true
		}
	}
	return false
}

// isSafeToDestroy is handed to provider.Client.DestroySandbox as the
// defensive ProtectionCheck predicate, re-checked under the pool lock
// immediately before every destroy call (spec §5 safety invariant).
func (m *Manager) isSafeToDestroy(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[id]
	if !ok {
		// Unknown to us: destroying an id we don't track at all is never
		// something this package initiates.
		return false
	}

	if m.isProtected(s) {
		m.log.Error("refused destroy: protected sandbox", zap.String("sandbox_id", id), zap.String("role", string(s.Role)))
		return false
	}

	if s.AllocatedTo != nil {
		m.log.Error("refused destroy: sandbox is allocated", zap.String("sandbox_id", id))
		return false
	}

	return true
}

// Allocate implements spec §4.4's allocation algorithm.
func (m *Manager) Allocate(ctx context.Context, projectID string) (*Sandbox, error) {
	for {
		candidate := m.reserveCandidate()
		if candidate == nil {
			return nil, ErrPoolExhausted
		}

		verified, err := m.verify(ctx, candidate)
		if err != nil || !verified {
			m.log.Warn("candidate failed verification, dropping and retrying",
				logging.WithSandboxID(candidate.SandboxID), zap.Error(err))
			m.dropUnverified(candidate.SandboxID)
			continue
		}

		now := time.Now()
		m.mu.Lock()
		candidate.AllocatedTo = &projectID
		candidate.AllocatedAt = &now
		m.mu.Unlock()

		go m.replenishAsync(context.WithoutCancel(ctx))

		return candidate, nil
	}
}

// reserveCandidate picks the best eligible worker, per the two-tier selection
// order in spec §4.4, and optimistically marks it Reserved to exclude the
// reaper (spec §5: "allocate sets RESERVED before any verification I/O").
func (m *Manager) reserveCandidate() *Sandbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	var tier1, tier2 []*Sandbox
	for _, s := range m.byID {
		if s.Role != RoleWorker || !s.IsFree() {
			continue
		}
		if s.Prewarmed && s.CacheReady {
			tier1 = append(tier1, s)
		} else if s.CacheReady {
			tier2 = append(tier2, s)
		}
	}

	pick := func(pool []*Sandbox) *Sandbox {
		if len(pool) == 0 {
			return nil
		}
		sort.Slice(pool, func(i, j int) bool { return pool[i].CreatedAt.Before(pool[j].CreatedAt) })
		return pool[0]
	}

	chosen := pick(tier1)
	if chosen == nil {
		chosen = pick(tier2)
	}
	if chosen == nil {
		return nil
	}

	reserved := Reserved
	chosen.AllocatedTo = &reserved
	return chosen
}

// verify performs the provider-side checks step 2 of spec §4.4 describes.
func (m *Manager) verify(ctx context.Context, s *Sandbox) (bool, error) {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return false, err
	}
	defer m.sem.Release(1)

	sandboxes, err := m.provider.ListSandboxes(ctx)
	if err != nil {
		return false, err
	}

	var found *provider.Sandbox
	for i := range sandboxes {
		if sandboxes[i].ID == s.SandboxID {
			found = &sandboxes[i]
			break
		}
	}

	if found == nil {
		return false, nil // destroyed: drop and retry
	}

	switch found.Status {
	case provider.StatusStopped:
		startCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
		defer cancel()
		if err := m.provider.StartSandbox(startCtx, s.SandboxID); err != nil {
			return false, err
		}
	case provider.StatusDestroyed:
		return false, nil
	}

	if err := m.provider.WaitHealthy(ctx, s.AgentEndpoint, "", s.SandboxID); err != nil {
		// Unresponsive agent: skip, don't evict — it may be momentarily busy
		// (spec §4.4 step 2).
		m.unreserve(s.SandboxID)
		return false, nil
	}

	return true, nil
}

// dropUnverified removes a sandbox entry the verify step determined is
// destroyed/invalid, so the next reserveCandidate() call won't see it again.
func (m *Manager) dropUnverified(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
}

// unreserve clears the transient Reserved marker without removing the entry
// (used when verification fails for a recoverable reason).
func (m *Manager) unreserve(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.byID[id]; ok && s.IsReserved() {
		s.AllocatedTo = nil
	}
}

// MarkAllocated marks an existing pool entry as allocated to projectID
// without going through Allocate's selection/verification step (spec §4.6
// step 2: recovering a durable session must "mark the sandbox as allocated
// in the pool manager" so the reconciler/reaper doesn't race with recovery
// by reassigning or reaping an entry that looks free). A no-op if the
// sandbox isn't a tracked pool entry (e.g. it was created outside the pool).
func (m *Manager) MarkAllocated(sandboxID, projectID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[sandboxID]; ok {
		now := time.Now()
		s.AllocatedTo = &projectID
		s.AllocatedAt = &now
	}
}

// Release marks a worker free again (spec §4.4). Purging project files is
// the caller's responsibility (Provider Client file ops); this just clears
// the pool-owned allocation fields.
func (m *Manager) Release(sandboxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.byID[sandboxID]; ok {
		s.AllocatedTo = nil
		s.AllocatedAt = nil
	}
}

// Get returns a copy of the pool entry for id, if present.
func (m *Manager) Get(sandboxID string) (Sandbox, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.byID[sandboxID]
	if !ok {
		return Sandbox{}, false
	}
	return *s, true
}

// Snapshot returns a copy of every pool entry, for admin listing and
// reconciler reads.
func (m *Manager) Snapshot() []Sandbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]Sandbox, 0, len(m.byID))
	for _, s := range m.byID {
		out = append(out, *s)
	}
	return out
}

// TargetSize computes spec §4.4's target formula:
// clamp(ceil(activeUsers*loadFactor), workerTargetBase, workerTargetMax).
func (m *Manager) TargetSize(activeUsers int) int {
	raw := int(math.Ceil(float64(activeUsers) * m.cfg.ActiveUserLoadFactor))
	if raw < m.cfg.WorkerTargetBase {
		return m.cfg.WorkerTargetBase
	}
	if raw > m.cfg.WorkerTargetMax {
		return m.cfg.WorkerTargetMax
	}
	return raw
}

// SetActiveUserEstimate updates the estimate of concurrently active users
// fed into TargetSize's formula by replenishAsync, the background
// replenishment Allocate starts. Nothing in this repository calls it, so that
// path computes its target from an estimate of 0.
func (m *Manager) SetActiveUserEstimate(n int) {
	m.mu.Lock()
	m.activeUsers = n
	m.mu.Unlock()
}

func (m *Manager) currentActiveUserEstimate() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.activeUsers
}

func (m *Manager) replenishAsync(ctx context.Context) {
	if err := m.Replenish(ctx, m.currentActiveUserEstimate()); err != nil {
		m.log.Warn("background replenish failed", zap.Error(err))
	}
}

// newSuffix generates the <rand> suffix for pool/cache-master names.
func newSuffix() string {
	return uniuri.NewLen(8)
}
