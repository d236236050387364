package pool

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
)

// availableWorkers counts unallocated, non-reserved workers.
func (m *Manager) availableWorkers() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.byID {
		if s.Role == RoleWorker && s.IsFree() {
			n++
		}
	}
	return n
}

func (m *Manager) hasPrewarmedCacheMaster() bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.byID {
		if s.Role == RoleCacheMaster && s.Prewarmed {
			return true
		}
	}
	return false
}

func (m *Manager) cacheMasterCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := 0
	for _, s := range m.byID {
		if s.Role == RoleCacheMaster {
			n++
		}
	}
	return n
}

// Replenish computes the deficit between current available workers and the
// target (spec §4.4), ensures the required cache-masters exist first, and
// creates up to that many workers in parallel.
func (m *Manager) Replenish(ctx context.Context, activeUsers int) error {
	if err := m.ensureCacheMasters(ctx); err != nil {
		return fmt.Errorf("ensuring cache masters: %w", err)
	}

	if !m.hasPrewarmedCacheMaster() {
		budgetCtx, cancel := context.WithTimeout(ctx, m.cfg.ReplenishCacheMasterBudget)
		defer cancel()

		ticker := time.NewTicker(2 * time.Second)
		defer ticker.Stop()

	waitLoop:
		for {
			select {
			case <-budgetCtx.Done():
				m.log.Warn("no cache master became pre-warmed within budget, replenishing without one")
				break waitLoop
			case <-ticker.C:
				if m.hasPrewarmedCacheMaster() {
					break waitLoop
				}
			}
		}
	}

	target := m.TargetSize(activeUsers)
	deficit := target - m.availableWorkers()
	if deficit <= 0 {
		return nil
	}

	var g errgroup.Group
	for i := 0; i < deficit; i++ {
		g.Go(func() error {
			if err := m.createWorker(ctx); err != nil {
				m.log.Error("failed to create worker", zap.Error(err))
			}
			return nil
		})
	}
	_ = g.Wait()

	return nil
}

func (m *Manager) ensureCacheMasters(ctx context.Context) error {
	deficit := m.cfg.CacheMasterCount - m.cacheMasterCount()
	if deficit <= 0 {
		return nil
	}

	for i := 0; i < deficit; i++ {
		if err := m.createCacheMaster(ctx); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) createWorker(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	name := WorkerName(time.Now().Unix(), newSuffix())

	sbx, err := m.provider.CreateSandbox(ctx, provider.CreateRequest{
		Name:     name,
		ImageRef: m.imageRef,
		MemoryMB: m.memoryMB,
		VCPU:     m.vcpu,
		EnvVars:  map[string]string{"POOL_VM": "true"},
	})
	if err != nil {
		return fmt.Errorf("creating pool worker: %w", err)
	}

	entry := &Sandbox{
		SandboxID:     sbx.ID,
		Name:          name,
		AgentEndpoint: sbx.AgentEndpoint,
		ImageRef:      m.imageRef,
		CreatedAt:     time.Now(),
		Role:          RoleWorker,
	}

	m.mu.Lock()
	m.byID[entry.SandboxID] = entry
	m.mu.Unlock()

	go m.prewarmWorker(context.WithoutCancel(ctx), entry.SandboxID)

	return nil
}

func (m *Manager) createCacheMaster(ctx context.Context) error {
	if err := m.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.sem.Release(1)

	name := CacheMasterName(time.Now().Unix(), newSuffix())

	sbx, err := m.provider.CreateSandbox(ctx, provider.CreateRequest{
		Name:                name,
		ImageRef:            m.imageRef,
		MemoryMB:            m.memoryMB,
		VCPU:                m.vcpu,
		EnvVars:             map[string]string{"CACHE_MASTER": "true"},
		PersistentVolumeRef: name + "-pv",
		AutoDestroy:         false,
	})
	if err != nil {
		return fmt.Errorf("creating cache master: %w", err)
	}

	entry := &Sandbox{
		SandboxID:     sbx.ID,
		Name:          name,
		AgentEndpoint: sbx.AgentEndpoint,
		ImageRef:      m.imageRef,
		CreatedAt:     time.Now(),
		Role:          RoleCacheMaster,
		Protected:     true,
	}

	m.mu.Lock()
	m.byID[entry.SandboxID] = entry
	m.mu.Unlock()

	go m.prewarmCacheMaster(context.WithoutCancel(ctx), entry.SandboxID)

	return nil
}

// canonicalDependencyInstallCommand is the large canonical dependency list a
// cache-master installs once into its persistent volume before it is
// considered a valid pre-warm source (spec §4.4).
const canonicalDependencyInstallCommand = "npm install --prefix /opt/cache-store"

func (m *Manager) prewarmCacheMaster(ctx context.Context, sandboxID string) {
	entry, ok := m.Get(sandboxID)
	if !ok {
		return
	}

	if err := m.provider.WaitHealthy(ctx, entry.AgentEndpoint, "", sandboxID); err != nil {
		m.log.Error("cache master never became healthy", logging.WithSandboxID(sandboxID), zap.Error(err))
		return
	}

	result, err := m.provider.Exec(ctx, entry.AgentEndpoint, canonicalDependencyInstallCommand, "/opt/cache-store", sandboxID, 10*time.Minute)
	if err != nil || result.ExitCode != 0 {
		m.log.Error("cache master canonical install failed", logging.WithSandboxID(sandboxID), zap.Error(err))
		return
	}

	m.mu.Lock()
	if s, ok := m.byID[sandboxID]; ok {
		s.Prewarmed = true
		s.CacheReady = true
	}
	m.mu.Unlock()
}
