package pool

import (
	"context"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
)

// Cleanup implements spec §4.4's periodic cleanup: list provider sandboxes,
// adopt unknown pool-named ones, then destroy unallocated workers that are
// both excess (over target) and old (exceeds maxSandboxAge), oldest first.
// Cache-masters are never destroyed by any path here (spec §5, §7, §8 #1).
func (m *Manager) Cleanup(ctx context.Context, activeUsers int) error {
	providerSandboxes, err := m.provider.ListSandboxes(ctx)
	if err != nil {
		return fmt.Errorf("listing provider sandboxes: %w", err)
	}

	m.adoptOrphans(providerSandboxes)

	return m.destroyExcessAndOld(ctx, activeUsers)
}

// adoptOrphans registers any provider sandbox whose name matches a pool
// prefix but isn't already tracked in-memory (spec §4.4 step (b)).
func (m *Manager) adoptOrphans(providerSandboxes []provider.Sandbox) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sbx := range providerSandboxes {
		if !IsPoolName(sbx.Name) {
			continue
		}
		if _, known := m.byID[sbx.ID]; known {
			continue
		}

		role := RoleWorker
		protected := false
		if IsCacheMasterName(sbx.Name) {
			role = RoleCacheMaster
			protected = true
		}

		m.byID[sbx.ID] = &Sandbox{
			SandboxID:     sbx.ID,
			Name:          sbx.Name,
			AgentEndpoint: sbx.AgentEndpoint,
			ImageRef:      sbx.ImageRef,
			CreatedAt:     sbx.CreatedAt,
			Role:          role,
			Protected:     protected,
		}

		m.log.Info("adopted orphan pool sandbox", logging.WithSandboxID(sbx.ID), logging.WithRole(string(role)))
	}
}

func (m *Manager) destroyExcessAndOld(ctx context.Context, activeUsers int) error {
	target := m.TargetSize(activeUsers)

	m.mu.Lock()
	var unallocatedWorkers []*Sandbox
	for _, s := range m.byID {
		if s.Role == RoleWorker && s.IsFree() {
			unallocatedWorkers = append(unallocatedWorkers, s)
		}
	}
	totalWorkers := 0
	for _, s := range m.byID {
		if s.Role == RoleWorker {
			totalWorkers++
		}
	}
	m.mu.Unlock()

	excess := totalWorkers - target
	if excess <= 0 {
		return nil
	}

	sort.Slice(unallocatedWorkers, func(i, j int) bool {
		return unallocatedWorkers[i].CreatedAt.Before(unallocatedWorkers[j].CreatedAt)
	})

	now := time.Now()
	destroyed := 0
	for _, s := range unallocatedWorkers {
		if destroyed >= excess {
			break
		}
		if now.Sub(s.CreatedAt) <= m.cfg.MaxSandboxAge {
			continue
		}

		if m.isProtected(s) {
			// Should be unreachable for role=worker, but the triple-check is
			// load-bearing at every destroy site regardless (spec §5).
			m.log.Error("cleanup skipped destroy: sandbox unexpectedly protected", logging.WithSandboxID(s.SandboxID))
			continue
		}

		if err := m.provider.DestroySandbox(ctx, s.SandboxID, m.isSafeToDestroy); err != nil {
			m.log.Error("failed to destroy excess/aged worker", logging.WithSandboxID(s.SandboxID), zap.Error(err))
			continue
		}

		m.mu.Lock()
		delete(m.byID, s.SandboxID)
		m.mu.Unlock()

		destroyed++
	}

	return nil
}
