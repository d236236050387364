package pool

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
)

const (
	sharedCacheMountPath = "/home/coder/.cache/pkg-store"
	statSizeCommand      = "du -sb " + sharedCacheMountPath + " 2>/dev/null | cut -f1"
)

// selectCacheMasterSource picks the cache-master to pre-warm from, preferring
// protected ones backed by a persistent volume (spec §4.4 step 1) — in this
// model every cache-master is protected and PV-backed, so the preference
// reduces to "the oldest pre-warmed one" for determinism across repeated
// pre-warm cycles.
func (m *Manager) selectCacheMasterSource() *Sandbox {
	m.mu.Lock()
	defer m.mu.Unlock()

	var best *Sandbox
	for _, s := range m.byID {
		if s.Role != RoleCacheMaster || !s.Prewarmed {
			continue
		}
		if best == nil || s.CreatedAt.Before(best.CreatedAt) {
			best = s
		}
	}
	return best
}

// prewarmWorker pre-warms a worker from a pre-warmed cache-master (spec §4.4
// steps 1-4): once the worker is healthy, the manager runs the package-store
// fetch on the worker through its agent. Workers are created without a
// CACHE_MASTER_ID environment variable and do not fetch on their own. Runs in
// the background once the worker is created.
func (m *Manager) prewarmWorker(ctx context.Context, sandboxID string) {
	entry, ok := m.Get(sandboxID)
	if !ok {
		return
	}

	if err := m.provider.WaitHealthy(ctx, entry.AgentEndpoint, "", sandboxID); err != nil {
		m.log.Error("worker never became healthy, leaving unprewarmed for the reaper",
			logging.WithSandboxID(sandboxID), zap.Error(err))
		return
	}

	master := m.selectCacheMasterSource()
	if master == nil {
		m.log.Warn("no pre-warmed cache master available yet, worker stays off-allocation",
			logging.WithSandboxID(sandboxID))
		return
	}

	fetchCmd := fmt.Sprintf(
		"mkdir -p %s && curl -fsSL http://%s/download?type=pkg-store | tar -xzf - -C %s",
		sharedCacheMountPath, master.AgentEndpoint, sharedCacheMountPath,
	)
	if _, err := m.provider.Exec(ctx, entry.AgentEndpoint, fetchCmd, "/", sandboxID, 5*time.Minute); err != nil {
		m.log.Error("worker failed to fetch package store from cache master",
			logging.WithSandboxID(sandboxID), zap.Error(err))
		return
	}

	if m.pollStableSize(ctx, entry.AgentEndpoint, sandboxID) {
		m.mu.Lock()
		if s, ok := m.byID[sandboxID]; ok {
			s.Prewarmed = true
			s.CacheReady = true
		}
		m.mu.Unlock()
	} else {
		m.log.Warn("prewarm window expired below minimum size, worker left ineligible for allocation",
			logging.WithSandboxID(sandboxID))
	}
}

// pollStableSize polls the extracted cache directory's size until it is
// stable for PrewarmStableWindowPolls consecutive polls AND exceeds
// PrewarmMinBytes, within PrewarmBudget (spec §4.4 step 4).
func (m *Manager) pollStableSize(ctx context.Context, endpoint, sandboxID string) bool {
	deadline := time.Now().Add(m.cfg.PrewarmBudget)
	var lastSize int64 = -1
	stableCount := 0

	ticker := time.NewTicker(m.cfg.PrewarmPollInterval)
	defer ticker.Stop()

	for {
		if time.Now().After(deadline) {
			return false
		}

		result, err := m.provider.Exec(ctx, endpoint, statSizeCommand, "/", sandboxID, 10*time.Second)
		if err == nil && result.ExitCode == 0 {
			size, parseErr := strconv.ParseInt(strings.TrimSpace(result.Stdout), 10, 64)
			if parseErr == nil {
				if size == lastSize {
					stableCount++
				} else {
					stableCount = 1
				}
				lastSize = size

				if stableCount >= m.cfg.PrewarmStableWindowPolls && size >= m.cfg.PrewarmMinBytes {
					return true
				}
			}
		}

		select {
		case <-ctx.Done():
			return false
		case <-ticker.C:
		}
	}
}
