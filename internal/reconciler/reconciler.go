// Package reconciler is the Reconciler/Reaper (spec §4.8): a periodic task
// that reconciles provider-reported sandboxes against local pool/session
// state — adopting orphans, reaping zombies and idle allocations, and
// delegating pool-sandbox rebalancing to the Warm Pool Manager — grounded on
// the teacher's orchestrator/evictor/evict.go polling-loop shape,
// generalized from "evict idle Nomad allocations" to this spec's broader
// "adopt or reap every externally-visible sandbox" contract.
package reconciler

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/loghub"
	"github.com/cloudide-dev/workspace-orchestrator/internal/orchestrator"
	"github.com/cloudide-dev/workspace-orchestrator/internal/pool"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
	"github.com/cloudide-dev/workspace-orchestrator/internal/sessionstore"
)

// Reconciler periodically reconciles the provider's view of the world with
// local pool and session state (spec §4.8). It never aborts a cycle on a
// single failure (spec §7): every step logs and continues.
type Reconciler struct {
	cfg     cfg.ReconcilerConfig
	poolCfg cfg.PoolConfig

	provider *provider.Client
	pool     *pool.Manager
	store    sessionstore.Store
	orch     *orchestrator.Orchestrator
	hub      *loghub.Hub
	log      *zap.Logger
}

// New constructs a Reconciler wired to its collaborating services.
func New(
	c cfg.ReconcilerConfig,
	poolCfg cfg.PoolConfig,
	pc *provider.Client,
	poolMgr *pool.Manager,
	store sessionstore.Store,
	orch *orchestrator.Orchestrator,
	hub *loghub.Hub,
	log *zap.Logger,
) *Reconciler {
	return &Reconciler{
		cfg:      c,
		poolCfg:  poolCfg,
		provider: pc,
		pool:     poolMgr,
		store:    store,
		orch:     orch,
		hub:      hub,
		log:      log,
	}
}

// Run blocks, running one reconciliation cycle immediately and then every
// cfg.Interval, until ctx is cancelled (spec §4.8: "runs every 5 min and
// once at startup").
func (r *Reconciler) Run(ctx context.Context) {
	r.runCycle(ctx)

	ticker := time.NewTicker(r.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

func (r *Reconciler) runCycle(ctx context.Context) {
	activeUsers := len(r.orch.Sessions())

	if err := r.RunOnce(ctx, activeUsers); err != nil {
		r.log.Error("reconciler cycle failed", zap.Error(err))
	}
}

// RunOnce performs a single reconciliation cycle (spec §4.8 steps 1-3):
// list provider sandboxes, reconcile every workspace (`ws-<projectId>`)
// sandbox against session-store/idle state, then hand pool sandboxes to the
// Warm Pool Manager's own cleanup+replenish cycle.
func (r *Reconciler) RunOnce(ctx context.Context, activeUsers int) error {
	sandboxes, err := r.provider.ListSandboxes(ctx)
	if err != nil {
		return err
	}

	for _, sbx := range sandboxes {
		if pool.IsPoolName(sbx.Name) {
			continue // handled by the pool manager below, never by this loop
		}
		if !pool.IsWorkspaceName(sbx.Name) {
			continue // not ours
		}
		if sbx.Status != provider.StatusStarted {
			continue
		}
		r.reconcileWorkspace(ctx, sbx)
	}

	if err := r.pool.Cleanup(ctx, activeUsers); err != nil {
		r.log.Error("pool cleanup failed", zap.Error(err))
	}
	if err := r.pool.Replenish(ctx, activeUsers); err != nil {
		r.log.Error("pool replenish failed", zap.Error(err))
	}

	return nil
}

// reconcileWorkspace classifies a single workspace sandbox as expired,
// zombie, or adoptable, per spec §4.8 step 2.
func (r *Reconciler) reconcileWorkspace(ctx context.Context, sbx provider.Sandbox) {
	projectID := projectIDFor(sbx)
	rec, found, err := r.store.Get(ctx, projectID)
	if err != nil {
		r.log.Error("session store read failed during reconcile", logging.WithProjectID(projectID), zap.Error(err))
		return
	}

	now := time.Now()

	switch {
	case found && now.Sub(rec.LastUsedAt) > r.poolCfg.MaxIdleAge:
		r.hub.BroadcastEvent(projectID, "session_expired", map[string]interface{}{"sandboxId": sbx.ID})
		if err := r.orch.StopProject(ctx, projectID); err != nil {
			r.log.Error("failed to stop expired session", logging.WithProjectID(projectID), zap.Error(err))
		}
		if err := r.store.Delete(ctx, projectID); err != nil {
			r.log.Error("failed to delete expired session record", logging.WithProjectID(projectID), zap.Error(err))
		}

	case !found && now.Sub(sbx.CreatedAt) > r.poolCfg.MaxIdleAge:
		r.log.Warn("reaping zombie workspace sandbox", logging.WithProjectID(projectID), logging.WithSandboxID(sbx.ID))
		if err := r.provider.StopSandbox(ctx, sbx.ID); err != nil {
			r.log.Error("failed to stop zombie sandbox", logging.WithSandboxID(sbx.ID), zap.Error(err))
		}

	default:
		lastUsedAt := now
		if found {
			lastUsedAt = rec.LastUsedAt
		}
		r.orch.AdoptSession(ctx, projectID, sbx.ID, sbx.AgentEndpoint, sbx.ImageRef, sbx.CreatedAt, lastUsedAt)
	}
}

const workspaceNamePrefix = "ws-"

// projectIDFor derives a workspace sandbox's owning project, preferring the
// PROJECT_ID env var with a name-parsing fallback (spec §4.8: "keyed by the
// sandbox's PROJECT_ID env (fallback: derive from name)").
func projectIDFor(sbx provider.Sandbox) string {
	if id, ok := sbx.EnvVars["PROJECT_ID"]; ok && id != "" {
		return id
	}
	return strings.TrimPrefix(sbx.Name, workspaceNamePrefix)
}
