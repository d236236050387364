package orchestrator

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/loghub"
)

// StartPreview drives spec §4.6's central state machine:
// Allocating → Syncing → Installing → Starting → Running. If a background
// PrewarmProject is in flight for this project, StartPreview awaits it and
// skips the redundant purge+sync (files are already fresh).
func (o *Orchestrator) StartPreview(ctx context.Context, projectID string, info ProjectInfo) (*ActiveSession, error) {
	s, err := o.getOrCreateSandbox(ctx, projectID, CreateOptions{})
	if err != nil {
		return nil, err
	}

	unlock := o.locks.Lock(projectID)
	defer unlock()

	if err := o.awaitWarmingOrSync(ctx, s); err != nil {
		return nil, err
	}

	s.State = StateInstalling
	if s.Kind == "" {
		s.Kind = info.Kind
	}
	if s.StartCommand == "" {
		s.StartCommand = info.StartCommand
	}

	if err := o.applyConfigPatches(ctx, s, info); err != nil {
		o.log.Warn("config patch failed before start", logging.WithProjectID(projectID), zap.Error(err))
	}

	if _, err := o.install(ctx, s, false); err != nil {
		return nil, err
	}

	s.State = StateStarting
	if err := o.startDevServer(ctx, s, info); err != nil {
		return nil, err
	}

	s.State = StateRunning
	s.PreviewURL = o.gatewayURL()
	s.LastUsedAt = time.Now()
	o.startLogPump(s)

	if err := o.persistSession(ctx, s); err != nil {
		o.log.Warn("failed to persist session after start", logging.WithProjectID(projectID), zap.Error(err))
	}

	go o.enforceConcurrencyCap(context.WithoutCancel(ctx), projectID)

	return s, nil
}

// enforceConcurrencyCap implements the optional ConcurrencyCapped policy
// (spec §7): when OrchestratorConfig.MaxActiveSandboxes is set and the
// number of active sessions exceeds it, the oldest session (LRU by
// CreatedAt), excluding the one that was just started, is stopped.
func (o *Orchestrator) enforceConcurrencyCap(ctx context.Context, justStartedProjectID string) {
	if o.cfg.MaxActiveSandboxes <= 0 {
		return
	}

	sessions := o.Sessions()
	if len(sessions) <= o.cfg.MaxActiveSandboxes {
		return
	}

	var oldest *ActiveSession
	for i := range sessions {
		s := sessions[i]
		if s.ProjectID == justStartedProjectID {
			continue
		}
		if oldest == nil || s.CreatedAt.Before(oldest.CreatedAt) {
			oldest = &s
		}
	}
	if oldest == nil {
		return
	}

	o.log.Warn("concurrency cap exceeded, stopping oldest session", zap.Error(ErrConcurrencyCapped),
		zap.Int("active", len(sessions)), zap.Int("cap", o.cfg.MaxActiveSandboxes),
		logging.WithProjectID(oldest.ProjectID))
	if err := o.StopProject(ctx, oldest.ProjectID); err != nil {
		o.log.Warn("failed to stop session over concurrency cap", logging.WithProjectID(oldest.ProjectID), zap.Error(err))
	}
}

// awaitWarmingOrSync implements step 1's branch: if a background warm for
// this project is already in flight, wait for it and skip the purge+sync
// (spec §4.6 step 1, §5: "startPreview MUST await any in-flight
// prewarmProject for the same project"). Otherwise perform the purge+sync
// itself.
func (o *Orchestrator) awaitWarmingOrSync(ctx context.Context, s *ActiveSession) error {
	if warming, done := o.warmingState(s); warming && done != nil {
		select {
		case <-done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	s.State = StateSyncing
	if err := o.purgeProjectDirectory(ctx, s); err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if err := o.forceSync(ctx, s); err != nil {
		return err
	}
	if err := o.ensureGitInitialized(ctx, s, CreateOptions{}); err != nil {
		o.log.Warn("git initialization failed", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}
	if err := o.forceRestorePackageJSON(ctx, s); err != nil {
		o.log.Warn("failed to force-restore package.json", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}
	return nil
}

// startDevServer implements step 3: kill stragglers, clean framework build
// caches, launch the detached start command, settle, then health-check over
// the public gateway (spec §4.6 step 3).
func (o *Orchestrator) startDevServer(ctx context.Context, s *ActiveSession, info ProjectInfo) error {
	if err := o.killDevServerPort(ctx, s); err != nil {
		o.log.Warn("failed to kill dev-server port before start", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}
	if err := o.cleanBuildCaches(ctx, s); err != nil {
		o.log.Warn("failed to clean framework build caches", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}

	logPath := devServerLogPath
	script := fmt.Sprintf(`rm -f %[2]s; nohup sh -c '%[1]s' > %[2]s 2>&1 & disown`, s.StartCommand, logPath)
	if _, err := o.provider.Exec(ctx, s.AgentEndpoint, script, projectWorkdir, s.SandboxID, fastExecTimeout); err != nil {
		return fmt.Errorf("%w: %v", ErrDevServerTimeout, err)
	}

	select {
	case <-time.After(o.cfg.StartSettleDelay):
	case <-ctx.Done():
		return ctx.Err()
	}

	budget := o.cfg.HealthBudgetDefault
	if info.Kind == KindNodeNext {
		budget = o.cfg.HealthBudgetNextJS
	}

	if err := o.provider.WaitDevServerResponding(ctx, o.gatewayURL(), s.SandboxID, budget); err != nil {
		return o.devServerTimeoutWithLogs(ctx, s, err)
	}

	return nil
}

// devServerTimeoutWithLogs enriches a DevServerTimeout with the last ~30 log
// lines (spec §7).
func (o *Orchestrator) devServerTimeoutWithLogs(ctx context.Context, s *ActiveSession, cause error) error {
	result, execErr := o.provider.Exec(ctx, s.AgentEndpoint, "tail -n 30 "+devServerLogPath, "/", s.SandboxID, fastExecTimeout)
	if execErr != nil {
		return fmt.Errorf("%w: %v", ErrDevServerTimeout, cause)
	}
	return fmt.Errorf("%w: %v\n%s", ErrDevServerTimeout, cause, result.Stdout)
}

// cleanBuildCaches removes .next/.vite to avoid stale-module errors after a
// resync (spec §4.6 step 3).
func (o *Orchestrator) cleanBuildCaches(ctx context.Context, s *ActiveSession) error {
	_, err := o.provider.Exec(ctx, s.AgentEndpoint, "rm -rf .next .vite", projectWorkdir, s.SandboxID, fastExecTimeout)
	return err
}

// startLogPump launches the Log Hub tail pump for a running preview, rooted
// in a cancellable context stored for later teardown (spec §4.7, §9:
// "fire-and-forget tasks ... cancellation tokens rooted in the session
// lifetime").
func (o *Orchestrator) startLogPump(s *ActiveSession) {
	o.stopPump(s.ProjectID)

	pumpCtx, cancel := context.WithCancel(context.Background())
	o.setPumpCancel(s.ProjectID, cancel)

	pump := loghub.NewPump(o.logHub, o.provider, o.log, s.ProjectID, s.AgentEndpoint, s.SandboxID, devServerLogPath,
		o.cfg.LogPumpInterval, o.cfg.LogPumpMaxLifetime)
	go pump.Run(pumpCtx)
}

// ReleaseProject stops the dev server, purges project files (preserving
// node_modules), returns the sandbox to the pool, and clears the session
// (spec §4.6: releaseProject). Cache-masters are never released this way —
// they were never handed out by Allocate in the first place.
func (o *Orchestrator) ReleaseProject(ctx context.Context, projectID string) error {
	unlock := o.locks.Lock(projectID)
	defer unlock()

	s, ok := o.getSession(projectID)
	if !ok {
		return nil
	}

	o.stopPump(projectID)

	if err := o.killDevServerPort(ctx, s); err != nil {
		o.log.Warn("failed to stop dev server on release", logging.WithProjectID(projectID), zap.Error(err))
	}
	if err := o.purgeProjectDirectory(ctx, s); err != nil {
		o.log.Warn("failed to purge project directory on release", logging.WithProjectID(projectID), zap.Error(err))
	}

	o.pool.Release(s.SandboxID)
	o.removeSession(projectID)
	o.logHub.RemoveProject(projectID)

	return o.sessionStore.Delete(ctx, projectID)
}

// StopProject is like ReleaseProject, but for a sandbox outside the pool
// (the adopt/forceCreate path): the sandbox is destroyed rather than
// returned (spec §4.6: stopProject). Unlike ReleaseProject, the Reconciler
// calls this for sessions that were never adopted into the in-memory table
// (spec §4.8: a durable-store-only idle session being reaped), so it falls
// back to the session-store record when no in-memory session exists.
func (o *Orchestrator) StopProject(ctx context.Context, projectID string) error {
	unlock := o.locks.Lock(projectID)
	defer unlock()

	s, ok := o.getSession(projectID)
	if !ok {
		rec, found, err := o.sessionStore.Get(ctx, projectID)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
		if !found {
			return nil
		}
		s = &ActiveSession{ProjectID: projectID, SandboxID: rec.SandboxID, AgentEndpoint: rec.AgentEndpoint, ImageRef: rec.ImageRef}
	}

	o.stopPump(projectID)

	if err := o.killDevServerPort(ctx, s); err != nil {
		o.log.Warn("failed to stop dev server before destroy", logging.WithProjectID(projectID), zap.Error(err))
	}

	if _, isPooled := o.pool.Get(s.SandboxID); isPooled {
		if err := o.purgeProjectDirectory(ctx, s); err != nil {
			o.log.Warn("failed to purge project directory on stop", logging.WithProjectID(projectID), zap.Error(err))
		}
		o.pool.Release(s.SandboxID)
	} else if err := o.provider.DestroySandbox(ctx, s.SandboxID, func(string) bool { return true }); err != nil {
		o.log.Warn("failed to destroy workspace sandbox on stop", logging.WithProjectID(projectID), zap.Error(err))
	}

	o.removeSession(projectID)
	o.logHub.RemoveProject(projectID)

	return o.sessionStore.Delete(ctx, projectID)
}

// AdoptSession materializes an in-memory session for a sandbox the
// Reconciler discovered without a matching session-store entry or active
// session (spec §4.8: orphan adoption), restarts its log pump, and triggers
// a file sync.
func (o *Orchestrator) AdoptSession(ctx context.Context, projectID, sandboxID, agentEndpoint, imageRef string, createdAt, lastUsedAt time.Time) *ActiveSession {
	unlock := o.locks.Lock(projectID)
	defer unlock()

	if s, ok := o.getSession(projectID); ok {
		return s
	}

	s := &ActiveSession{
		ProjectID:     projectID,
		SandboxID:     sandboxID,
		AgentEndpoint: agentEndpoint,
		ImageRef:      imageRef,
		State:         StateRunning,
		CreatedAt:     createdAt,
		LastUsedAt:    lastUsedAt,
		PreviewURL:    o.gatewayURL(),
	}
	o.setSession(s)
	o.startLogPump(s)

	go func() {
		syncCtx := context.WithoutCancel(ctx)
		if err := o.forceSync(syncCtx, s); err != nil {
			o.log.Warn("adoption file sync failed", logging.WithProjectID(projectID), zap.Error(err))
		}
	}()

	if err := o.persistSession(ctx, s); err != nil {
		o.log.Warn("failed to persist adopted session", logging.WithProjectID(projectID), zap.Error(err))
	}

	return s
}

const devServerLogPath = projectWorkdir + "/.wlo-dev-server.log"
