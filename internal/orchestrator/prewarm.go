package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
)

// PrewarmProject is triggered when a user opens a project (spec §4.6):
// acquire a sandbox, purge+sync files, detect the project kind, persist it,
// then in the background patch config and run install without starting the
// dev server.
func (o *Orchestrator) PrewarmProject(ctx context.Context, projectID string) error {
	s, err := o.getOrCreateSandbox(ctx, projectID, CreateOptions{})
	if err != nil {
		return err
	}

	if warming, _ := o.warmingState(s); warming {
		return nil // already warming; StartPreview waits on warmDone via awaitWarmingOrSync
	}

	if err := o.purgeProjectDirectory(ctx, s); err != nil {
		return err
	}
	if err := o.forceSync(ctx, s); err != nil {
		return err
	}
	if err := o.ensureGitInitialized(ctx, s, CreateOptions{}); err != nil {
		o.log.Warn("git initialization failed", logging.WithProjectID(projectID), zap.Error(err))
	}

	info, err := o.detectProjectKind(ctx, s)
	if err != nil {
		return err
	}
	s.Kind = info.Kind
	s.StartCommand = info.StartCommand
	o.setWarming(s, true, make(chan struct{}))
	if err := o.persistSession(ctx, s); err != nil {
		o.log.Warn("failed to persist session after detection", logging.WithProjectID(projectID), zap.Error(err))
	}

	go o.backgroundPrepare(detachedContext(ctx), s, info)

	s.LastUsedAt = time.Now()
	return nil
}

// detectProjectKind reads package.json from the object store (authoritative)
// and lists project files to run the detection rule table (spec §4.6:
// "never infer from a reused sandbox's filesystem").
func (o *Orchestrator) detectProjectKind(ctx context.Context, s *ActiveSession) (ProjectInfo, error) {
	files, err := o.objectStore.ListFiles(ctx, s.ProjectID)
	if err != nil {
		return ProjectInfo{}, err
	}
	pkgJSON, _, _ := o.objectStore.ReadFile(ctx, s.ProjectID, "package.json")
	return o.Detect(files, pkgJSON), nil
}

// backgroundPrepare runs the config-patch + install steps without starting
// the dev server (staySilent, spec §4.6).
func (o *Orchestrator) backgroundPrepare(ctx context.Context, s *ActiveSession, info ProjectInfo) {
	defer func() {
		_, done := o.warmingState(s)
		o.setWarming(s, false, nil)
		if done != nil {
			close(done)
		}
	}()

	if err := o.applyConfigPatches(ctx, s, info); err != nil {
		o.log.Warn("config patch failed during prewarm", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}

	if _, err := o.install(ctx, s, true); err != nil {
		o.log.Warn("background install failed during prewarm", logging.WithProjectID(s.ProjectID), zap.Error(err))
		return
	}

	now := time.Now()
	s.PreparedAt = &now
	s.LastUsedAt = now
	if err := o.persistSession(ctx, s); err != nil {
		o.log.Warn("failed to persist session after prewarm install", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}
}

// detachedContext strips the deadline/cancellation of a request-scoped
// context for fire-and-forget background work, while still propagating
// values needed for logging correlation (spec §9: "fire-and-forget with
// explicit cancellation tokens" — the token here is the 10-minute install
// cap applied inside install() itself, not the caller's request lifetime).
func detachedContext(parent context.Context) context.Context {
	return context.WithoutCancel(parent)
}
