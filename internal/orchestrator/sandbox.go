package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
	"github.com/cloudide-dev/workspace-orchestrator/internal/sessionstore"
)

const fallbackVCPU = 2

func workspaceSandboxName(projectID string) string {
	return "ws-" + projectID
}

// getOrCreateSandbox resolves a project to a live, healthy sandbox (spec
// §4.6). Resolution order: in-memory table, Session Store, pool allocation,
// then, only with opts.ForceCreate, adoption of an existing `ws-<projectId>`
// sandbox or direct creation outside the pool. Without opts.ForceCreate an
// empty pool yields ErrPoolExhausted.
func (o *Orchestrator) getOrCreateSandbox(ctx context.Context, projectID string, opts CreateOptions) (*ActiveSession, error) {
	unlock := o.locks.Lock(projectID)
	defer unlock()

	if s, ok := o.getSession(projectID); ok {
		return s, nil
	}

	if s, err := o.recoverFromSessionStore(ctx, projectID); err != nil {
		return nil, err
	} else if s != nil {
		return s, nil
	}

	if sbx, err := o.pool.Allocate(ctx, projectID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPoolExhausted, err)
	} else if sbx != nil {
		s := &ActiveSession{
			ProjectID:     projectID,
			SandboxID:     sbx.SandboxID,
			AgentEndpoint: sbx.AgentEndpoint,
			ImageRef:      sbx.ImageRef,
			State:         StateAllocating,
			CreatedAt:     time.Now(),
			LastUsedAt:    time.Now(),
		}
		o.setSession(s)
		return s, nil
	}

	if !opts.ForceCreate {
		return nil, ErrPoolExhausted
	}

	return o.adoptOrCreateWorkspace(ctx, projectID, opts)
}

// recoverFromSessionStore implements resolution step 2: find a durable
// session, verify the provider still has the sandbox and the image is still
// current, and mark it allocated in the pool to keep the reaper off it.
func (o *Orchestrator) recoverFromSessionStore(ctx context.Context, projectID string) (*ActiveSession, error) {
	rec, found, err := o.sessionStore.Get(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}
	if !found {
		return nil, nil
	}

	sandboxes, err := o.provider.ListSandboxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var match *provider.Sandbox
	for i := range sandboxes {
		if sandboxes[i].ID == rec.SandboxID {
			match = &sandboxes[i]
			break
		}
	}
	if match == nil || match.Status == provider.StatusDestroyed || match.ImageRef != rec.ImageRef || rec.ImageRef != o.cfg.ImageRef {
		_ = o.sessionStore.Delete(ctx, projectID)
		return nil, nil
	}

	if _, ok := o.pool.Get(rec.SandboxID); ok {
		o.pool.MarkAllocated(rec.SandboxID, projectID)
	}

	s := &ActiveSession{
		ProjectID:     projectID,
		SandboxID:     rec.SandboxID,
		AgentEndpoint: rec.AgentEndpoint,
		ImageRef:      rec.ImageRef,
		State:         StateAllocating,
		CreatedAt:     rec.CreatedAt,
		LastUsedAt:    time.Now(),
		PreparedAt:    rec.PreparedAt,
	}
	if rec.DetectedProjectKind != nil {
		s.Kind = ProjectKind(*rec.DetectedProjectKind)
	}
	if rec.StartCommand != nil {
		s.StartCommand = *rec.StartCommand
	}
	o.setSession(s)
	return s, nil
}

// adoptOrCreateWorkspace is resolution step 4: adopt a pre-existing
// `ws-<projectId>` sandbox if the image matches, otherwise destroy-and-
// recreate (or create fresh) with the sized memory and an optional shared
// package-manager volume.
func (o *Orchestrator) adoptOrCreateWorkspace(ctx context.Context, projectID string, opts CreateOptions) (*ActiveSession, error) {
	name := workspaceSandboxName(projectID)

	sandboxes, err := o.provider.ListSandboxes(ctx)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	var existing *provider.Sandbox
	for i := range sandboxes {
		if sandboxes[i].Name == name {
			existing = &sandboxes[i]
			break
		}
	}

	if existing != nil && existing.ImageRef == o.cfg.ImageRef {
		if existing.Status == provider.StatusStopped {
			if err := o.provider.StartSandbox(ctx, existing.ID); err != nil {
				return nil, fmt.Errorf("%w: %v", ErrSandboxUnreachable, err)
			}
		}
		if err := o.provider.WaitHealthy(ctx, existing.AgentEndpoint, o.gatewayURL(), existing.ID); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSandboxUnreachable, err)
		}
		return o.registerCreated(projectID, existing), nil
	}

	if existing != nil {
		if err := o.provider.DestroySandbox(ctx, existing.ID, func(string) bool { return true }); err != nil {
			o.log.Warn("failed to destroy stale workspace sandbox before recreate", logging.WithProjectID(projectID), zap.Error(err))
		}
	}

	pkgJSON, _, _ := o.objectStore.ReadFile(ctx, projectID, "package.json")
	var pkg *packageJSON
	if len(pkgJSON) > 0 {
		var parsed packageJSON
		if json.Unmarshal(pkgJSON, &parsed) == nil {
			pkg = &parsed
		}
	}

	created, err := o.provider.CreateSandbox(ctx, provider.CreateRequest{
		Name:                name,
		ImageRef:            o.cfg.ImageRef,
		MemoryMB:            o.memoryForProject(pkg),
		VCPU:                fallbackVCPU,
		EnvVars:             map[string]string{"PROJECT_ID": projectID},
		PersistentVolumeRef: o.cfg.SharedPackageVolumeRef,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxUnreachable, err)
	}

	if err := o.provider.WaitHealthy(ctx, created.AgentEndpoint, o.gatewayURL(), created.ID); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSandboxUnreachable, err)
	}

	return o.registerCreated(projectID, created), nil
}

func (o *Orchestrator) registerCreated(projectID string, sbx *provider.Sandbox) *ActiveSession {
	s := &ActiveSession{
		ProjectID:     projectID,
		SandboxID:     sbx.ID,
		AgentEndpoint: sbx.AgentEndpoint,
		ImageRef:      sbx.ImageRef,
		State:         StateAllocating,
		CreatedAt:     time.Now(),
		LastUsedAt:    time.Now(),
	}
	o.setSession(s)
	return s
}

// gatewayURL is the single public gateway URL every sandbox shares; routing
// to a specific instance happens via the routing header carried alongside
// this URL (provider.Client.WaitHealthy/WaitDevServerResponding take the
// sandbox id separately for that purpose), not via the URL itself.
func (o *Orchestrator) gatewayURL() string {
	return fmt.Sprintf("https://%s", o.cfg.GatewayHost)
}

func (o *Orchestrator) persistSession(ctx context.Context, s *ActiveSession) error {
	rec := sessionstore.Session{
		ProjectID:     s.ProjectID,
		SandboxID:     s.SandboxID,
		AgentEndpoint: s.AgentEndpoint,
		ImageRef:      s.ImageRef,
		LastUsedAt:    s.LastUsedAt,
		CreatedAt:     s.CreatedAt,
		PreparedAt:    s.PreparedAt,
	}
	if s.Kind != "" {
		kind := string(s.Kind)
		rec.DetectedProjectKind = &kind
	}
	if s.StartCommand != "" {
		cmd := s.StartCommand
		rec.StartCommand = &cmd
	}
	return o.sessionStore.Put(ctx, rec)
}
