package reconciler

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
	"github.com/cloudide-dev/workspace-orchestrator/internal/depcache"
	"github.com/cloudide-dev/workspace-orchestrator/internal/loghub"
	"github.com/cloudide-dev/workspace-orchestrator/internal/objectstore"
	"github.com/cloudide-dev/workspace-orchestrator/internal/orchestrator"
	"github.com/cloudide-dev/workspace-orchestrator/internal/pool"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
	"github.com/cloudide-dev/workspace-orchestrator/internal/sessionstore"
)

// fakeProviderServer fronts a small in-memory sandbox list plus an
// always-healthy guest agent, enough to drive the reconciler's adoption and
// zombie/idle classification without a live Sandbox Provider.
type fakeProviderServer struct {
	mu        sync.Mutex
	sandboxes []provider.Sandbox
	stopped   []string
}

func (f *fakeProviderServer) server() *httptest.Server {
	mux := http.NewServeMux()
	mux.HandleFunc("/sandboxes", func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()
		_ = json.NewEncoder(w).Encode(f.sandboxes)
	})
	mux.HandleFunc("/sandboxes/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost {
			// /sandboxes/<id>/stop
			id := filepath.Base(filepath.Dir(r.URL.Path))
			f.mu.Lock()
			f.stopped = append(f.stopped, id)
			f.mu.Unlock()
		}
	})
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(provider.HealthResponse{Status: provider.HealthStatusOK})
	})
	mux.HandleFunc("/exec", func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(provider.ExecResult{ExitCode: 0})
	})
	return httptest.NewServer(mux)
}

func newHarness(t *testing.T, srv *httptest.Server, poolCfg cfg.PoolConfig) (*Reconciler, sessionstore.Store, *pool.Manager) {
	t.Helper()

	providerCfg := cfg.ProviderConfig{
		BaseURL:           srv.URL,
		RoutingHeader:     "X-Instance-Id",
		HealthPhase1:      200 * time.Millisecond,
		HealthTotal:       time.Second,
		RouteVerifyBudget: 100 * time.Millisecond,
		ExecMaxRetries:    1,
		ExecBackoffCap:    50 * time.Millisecond,
		MaxConcurrency:    16,
	}
	pc := provider.New(providerCfg, zap.NewNop())

	storeCfg := cfg.StoreConfig{
		ObjectStoreBaseURL: srv.URL,
		ObjectStoreBucket:  "bucket",
		SignedURLTTL:       15 * time.Minute,
		MaxConcurrency:     16,
		SessionStorePath:   filepath.Join(t.TempDir(), "sessions.json"),
	}
	oc := objectstore.New(storeCfg, zap.NewNop())

	store, err := sessionstore.NewFileStore(storeCfg.SessionStorePath)
	require.NoError(t, err)

	poolMgr, err := pool.New(poolCfg, providerCfg, pc, zap.NewNop(), "base-image", 2048, 2)
	require.NoError(t, err)

	dc := depcache.New(pc, oc, zap.NewNop())
	t.Cleanup(dc.Close)

	hub := loghub.New()

	orchCfg := cfg.OrchestratorConfig{
		InstallTimeout:      time.Second,
		HealthBudgetNextJS:  time.Second,
		HealthBudgetDefault: time.Second,
		StartSettleDelay:    time.Millisecond,
		GatewayHost:         "gateway.example.com",
		ImageRef:            "base-image",
	}
	orch := orchestrator.New(orchCfg, cfg.DetectionRules{HeavyDepThreshold: 50}, poolMgr, pc, oc, store, dc, hub, zap.NewNop())

	reconcilerCfg := cfg.ReconcilerConfig{Interval: time.Hour}
	r := New(reconcilerCfg, poolCfg, pc, poolMgr, store, orch, hub, zap.NewNop())

	return r, store, poolMgr
}

func testPoolCfg() cfg.PoolConfig {
	return cfg.PoolConfig{
		WorkerTargetBase:           0,
		WorkerTargetMax:            0,
		CacheMasterCount:           1,
		MaxIdleAge:                 30 * time.Minute,
		MaxSandboxAge:              time.Hour,
		ActiveUserLoadFactor:       0.3,
		PrewarmStableWindowPolls:   1,
		PrewarmPollInterval:        time.Millisecond,
		PrewarmMinBytes:            1,
		PrewarmBudget:              time.Second,
		ReplenishCacheMasterBudget: 10 * time.Millisecond,
	}
}

func TestReconciler_AdoptsOrphanWithRecentActivity(t *testing.T) {
	fp := &fakeProviderServer{}
	srv := fp.server()
	defer srv.Close()

	poolCfg := testPoolCfg()
	poolCfg.WorkerTargetBase = 0
	poolCfg.WorkerTargetMax = 0
	r, _, _ := newHarness(t, srv, poolCfg)

	fp.sandboxes = []provider.Sandbox{
		{
			ID:            "sbx-proj-b",
			Name:          "ws-proj-B",
			AgentEndpoint: srv.URL,
			Status:        provider.StatusStarted,
			CreatedAt:     time.Now().Add(-2 * time.Minute),
			EnvVars:       map[string]string{"PROJECT_ID": "proj-B"},
		},
	}

	require.NoError(t, r.RunOnce(context.Background(), 0))

	sessions := r.orch.Sessions()
	require.Len(t, sessions, 1)
	assert.Equal(t, "proj-B", sessions[0].ProjectID)
	assert.Equal(t, "sbx-proj-b", sessions[0].SandboxID)
}

func TestReconciler_ReapsZombieWithoutSessionRecord(t *testing.T) {
	fp := &fakeProviderServer{}
	srv := fp.server()
	defer srv.Close()

	poolCfg := testPoolCfg()
	poolCfg.MaxIdleAge = time.Minute
	r, _, _ := newHarness(t, srv, poolCfg)

	fp.sandboxes = []provider.Sandbox{
		{
			ID:        "sbx-old",
			Name:      "ws-proj-old",
			Status:    provider.StatusStarted,
			CreatedAt: time.Now().Add(-time.Hour),
		},
	}

	require.NoError(t, r.RunOnce(context.Background(), 0))

	assert.Empty(t, r.orch.Sessions(), "zombie sandbox must not be adopted")
	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.Contains(t, fp.stopped, "sbx-old")
}

func TestReconciler_ExpiresIdleSessionAndEmitsEvent(t *testing.T) {
	fp := &fakeProviderServer{}
	srv := fp.server()
	defer srv.Close()

	poolCfg := testPoolCfg()
	poolCfg.MaxIdleAge = time.Minute
	r, store, _ := newHarness(t, srv, poolCfg)

	require.NoError(t, store.Put(context.Background(), sessionstore.Session{
		ProjectID:     "proj-idle",
		SandboxID:     "sbx-idle",
		AgentEndpoint: srv.URL,
		ImageRef:      "base-image",
		LastUsedAt:    time.Now().Add(-time.Hour),
		CreatedAt:     time.Now().Add(-2 * time.Hour),
	}))

	fp.sandboxes = []provider.Sandbox{
		{ID: "sbx-idle", Name: "ws-proj-idle", Status: provider.StatusStarted, CreatedAt: time.Now().Add(-2 * time.Hour)},
	}

	sub := r.hub.AddSubscriber(context.Background(), "proj-idle")
	defer sub.Close()

	require.NoError(t, r.RunOnce(context.Background(), 0))

	select {
	case msg := <-sub.Messages:
		require.NotNil(t, msg.Event)
		assert.Equal(t, "session_expired", msg.Event.Name)
	case <-time.After(time.Second):
		t.Fatal("expected a session_expired event")
	}

	_, found, err := store.Get(context.Background(), "proj-idle")
	require.NoError(t, err)
	assert.False(t, found, "expired session record must be deleted")
}

func TestReconciler_SkipsPoolNamedSandboxes(t *testing.T) {
	fp := &fakeProviderServer{}
	srv := fp.server()
	defer srv.Close()

	poolCfg := testPoolCfg()
	r, _, _ := newHarness(t, srv, poolCfg)

	fp.sandboxes = []provider.Sandbox{
		{ID: "cache-1", Name: "cache-1", Status: provider.StatusStarted, CreatedAt: time.Now().Add(-24 * time.Hour)},
	}

	require.NoError(t, r.RunOnce(context.Background(), 0))

	assert.Empty(t, r.orch.Sessions(), "pool-prefixed names are never adopted as workspace sessions")
	fp.mu.Lock()
	defer fp.mu.Unlock()
	assert.NotContains(t, fp.stopped, "cache-1", "cache masters are never stopped by the workspace reaper path")
}
