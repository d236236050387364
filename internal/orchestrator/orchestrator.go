package orchestrator

import (
	"sync"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
	"github.com/cloudide-dev/workspace-orchestrator/internal/depcache"
	"github.com/cloudide-dev/workspace-orchestrator/internal/keyedmutex"
	"github.com/cloudide-dev/workspace-orchestrator/internal/loghub"
	"github.com/cloudide-dev/workspace-orchestrator/internal/objectstore"
	"github.com/cloudide-dev/workspace-orchestrator/internal/pool"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
	"github.com/cloudide-dev/workspace-orchestrator/internal/sessionstore"
)

// Orchestrator owns the active-session table and drives every project's
// lifecycle state machine (spec §4.6). Grounded on the teacher's
// Orchestrator type in packages/api/internal/orchestrator/orchestrator.go,
// which plays the analogous role of "the thing every request handler calls
// into", generalized from the teacher's Nomad/node-fleet world to this
// spec's Warm Pool + REST Provider world.
type Orchestrator struct {
	mu       sync.RWMutex
	sessions map[string]*ActiveSession

	cfg       cfg.OrchestratorConfig
	detection cfg.DetectionRules

	pool        *pool.Manager
	provider    *provider.Client
	objectStore *objectstore.Client
	sessionStore sessionstore.Store
	depCache    *depcache.Service
	logHub      *loghub.Hub

	locks *keyedmutex.KeyedMutex

	log *zap.Logger

	pumpCancels   map[string]func()
	pumpCancelsMu sync.Mutex

	rules detectionTable
}

// New constructs an Orchestrator wired to its collaborating services. Each
// one is itself testable in isolation; the Orchestrator composes them the
// way the teacher's Orchestrator composes node manager + placement +
// instance cache, per DESIGN.md.
func New(
	c cfg.OrchestratorConfig,
	detection cfg.DetectionRules,
	poolMgr *pool.Manager,
	pc *provider.Client,
	oc *objectstore.Client,
	store sessionstore.Store,
	dc *depcache.Service,
	hub *loghub.Hub,
	log *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		sessions:     make(map[string]*ActiveSession),
		cfg:          c,
		detection:    detection,
		pool:         poolMgr,
		provider:     pc,
		objectStore:  oc,
		sessionStore: store,
		depCache:     dc,
		logHub:       hub,
		locks:        keyedmutex.New(),
		log:          log,
		pumpCancels:  make(map[string]func()),
		rules:        defaultDetectionTable(detection),
	}
}

func (o *Orchestrator) getSession(projectID string) (*ActiveSession, bool) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	s, ok := o.sessions[projectID]
	return s, ok
}

func (o *Orchestrator) setSession(s *ActiveSession) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.sessions[s.ProjectID] = s
}

func (o *Orchestrator) removeSession(projectID string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.sessions, projectID)
}

// setWarming and warmingState guard ActiveSession.Warming/warmDone with the
// same mutex that already protects the sessions map: backgroundPrepare
// writes both from a detached goroutine outside any per-project lock, while
// awaitWarmingOrSync reads them under the per-project lock, a genuine data
// race if left on the bare field.
func (o *Orchestrator) setWarming(s *ActiveSession, warming bool, done chan struct{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	s.Warming = warming
	if done != nil {
		s.warmDone = done
	}
}

func (o *Orchestrator) warmingState(s *ActiveSession) (bool, chan struct{}) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return s.Warming, s.warmDone
}

// Sessions returns a snapshot of all active sessions (used by the admin
// surface and the reconciler).
func (o *Orchestrator) Sessions() []ActiveSession {
	o.mu.RLock()
	defer o.mu.RUnlock()
	out := make([]ActiveSession, 0, len(o.sessions))
	for _, s := range o.sessions {
		out = append(out, *s)
	}
	return out
}

func (o *Orchestrator) stopPump(projectID string) {
	o.pumpCancelsMu.Lock()
	defer o.pumpCancelsMu.Unlock()
	if cancel, ok := o.pumpCancels[projectID]; ok {
		cancel()
		delete(o.pumpCancels, projectID)
	}
}

func (o *Orchestrator) setPumpCancel(projectID string, cancel func()) {
	o.pumpCancelsMu.Lock()
	defer o.pumpCancelsMu.Unlock()
	o.pumpCancels[projectID] = cancel
}
