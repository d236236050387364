// Package orchestrator is the Workspace Lifecycle Orchestrator (spec §4.6):
// the central state machine that takes a project from "allocate a sandbox"
// through "serve a running dev-server preview" and back down again.
package orchestrator

import "time"

// State is a step in startPreview's lifecycle state machine.
type State string

const (
	StateAllocating State = "allocating"
	StateSyncing    State = "syncing"
	StateInstalling State = "installing"
	StateStarting   State = "starting"
	StateRunning    State = "running"
	StateStopped    State = "stopped"
	StateReleased   State = "released"
	StateDestroyed  State = "destroyed"
)

// ProjectKind is the detected framework/runtime of a project.
type ProjectKind string

const (
	KindStatic    ProjectKind = "static"
	KindNodeVite  ProjectKind = "node-vite"
	KindNodeNext  ProjectKind = "node-next"
	KindNodeNuxt  ProjectKind = "node-nuxt"
	KindPythonFlask ProjectKind = "python-flask"
	KindUnknown   ProjectKind = "unknown"
)

// ProjectInfo is detection output: what to run and where to route it.
type ProjectInfo struct {
	Kind         ProjectKind
	StartCommand string
	Port         int
}

// ActiveSession is the orchestrator's in-memory view of a running preview,
// richer than the durable sessionstore.Session (adds live state + preview URL).
type ActiveSession struct {
	ProjectID     string
	SandboxID     string
	AgentEndpoint string
	ImageRef      string
	State         State
	Kind          ProjectKind
	StartCommand  string
	PreviewURL    string
	LastUsedAt    time.Time
	CreatedAt     time.Time
	PreparedAt    *time.Time
	Warming       bool // true while a background prewarmProject is in flight

	// warmDone is closed when a background prewarm/install finishes; a
	// concurrent startPreview waits on it instead of re-running purge+sync
	// (spec §4.6 step 1, §5).
	warmDone chan struct{}
}

// CreateOptions tunes getOrCreateSandbox's fallback/adoption path.
type CreateOptions struct {
	ForceCreate   bool
	RemoteURL     string // git remote for git initialization, if any
	DefaultBranch string
}

// purgeKeepPaths lists the top-level names preserved when a sandbox is
// cleaned (release, or purge-before-sync): node_modules and .git persist
// across projects that reuse the same worker, plus the dep-cache marker.
var purgeKeepPaths = []string{"node_modules", ".git", depCacheMarkerFile}

const depCacheMarkerFile = ".package-json-hash"
