// Package provider is a thin typed wrapper over the external Sandbox
// Provider REST API and its per-sandbox in-guest HTTP agent, grounded on the
// teacher's orchestrator/client.go (getNodeHealth's HTTP GET + JSON-decode
// shape) and orchestrator/create_instance.go (request-building conventions),
// generalized from the teacher's gRPC transport to the plain REST+JSON
// transport this spec's Provider API defines (§4.1, §6).
package provider

import "time"

// Role distinguishes pool workers from protected cache-master sandboxes.
type Role string

const (
	RoleWorker      Role = "worker"
	RoleCacheMaster Role = "cacheMaster"
)

// Status mirrors the provider's reported sandbox lifecycle state.
type Status string

const (
	StatusPending  Status = "pending"
	StatusStarted  Status = "started"
	StatusStopped  Status = "stopped"
	StatusDestroyed Status = "destroyed"
)

// Sandbox is the provider's view of a single sandbox instance.
type Sandbox struct {
	ID            string
	Name          string
	AgentEndpoint string
	ImageRef      string
	Status        Status
	CreatedAt     time.Time
	// EnvVars carries back the environment the sandbox was created with
	// (PROJECT_ID, POOL_VM, CACHE_MASTER, ... — spec §6), used by the
	// Reconciler to key orphan adoption on PROJECT_ID rather than parsing
	// the name.
	EnvVars map[string]string
}

// CreateRequest carries the parameters needed to provision a new sandbox.
type CreateRequest struct {
	Name                string
	ImageRef            string
	MemoryMB            int
	VCPU                int
	EnvVars             map[string]string
	PersistentVolumeRef string
	AutoDestroy         bool
}

// ExecRequest is the body posted to the in-guest agent's /exec endpoint.
type ExecRequest struct {
	Command string `json:"command"`
	Cwd     string `json:"cwd"`
}

// ExecResult is the in-guest agent's /exec response.
type ExecResult struct {
	ExitCode int    `json:"exitCode"`
	Stdout   string `json:"stdout"`
	Stderr   string `json:"stderr"`
}

// PutFileRequest is the body posted to the in-guest agent's /file endpoint.
type PutFileRequest struct {
	Path     string `json:"path"`
	Content  string `json:"content"`
	IsBinary bool   `json:"isBinary"`
}

// ArchiveRequest is the body posted to the in-guest agent's /extract endpoint.
type ArchiveRequest struct {
	Archive string `json:"archive"`
}

// HealthResponse is the in-guest agent's /health response.
type HealthResponse struct {
	Status string `json:"status"`
}

const HealthStatusOK = "ok"
