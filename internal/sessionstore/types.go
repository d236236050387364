// Package sessionstore is the durable projectId → sandbox binding (spec
// §4.3): file-backed JSON by default, with an optional Redis-backed
// implementation for multi-process control planes, grounded on the
// teacher's sandbox/store/backend/redis/redis.go (JSON-marshaled value per
// key, TTL, sorted-set index).
package sessionstore

import (
	"context"
	"time"
)

// Session is a persisted project-to-sandbox binding (spec §3).
type Session struct {
	ProjectID           string     `json:"projectId"`
	SandboxID           string     `json:"sandboxId"`
	AgentEndpoint       string     `json:"agentEndpoint"`
	ImageRef            string     `json:"imageRef"`
	LastUsedAt          time.Time  `json:"lastUsedAt"`
	CreatedAt           time.Time  `json:"createdAt"`
	DetectedProjectKind *string    `json:"detectedProjectKind,omitempty"`
	StartCommand        *string    `json:"startCommand,omitempty"`
	PreparedAt          *time.Time `json:"preparedAt,omitempty"`
}

// Store is the durable session-store contract (spec §4.3: put/get/delete/list).
type Store interface {
	Put(ctx context.Context, session Session) error
	Get(ctx context.Context, projectID string) (*Session, bool, error)
	Delete(ctx context.Context, projectID string) error
	List(ctx context.Context) ([]Session, error)
}
