package depcache

import (
	"context"
	"fmt"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/objectstore"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
)

const (
	minPackageCount   = 10
	existenceCacheTTL = 5 * time.Minute
)

// Service is the Dep-Cache Service (spec §4.5).
type Service struct {
	provider    *provider.Client
	objectStore *objectstore.Client
	log         *zap.Logger

	// existence is a local "recently seen" existence cache avoiding a
	// round-trip to the object store on every Exists(hash) call, grounded on
	// the teacher's orchestrator/client.go buildCache (a ttlcache of known
	// present build IDs), repurposed here for dep-cache hashes.
	existence *ttlcache.Cache[string, bool]

	// peers maps hash -> {endpoint, sandboxID} of a live worker last known to
	// hold that hash materialized, enabling the VM-to-VM fast path (spec
	// §4.5, testable scenario F).
	peers *ttlcache.Cache[string, PeerLocation]
}

// PeerLocation identifies a live worker known to have a given hash
// materialized in its node_modules.
type PeerLocation struct {
	SandboxID string
	Endpoint  string
}

// New constructs a Dep-Cache Service.
func New(pc *provider.Client, oc *objectstore.Client, log *zap.Logger) *Service {
	existence := ttlcache.New[string, bool](ttlcache.WithTTL[string, bool](existenceCacheTTL))
	peers := ttlcache.New[string, PeerLocation](ttlcache.WithTTL[string, PeerLocation](existenceCacheTTL))

	go existence.Start()
	go peers.Start()

	return &Service{provider: pc, objectStore: oc, log: log, existence: existence, peers: peers}
}

// Close stops the background ttlcache janitors.
func (s *Service) Close() {
	s.existence.Stop()
	s.peers.Stop()
}

// RegisterPeer records that the worker at endpoint/sandboxID has hash
// materialized, making it eligible as a VM-to-VM source for other workers.
func (s *Service) RegisterPeer(hash, sandboxID, endpoint string) {
	s.peers.Set(hash, PeerLocation{SandboxID: sandboxID, Endpoint: endpoint}, ttlcache.DefaultTTL)
}

// Exists checks the local existence cache first, falling back to the object
// store (spec §4.5).
func (s *Service) Exists(ctx context.Context, hash string) (bool, error) {
	if item := s.existence.Get(hash); item != nil {
		return item.Value(), nil
	}

	ok, err := s.objectStore.Exists(ctx, hash)
	if err != nil {
		return false, err
	}

	s.existence.Set(hash, ok, ttlcache.DefaultTTL)
	return ok, nil
}

// Save creates node_modules.tar.gz inside the sandbox and uploads it to the
// object store via a signed PUT URL the sandbox itself issues (spec §4.5:
// "the sandbox issues the HTTP request — control plane never holds the bytes").
func (s *Service) Save(ctx context.Context, endpoint, sandboxID, hash string) error {
	signed, err := s.objectStore.SaveDepCache(ctx, hash)
	if err != nil {
		return fmt.Errorf("signing dep-cache upload: %w", err)
	}

	cmd := fmt.Sprintf(
		"tar -C /workspace -czf - --fastest node_modules | curl -fsSL -X PUT --data-binary @- %q",
		signed.URL,
	)
	result, err := s.provider.Exec(ctx, endpoint, cmd, "/workspace", sandboxID, 5*time.Minute)
	if err != nil {
		return fmt.Errorf("saving dep cache: %w", err)
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("dep-cache save script exited %d: %s", result.ExitCode, result.Stderr)
	}

	s.existence.Set(hash, true, ttlcache.DefaultTTL)
	s.RegisterPeer(hash, sandboxID, endpoint)

	return nil
}

// Restore restores node_modules for hash into the sandbox, preferring a live
// VM-to-VM peer over the signed-URL object-store path when one is known
// (spec §4.5 "Optional fast path"). It starts a background
// curl|tar-extract pipeline and polls for completion via a marker file.
func (s *Service) Restore(ctx context.Context, endpoint, sandboxID, hash string) error {
	if peer := s.peers.Get(hash); peer != nil {
		loc := peer.Value()
		if loc.SandboxID != sandboxID {
			if err := s.restoreFromPeer(ctx, endpoint, sandboxID, loc); err == nil {
				return s.verifyRestore(ctx, endpoint, sandboxID)
			}
			s.log.Warn("VM-to-VM restore failed, falling back to object store", logging.WithHash(hash))
		}
	}

	signed, err := s.objectStore.RestoreDepCache(ctx, hash)
	if err != nil {
		return fmt.Errorf("signing dep-cache download: %w", err)
	}

	cmd := fmt.Sprintf(
		"(curl -fsSL %q | tar -xzf - -C /workspace && touch /workspace/.dep-cache-restored) &",
		signed.URL,
	)
	if _, err := s.provider.Exec(ctx, endpoint, cmd, "/", sandboxID, 10*time.Second); err != nil {
		return fmt.Errorf("starting dep-cache restore: %w", err)
	}

	if err := s.pollMarker(ctx, endpoint, sandboxID, "/workspace/.dep-cache-restored"); err != nil {
		return err
	}

	s.RegisterPeer(hash, sandboxID, endpoint)

	return s.verifyRestore(ctx, endpoint, sandboxID)
}

// restoreFromPeer pulls the tarball directly from another live worker over
// the provider's internal network instead of the object store (spec §4.5,
// scenario F).
func (s *Service) restoreFromPeer(ctx context.Context, endpoint, sandboxID string, peer PeerLocation) error {
	cmd := fmt.Sprintf(
		"curl -fsSL http://%s/download?type=node_modules | tar -xzf - -C /workspace",
		peer.Endpoint,
	)
	result, err := s.provider.Exec(ctx, endpoint, cmd, "/", sandboxID, 2*time.Minute)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("peer restore exited %d: %s", result.ExitCode, result.Stderr)
	}
	return nil
}

func (s *Service) pollMarker(ctx context.Context, endpoint, sandboxID, markerPath string) error {
	deadline := time.Now().Add(2 * time.Minute)
	for time.Now().Before(deadline) {
		result, err := s.provider.Exec(ctx, endpoint, "test -f "+markerPath+" && echo done", "/", sandboxID, 5*time.Second)
		if err == nil && result.ExitCode == 0 {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return fmt.Errorf("dep-cache restore marker never appeared within budget")
}

// verifyRestore checks that node_modules exists and contains more than the
// minimum package count (spec §4.5).
func (s *Service) verifyRestore(ctx context.Context, endpoint, sandboxID string) error {
	result, err := s.provider.Exec(ctx, endpoint, "ls -1 /workspace/node_modules | wc -l", "/", sandboxID, 10*time.Second)
	if err != nil {
		return fmt.Errorf("verifying restore: %w", err)
	}

	var count int
	if _, scanErr := fmt.Sscanf(result.Stdout, "%d", &count); scanErr != nil || count <= minPackageCount {
		return fmt.Errorf("restored node_modules has too few entries (%d)", count)
	}

	return nil
}
