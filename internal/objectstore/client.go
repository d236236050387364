package objectstore

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
	"github.com/cloudide-dev/workspace-orchestrator/internal/provider"
)

// Client wraps the external Object Store's blob and signed-URL API,
// following the same retryablehttp-backed request shape as the Provider
// Client (spec §4.10 wires go-retryablehttp for both).
type Client struct {
	cfg        cfg.StoreConfig
	httpClient *retryablehttp.Client
	log        *zap.Logger
}

// New builds an object-store Client.
func New(c cfg.StoreConfig, log *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = 3
	rc.Logger = nil

	return &Client{cfg: c, httpClient: rc, log: log}
}

func (c *Client) url(key string) string {
	return c.cfg.ObjectStoreBaseURL + "/" + c.cfg.ObjectStoreBucket + "/" + key
}

func (c *Client) do(ctx context.Context, method, url string, body io.Reader) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNetwork, err)
	}

	switch resp.StatusCode {
	case http.StatusNotFound:
		resp.Body.Close()
		return nil, ErrNotFound
	case http.StatusForbidden, http.StatusUnauthorized:
		resp.Body.Close()
		return nil, ErrForbidden
	}

	return resp, nil
}

// SaveFiles writes a batch of project files, keyed under projects/<projectId>/.
func (c *Client) SaveFiles(ctx context.Context, projectID string, files []FileEntry) error {
	for _, f := range files {
		resp, err := c.do(ctx, http.MethodPut, c.url(projectKey(projectID, f.Path)), bytes.NewReader(f.Content))
		if err != nil {
			return fmt.Errorf("saving %s: %w", f.Path, err)
		}
		resp.Body.Close()
	}
	return nil
}

// DeleteFile removes a single project file from the store.
func (c *Client) DeleteFile(ctx context.Context, projectID, path string) error {
	resp, err := c.do(ctx, http.MethodDelete, c.url(projectKey(projectID, path)), nil)
	if err != nil {
		if err == ErrNotFound {
			return nil
		}
		return fmt.Errorf("deleting %s: %w", path, err)
	}
	resp.Body.Close()
	return nil
}

// ReadFile reads a single project file's content and byte size.
func (c *Client) ReadFile(ctx context.Context, projectID, path string) ([]byte, int, error) {
	resp, err := c.do(ctx, http.MethodGet, c.url(projectKey(projectID, path)), nil)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return data, len(data), nil
}

// ListFiles returns the logical file-path set for a project, unsorted
// (spec §4.2: "Listing returns a logical file-path set, not sorted").
func (c *Client) ListFiles(ctx context.Context, projectID string) ([]string, error) {
	resp, err := c.do(ctx, http.MethodGet, c.cfg.ObjectStoreBaseURL+"/"+c.cfg.ObjectStoreBucket+"?prefix="+projectFilesPrefix+projectID+"/", nil)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var listing struct {
		Paths []string `json:"paths"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}
	return listing.Paths, nil
}

// SaveProjectMetadata persists an arbitrary metadata blob for a project.
func (c *Client) SaveProjectMetadata(ctx context.Context, projectID string, meta ProjectMetadata) error {
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("marshaling project metadata: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPut, c.url(projectMetadataKey(projectID)), bytes.NewReader(b))
	if err != nil {
		return err
	}
	resp.Body.Close()
	return nil
}

// SignUpload mints a short-lived signed URL allowing direct PUT of a blob.
func (c *Client) SignUpload(ctx context.Context, key string) (SignedURL, error) {
	return c.sign(ctx, key, SignedURLUpload)
}

// SignDownload mints a short-lived signed URL allowing direct GET of a blob.
func (c *Client) SignDownload(ctx context.Context, key string) (SignedURL, error) {
	return c.sign(ctx, key, SignedURLDownload)
}

func (c *Client) sign(ctx context.Context, key string, kind SignedURLKind) (SignedURL, error) {
	body, err := json.Marshal(map[string]interface{}{
		"key":        key,
		"kind":       kind,
		"ttlSeconds": int(c.cfg.SignedURLTTL.Seconds()),
	})
	if err != nil {
		return SignedURL{}, fmt.Errorf("marshaling sign request: %w", err)
	}

	resp, err := c.do(ctx, http.MethodPost, c.cfg.ObjectStoreBaseURL+"/sign", bytes.NewReader(body))
	if err != nil {
		return SignedURL{}, err
	}
	defer resp.Body.Close()

	var out struct {
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return SignedURL{}, fmt.Errorf("%w: %v", ErrCorrupt, err)
	}

	return SignedURL{URL: out.URL, Kind: kind, ExpiresAt: time.Now().Add(c.cfg.SignedURLTTL)}, nil
}

// SyncToSandbox mints a signed download URL for the project's file archive
// and instructs the sandbox (via the provider's agent) to fetch and extract
// it directly, bypassing the control plane's own bandwidth (§4.2).
func (c *Client) SyncToSandbox(ctx context.Context, pc *provider.Client, projectID, endpoint, sandboxID string) error {
	// The steady-state sync path is the in-memory archive built by the
	// orchestrator's sync package (forceSync, §4.6); this helper exists for
	// the rarer "resync straight from the canonical store" fallback where no
	// in-memory archive is available yet (e.g. cold allocation before any
	// local file edits exist).
	signed, err := c.SignDownload(ctx, projectFilesPrefix+projectID+"/archive.tar.gz")
	if err != nil {
		return fmt.Errorf("signing project archive download: %w", err)
	}

	_, err = pc.Exec(ctx, endpoint, fmt.Sprintf("curl -fsSL %q | tar -xzf - -C /workspace", signed.URL), "/", sandboxID, c.cfg.SignedURLTTL)
	return err
}

// SaveDepCache uploads a node_modules tarball under the content-addressed
// key for hash via a direct PUT the caller performs against the signed URL.
// SaveDepCache itself just mints that URL; the sandbox holds the bytes
// (§4.2: "the control plane would otherwise be a bandwidth bottleneck").
func (c *Client) SaveDepCache(ctx context.Context, hash string) (SignedURL, error) {
	return c.SignUpload(ctx, depCacheKey(hash))
}

// RestoreDepCache mints a signed GET URL for the dep-cache entry identified
// by hash.
func (c *Client) RestoreDepCache(ctx context.Context, hash string) (SignedURL, error) {
	return c.SignDownload(ctx, depCacheKey(hash))
}

// Exists reports whether a dep-cache blob for hash is present in the object
// store, by issuing a HEAD request.
func (c *Client) Exists(ctx context.Context, hash string) (bool, error) {
	resp, err := c.do(ctx, http.MethodHead, c.url(depCacheKey(hash)), nil)
	if err != nil {
		if err == ErrNotFound {
			return false, nil
		}
		return false, err
	}
	resp.Body.Close()
	return true, nil
}

// BuildCacheKey exposes the build-output cache key for a project, used by
// callers that need to save/restore Next.js .next build output directly.
func BuildCacheKey(projectID string) string {
	return buildCacheKey(projectID)
}
