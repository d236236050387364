package provider

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
)

// Client wraps the Sandbox Provider REST API and the per-sandbox in-guest
// agent endpoints behind a retryable HTTP transport (spec §4.1).
type Client struct {
	cfg        cfg.ProviderConfig
	httpClient *retryablehttp.Client
	plainHTTP  *http.Client
	log        *zap.Logger
}

// New builds a provider Client bound to the given base URL/config.
func New(c cfg.ProviderConfig, log *zap.Logger) *Client {
	rc := retryablehttp.NewClient()
	rc.RetryMax = c.ExecMaxRetries
	rc.RetryWaitMax = c.ExecBackoffCap
	rc.Logger = nil // structured logging is done by our own callers, not retryablehttp's default logger

	return &Client{
		cfg:        c,
		httpClient: rc,
		plainHTTP:  &http.Client{Timeout: c.HealthPhase1},
		log:        log,
	}
}

func (c *Client) doJSON(ctx context.Context, method, url string, body, out interface{}, instanceID string) error {
	var reader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshaling request body: %w", err)
		}
		reader = bytes.NewReader(b)
	}

	req, err := retryablehttp.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if instanceID != "" {
		req.Header.Set(c.cfg.RoutingHeader, instanceID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		return ErrQuotaExceeded
	}
	if resp.StatusCode >= 500 {
		return fmt.Errorf("%w: status %d", ErrProviderUnavailable, resp.StatusCode)
	}
	if resp.StatusCode == http.StatusNotFound {
		return ErrImageMissing
	}
	if resp.StatusCode >= 400 {
		return fmt.Errorf("provider returned status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}

	return json.NewDecoder(resp.Body).Decode(out)
}

// CreateSandbox provisions a new sandbox via the provider API.
func (c *Client) CreateSandbox(ctx context.Context, req CreateRequest) (*Sandbox, error) {
	var sbx Sandbox
	err := c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/sandboxes", req, &sbx, "")
	if err != nil {
		return nil, err
	}
	return &sbx, nil
}

// StartSandbox idempotently starts a stopped sandbox.
func (c *Client) StartSandbox(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/sandboxes/"+id+"/start", nil, nil, id)
}

// StopSandbox idempotently stops a running sandbox.
func (c *Client) StopSandbox(ctx context.Context, id string) error {
	return c.doJSON(ctx, http.MethodPost, c.cfg.BaseURL+"/sandboxes/"+id+"/stop", nil, nil, id)
}

// ProtectionCheck is supplied by the caller (§4.1: "the caller is
// responsible for the protection check, but the client performs one
// defensive check against a supplied predicate"). It reports whether id is
// safe to destroy.
type ProtectionCheck func(id string) (safeToDestroy bool)

// DestroySandbox idempotently destroys a sandbox. If isSafe reports the id as
// protected it destroys nothing, logs the refusal and returns ErrProtected —
// a defensive second check on top of whatever the caller already did.
func (c *Client) DestroySandbox(ctx context.Context, id string, isSafe ProtectionCheck) error {
	if isSafe != nil && !isSafe(id) {
		c.log.Error("refused to destroy protected sandbox", zap.String("sandbox_id", id))
		return ErrProtected
	}

	return c.doJSON(ctx, http.MethodDelete, c.cfg.BaseURL+"/sandboxes/"+id, nil, nil, id)
}

// ListSandboxes returns all sandboxes visible to this tenant.
func (c *Client) ListSandboxes(ctx context.Context) ([]Sandbox, error) {
	var sbxs []Sandbox
	err := c.doJSON(ctx, http.MethodGet, c.cfg.BaseURL+"/sandboxes", nil, &sbxs, "")
	if err != nil {
		return nil, err
	}
	return sbxs, nil
}

// Exec runs a command inside the sandbox via the in-guest agent's /exec
// endpoint, with retry on transient failures handled by the underlying
// retryablehttp client (its default backoff, doubling from 1s and capped at
// ExecBackoffCap: 1s, 2s, 3s with the default cap and retry count).
func (c *Client) Exec(ctx context.Context, endpoint, command, cwd, sandboxID string, timeout time.Duration) (*ExecResult, error) {
	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var result ExecResult
	err := c.doJSON(execCtx, http.MethodPost, endpoint+"/exec", ExecRequest{Command: command, Cwd: cwd}, &result, sandboxID)
	if err != nil {
		return nil, fmt.Errorf("exec on sandbox %s: %w", sandboxID, err)
	}
	return &result, nil
}

// PutFile writes a single file into the sandbox via the in-guest agent.
func (c *Client) PutFile(ctx context.Context, endpoint, path, content string, isBinary bool) error {
	return c.doJSON(ctx, http.MethodPost, endpoint+"/file", PutFileRequest{Path: path, Content: content, IsBinary: isBinary}, nil, "")
}

// PostArchive uploads a base64-encoded gzipped tar to be extracted in place.
func (c *Client) PostArchive(ctx context.Context, endpoint, base64Tar string) error {
	return c.doJSON(ctx, http.MethodPost, endpoint+"/extract", ArchiveRequest{Archive: base64Tar}, nil, "")
}

// DeletePath removes a path inside the sandbox.
func (c *Client) DeletePath(ctx context.Context, endpoint, path string) error {
	return c.doJSON(ctx, http.MethodPost, endpoint+"/delete", map[string]string{"path": path}, nil, "")
}

// MakeDir creates a directory inside the sandbox.
func (c *Client) MakeDir(ctx context.Context, endpoint, path string) error {
	return c.doJSON(ctx, http.MethodPost, endpoint+"/folder", map[string]string{"path": path}, nil, "")
}
