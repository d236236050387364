package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/zap"
)

// getHealth issues a GET against endpoint+"/health" and decodes the guest
// agent's response, the same request/decode shape as the teacher's
// orchestrator/client.go getNodeHealth.
func (c *Client) getHealth(ctx context.Context, endpoint string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/health", nil)
	if err != nil {
		return false, fmt.Errorf("building health request: %w", err)
	}

	resp, err := c.plainHTTP.Do(req)
	if err != nil {
		return false, fmt.Errorf("failed to check sandbox health: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return false, fmt.Errorf("sandbox not healthy: %s", resp.Status)
	}

	var health HealthResponse
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		return false, fmt.Errorf("failed to decode health response: %w", err)
	}

	return health.Status == HealthStatusOK, nil
}

// getRoutedHealth verifies that the provider's public edge proxy can route to
// this specific sandbox, by issuing /health through the public endpoint with
// the routing header pinning the instance (spec §4.1).
func (c *Client) getRoutedHealth(ctx context.Context, publicEndpoint, sandboxID string) (bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicEndpoint+"/health", nil)
	if err != nil {
		return false, 0, fmt.Errorf("building routed health request: %w", err)
	}
	req.Header.Set(c.cfg.RoutingHeader, sandboxID)

	resp, err := c.plainHTTP.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("failed to verify route: %w", err)
	}
	defer resp.Body.Close()

	return resp.StatusCode == http.StatusOK, resp.StatusCode, nil
}

// WaitHealthy polls the guest agent's /health endpoint: phase1Timeout at
// 500ms intervals, then at 1s intervals up to totalTimeout. Once healthy, it
// additionally verifies edge-proxy routing through publicEndpoint, retrying
// up to the configured route-verify budget on 502/503. Route-verification
// timeout is logged, not returned as an error (§4.1: "routes sometimes work
// despite failing the check").
func (c *Client) WaitHealthy(ctx context.Context, endpoint, publicEndpoint, sandboxID string) error {
	deadline := time.Now().Add(c.cfg.HealthTotal)
	phase1Deadline := time.Now().Add(c.cfg.HealthPhase1)

	for {
		if time.Now().After(deadline) {
			return fmt.Errorf("%w: health check timed out after %s", ErrSandboxUnreachable, c.cfg.HealthTotal)
		}

		ok, err := c.getHealth(ctx, endpoint)
		if err == nil && ok {
			break
		}

		interval := time.Second
		if time.Now().Before(phase1Deadline) {
			interval = 500 * time.Millisecond
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(interval):
		}
	}

	if publicEndpoint == "" {
		return nil
	}

	routeDeadline := time.Now().Add(c.cfg.RouteVerifyBudget)
	for time.Now().Before(routeDeadline) {
		ok, status, err := c.getRoutedHealth(ctx, publicEndpoint, sandboxID)
		if err == nil && ok {
			return nil
		}
		if err == nil && (status == http.StatusBadGateway || status == http.StatusServiceUnavailable) {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(500 * time.Millisecond):
				continue
			}
		}
		// Any other error/status: keep retrying within the budget rather than
		// failing fast, matching the teacher's tolerance for transient edge noise.
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}

	c.log.Warn("route verification timed out, proceeding anyway",
		zap.String("sandbox_id", sandboxID))

	return nil
}

// checkRootResponding issues a GET to publicEndpoint+"/" through the routing
// header and reports whether the status counts as "responding" for a dev
// server: any 2xx/3xx, or 404 (SPAs commonly 404 on root) (spec §4.6 step 3,
// §6).
func (c *Client) checkRootResponding(ctx context.Context, publicEndpoint, sandboxID string) (bool, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, publicEndpoint+"/", nil)
	if err != nil {
		return false, 0, fmt.Errorf("building dev-server health request: %w", err)
	}
	req.Header.Set(c.cfg.RoutingHeader, sandboxID)

	resp, err := c.plainHTTP.Do(req)
	if err != nil {
		return false, 0, fmt.Errorf("dev server not reachable: %w", err)
	}
	defer resp.Body.Close()

	status := resp.StatusCode
	responding := (status >= 200 && status < 400) || status == http.StatusNotFound
	return responding, status, nil
}

// WaitDevServerResponding polls the dev server through the public gateway,
// pinned to sandboxID via the routing header, until it responds or budget
// elapses (spec §4.6 step 3: "accept any 2xx/3xx or 404 as responding").
func (c *Client) WaitDevServerResponding(ctx context.Context, publicEndpoint, sandboxID string, budget time.Duration) error {
	deadline := time.Now().Add(budget)

	for {
		ok, _, err := c.checkRootResponding(ctx, publicEndpoint, sandboxID)
		if err == nil && ok {
			return nil
		}

		if time.Now().After(deadline) {
			return fmt.Errorf("%w: dev server did not respond within %s", ErrDevServerTimeout, budget)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Second):
		}
	}
}
