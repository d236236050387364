package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
)

func testClient(t *testing.T, baseURL string) *Client {
	t.Helper()
	c := cfg.ProviderConfig{
		BaseURL:           baseURL,
		RoutingHeader:     "X-Instance-Id",
		HealthPhase1:      200 * time.Millisecond,
		HealthTotal:       2 * time.Second,
		RouteVerifyBudget: 500 * time.Millisecond,
		ExecMaxRetries:    1,
		ExecBackoffCap:    100 * time.Millisecond,
	}
	return New(c, zap.NewNop())
}

func TestCreateSandbox_Success(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/sandboxes", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Sandbox{ID: "sbx-1", Name: "pool-1-abc", Status: StatusPending})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	sbx, err := c.CreateSandbox(context.Background(), CreateRequest{ImageRef: "base"})
	require.NoError(t, err)
	assert.Equal(t, "sbx-1", sbx.ID)
}

func TestCreateSandbox_QuotaExceeded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	_, err := c.CreateSandbox(context.Background(), CreateRequest{})
	assert.ErrorIs(t, err, ErrQuotaExceeded)
}

func TestDestroySandbox_RefusesProtected(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.DestroySandbox(context.Background(), "cache-1", func(id string) bool { return false })
	assert.ErrorIs(t, err, ErrProtected)
	assert.False(t, called, "destroy must not hit the wire when the protection predicate refuses")
}

func TestWaitHealthy_BecomesHealthyWithinPhase1(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: HealthStatusOK})
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.WaitHealthy(context.Background(), srv.URL, "", "sbx-1")
	require.NoError(t, err)
	assert.GreaterOrEqual(t, attempts, 2)
}

func TestWaitHealthy_TimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.WaitHealthy(context.Background(), srv.URL, "", "sbx-1")
	assert.ErrorIs(t, err, ErrSandboxUnreachable)
}

func TestWaitHealthy_RouteVerifyTimeoutIsLogOnly(t *testing.T) {
	guestSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(HealthResponse{Status: HealthStatusOK})
	}))
	defer guestSrv.Close()

	edgeSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer edgeSrv.Close()

	c := testClient(t, guestSrv.URL)
	err := c.WaitHealthy(context.Background(), guestSrv.URL, edgeSrv.URL, "sbx-1")
	require.NoError(t, err, "route verification timeout must not surface as an error")
}
