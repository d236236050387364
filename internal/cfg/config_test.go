package cfg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setRequiredEnv(t *testing.T) {
	t.Helper()
	t.Setenv("PROVIDER_BASE_URL", "https://provider.example.internal")
	t.Setenv("OBJECT_STORE_BASE_URL", "https://store.example.internal")
	t.Setenv("OBJECT_STORE_BUCKET", "workspaces")
	t.Setenv("SESSION_STORE_PATH", "/var/lib/wlo/sessions.json")
	t.Setenv("ORCH_GATEWAY_HOST", "preview.example.dev")
	t.Setenv("ORCH_IMAGE_REF", "workspace-base:latest")
}

func TestParse_Defaults(t *testing.T) {
	setRequiredEnv(t)

	c, err := Parse()
	require.NoError(t, err)

	assert.Equal(t, 3, c.Pool.WorkerTargetBase)
	assert.Equal(t, 20, c.Pool.WorkerTargetMax)
	assert.Equal(t, 1, c.Pool.CacheMasterCount)
	assert.Equal(t, int64(1073741824), c.Pool.PrewarmMinBytes)
	assert.Equal(t, "X-Instance-Id", c.Provider.RoutingHeader)
	assert.Equal(t, 3, c.Provider.ExecMaxRetries)
	assert.False(t, c.Admin.Local)
}

func TestParse_MissingRequired(t *testing.T) {
	_, err := Parse()
	require.Error(t, err)
}

func TestParse_ProtectedSandboxIDsSplit(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POOL_PROTECTED_SANDBOX_IDS", "sbx-a,sbx-b,sbx-c")

	c, err := Parse()
	require.NoError(t, err)
	assert.Equal(t, []string{"sbx-a", "sbx-b", "sbx-c"}, c.Pool.ProtectedSandboxIDs)
}

func TestParse_InvalidTargetBounds(t *testing.T) {
	setRequiredEnv(t)
	t.Setenv("POOL_WORKER_TARGET_BASE", "10")
	t.Setenv("POOL_WORKER_TARGET_MAX", "5")

	_, err := Parse()
	require.Error(t, err)
}
