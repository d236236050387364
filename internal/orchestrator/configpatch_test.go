package orchestrator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPatchViteConfig_InsertsAllowedHostsIntoServerBlock(t *testing.T) {
	content := "export default {\n  server: {\n    port: 5173,\n  },\n}\n"

	patched := patchViteConfig(content, "preview.example.com")

	assert.True(t, IsPatched(patched))
	assert.Contains(t, patched, `allowedHosts: ["preview.example.com"]`)
}

func TestPatchViteConfig_FallsBackToAppendWhenNoServerBlock(t *testing.T) {
	content := "export default defineConfig({})\n"

	patched := patchViteConfig(content, "preview.example.com")

	assert.True(t, IsPatched(patched))
	assert.True(t, strings.HasPrefix(patched, content))
}

func TestPatchViteConfig_IdempotentOnSecondPass(t *testing.T) {
	content := "export default {\n  server: {},\n}\n"

	once := patchViteConfig(content, "preview.example.com")
	twice := patchViteConfig(once, "preview.example.com")

	assert.Equal(t, once, twice)
}

func TestPatchNextConfig_AddsTurbopackRootOnlyForV16(t *testing.T) {
	content := "module.exports = {}\n"

	below16 := patchNextConfig(content, "preview.example.com", "/workspace", false)
	atLeast16 := patchNextConfig(content, "preview.example.com", "/workspace", true)

	assert.NotContains(t, below16, "__wloTurbopackRoot")
	assert.Contains(t, atLeast16, "__wloTurbopackRoot")
	assert.Contains(t, atLeast16, "/workspace")
}

func TestPatchNextConfig_IdempotentOnSecondPass(t *testing.T) {
	content := "module.exports = {}\n"

	once := patchNextConfig(content, "preview.example.com", "/workspace", true)
	twice := patchNextConfig(once, "preview.example.com", "/workspace", true)

	assert.Equal(t, once, twice)
}

func TestIsPatched(t *testing.T) {
	assert.False(t, IsPatched("module.exports = {}"))
	assert.True(t, IsPatched(patchSentinel))
}
