package depcache

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestComputeHash_Deterministic(t *testing.T) {
	h1 := ComputeHash("npm", `{"name":"demo"}`, "lockfile-content")
	h2 := ComputeHash("npm", `{"name":"demo"}`, "lockfile-content")
	assert.Equal(t, h1, h2)
}

func TestComputeHash_ChangesWithAnyInput(t *testing.T) {
	base := ComputeHash("npm", "manifest", "lockfile")

	assert.NotEqual(t, base, ComputeHash("pnpm", "manifest", "lockfile"))
	assert.NotEqual(t, base, ComputeHash("npm", "manifest-2", "lockfile"))
	assert.NotEqual(t, base, ComputeHash("npm", "manifest", "lockfile-2"))
}

func TestComputeHash_DifferentManagersNeverCollide(t *testing.T) {
	npmHash := ComputeHash("npm", "same-manifest", "same-lockfile")
	pnpmHash := ComputeHash("pnpm", "same-manifest", "same-lockfile")
	yarnHash := ComputeHash("yarn", "same-manifest", "same-lockfile")

	assert.NotEqual(t, npmHash, pnpmHash)
	assert.NotEqual(t, npmHash, yarnHash)
	assert.NotEqual(t, pnpmHash, yarnHash)
}
