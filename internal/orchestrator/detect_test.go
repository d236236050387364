package orchestrator

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/cloudide-dev/workspace-orchestrator/internal/cfg"
)

func newTestOrchestrator() *Orchestrator {
	return &Orchestrator{
		cfg: cfg.OrchestratorConfig{
			DevServerMemoryDefaultMB: 2048,
			DevServerMemoryHeavyMB:   4096,
		},
		rules: defaultDetectionTable(cfg.DetectionRules{
			TurbopackHangRangeMin: ">=16.0.0",
			TurbopackHangRangeMax: "<16.2.0",
			HeavyDepThreshold:     50,
		}),
	}
}

func TestDetect_NextTakesPriorityOverVite(t *testing.T) {
	o := newTestOrchestrator()
	pkg := []byte(`{"dependencies":{"next":"14.0.0","vite":"5.0.0"}}`)

	info := o.Detect([]string{"vite.config.ts"}, pkg)

	assert.Equal(t, KindNodeNext, info.Kind)
}

func TestDetect_ViteByConfigFileWithoutDependency(t *testing.T) {
	o := newTestOrchestrator()

	info := o.Detect([]string{"vite.config.js", "index.html"}, nil)

	assert.Equal(t, KindNodeVite, info.Kind)
}

func TestDetect_FlaskByRequirementsFile(t *testing.T) {
	o := newTestOrchestrator()

	info := o.Detect([]string{"requirements.txt", "app.py"}, nil)

	assert.Equal(t, KindPythonFlask, info.Kind)
}

func TestDetect_StaticRequiresNoPackageJSON(t *testing.T) {
	o := newTestOrchestrator()
	pkg := []byte(`{"dependencies":{"express":"4.0.0"}}`)

	withPkg := o.Detect([]string{"index.html"}, pkg)
	withoutPkg := o.Detect([]string{"index.html"}, nil)

	assert.NotEqual(t, KindStatic, withPkg.Kind)
	assert.Equal(t, KindStatic, withoutPkg.Kind)
}

func TestDetect_UnknownWhenNoRuleMatches(t *testing.T) {
	o := newTestOrchestrator()

	info := o.Detect([]string{"README.md"}, nil)

	assert.Equal(t, KindUnknown, info.Kind)
}

func TestDetect_NextHangVersionDowngradesToNonTurbopack(t *testing.T) {
	o := newTestOrchestrator()
	pkg := []byte(`{"dependencies":{"next":"16.1.0"}}`)

	info := o.Detect(nil, pkg)

	assert.Equal(t, KindNodeNext, info.Kind)
	assert.Contains(t, info.StartCommand, "--no-turbopack")
}

func TestDetect_NextOutsideHangRangeKeepsDefaultCommand(t *testing.T) {
	o := newTestOrchestrator()
	pkg := []byte(`{"dependencies":{"next":"16.2.0"}}`)

	info := o.Detect(nil, pkg)

	assert.Equal(t, KindNodeNext, info.Kind)
	assert.NotContains(t, info.StartCommand, "--no-turbopack")
}

func TestIsTurbopackHangVersion(t *testing.T) {
	o := newTestOrchestrator()

	assert.True(t, o.isTurbopackHangVersion("16.1.0"))
	assert.False(t, o.isTurbopackHangVersion("16.2.0"))
	assert.False(t, o.isTurbopackHangVersion("15.9.0"))
}

func TestMemoryForProject_DefaultsWhenNoPackageJSON(t *testing.T) {
	o := newTestOrchestrator()

	assert.Equal(t, 2048, o.memoryForProject(nil))
}

func TestMemoryForProject_HeavyFrameworkGetsHeavyTier(t *testing.T) {
	o := newTestOrchestrator()
	pkg := &packageJSON{Dependencies: map[string]string{"next": "14.0.0"}}

	assert.Equal(t, 4096, o.memoryForProject(pkg))
}

func TestMemoryForProject_LargeReactDependencyGraphGetsHeavyTier(t *testing.T) {
	o := newTestOrchestrator()
	deps := map[string]string{"react": "18.0.0"}
	for i := 0; i < 51; i++ {
		deps[string(rune('a'+i%26))+string(rune('0'+i/26))] = "1.0.0"
	}
	pkg := &packageJSON{Dependencies: deps}

	assert.Equal(t, 4096, o.memoryForProject(pkg))
}

func TestMemoryForProject_SmallReactAppStaysDefault(t *testing.T) {
	o := newTestOrchestrator()
	pkg := &packageJSON{Dependencies: map[string]string{"react": "18.0.0"}}

	assert.Equal(t, 2048, o.memoryForProject(pkg))
}
