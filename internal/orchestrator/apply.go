package orchestrator

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
)

var viteConfigCandidates = []string{"vite.config.js", "vite.config.ts"}
var nextConfigCandidates = []string{"next.config.js", "next.config.mjs", "next.config.ts"}

// applyConfigPatches idempotently rewrites vite.config/next.config for the
// detected project kind (spec §4.6). Only relevant project kinds are
// touched; other kinds are a no-op.
func (o *Orchestrator) applyConfigPatches(ctx context.Context, s *ActiveSession, info ProjectInfo) error {
	switch info.Kind {
	case KindNodeVite:
		return o.patchFirstExisting(ctx, s, viteConfigCandidates, func(content string) string {
			return patchViteConfig(content, o.cfg.GatewayHost)
		})
	case KindNodeNext:
		return o.patchNextConfigFile(ctx, s)
	default:
		return nil
	}
}

func (o *Orchestrator) patchFirstExisting(ctx context.Context, s *ActiveSession, candidates []string, patch func(string) string) error {
	for _, path := range candidates {
		content, _, err := o.objectStore.ReadFile(ctx, s.ProjectID, path)
		if err != nil {
			continue
		}
		patched := patch(string(content))
		if patched == string(content) {
			continue
		}
		return o.WriteFile(ctx, s.ProjectID, path, []byte(patched))
	}
	return nil
}

func (o *Orchestrator) patchNextConfigFile(ctx context.Context, s *ActiveSession) error {
	manifest, _, err := o.objectStore.ReadFile(ctx, s.ProjectID, "package.json")
	isNext16Plus := false
	if err == nil {
		var pkg packageJSON
		if jsonErr := json.Unmarshal(manifest, &pkg); jsonErr == nil {
			if v, ok := pkg.Dependencies["next"]; ok {
				isNext16Plus = isAtLeastV16(v)
			}
		}
	}

	for _, path := range nextConfigCandidates {
		content, _, err := o.objectStore.ReadFile(ctx, s.ProjectID, path)
		if err != nil {
			continue
		}
		patched := patchNextConfig(string(content), o.cfg.GatewayHost, projectWorkdir, isNext16Plus)
		if patched == string(content) {
			continue
		}
		if err := o.WriteFile(ctx, s.ProjectID, path, []byte(patched)); err != nil {
			o.log.Warn("failed to write patched next config", logging.WithProjectID(s.ProjectID), zap.Error(err))
			return err
		}
		return nil
	}
	return nil
}

// isAtLeastV16 reports whether a declared Next.js version is >= 16.0.0,
// gating the __wloTurbopackRoot patch (spec §4.6: "for Next.js >= 16").
func isAtLeastV16(rawVersion string) bool {
	trimmed := strings.TrimPrefix(strings.TrimPrefix(rawVersion, "^"), "~")
	v, err := semver.NewVersion(trimmed)
	if err != nil {
		return false
	}
	return v.Compare(semver.MustParse("16.0.0")) >= 0
}
