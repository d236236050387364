package orchestrator

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/depcache"
	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
)

// packageManagerFor maps a detected project kind to its package manager id,
// used both for the install command and the dep-cache hash (spec §4.5).
func packageManagerFor(kind ProjectKind) string {
	switch kind {
	case KindPythonFlask:
		return "pip"
	default:
		return "npm"
	}
}

// installResult records which tier satisfied the install, for the caller to
// decide whether a dep-cache save is owed.
type installResult struct {
	ranL3 bool
}

// install runs the three-level install strategy (spec §4.6 step 2):
// L1 persistent workspace, L2 dep-cache, L3 full install. staySilent mirrors
// setupProject(..., staySilent=true): don't start the dev server here
// regardless of outcome.
func (o *Orchestrator) install(ctx context.Context, s *ActiveSession, staySilent bool) (installResult, error) {
	if ok, err := o.hasPersistentNodeModules(ctx, s); err == nil && ok {
		return installResult{}, nil
	}

	manifest, _, _ := o.objectStore.ReadFile(ctx, s.ProjectID, "package.json")
	lockfile, _, _ := o.objectStore.ReadFile(ctx, s.ProjectID, lockfileNameFor(s.Kind))
	pm := packageManagerFor(s.Kind)
	hash := depcache.ComputeHash(pm, string(manifest), string(lockfile))

	if exists, err := o.depCache.Exists(ctx, hash); err == nil && exists {
		if err := o.depCache.Restore(ctx, s.AgentEndpoint, s.SandboxID, hash); err == nil {
			o.writeDepCacheMarker(ctx, s, hash)
			return installResult{}, nil
		}
		o.log.Warn("dep-cache restore failed, falling back to full install", logging.WithProjectID(s.ProjectID))
	}

	if err := o.fullInstall(ctx, s, pm); err != nil {
		return installResult{}, fmt.Errorf("%w: %v", ErrInstallFailed, err)
	}

	// Save before starting the server: guarantees caching benefit even if
	// the server fails to boot (spec §4.6 step 2).
	if err := o.depCache.Save(ctx, s.AgentEndpoint, s.SandboxID, hash); err != nil {
		o.log.Warn("dep-cache save failed after full install", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}
	o.writeDepCacheMarker(ctx, s, hash)

	return installResult{ranL3: true}, nil
}

func lockfileNameFor(kind ProjectKind) string {
	if kind == KindPythonFlask {
		return "requirements.txt"
	}
	return "package-lock.json"
}

func (o *Orchestrator) hasPersistentNodeModules(ctx context.Context, s *ActiveSession) (bool, error) {
	result, err := o.provider.Exec(ctx, s.AgentEndpoint, "ls node_modules 2>/dev/null | wc -l", projectWorkdir, s.SandboxID, fastExecTimeout)
	if err != nil {
		return false, err
	}
	count, convErr := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if convErr != nil {
		return false, nil
	}
	return count >= minNodeModulesEntries, nil
}

// fullInstall is L3: kill stragglers on the dev-server port, run the
// package manager offline-first with an online fallback, detached so the
// control plane can poll a marker file instead of holding an open HTTP
// connection through the provider's ~30s edge-proxy limit (spec §4.6).
func (o *Orchestrator) fullInstall(ctx context.Context, s *ActiveSession, pm string) error {
	if err := o.killDevServerPort(ctx, s); err != nil {
		o.log.Warn("failed to kill stragglers before install", logging.WithProjectID(s.ProjectID), zap.Error(err))
	}

	logPath := projectWorkdir + "/.wlo-install.log"
	markerPath := projectWorkdir + "/.wlo-install-done"
	installCmd := installCommandFor(pm)

	script := fmt.Sprintf(
		`rm -f %[2]s; nohup sh -c '%[1]s --offline > %[3]s 2>&1 || %[1]s --prefer-offline >> %[3]s 2>&1; echo $? > %[2]s' > /dev/null 2>&1 & disown`,
		installCmd, markerPath, logPath,
	)
	if _, err := o.provider.Exec(ctx, s.AgentEndpoint, script, projectWorkdir, s.SandboxID, fastExecTimeout); err != nil {
		return err
	}

	return o.pollInstallMarker(ctx, s, markerPath, logPath)
}

func installCommandFor(pm string) string {
	switch pm {
	case "pip":
		return "pip install -r requirements.txt"
	default:
		return "npm install"
	}
}

func (o *Orchestrator) pollInstallMarker(ctx context.Context, s *ActiveSession, markerPath, logPath string) error {
	deadline := time.Now().Add(o.cfg.InstallTimeout)
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if time.Now().After(deadline) {
				return o.installFailureWithLogs(ctx, s, logPath, fmt.Errorf("install did not complete within %s", o.cfg.InstallTimeout))
			}
			result, err := o.provider.Exec(ctx, s.AgentEndpoint, "cat "+markerPath+" 2>/dev/null", "/", s.SandboxID, fastExecTimeout)
			if err != nil {
				continue
			}
			code := strings.TrimSpace(result.Stdout)
			if code == "" {
				continue
			}
			if code == "0" {
				return nil
			}
			// Non-zero install exit codes are soft failures if node_modules
			// was nonetheless materialized (spec §6): only empty node_modules
			// makes this a real InstallFailed.
			if nonEmpty, nmErr := o.hasNonEmptyNodeModules(ctx, s); nmErr == nil && nonEmpty {
				o.log.Warn("install exited non-zero but node_modules was materialized, treating as success",
					logging.WithProjectID(s.ProjectID), zap.String("exit_code", code))
				return nil
			}
			return o.installFailureWithLogs(ctx, s, logPath, fmt.Errorf("install exited with code %s", code))
		}
	}
}

// installFailureWithLogs enriches an InstallFailed error with the last ~20
// log lines (spec §7).
func (o *Orchestrator) installFailureWithLogs(ctx context.Context, s *ActiveSession, logPath string, cause error) error {
	result, execErr := o.provider.Exec(ctx, s.AgentEndpoint, "tail -n 20 "+logPath, "/", s.SandboxID, fastExecTimeout)
	if execErr != nil {
		return cause
	}
	return fmt.Errorf("%w\n%s", cause, result.Stdout)
}

func (o *Orchestrator) hasNonEmptyNodeModules(ctx context.Context, s *ActiveSession) (bool, error) {
	result, err := o.provider.Exec(ctx, s.AgentEndpoint, "ls node_modules 2>/dev/null | wc -l", projectWorkdir, s.SandboxID, fastExecTimeout)
	if err != nil {
		return false, err
	}
	count, convErr := strconv.Atoi(strings.TrimSpace(result.Stdout))
	if convErr != nil {
		return false, nil
	}
	return count > 0, nil
}

func (o *Orchestrator) killDevServerPort(ctx context.Context, s *ActiveSession) error {
	_, err := o.provider.Exec(ctx, s.AgentEndpoint, fmt.Sprintf("fuser -k %d/tcp 2>/dev/null; true", devServerPort), "/", s.SandboxID, fastExecTimeout)
	return err
}

func (o *Orchestrator) writeDepCacheMarker(ctx context.Context, s *ActiveSession, hash string) {
	_, _ = o.provider.Exec(ctx, s.AgentEndpoint, fmt.Sprintf("echo %s > %s/%s", hash, projectWorkdir, depCacheMarkerFile), "/", s.SandboxID, fastExecTimeout)
}

const devServerPort = 3000
