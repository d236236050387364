package orchestrator

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"encoding/base64"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/cloudide-dev/workspace-orchestrator/internal/logging"
	"github.com/cloudide-dev/workspace-orchestrator/internal/objectstore"
)

// purgeProjectDirectory removes every top-level entry on the sandbox except
// node_modules, .git, and the dep-cache marker file (spec §4.6 step 1,
// §4.4's release-path purge).
func (o *Orchestrator) purgeProjectDirectory(ctx context.Context, s *ActiveSession) error {
	keep := strings.Join(purgeKeepPaths, `\|`)
	cmd := fmt.Sprintf(`find %s -mindepth 1 -maxdepth 1 -not -regex ".*/\(%s\)" -exec rm -rf {} +`, projectWorkdir, keep)
	_, err := o.provider.Exec(ctx, s.AgentEndpoint, cmd, "/", s.SandboxID, execTimeout)
	return err
}

// forceSync serializes the full project file set into a single in-memory
// gzipped tar and posts it to the agent's /extract endpoint in one round
// trip; the per-file path is a correctness backstop for when the archive
// post fails (spec §4.6: "forceSync ... on failure, fall back to per-file
// writes").
func (o *Orchestrator) forceSync(ctx context.Context, s *ActiveSession) error {
	paths, err := o.objectStore.ListFiles(ctx, s.ProjectID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
	}

	archive, err := o.buildTarGz(ctx, s.ProjectID, paths)
	if err == nil {
		if err := o.provider.PostArchive(ctx, s.AgentEndpoint, base64.StdEncoding.EncodeToString(archive)); err == nil {
			return o.reapplyPermissions(ctx, s)
		}
	}

	o.log.Warn("archive sync failed, falling back to per-file writes", logging.WithProjectID(s.ProjectID), zap.Error(err))
	for _, path := range paths {
		content, _, readErr := o.objectStore.ReadFile(ctx, s.ProjectID, path)
		if readErr != nil {
			continue
		}
		_ = o.provider.PutFile(ctx, s.AgentEndpoint, path, encodeForTransport(content, path), objectstore.IsBinaryPath(path))
	}
	return o.reapplyPermissions(ctx, s)
}

func (o *Orchestrator) buildTarGz(ctx context.Context, projectID string, paths []string) ([]byte, error) {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)

	for _, path := range paths {
		content, _, err := o.objectStore.ReadFile(ctx, projectID, path)
		if err != nil {
			return nil, err
		}
		if err := tw.WriteHeader(&tar.Header{Name: path, Size: int64(len(content)), Mode: 0644}); err != nil {
			return nil, err
		}
		if _, err := tw.Write(content); err != nil {
			return nil, err
		}
	}

	if err := tw.Close(); err != nil {
		return nil, err
	}
	if err := gz.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// forceRestorePackageJSON re-pulls package.json from the object store after
// a sync, protecting against any stale on-disk copy surviving on a reused
// worker (spec §4.6 step 1).
func (o *Orchestrator) forceRestorePackageJSON(ctx context.Context, s *ActiveSession) error {
	content, _, err := o.objectStore.ReadFile(ctx, s.ProjectID, "package.json")
	if err != nil {
		return nil // not every project has one (e.g. static sites)
	}
	return o.provider.PutFile(ctx, s.AgentEndpoint, "package.json", string(content), false)
}

// reapplyPermissions runs chown after any bulk write (spec §4.6: "git
// initialization... permissions are reapplied after any bulk write").
func (o *Orchestrator) reapplyPermissions(ctx context.Context, s *ActiveSession) error {
	_, err := o.provider.Exec(ctx, s.AgentEndpoint, "chown -R coder:coder "+projectWorkdir, "/", s.SandboxID, fastExecTimeout)
	return err
}

// ensureGitInitialized clones the project's remote (shallow) if one is
// configured, or falls back to `git init` + a shallow fetch of the default
// branch's history, exposing real commits to the IDE (spec §4.6).
func (o *Orchestrator) ensureGitInitialized(ctx context.Context, s *ActiveSession, opts CreateOptions) error {
	check, err := o.provider.Exec(ctx, s.AgentEndpoint, "test -d .git && echo present || echo missing", projectWorkdir, s.SandboxID, fastExecTimeout)
	if err != nil {
		return err
	}
	if strings.TrimSpace(check.Stdout) == "present" {
		return nil
	}

	if opts.RemoteURL != "" {
		cmd := fmt.Sprintf("git clone --depth 1 %s .", opts.RemoteURL)
		_, err := o.provider.Exec(ctx, s.AgentEndpoint, cmd, projectWorkdir, s.SandboxID, execTimeout)
		return err
	}

	branch := opts.DefaultBranch
	if branch == "" {
		branch = "main"
	}
	cmds := []string{
		"git init",
		fmt.Sprintf("git fetch --depth 1 origin %s", branch),
		fmt.Sprintf("git reset --soft origin/%s", branch),
	}
	for _, cmd := range cmds {
		if _, err := o.provider.Exec(ctx, s.AgentEndpoint, cmd, projectWorkdir, s.SandboxID, execTimeout); err != nil {
			return err
		}
	}
	return nil
}

func encodeForTransport(content []byte, path string) string {
	if objectstore.IsBinaryPath(path) {
		return base64.StdEncoding.EncodeToString(content)
	}
	return string(content)
}
