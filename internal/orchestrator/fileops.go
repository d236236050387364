package orchestrator

import (
	"context"
	"encoding/base64"

	"github.com/cloudide-dev/workspace-orchestrator/internal/objectstore"
)

// ReadFile mirrors spec §4.6's file-operations contract: the object store is
// authoritative for persistence, the live sandbox (when present) for the
// running view.
func (o *Orchestrator) ReadFile(ctx context.Context, projectID, path string) ([]byte, error) {
	content, _, err := o.objectStore.ReadFile(ctx, projectID, path)
	return content, err
}

// WriteFile writes to the object store (authoritative) and, when a sandbox
// is live, mirrors the write to it for hot reload.
func (o *Orchestrator) WriteFile(ctx context.Context, projectID, path string, content []byte) error {
	if err := o.objectStore.SaveFiles(ctx, projectID, []objectstore.FileEntry{{Path: path, Content: content}}); err != nil {
		return err
	}

	s, ok := o.getSession(projectID)
	if !ok || s.AgentEndpoint == "" {
		return nil
	}

	isBinary := objectstore.IsBinaryPath(path)
	body := string(content)
	if isBinary {
		body = base64.StdEncoding.EncodeToString(content)
	}
	return o.provider.PutFile(ctx, s.AgentEndpoint, path, body, isBinary)
}

// DeleteFile removes path from the object store and, when live, the sandbox.
func (o *Orchestrator) DeleteFile(ctx context.Context, projectID, path string) error {
	if err := o.objectStore.DeleteFile(ctx, projectID, path); err != nil {
		return err
	}
	s, ok := o.getSession(projectID)
	if !ok || s.AgentEndpoint == "" {
		return nil
	}
	return o.provider.DeletePath(ctx, s.AgentEndpoint, path)
}

// CreateFolder creates path as a directory on the live sandbox, if any. The
// object store has no directory concept of its own (a logical path set), so
// folders only materialize once a file is saved under them.
func (o *Orchestrator) CreateFolder(ctx context.Context, projectID, path string) error {
	s, ok := o.getSession(projectID)
	if !ok || s.AgentEndpoint == "" {
		return nil
	}
	return o.provider.MakeDir(ctx, s.AgentEndpoint, path)
}

// ListFiles prefers the live sandbox (authoritative for the running view),
// falling back to the object store (spec §4.6).
func (o *Orchestrator) ListFiles(ctx context.Context, projectID string) ([]string, error) {
	s, ok := o.getSession(projectID)
	if ok && s.AgentEndpoint != "" {
		result, err := o.provider.Exec(ctx, s.AgentEndpoint, "find . -type f -not -path './node_modules/*' -not -path './.git/*'", "/workspace", s.SandboxID, execTimeout)
		if err == nil && result.ExitCode == 0 {
			return splitLines(result.Stdout), nil
		}
	}
	return o.objectStore.ListFiles(ctx, projectID)
}

func splitLines(s string) []string {
	var out []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				out = append(out, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		out = append(out, s[start:])
	}
	return out
}
