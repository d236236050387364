package sessionstore

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// FileStore is the default Session Store backend: a single JSON file
// rewritten atomically on every Put/Delete (spec §4.3, §6 "Persisted session
// file").
type FileStore struct {
	mu   sync.RWMutex
	path string
	data map[string]Session
}

var _ Store = (*FileStore)(nil)

// NewFileStore loads (or initializes) the session file at path.
func NewFileStore(path string) (*FileStore, error) {
	fs := &FileStore{path: path, data: make(map[string]Session)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return fs, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading session file %s: %w", path, err)
	}

	if len(raw) == 0 {
		return fs, nil
	}

	if err := json.Unmarshal(raw, &fs.data); err != nil {
		return nil, fmt.Errorf("parsing session file %s: %w", path, err)
	}

	return fs, nil
}

func (fs *FileStore) writeLocked() error {
	tmp := fs.path + ".tmp"
	b, err := json.MarshalIndent(fs.data, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling sessions: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(fs.path), 0o755); err != nil {
		return fmt.Errorf("creating session store dir: %w", err)
	}

	if err := os.WriteFile(tmp, b, 0o644); err != nil {
		return fmt.Errorf("writing session file temp: %w", err)
	}

	return os.Rename(tmp, fs.path)
}

// Put atomically rewrites the session file with session upserted.
func (fs *FileStore) Put(_ context.Context, session Session) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	fs.data[session.ProjectID] = session
	return fs.writeLocked()
}

// Get returns the session for projectID, if any.
func (fs *FileStore) Get(_ context.Context, projectID string) (*Session, bool, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	s, ok := fs.data[projectID]
	if !ok {
		return nil, false, nil
	}
	return &s, true, nil
}

// Delete removes projectID's session, rewriting the file atomically.
func (fs *FileStore) Delete(_ context.Context, projectID string) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, ok := fs.data[projectID]; !ok {
		return nil
	}

	delete(fs.data, projectID)
	return fs.writeLocked()
}

// List returns a snapshot of every persisted session.
func (fs *FileStore) List(_ context.Context) ([]Session, error) {
	fs.mu.RLock()
	defer fs.mu.RUnlock()

	out := make([]Session, 0, len(fs.data))
	for _, s := range fs.data {
		out = append(out, s)
	}
	return out, nil
}
