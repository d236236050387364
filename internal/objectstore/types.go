// Package objectstore wraps the external Object Store (spec §4.2): project
// files, hashed node_modules tarballs, and build-output tarballs, plus
// short-lived signed upload/download URLs so sandboxes can stream blobs
// directly without routing bytes through the control plane.
package objectstore

import "time"

// FileEntry is a single project file as stored in, or written to, the
// object store.
type FileEntry struct {
	Path    string
	Content []byte
}

// ProjectMetadata is an arbitrary JSON-serializable metadata blob attached to
// a project (e.g. remote git URL, default branch).
type ProjectMetadata map[string]interface{}

const (
	projectFilesPrefix = "projects/"
	depCachePrefix      = "node-modules-cache/"
	buildCachePrefix    = "next-build-cache/"
)

func projectKey(projectID, path string) string {
	return projectFilesPrefix + projectID + "/" + path
}

func projectMetadataKey(projectID string) string {
	return projectFilesPrefix + projectID + "/.metadata.json"
}

func depCacheKey(hash string) string {
	return depCachePrefix + hash + ".tar.gz"
}

func buildCacheKey(projectID string) string {
	return buildCachePrefix + projectID + ".tar.gz"
}

// SignedURLKind distinguishes upload from download signed URLs.
type SignedURLKind string

const (
	SignedURLUpload   SignedURLKind = "upload"
	SignedURLDownload SignedURLKind = "download"
)

// SignedURL is a short-lived authenticated URL that a sandbox can use to
// directly PUT or GET a blob.
type SignedURL struct {
	URL       string
	Kind      SignedURLKind
	ExpiresAt time.Time
}
