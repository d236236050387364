// Package depcache is the Dep-Cache Service (spec §4.5): a content-addressed
// cache for per-project node_modules, keyed by a hash of the package
// manager identifier, package manifest, and lockfile.
package depcache

import (
	"crypto/md5" //nolint:gosec // content-addressing key, not a security boundary (spec §4.5 mandates MD5)
	"encoding/hex"
)

// ComputeHash implements spec §4.5's key: MD5(packageManagerId || "\n" || manifest || "\n" || lockfile).
// Deterministic for fixed inputs (testable property 6); swapping any one
// input changes the hash because the package manager identifier is folded
// into the digest, so entries from different managers never collide.
func ComputeHash(packageManagerID, manifest, lockfile string) string {
	h := md5.New() //nolint:gosec
	h.Write([]byte(packageManagerID))
	h.Write([]byte("\n"))
	h.Write([]byte(manifest))
	h.Write([]byte("\n"))
	h.Write([]byte(lockfile))
	return hex.EncodeToString(h.Sum(nil))
}
