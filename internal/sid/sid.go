// Package sid computes content-stable identifiers for syntax nodes,
// diagnostics, and verification obligations. The id survives
// reformatting that preserves a node's span geometry and kind, so
// tooling can track an obligation across runs.
package sid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"
)

// SID is a stable identifier: the first 16 hex characters of a
// SHA-256 over the canonical path, byte range, node kind, and child
// path.
type SID string

// New computes a stable id.
func New(path string, start, end int, kind string, childPath []int) SID {
	parts := []string{
		canonicalPath(path),
		fmt.Sprintf("%d", start),
		fmt.Sprintf("%d", end),
		kind,
	}
	for _, idx := range childPath {
		parts = append(parts, fmt.Sprintf("%d", idx))
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, "|")))
	return SID(hex.EncodeToString(sum[:])[:16])
}

// canonicalPath normalizes a file path so the same unit hashes
// identically regardless of how the driver spelled it.
func canonicalPath(path string) string {
	path = filepath.Clean(path)
	if abs, err := filepath.Abs(path); err == nil {
		path = abs
	}
	return filepath.ToSlash(path)
}
