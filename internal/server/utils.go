package server

import (
	"fmt"
	"path/filepath"
	"strings"
)

// validatePath joins userPath onto baseDir and rejects results that escape
// baseDir.
func validatePath(baseDir, userPath string) (string, error) {
	absBase, err := filepath.Abs(baseDir)
	if err != nil {
		return "", fmt.Errorf("invalid base directory: %w", err)
	}

	absUserPath, err := filepath.Abs(filepath.Join(baseDir, filepath.Clean("/"+userPath)))
	if err != nil {
		return "", fmt.Errorf("invalid path: %w", err)
	}

	relPath, err := filepath.Rel(absBase, absUserPath)
	if err != nil {
		return "", fmt.Errorf("path validation error: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("path traversal attempt detected")
	}
	return absUserPath, nil
}

// isHashedAsset checks if filename carries a content hash, either as a
// middle segment (layout.a1b2c3d4.css) or as the whole stem of a cache
// artifact (0f3a...9c.css).
func isHashedAsset(filename string) bool {
	parts := strings.Split(filename, ".")
	if len(parts) < 2 {
		return false
	}
	hashPart := parts[len(parts)-2]
	if len(parts) == 2 && len(hashPart) < 16 {
		return false
	}
	if len(hashPart) < 8 {
		return false
	}
	for _, c := range hashPart {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') && (c < 'A' || c > 'F') {
			return false
		}
	}
	return true
}

// compressible reports whether a content type benefits from gzip.
func compressible(contentType string) bool {
	ct := strings.ToLower(contentType)
	switch {
	case strings.HasPrefix(ct, "text/"),
		strings.Contains(ct, "javascript"),
		strings.Contains(ct, "json"),
		strings.Contains(ct, "xml"),
		strings.Contains(ct, "svg"),
		strings.Contains(ct, "wasm"):
		return true
	}
	return false
}
