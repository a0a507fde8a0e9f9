package utils

import (
	"path"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// NormalizeCacheKey converts a file path to a normalized cache key
// Uses forward slashes for cross-platform compatibility
func NormalizeCacheKey(p string) string {
	return strings.ReplaceAll(p, "\\", "/")
}

// NormalizeURLPath returns the canonical directory-style form of a request
// path: NFC, cleaned, leading and trailing slash. File-like paths (with an
// extension in the last segment) keep no trailing slash.
func NormalizeURLPath(p string) string {
	p = norm.NFC.String(NormalizeCacheKey(p))
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p = path.Clean("/" + p)
	if p == "/" {
		return p
	}
	if path.Ext(p) != "" {
		return p
	}
	return p + "/"
}

// SplitExt returns the path without its extension and the lower-cased
// extension including the dot.
func SplitExt(p string) (string, string) {
	ext := path.Ext(p)
	return p[:len(p)-len(ext)], strings.ToLower(ext)
}
