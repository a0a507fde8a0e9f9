package utils

import (
	"encoding/hex"
	"fmt"
	"time"

	"github.com/zeebo/blake3"
)

// FingerprintLen is the number of hex characters kept from a fingerprint.
const FingerprintLen = 32

// Fingerprint derives a stable key from a source path and its modification
// time. The file content is never read.
func Fingerprint(path string, modTime time.Time) string {
	h := blake3.New()
	_, _ = fmt.Fprintf(h, "%s:%d", NormalizeCacheKey(path), modTime.UnixNano())
	return hex.EncodeToString(h.Sum(nil))[:FingerprintLen]
}

// HashContent computes the BLAKE3 hash of content and returns a hex string
func HashContent(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// ETag returns a strong entity tag for content.
func ETag(data []byte) string {
	return `"` + HashContent(data)[:FingerprintLen] + `"`
}
