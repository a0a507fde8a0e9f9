// Package images converts raster images to next-generation formats, keeps
// the conversion queue, and picks the representation served to a client.
package images

import (
	"errors"
	"path/filepath"
	"strings"

	"github.com/Kush-Singh-26/rapidcache/pipeline/cache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Format is a next-generation target encoding.
type Format string

const (
	WebP Format = "webp"
	AVIF Format = "avif"
)

// ErrUnsupported marks inputs that cannot be converted: unknown source type,
// unsupported source/target pair, or a missing codec. Jobs failing with it are
// recorded as skipped rather than failed.
var ErrUnsupported = errors.New("unsupported image")

// Status re-exports the persisted job states.
type Status = cache.JobStatus

const (
	StatusPending   = cache.JobPending
	StatusCompleted = cache.JobCompleted
	StatusFailed    = cache.JobFailed
	StatusSkipped   = cache.JobSkipped
)

// Job is one (path, format) conversion request.
type Job struct {
	Path   string
	Format Format
	Status Status
}

// ParseFormats expands a configured mode ("webp", "avif", "both") into
// target formats in preference order.
func ParseFormats(mode string) []Format {
	switch strings.ToLower(mode) {
	case "both":
		return []Format{AVIF, WebP}
	case "avif":
		return []Format{AVIF}
	default:
		return []Format{WebP}
	}
}

// MIME returns the content type of the format.
func (f Format) MIME() string {
	return "image/" + string(f)
}

// Ext returns the file extension including the dot.
func (f Format) Ext() string {
	return "." + string(f)
}

// Convertible reports whether a source with extension ext can be encoded to f.
// JPEG and PNG convert to both formats; WebP sources only re-encode to AVIF.
func Convertible(ext string, f Format) bool {
	switch strings.ToLower(ext) {
	case ".jpg", ".jpeg", ".png":
		return f == WebP || f == AVIF
	case ".webp":
		return f == AVIF
	}
	return false
}

// VariantPath returns where the f variant of src sits: beside the original,
// with the extension replaced (photo.jpg -> photo.webp).
func VariantPath(src string, f Format) string {
	stem, _ := utils.SplitExt(src)
	return stem + f.Ext()
}

// AcceptedFormats parses an Accept header and returns the next-gen formats
// the client declared, ignoring entries with q=0.
func AcceptedFormats(accept string) map[Format]bool {
	out := make(map[Format]bool, 2)
	for _, part := range strings.Split(accept, ",") {
		fields := strings.Split(part, ";")
		mediaType := strings.ToLower(strings.TrimSpace(fields[0]))
		if utils.RejectsQ(fields[1:]) {
			continue
		}
		switch mediaType {
		case "image/webp":
			out[WebP] = true
		case "image/avif":
			out[AVIF] = true
		}
	}
	return out
}

// fsPath maps a URL path onto the document root.
func fsPath(root, urlPath string) string {
	return filepath.Join(root, filepath.FromSlash(strings.TrimPrefix(urlPath, "/")))
}
