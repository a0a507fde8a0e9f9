package utils

import (
	"net/url"
	"path"
	"strings"
)

// LocalURLPath resolves raw against base (a page or stylesheet URL; may be
// empty) and returns the cleaned URL path when it points at siteURL's host.
// data:, blob:, fragment-only and foreign-host URLs are not local.
func LocalURLPath(siteURL, base, raw string) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" || strings.HasPrefix(raw, "#") {
		return "", false
	}
	lower := strings.ToLower(raw)
	if strings.HasPrefix(lower, "data:") || strings.HasPrefix(lower, "blob:") || strings.HasPrefix(lower, "javascript:") {
		return "", false
	}

	site, err := url.Parse(siteURL)
	if err != nil {
		return "", false
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return "", false
	}

	baseURL := site
	if base != "" {
		if b, err := url.Parse(base); err == nil {
			baseURL = site.ResolveReference(b)
		}
	}
	abs := baseURL.ResolveReference(ref)
	if abs.Scheme != "http" && abs.Scheme != "https" {
		return "", false
	}
	if !strings.EqualFold(abs.Hostname(), site.Hostname()) {
		return "", false
	}
	return path.Clean("/" + abs.Path), true
}

// AbsoluteURL joins siteURL with a root-relative path.
func AbsoluteURL(siteURL, p string) string {
	return strings.TrimSuffix(siteURL, "/") + "/" + strings.TrimPrefix(p, "/")
}

// ReplaceURLPathExt swaps the extension of the path component of raw,
// keeping scheme, host, query and fragment untouched.
func ReplaceURLPathExt(raw, newExt string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	stem, ext := SplitExt(u.Path)
	if ext == "" {
		return raw
	}
	u.Path = stem + newExt
	u.RawPath = ""
	return u.String()
}
