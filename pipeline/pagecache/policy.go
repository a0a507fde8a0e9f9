package pagecache

import (
	"fmt"
	"mime"
	"net/http"
	"strings"

	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Cacheable decides whether a request may be served from or stored into the
// cache. The reason explains a bypass and is empty otherwise.
func (m *Manager) Cacheable(r *http.Request) (bool, string) {
	if !m.cfg.Cache.Enable {
		return false, "disabled"
	}
	if r.Method != http.MethodGet {
		return false, "method " + r.Method
	}
	if r.Header.Get("Authorization") != "" {
		return false, "authorization header"
	}

	p := r.URL.Path
	for _, prefix := range m.cfg.Cache.AdminPrefixes {
		if prefix != "" && strings.HasPrefix(p, prefix) {
			return false, "admin path"
		}
	}
	for _, c := range r.Cookies() {
		for _, prefix := range m.cfg.Cache.BypassCookies {
			if prefix != "" && strings.HasPrefix(c.Name, prefix) {
				return false, "session cookie " + c.Name
			}
		}
	}

	if special := specialPage(p); special != "" {
		return false, special
	}

	query := r.URL.Query()
	for key := range query {
		switch key {
		case "s":
			return false, "search"
		case "preview", "preview_id":
			return false, "preview"
		case "feed":
			return false, "feed"
		}
		if _, ok := m.allowedParams[key]; !ok {
			return false, "query parameter " + key
		}
	}
	return true, ""
}

// specialPage recognises search, feed and preview URLs by path.
func specialPage(p string) string {
	lower := strings.ToLower(p)
	switch {
	case strings.HasPrefix(lower, "/search/") || lower == "/search":
		return "search"
	case strings.HasSuffix(strings.TrimSuffix(lower, "/"), "/feed"),
		strings.HasSuffix(lower, ".rss"), strings.HasSuffix(lower, ".atom"),
		strings.HasSuffix(lower, "/feed.xml"), strings.HasSuffix(lower, "/rss.xml"):
		return "feed"
	case strings.HasPrefix(lower, "/preview/"):
		return "preview"
	}
	return ""
}

// ShouldStore is the store-time policy: only successful HTML responses for
// URLs outside the exclude list are written.
func (m *Manager) ShouldStore(urlPath string, status int, header http.Header) error {
	if m.exclude.Match(urlPath) {
		return fmt.Errorf("%w: %s", ErrExcluded, urlPath)
	}
	if status != http.StatusOK {
		return fmt.Errorf("%w: status %d", ErrNotCacheable, status)
	}
	if header.Get("Content-Encoding") != "" {
		return fmt.Errorf("%w: encoded body", ErrNotCacheable)
	}
	if cc := strings.ToLower(header.Get("Cache-Control")); strings.Contains(cc, "no-store") || strings.Contains(cc, "private") {
		return fmt.Errorf("%w: cache-control %s", ErrNotCacheable, cc)
	}
	if header.Get("Set-Cookie") != "" {
		return fmt.Errorf("%w: sets cookies", ErrNotCacheable)
	}
	ct := header.Get("Content-Type")
	if ct == "" {
		return fmt.Errorf("%w: no content type", ErrNotCacheable)
	}
	mediaType, _, err := mime.ParseMediaType(ct)
	if err != nil || mediaType != utils.MediaHTML {
		return fmt.Errorf("%w: content type %s", ErrNotCacheable, ct)
	}
	return nil
}
