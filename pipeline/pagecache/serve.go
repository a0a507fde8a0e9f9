package pagecache

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/metrics"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Outcome is the representation chosen for a cached page.
type Outcome int

const (
	ServePlain Outcome = iota
	ServeGzip
	NotModified
)

func (o Outcome) String() string {
	switch o {
	case NotModified:
		return "not-modified"
	case ServeGzip:
		return "gzip"
	}
	return "plain"
}

// Evaluate applies conditional GET and encoding negotiation. If-None-Match
// takes precedence over If-Modified-Since.
func Evaluate(r *http.Request, e *Entry) Outcome {
	if inm := r.Header.Get("If-None-Match"); inm != "" {
		if etagMatches(inm, e.ETag) {
			return NotModified
		}
	} else if ims := r.Header.Get("If-Modified-Since"); ims != "" {
		if t, err := http.ParseTime(ims); err == nil && !e.ModTime.Truncate(time.Second).After(t) {
			return NotModified
		}
	}
	if e.HasGzip && AcceptsGzip(r.Header.Get("Accept-Encoding")) {
		return ServeGzip
	}
	return ServePlain
}

func etagMatches(header, etag string) bool {
	for _, candidate := range strings.Split(header, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" || strings.TrimPrefix(candidate, "W/") == etag {
			return true
		}
	}
	return false
}

// AcceptsGzip reports whether an Accept-Encoding header allows gzip.
func AcceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		fields := strings.Split(part, ";")
		if !strings.EqualFold(strings.TrimSpace(fields[0]), "gzip") {
			continue
		}
		return !utils.RejectsQ(fields[1:])
	}
	return false
}

// ServeEntry writes a cached page. A missing gzip variant falls back to the
// plain body.
func (m *Manager) ServeEntry(w http.ResponseWriter, r *http.Request, e *Entry) {
	h := w.Header()
	h.Set("ETag", e.ETag)
	h.Set("Last-Modified", e.ModTime.UTC().Format(http.TimeFormat))
	h.Set("Vary", "Accept-Encoding")
	h.Set("X-Cache", "HIT")

	outcome := Evaluate(r, e)
	if outcome == NotModified {
		m.deps.Metrics.Inc(metrics.PageNotModified)
		w.WriteHeader(http.StatusNotModified)
		return
	}
	m.deps.Metrics.Inc(metrics.PageHits)

	body := e.Body
	if outcome == ServeGzip {
		gz, err := afero.ReadFile(m.fs, e.Path+".gz")
		if err == nil {
			body = gz
			h.Set("Content-Encoding", "gzip")
		} else {
			m.logger.Warn("Gzip variant unreadable, serving plain page", "path", e.Path, "error", err)
		}
	}

	h.Set("Content-Type", "text/html; charset=utf-8")
	h.Set("Content-Length", strconv.Itoa(len(body)))
	w.WriteHeader(http.StatusOK)
	if r.Method != http.MethodHead {
		_, _ = w.Write(body)
	}
}
