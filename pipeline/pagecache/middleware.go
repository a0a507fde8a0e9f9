package pagecache

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"github.com/Kush-Singh-26/rapidcache/pipeline/metrics"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// recorder buffers an origin response so it can be rewritten and stored.
type recorder struct {
	header http.Header
	status int
	body   *bytes.Buffer
}

func newRecorder() *recorder {
	return &recorder{header: make(http.Header), body: utils.SharedBufferPool.Get()}
}

func (r *recorder) Header() http.Header { return r.header }

func (r *recorder) WriteHeader(code int) {
	if r.status == 0 {
		r.status = code
	}
}

func (r *recorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.body.Write(b)
}

// Middleware serves cacheable requests from the cache and stores origin
// responses on a miss. Every cache failure falls back to the origin response.
// Concurrent misses for one page all render and write; the last rename wins.
func (m *Manager) Middleware(origin http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ok, reason := m.Cacheable(r)
		if !ok {
			m.deps.Metrics.Inc(metrics.PageBypasses)
			m.logger.Debug("Page cache bypass", "path", r.URL.Path, "reason", reason)
			w.Header().Set("X-Cache", "BYPASS")
			origin.ServeHTTP(w, r)
			return
		}

		host := m.cfg.Host()
		urlPath := utils.NormalizeURLPath(r.URL.Path)

		entry, err := m.Lookup(host, urlPath)
		if err != nil {
			m.logger.Warn("Page cache lookup failed", "path", urlPath, "error", err)
		}
		if entry != nil {
			m.ServeEntry(w, r, entry)
			return
		}
		m.deps.Metrics.Inc(metrics.PageMisses)

		rec := newRecorder()
		defer utils.SharedBufferPool.Put(rec.body)
		origin.ServeHTTP(rec, r)
		if rec.status == 0 {
			rec.status = http.StatusOK
		}

		body := rec.body.Bytes()
		if err := m.ShouldStore(urlPath, rec.status, rec.header); err != nil {
			if !errors.Is(err, ErrExcluded) && !errors.Is(err, ErrNotCacheable) {
				m.logger.Warn("Page cache policy failed", "path", urlPath, "error", err)
			}
			m.logger.Debug("Page not stored", "path", urlPath, "reason", err)
		} else {
			body = m.render(host, urlPath, body)
		}

		for k, v := range rec.header {
			w.Header()[k] = v
		}
		w.Header().Set("X-Cache", "MISS")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))
		w.WriteHeader(rec.status)
		_, _ = w.Write(body)
	})
}

// render rewrites and stores a freshly rendered page and returns the bytes to
// send. The raw body is returned if storing fails.
func (m *Manager) render(host, urlPath string, body []byte) []byte {
	out := body
	if m.deps.Rewriter != nil {
		res := m.deps.Rewriter.Rewrite(body, utils.AbsoluteURL(m.cfg.SiteURL, urlPath))
		if len(res.HTML) > 0 {
			out = res.HTML
		}
		m.deps.Metrics.Add(metrics.ImagesEnqueued, len(res.Jobs))
	}
	if err := m.Store(host, urlPath, out); err != nil {
		m.logger.Warn("Failed to store page", "path", urlPath, "error", err)
		return body
	}
	m.logger.Debug("Stored page", "path", urlPath, "bytes", len(out))
	return out
}
