package pagecache

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/metrics"
	"github.com/Kush-Singh-26/rapidcache/pipeline/rewrite"
	"github.com/Kush-Singh-26/rapidcache/pipeline/testutil"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

const page = "<html><body><h1>About</h1></body></html>"

type stubRegenerator struct {
	paths  []string
	delays []time.Duration
}

func (s *stubRegenerator) Schedule(path string, delay time.Duration) bool {
	s.paths = append(s.paths, path)
	s.delays = append(s.delays, delay)
	return true
}

type mapResolver map[string]string

func (m mapResolver) Resolve(id string) (string, bool) {
	p, ok := m[id]
	return p, ok
}

func newTestManager(t *testing.T, mutate func(*config.Config), deps Deps) (*Manager, afero.Fs) {
	t.Helper()
	cfg := testutil.TestConfig()
	cfg.Cache.ExcludeURLs = []string{"/shop/(.*)", "/checkout/"}
	if mutate != nil {
		mutate(cfg)
	}
	fs := afero.NewMemMapFs()
	if deps.Metrics == nil {
		deps.Metrics = metrics.New()
	}
	return New(fs, cfg, deps, utils.DiscardLogger()), fs
}

// countingOrigin serves body with content type ct and counts renders.
func countingOrigin(calls *atomic.Int32, status int, ct, body string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.Header().Set("Content-Type", ct)
		w.WriteHeader(status)
		_, _ = w.Write([]byte(body))
	})
}

func get(h http.Handler, target string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestCacheable(t *testing.T) {
	m, _ := newTestManager(t, nil, Deps{})

	tests := []struct {
		name   string
		method string
		target string
		cookie *http.Cookie
		auth   bool
		want   bool
	}{
		{"plain page", http.MethodGet, "/about/", nil, false, true},
		{"tracking params", http.MethodGet, "/about/?utm_source=x&gclid=1", nil, false, true},
		{"post", http.MethodPost, "/about/", nil, false, false},
		{"head", http.MethodHead, "/about/", nil, false, false},
		{"admin", http.MethodGet, "/wp-admin/edit.php", nil, false, false},
		{"logged in", http.MethodGet, "/about/", &http.Cookie{Name: "wordpress_logged_in_abc", Value: "1"}, false, false},
		{"unrelated cookie", http.MethodGet, "/about/", &http.Cookie{Name: "theme", Value: "dark"}, false, true},
		{"authorization", http.MethodGet, "/about/", nil, true, false},
		{"search param", http.MethodGet, "/?s=cache", nil, false, false},
		{"search path", http.MethodGet, "/search/cache/", nil, false, false},
		{"feed", http.MethodGet, "/blog/feed/", nil, false, false},
		{"feed xml", http.MethodGet, "/feed.xml", nil, false, false},
		{"preview", http.MethodGet, "/?p=1&preview=true", nil, false, false},
		{"unknown param", http.MethodGet, "/about/?page=2", nil, false, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.target, nil)
			if tt.cookie != nil {
				req.AddCookie(tt.cookie)
			}
			if tt.auth {
				req.Header.Set("Authorization", "Bearer x")
			}
			got, reason := m.Cacheable(req)
			if got != tt.want {
				t.Errorf("Cacheable(%s %s) = %v (%s), want %v", tt.method, tt.target, got, reason, tt.want)
			}
		})
	}
}

func TestCacheable_Disabled(t *testing.T) {
	m, _ := newTestManager(t, func(cfg *config.Config) { cfg.Cache.Enable = false }, Deps{})
	if ok, _ := m.Cacheable(httptest.NewRequest(http.MethodGet, "/", nil)); ok {
		t.Error("disabled cache reported cacheable")
	}
}

func TestShouldStore(t *testing.T) {
	m, _ := newTestManager(t, nil, Deps{})
	html := http.Header{"Content-Type": {"text/html; charset=utf-8"}}

	tests := []struct {
		name   string
		path   string
		status int
		header http.Header
		want   error
	}{
		{"html page", "/about/", 200, html, nil},
		{"wildcard child", "/shop/cart/", 200, html, ErrExcluded},
		{"wildcard grandchild", "/shop/item/1/", 200, html, ErrExcluded},
		{"wildcard sibling", "/shopping/", 200, html, nil},
		{"exact", "/checkout/", 200, html, ErrExcluded},
		{"not found", "/missing/", 404, html, ErrNotCacheable},
		{"json", "/api/", 200, http.Header{"Content-Type": {"application/json"}}, ErrNotCacheable},
		{"no store", "/a/", 200, http.Header{"Content-Type": {"text/html"}, "Cache-Control": {"no-store"}}, ErrNotCacheable},
		{"set cookie", "/a/", 200, http.Header{"Content-Type": {"text/html"}, "Set-Cookie": {"a=b"}}, ErrNotCacheable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := m.ShouldStore(tt.path, tt.status, tt.header)
			if tt.want == nil && err != nil {
				t.Errorf("ShouldStore = %v, want nil", err)
			}
			if tt.want != nil && !errors.Is(err, tt.want) {
				t.Errorf("ShouldStore = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEntryPath(t *testing.T) {
	m, _ := newTestManager(t, nil, Deps{})
	tests := []struct {
		path string
		want string
	}{
		{"/about/", "example.com/about/index.html"},
		{"/about", "example.com/about/index.html"},
		{"/", "example.com/index.html"},
		{"/blog/../about/", "example.com/about/index.html"},
	}
	for _, tt := range tests {
		want := filepath.Join(testutil.CacheRoot, filepath.FromSlash(tt.want))
		if got := m.EntryPath("Example.com", tt.path); got != want {
			t.Errorf("EntryPath(%q) = %q, want %q", tt.path, got, want)
		}
	}
}

func TestMiddleware_MissThenHit(t *testing.T) {
	rewriter := RewriterFunc(func(body []byte, pageURL string) rewrite.Result {
		if pageURL != "https://example.com/about/" {
			t.Errorf("rewriter pageURL = %q", pageURL)
		}
		return rewrite.Result{
			HTML: bytes.ReplaceAll(body, []byte("About"), []byte("About us")),
			Jobs: []images.Job{{Path: "/a.jpg", Format: images.WebP}},
		}
	})
	m, fs := newTestManager(t, nil, Deps{Rewriter: rewriter})
	var calls atomic.Int32
	h := m.Middleware(countingOrigin(&calls, 200, "text/html; charset=utf-8", page))

	first := get(h, "/about/", nil)
	if first.Code != 200 || first.Header().Get("X-Cache") != "MISS" {
		t.Fatalf("first response = %d %s", first.Code, first.Header().Get("X-Cache"))
	}
	if !bytes.Contains(first.Body.Bytes(), []byte("About us")) {
		t.Errorf("miss response not rewritten: %s", first.Body)
	}

	entry := filepath.Join(testutil.CacheRoot, "example.com", "about", IndexFile)
	testutil.AssertFileExists(t, fs, entry)
	testutil.AssertFileExists(t, fs, entry+".gz")

	second := get(h, "/about/?utm_source=newsletter", nil)
	if second.Header().Get("X-Cache") != "HIT" {
		t.Fatalf("second response X-Cache = %q", second.Header().Get("X-Cache"))
	}
	if second.Body.String() != first.Body.String() {
		t.Errorf("hit body = %q, want %q", second.Body, first.Body)
	}
	if calls.Load() != 1 {
		t.Errorf("origin rendered %d times, want 1", calls.Load())
	}

	s := m.deps.Metrics.Snapshot()
	if s.Get(metrics.PageHits) != 1 || s.Get(metrics.PageMisses) != 1 || s.Get(metrics.ImagesEnqueued) != 1 {
		t.Errorf("metrics = %v", s.Counts)
	}
}

func TestMiddleware_NotStored(t *testing.T) {
	tests := []struct {
		name   string
		target string
		status int
		ct     string
	}{
		{"not found", "/missing/", 404, "text/html"},
		{"excluded", "/shop/cart/", 200, "text/html"},
		{"bypass", "/about/?s=x", 200, "text/html"},
		{"not html", "/data.json", 200, "application/json"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, _ := newTestManager(t, nil, Deps{})
			var calls atomic.Int32
			h := m.Middleware(countingOrigin(&calls, tt.status, tt.ct, page))

			for i := 0; i < 2; i++ {
				rec := get(h, tt.target, nil)
				if rec.Code != tt.status || rec.Body.String() != page {
					t.Errorf("response = %d %q", rec.Code, rec.Body)
				}
			}
			if calls.Load() != 2 {
				t.Errorf("origin rendered %d times, want 2", calls.Load())
			}
			if n, _ := m.Count("example.com"); n != 0 {
				t.Errorf("%d pages stored, want 0", n)
			}
		})
	}
}

func TestServeEntry_ConditionalGet(t *testing.T) {
	m, _ := newTestManager(t, nil, Deps{})
	if err := m.Store("example.com", "/about/", []byte(page)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	h := m.Middleware(http.NotFoundHandler())

	full := get(h, "/about/", nil)
	etag := full.Header().Get("ETag")
	if etag == "" || full.Header().Get("Last-Modified") == "" {
		t.Fatalf("validators missing: %v", full.Header())
	}
	if etag != utils.ETag([]byte(page)) {
		t.Errorf("ETag = %s, want content hash", etag)
	}

	lastModified := full.Header().Get("Last-Modified")
	future := time.Now().Add(time.Hour).UTC().Format(http.TimeFormat)
	past := time.Now().Add(-time.Hour).UTC().Format(http.TimeFormat)

	tests := []struct {
		name    string
		headers map[string]string
		want    int
	}{
		{"matching etag", map[string]string{"If-None-Match": etag}, http.StatusNotModified},
		{"weak etag", map[string]string{"If-None-Match": "W/" + etag}, http.StatusNotModified},
		{"etag list", map[string]string{"If-None-Match": `"nope", ` + etag}, http.StatusNotModified},
		{"other etag", map[string]string{"If-None-Match": `"nope"`}, http.StatusOK},
		{"etag wins over date", map[string]string{"If-None-Match": `"nope"`, "If-Modified-Since": future}, http.StatusOK},
		{"not modified since", map[string]string{"If-Modified-Since": lastModified}, http.StatusNotModified},
		{"modified since", map[string]string{"If-Modified-Since": past}, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(h, "/about/", tt.headers)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
			if tt.want == http.StatusOK && rec.Body.String() != page {
				t.Errorf("body = %q", rec.Body)
			}
			if tt.want == http.StatusNotModified && rec.Body.Len() != 0 {
				t.Errorf("304 carried a body: %q", rec.Body)
			}
		})
	}
}

func TestServeEntry_Gzip(t *testing.T) {
	m, fs := newTestManager(t, nil, Deps{})
	if err := m.Store("example.com", "/about/", []byte(page)); err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	h := m.Middleware(http.NotFoundHandler())

	rec := get(h, "/about/", map[string]string{"Accept-Encoding": "br, gzip"})
	if rec.Header().Get("Content-Encoding") != "gzip" {
		t.Fatalf("Content-Encoding = %q", rec.Header().Get("Content-Encoding"))
	}
	if rec.Header().Get("Vary") != "Accept-Encoding" {
		t.Errorf("Vary = %q", rec.Header().Get("Vary"))
	}
	plain, err := utils.Gunzip(rec.Body.Bytes())
	if err != nil || string(plain) != page {
		t.Errorf("gunzip = %q, %v", plain, err)
	}

	rec = get(h, "/about/", map[string]string{"Accept-Encoding": "gzip;q=0"})
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.String() != page {
		t.Errorf("gzip;q=0 served %q", rec.Header().Get("Content-Encoding"))
	}

	// A lost gzip variant degrades to the plain body.
	entry := m.EntryPath("example.com", "/about/")
	_ = fs.Remove(entry + ".gz")
	rec = get(h, "/about/", map[string]string{"Accept-Encoding": "gzip"})
	if rec.Header().Get("Content-Encoding") != "" || rec.Body.String() != page {
		t.Errorf("missing gzip variant served %q", rec.Header().Get("Content-Encoding"))
	}
}

func TestInvalidate_RemovesBothVariants(t *testing.T) {
	regen := &stubRegenerator{}
	m, fs := newTestManager(t, nil, Deps{
		Resolver:    mapResolver{"post-42": "/about/"},
		Regenerator: regen,
	})
	m.jitter = func(window time.Duration) time.Duration { return window / 2 }

	var calls atomic.Int32
	h := m.Middleware(countingOrigin(&calls, 200, "text/html", page))
	get(h, "/about/", nil)

	entry := filepath.Join(testutil.CacheRoot, "example.com", "about", IndexFile)
	testutil.AssertFileExists(t, fs, entry)

	if err := m.Invalidate(context.Background(), "post-42"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	testutil.AssertFileNotExists(t, fs, entry)
	testutil.AssertFileNotExists(t, fs, entry+".gz")

	if len(regen.paths) != 1 || regen.paths[0] != "/about/" {
		t.Fatalf("regenerations = %v", regen.paths)
	}
	if regen.delays[0] != m.cfg.Cache.RegenerateWindow/2 {
		t.Errorf("delay = %v", regen.delays[0])
	}

	rec := get(h, "/about/", nil)
	if rec.Header().Get("X-Cache") != "MISS" {
		t.Errorf("request after invalidation X-Cache = %q", rec.Header().Get("X-Cache"))
	}
	testutil.AssertFileExists(t, fs, entry)
	testutil.AssertFileExists(t, fs, entry+".gz")
}

func TestInvalidate_Idempotent(t *testing.T) {
	m, _ := newTestManager(t, nil, Deps{Resolver: mapResolver{"a": "/never-cached/"}})
	for i := 0; i < 2; i++ {
		if err := m.Invalidate(context.Background(), "a"); err != nil {
			t.Errorf("Invalidate #%d failed: %v", i, err)
		}
	}
	if err := m.Invalidate(context.Background(), "unknown"); err == nil {
		t.Error("expected error for unknown resource")
	}
}

func TestInvalidate_ExcludedPathNotRegenerated(t *testing.T) {
	regen := &stubRegenerator{}
	m, _ := newTestManager(t, nil, Deps{Regenerator: regen})
	if err := m.Invalidate(context.Background(), "/shop/cart/"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if len(regen.paths) != 0 {
		t.Errorf("excluded path scheduled: %v", regen.paths)
	}
}

func TestRandomDelay(t *testing.T) {
	if d := randomDelay(0); d != 0 {
		t.Errorf("randomDelay(0) = %v", d)
	}
	for i := 0; i < 100; i++ {
		if d := randomDelay(time.Second); d < 0 || d >= time.Second {
			t.Fatalf("randomDelay out of window: %v", d)
		}
	}
}

func TestClearAll(t *testing.T) {
	m, fs := newTestManager(t, nil, Deps{})
	for _, p := range []string{"/", "/a/", "/b/c/"} {
		if err := m.Store("example.com", p, []byte(page)); err != nil {
			t.Fatalf("Store failed: %v", err)
		}
	}
	artifact := filepath.Join(testutil.CacheRoot, "min", "css", "abc.css")
	testutil.WriteFiles(t, fs, map[string]string{artifact: "a{}"})

	if n, _ := m.Count("example.com"); n != 3 {
		t.Fatalf("Count = %d, want 3", n)
	}
	if err := m.ClearAll(); err != nil {
		t.Fatalf("ClearAll failed: %v", err)
	}
	if n, _ := m.Count("example.com"); n != 0 {
		t.Errorf("Count after clear = %d", n)
	}
	testutil.AssertFileNotExists(t, fs, artifact)

	// Clearing an empty cache is fine.
	if err := m.ClearAll(); err != nil {
		t.Errorf("second ClearAll failed: %v", err)
	}
}

func TestClearPath(t *testing.T) {
	m, fs := newTestManager(t, nil, Deps{})
	_ = m.Store("example.com", "/a/", []byte(page))
	_ = m.Store("example.com", "/b/", []byte(page))

	if err := m.ClearPath("/a"); err != nil {
		t.Fatalf("ClearPath failed: %v", err)
	}
	testutil.AssertFileNotExists(t, fs, m.EntryPath("example.com", "/a/"))
	testutil.AssertFileExists(t, fs, m.EntryPath("example.com", "/b/"))
}

func TestAcceptsGzip(t *testing.T) {
	tests := []struct {
		header string
		want   bool
	}{
		{"gzip", true},
		{"br, gzip;q=0.5", true},
		{"GZIP", true},
		{"gzip;q=0", false},
		{"gzip;q=0.000", false},
		{"gzip; Q=0.0", false},
		{"br, deflate", false},
		{"", false},
	}
	for _, tt := range tests {
		if got := AcceptsGzip(tt.header); got != tt.want {
			t.Errorf("AcceptsGzip(%q) = %v, want %v", tt.header, got, tt.want)
		}
	}
}
