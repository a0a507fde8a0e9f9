package server

import (
	"io"
	"mime"
	"net/http"
	"os"
	"path"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/metrics"
	"github.com/Kush-Singh-26/rapidcache/pipeline/pagecache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// gzipResponseWriter wraps the underlying ResponseWriter to enable Gzip compression
type gzipResponseWriter struct {
	io.Writer
	http.ResponseWriter
}

func (w *gzipResponseWriter) Write(b []byte) (int, error) {
	return w.Writer.Write(b)
}

func (w *gzipResponseWriter) WriteHeader(code int) {
	w.Header().Del("Content-Length")
	w.ResponseWriter.WriteHeader(code)
}

// openFile opens name below root on the site filesystem. Directories and
// paths escaping root are reported as missing.
func (s *Server) openFile(root, urlPath string) (afero.File, os.FileInfo, bool) {
	full, err := validatePath(root, urlPath)
	if err != nil {
		return nil, nil, false
	}
	f, err := s.site.Fs.Open(full)
	if err != nil {
		return nil, nil, false
	}
	info, err := f.Stat()
	if err != nil || info.IsDir() {
		_ = f.Close()
		return nil, nil, false
	}
	return f, info, true
}

// serveStatic serves a docroot file, substituting a converted image variant
// the client accepts. It returns false when no file exists so the request
// can fall through to the page cache.
func (s *Server) serveStatic(w http.ResponseWriter, r *http.Request) bool {
	cfg := s.site.Config
	urlPath := path.Clean("/" + r.URL.Path)

	servePath := urlPath
	_, ext := utils.SplitExt(urlPath)
	if images.Convertible(ext, images.WebP) || images.Convertible(ext, images.AVIF) {
		w.Header().Add("Vary", "Accept")
		if resolved := s.site.Images.ResolveServingURL(urlPath, r.Header.Get("Accept")); resolved != urlPath {
			servePath = resolved
		}
	}

	f, info, ok := s.openFile(cfg.SiteRoot, servePath)
	if !ok && servePath != urlPath {
		servePath = urlPath
		f, info, ok = s.openFile(cfg.SiteRoot, urlPath)
	}
	if !ok {
		return false
	}
	defer func() { _ = f.Close() }()
	if servePath != urlPath {
		s.site.Metrics.Inc(metrics.ImagesServed)
	}

	contentType := mime.TypeByExtension(path.Ext(servePath))
	if contentType != "" {
		w.Header().Set("Content-Type", contentType)
	}

	filename := path.Base(urlPath)
	switch {
	case isHashedAsset(filename):
		w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	case strings.HasSuffix(filename, ".html"):
		w.Header().Set("Cache-Control", "no-cache")
	default:
		w.Header().Set("Cache-Control", "public, max-age=3600")
	}

	if compressible(contentType) && pagecache.AcceptsGzip(r.Header.Get("Accept-Encoding")) {
		w.Header().Add("Vary", "Accept-Encoding")
		w.Header().Set("Content-Encoding", "gzip")
		r.Header.Del("Range")
		gz := gzip.NewWriter(w)
		defer func() { _ = gz.Close() }()
		http.ServeContent(&gzipResponseWriter{Writer: gz, ResponseWriter: w}, r, servePath, info.ModTime(), f)
		return true
	}
	http.ServeContent(w, r, servePath, info.ModTime(), f)
	return true
}

// serveArtifact serves minified artifacts from the cache root. They are
// content addressed and never change, so clients may keep them forever.
func (s *Server) serveArtifact(w http.ResponseWriter, r *http.Request) {
	cfg := s.site.Config
	rel := strings.TrimPrefix(path.Clean("/"+r.URL.Path), cfg.CacheURL)
	if strings.HasSuffix(rel, ".gz") || !strings.HasPrefix(rel, "/min/") {
		http.NotFound(w, r)
		return
	}

	f, info, ok := s.openFile(cfg.CacheRoot, rel)
	if !ok {
		http.NotFound(w, r)
		return
	}
	defer func() { _ = f.Close() }()

	w.Header().Set("Content-Type", mime.TypeByExtension(path.Ext(rel)))
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Header().Set("Vary", "Accept-Encoding")

	if pagecache.AcceptsGzip(r.Header.Get("Accept-Encoding")) {
		if gz, gzInfo, ok := s.openFile(cfg.CacheRoot, rel+".gz"); ok {
			defer func() { _ = gz.Close() }()
			w.Header().Set("Content-Encoding", "gzip")
			http.ServeContent(w, r, rel, gzInfo.ModTime(), gz)
			return
		}
	}
	http.ServeContent(w, r, rel, info.ModTime(), f)
}
