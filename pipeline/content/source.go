// Package content is the built-in origin: it enumerates markdown pages under
// the content directory, maps change notifications to URL paths and renders
// pages over HTTP.
package content

import (
	"bytes"
	"fmt"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/spf13/afero"
	"github.com/yuin/goldmark"
	meta "github.com/yuin/goldmark-meta"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/parser"
	"github.com/yuin/goldmark/text"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

var titleCaser = cases.Title(language.English)

// Page is one markdown document.
type Page struct {
	ID          string // content-relative file path with forward slashes
	URLPath     string
	Title       string
	Description string
	Date        time.Time
	Tags        []string
	Draft       bool
	ModTime     time.Time
}

// Source indexes the markdown files of a content directory.
type Source struct {
	fs     afero.Fs
	dir    string
	md     goldmark.Markdown
	logger *slog.Logger

	mu     sync.RWMutex
	byURL  map[string]*Page
	byID   map[string]*Page
	loaded bool
}

// New creates a source over cfg.ContentDir. Nothing is read until Load.
func New(fs afero.Fs, cfg *config.Config, logger *slog.Logger) *Source {
	return &Source{
		fs:     fs,
		dir:    cfg.ContentDir,
		md:     newMarkdown(),
		logger: logger,
		byURL:  make(map[string]*Page),
		byID:   make(map[string]*Page),
	}
}

// URLPathFor maps a content-relative markdown path to its URL path:
// "posts/Hello.md" => "/posts/hello/", "index.md" => "/".
func URLPathFor(id string) string {
	id = strings.ToLower(utils.NormalizeCacheKey(id))
	id = strings.TrimSuffix(id, ".md")
	dir, base := path.Split(id)
	if base == "index" || base == "_index" {
		return utils.NormalizeURLPath(dir)
	}
	return utils.NormalizeURLPath(id)
}

// Load rescans the content directory. Unreadable files are logged and left
// out; a missing directory yields an empty index.
func (s *Source) Load() error {
	byURL := make(map[string]*Page)
	byID := make(map[string]*Page)

	if ok, _ := afero.DirExists(s.fs, s.dir); !ok {
		s.mu.Lock()
		s.byURL, s.byID, s.loaded = byURL, byID, true
		s.mu.Unlock()
		return nil
	}

	err := afero.Walk(s.fs, s.dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.EqualFold(filepath.Ext(p), ".md") {
			return nil
		}
		rel, err := filepath.Rel(s.dir, p)
		if err != nil {
			return nil
		}
		page, err := s.readPage(utils.NormalizeCacheKey(rel), info.ModTime())
		if err != nil {
			s.logger.Warn("Skipping unreadable page", "path", p, "error", err)
			return nil
		}
		if prev, ok := byURL[page.URLPath]; ok {
			s.logger.Warn("Duplicate page URL", "url", page.URLPath, "kept", prev.ID, "dropped", page.ID)
			return nil
		}
		byURL[page.URLPath] = page
		byID[page.ID] = page
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to scan %s: %w", s.dir, err)
	}

	s.mu.Lock()
	s.byURL, s.byID, s.loaded = byURL, byID, true
	s.mu.Unlock()
	s.logger.Debug("Content indexed", "pages", len(byURL))
	return nil
}

func (s *Source) readPage(id string, modTime time.Time) (*Page, error) {
	src, err := afero.ReadFile(s.fs, filepath.Join(s.dir, filepath.FromSlash(id)))
	if err != nil {
		return nil, err
	}
	_, fm, err := s.parse(src)
	if err != nil {
		return nil, err
	}
	return newPage(id, fm, modTime), nil
}

func (s *Source) parse(src []byte) (ast.Node, map[string]interface{}, error) {
	ctx := parser.NewContext()
	doc := s.md.Parser().Parse(text.NewReader(src), parser.WithContext(ctx))
	fm, err := meta.TryGet(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("invalid front matter: %w", err)
	}
	return doc, fm, nil
}

func newPage(id string, fm map[string]interface{}, modTime time.Time) *Page {
	p := &Page{
		ID:          id,
		URLPath:     URLPathFor(id),
		Title:       getString(fm, "title"),
		Description: getString(fm, "description"),
		Tags:        getSlice(fm, "tags"),
		Draft:       getBool(fm, "draft"),
		ModTime:     modTime,
	}
	if slug := getString(fm, "slug"); slug != "" {
		dir := path.Dir(strings.ToLower(id))
		if dir == "." {
			dir = ""
		}
		p.URLPath = utils.NormalizeURLPath(path.Join("/", dir, slug))
	}
	switch d := fm["date"].(type) {
	case time.Time:
		p.Date = d
	case string:
		p.Date, _ = time.Parse("2006-01-02", d)
	}
	if p.Title == "" {
		base := strings.TrimSuffix(path.Base(p.URLPath), "/")
		if p.URLPath == "/" {
			base = "home"
		}
		p.Title = titleCaser.String(strings.NewReplacer("-", " ", "_", " ").Replace(base))
	}
	return p
}

func (s *Source) ensureLoaded() error {
	s.mu.RLock()
	loaded := s.loaded
	s.mu.RUnlock()
	if loaded {
		return nil
	}
	return s.Load()
}

// Pages returns every indexed page, newest first, then by URL.
func (s *Source) Pages() []*Page {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Page, 0, len(s.byURL))
	for _, p := range s.byURL {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].Date.Equal(out[j].Date) {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].URLPath < out[j].URLPath
	})
	return out
}

// URLPaths rescans and lists the URL paths of all public pages, including the
// home page. Drafts are left out.
func (s *Source) URLPaths() ([]string, error) {
	if err := s.Load(); err != nil {
		return nil, err
	}
	paths := []string{"/"}
	for _, p := range s.Pages() {
		if p.Draft || p.URLPath == "/" {
			continue
		}
		paths = append(paths, p.URLPath)
	}
	sort.Strings(paths[1:])
	return paths, nil
}

// Lookup returns the page served at urlPath.
func (s *Source) Lookup(urlPath string) (*Page, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.byURL[utils.NormalizeURLPath(urlPath)]
	return p, ok
}

// Resolve maps a resource identifier to its URL path. The identifier may be
// a content-relative file path or a URL path. Paths of deleted markdown files
// still resolve so their cached pages can be dropped.
func (s *Source) Resolve(id string) (string, bool) {
	if err := s.ensureLoaded(); err != nil {
		s.logger.Warn("Content index unavailable", "error", err)
	}
	key := utils.NormalizeCacheKey(strings.TrimPrefix(id, "/"))

	s.mu.RLock()
	if p, ok := s.byID[key]; ok {
		s.mu.RUnlock()
		return p.URLPath, true
	}
	if p, ok := s.byURL[utils.NormalizeURLPath(id)]; ok {
		s.mu.RUnlock()
		return p.URLPath, true
	}
	s.mu.RUnlock()

	if strings.EqualFold(path.Ext(key), ".md") {
		return URLPathFor(key), true
	}
	return "", false
}

// Render converts a page to its HTML body fragment.
func (s *Source) Render(p *Page) ([]byte, error) {
	src, err := afero.ReadFile(s.fs, filepath.Join(s.dir, filepath.FromSlash(p.ID)))
	if err != nil {
		return nil, err
	}
	doc, _, err := s.parse(src)
	if err != nil {
		return nil, err
	}
	var buf bytes.Buffer
	if err := s.md.Renderer().Render(&buf, src, doc); err != nil {
		return nil, fmt.Errorf("failed to render %s: %w", p.ID, err)
	}
	return buf.Bytes(), nil
}

func getString(m map[string]interface{}, k string) string {
	if v, ok := m[k]; ok && v != nil {
		return fmt.Sprintf("%v", v)
	}
	return ""
}

func getSlice(m map[string]interface{}, k string) []string {
	var res []string
	if v, ok := m[k]; ok {
		if l, ok := v.([]interface{}); ok {
			for _, i := range l {
				res = append(res, fmt.Sprintf("%v", i))
			}
		}
	}
	return res
}

func getBool(m map[string]interface{}, k string) bool {
	if v, ok := m[k]; ok {
		if b, ok := v.(bool); ok {
			return b
		}
	}
	return false
}
