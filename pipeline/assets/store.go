// Package assets produces minified CSS and JavaScript artifacts keyed by the
// source path and modification time, each stored with a gzip variant.
package assets

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/metrics"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

var (
	// ErrNoGain means the transform produced empty or unchanged output.
	ErrNoGain = errors.New("minification produced no gain")
	// ErrExcluded means the asset is disabled or matches an exclude rule.
	ErrExcluded = errors.New("asset excluded")
)

// MinDir is the artifact directory under the cache root.
const MinDir = "min"

// Transform selects the minifier applied to a source.
type Transform string

const (
	MinifyCSS Transform = "css"
	MinifyJS  Transform = "js"
)

// TransformFor picks the transform from a file extension.
func TransformFor(p string) (Transform, bool) {
	switch _, ext := utils.SplitExt(p); ext {
	case ".css":
		return MinifyCSS, true
	case ".js", ".mjs":
		return MinifyJS, true
	}
	return "", false
}

// ImageOfferer exposes converted image variants to the CSS rewriter.
type ImageOfferer interface {
	Offer(base, originalURL string) images.Offer
}

// Artifact is a derived minified file.
type Artifact struct {
	URL  string
	Path string       // filesystem path of the plain variant
	Jobs []images.Job // image conversions queued while rewriting CSS
}

// Store owns the artifact tree at {cacheRoot}/min.
type Store struct {
	fs         afero.Fs
	cfg        *config.Config
	minifier   *utils.Minifier
	images     ImageOfferer
	cssFormat  images.Format
	excludeCSS *utils.KeywordMatcher
	excludeJS  *utils.KeywordMatcher
	metrics    *metrics.Metrics
	logger     *slog.Logger
}

// New creates a store. imgs and m may be nil.
func New(afs afero.Fs, cfg *config.Config, minifier *utils.Minifier, imgs ImageOfferer, m *metrics.Metrics, logger *slog.Logger) *Store {
	formats := images.ParseFormats(cfg.Images.Format)
	return &Store{
		fs:         afs,
		cfg:        cfg,
		minifier:   minifier,
		images:     imgs,
		cssFormat:  formats[len(formats)-1], // stylesheets cannot negotiate; use the most compatible format
		excludeCSS: utils.NewKeywordMatcher(cfg.File.ExcludeCSS),
		excludeJS:  utils.NewKeywordMatcher(cfg.File.ExcludeJS),
		metrics:    m,
		logger:     logger,
	}
}

// Root returns the artifact directory.
func (s *Store) Root() string {
	return filepath.Join(s.cfg.CacheRoot, MinDir)
}

func (s *Store) enabled(t Transform, src string) bool {
	switch t {
	case MinifyCSS:
		return s.cfg.File.MinifyCSS && !s.excludeCSS.Match(src)
	case MinifyJS:
		return s.cfg.File.MinifyJS && !s.excludeJS.Match(src)
	}
	return false
}

// artifactName returns the relative location min/{kind}/{hash}.{ext}.
func artifactName(t Transform, fingerprint string) string {
	return path.Join(MinDir, string(t), fingerprint+"."+string(t))
}

// GetOrCreate returns the artifact for the source at URL path src. A hit
// costs one stat of the source and one existence check. Errors never mean
// the page is broken: callers keep the original URL.
func (s *Store) GetOrCreate(src string, t Transform) (*Artifact, error) {
	src = path.Clean("/" + src)
	if !s.enabled(t, src) {
		return nil, fmt.Errorf("%w: %s", ErrExcluded, src)
	}

	srcPath := filepath.Join(s.cfg.SiteRoot, filepath.FromSlash(strings.TrimPrefix(src, "/")))
	info, err := s.fs.Stat(srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat %s: %w", src, err)
	}
	if info.IsDir() {
		return nil, fmt.Errorf("%s is a directory", src)
	}

	name := artifactName(t, utils.Fingerprint(src, info.ModTime()))
	art := &Artifact{
		URL:  utils.AbsoluteURL(s.cfg.SiteURL, path.Join(s.cfg.CacheURL, name)),
		Path: filepath.Join(s.cfg.CacheRoot, filepath.FromSlash(name)),
	}
	if utils.Exists(s.fs, art.Path) {
		s.metrics.Inc(metrics.AssetHits)
		return art, nil
	}
	s.metrics.Inc(metrics.AssetMisses)

	original, err := afero.ReadFile(s.fs, srcPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", src, err)
	}

	var out string
	switch t {
	case MinifyCSS:
		rewritten, jobs := s.rewriteCSSURLs(string(original), src)
		art.Jobs = jobs
		out, err = s.minifier.CSS(rewritten)
	case MinifyJS:
		out, err = s.minifier.JS(string(original))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to minify %s: %w", src, err)
	}

	out = strings.TrimSpace(out)
	if out == "" || out == string(original) {
		return nil, fmt.Errorf("%w: %s", ErrNoGain, src)
	}

	if err := utils.WritePair(s.fs, art.Path, []byte(out)); err != nil {
		return nil, err
	}
	s.logger.Debug("Created asset artifact", "source", src, "artifact", name, "bytes", len(out), "original", len(original))
	return art, nil
}

// URLFor returns the artifact URL for src or the original URL when no
// artifact can be produced, together with any image jobs queued on the way.
func (s *Store) URLFor(src string, t Transform, original string) (string, []images.Job) {
	art, err := s.GetOrCreate(src, t)
	if err != nil {
		if !errors.Is(err, ErrExcluded) {
			s.metrics.Inc(metrics.AssetFallbacks)
			if errors.Is(err, ErrNoGain) {
				s.logger.Debug("Serving original asset", "source", src, "reason", err)
			} else {
				s.logger.Warn("Serving original asset", "source", src, "error", err)
			}
		}
		return original, nil
	}
	return art.URL, art.Jobs
}

// Stats counts artifacts and their total size, gzip variants included.
func (s *Store) Stats() (int, int64, error) {
	files, size := 0, int64(0)
	err := afero.Walk(s.fs, s.Root(), func(_ string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			files++
			size += info.Size()
		}
		return nil
	})
	if os.IsNotExist(err) {
		return 0, 0, nil
	}
	return files, size, err
}

// Prune removes artifacts last written before now-olderThan. Artifacts are
// never pruned automatically; stale fingerprints simply stop being linked.
func (s *Store) Prune(olderThan time.Duration) (int, error) {
	cutoff := time.Now().Add(-olderThan)
	var stale []string
	err := afero.Walk(s.fs, s.Root(), func(p string, info fs.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() && info.ModTime().Before(cutoff) {
			stale = append(stale, p)
		}
		return nil
	})
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to scan artifacts: %w", err)
	}

	removed := 0
	for _, p := range stale {
		if err := s.fs.Remove(p); err != nil && !os.IsNotExist(err) {
			s.logger.Warn("Failed to prune artifact", "path", p, "error", err)
			continue
		}
		removed++
	}
	return removed, nil
}
