// Package pagecache stores rendered pages as static HTML plus gzip variants,
// serves them with conditional GET, and invalidates them on content change.
package pagecache

import (
	"context"
	"errors"
	"log/slog"
	"math/rand/v2"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/metrics"
	"github.com/Kush-Singh-26/rapidcache/pipeline/rewrite"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

var (
	// ErrNotCacheable marks a response that must not be stored.
	ErrNotCacheable = errors.New("response not cacheable")
	// ErrExcluded marks a URL on the exclude list.
	ErrExcluded = errors.New("url excluded from page cache")
)

// Rewriter transforms a rendered page before it is stored.
type Rewriter interface {
	Rewrite(body []byte, pageURL string) rewrite.Result
}

// RewriterFunc adapts a function to Rewriter.
type RewriterFunc func(body []byte, pageURL string) rewrite.Result

func (f RewriterFunc) Rewrite(body []byte, pageURL string) rewrite.Result {
	return f(body, pageURL)
}

// Resolver maps a content resource identifier to its canonical URL path.
type Resolver interface {
	Resolve(resourceID string) (string, bool)
}

// Regenerator re-renders a page after a delay. Schedule returns false when a
// regeneration for path is already pending.
type Regenerator interface {
	Schedule(path string, delay time.Duration) bool
}

// CacheInvalidator is implemented by anything that reacts to content changes.
type CacheInvalidator interface {
	Invalidate(ctx context.Context, resourceID string) error
}

// Deps are the optional collaborators of a Manager.
type Deps struct {
	Rewriter    Rewriter
	Resolver    Resolver
	Regenerator Regenerator
	Metrics     *metrics.Metrics
}

// Manager owns every cache entry under {cacheRoot}/{host}.
type Manager struct {
	fs   afero.Fs
	cfg  *config.Config
	deps Deps

	exclude       *utils.URLMatcher
	allowedParams map[string]struct{}
	logger        *slog.Logger

	// jitter picks the regeneration delay; replaced in tests.
	jitter func(window time.Duration) time.Duration
}

var _ CacheInvalidator = (*Manager)(nil)

// New creates a manager.
func New(fs afero.Fs, cfg *config.Config, deps Deps, logger *slog.Logger) *Manager {
	allowed := make(map[string]struct{}, len(cfg.Cache.AllowedQueryParams))
	for _, p := range cfg.Cache.AllowedQueryParams {
		allowed[p] = struct{}{}
	}
	return &Manager{
		fs:            fs,
		cfg:           cfg,
		deps:          deps,
		exclude:       utils.NewURLMatcher(cfg.Cache.ExcludeURLs),
		allowedParams: allowed,
		logger:        logger,
		jitter:        randomDelay,
	}
}

func randomDelay(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return rand.N(window)
}
