// Package run assembles the pipeline components for one site.
package run

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/assets"
	"github.com/Kush-Singh-26/rapidcache/pipeline/cache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/content"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/metrics"
	"github.com/Kush-Singh-26/rapidcache/pipeline/pagecache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/rewrite"
	"github.com/Kush-Singh-26/rapidcache/pipeline/scheduler"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Site holds every wired component. Fields are read-only after Open.
type Site struct {
	Config    *config.Config
	Fs        afero.Fs
	State     *cache.Manager
	Metrics   *metrics.Metrics
	Minifier  *utils.Minifier
	Images    *images.Converter
	Assets    *assets.Store
	Rewriter  *rewrite.Pipeline
	Content   *content.Source
	Scheduler *scheduler.Scheduler
	Pages     *pagecache.Manager

	logger *slog.Logger
}

// Open opens the state store under cfg.StateDir and wires the components
// over fs. The caller must Close the site.
func Open(fs afero.Fs, cfg *config.Config, logger *slog.Logger) (*Site, error) {
	state, err := cache.Open(cfg.StateDir)
	if err != nil {
		return nil, fmt.Errorf("failed to open state store: %w", err)
	}
	return New(fs, cfg, state, logger), nil
}

// New wires components around an already open state store.
func New(fs afero.Fs, cfg *config.Config, state *cache.Manager, logger *slog.Logger) *Site {
	s := &Site{
		Config:   cfg,
		Fs:       fs,
		State:    state,
		Metrics:  metrics.New(),
		Minifier: utils.NewMinifier(cfg.File.JSMinifier),
		logger:   logger,
	}

	s.Images = images.NewConverter(fs, cfg, images.NewQueue(state), logger.With("component", "images"))
	s.Assets = assets.New(fs, cfg, s.Minifier, s.Images, s.Metrics, logger.With("component", "assets"))
	s.Rewriter = rewrite.New(cfg, s.Minifier, s.Images, s.Assets, logger.With("component", "rewrite"))
	s.Content = content.New(fs, cfg, logger.With("component", "content"))
	s.Scheduler = scheduler.New(cfg, s.Content, s.Images, state, logger.With("component", "scheduler"))
	s.Pages = pagecache.New(fs, cfg, pagecache.Deps{
		Rewriter:    s.Rewriter,
		Resolver:    s.Content,
		Regenerator: s.Scheduler,
		Metrics:     s.Metrics,
	}, logger.With("component", "pagecache"))
	return s
}

// ContentHandler returns the markdown origin.
func (s *Site) ContentHandler() http.Handler {
	return content.NewHandler(s.Content, s.Config.SiteURL)
}

// PageHandler is the origin behind the page cache.
func (s *Site) PageHandler() http.Handler {
	return s.Pages.Middleware(s.ContentHandler())
}

// Close stops background work and closes the state store.
func (s *Site) Close() error {
	s.Scheduler.Stop()
	if err := s.State.Close(); err != nil {
		return fmt.Errorf("failed to close state store: %w", err)
	}
	return nil
}

// Logger returns the site logger.
func (s *Site) Logger() *slog.Logger {
	return s.logger
}
