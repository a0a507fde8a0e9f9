// Package server is the HTTP front of the pipeline: cached pages, minified
// artifacts, negotiated images and plain static files.
package server

import (
	"context"
	"errors"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/Kush-Singh-26/rapidcache/internal/watch"
	"github.com/Kush-Singh-26/rapidcache/pipeline/run"
)

// Server routes requests to the pipeline components of one site.
type Server struct {
	site   *run.Site
	pages  http.Handler
	logger *slog.Logger
}

// New creates a server for site.
func New(site *run.Site, logger *slog.Logger) *Server {
	_ = mime.AddExtensionType(".webp", "image/webp")
	_ = mime.AddExtensionType(".avif", "image/avif")
	_ = mime.AddExtensionType(".wasm", "application/wasm")
	return &Server{
		site:   site,
		pages:  site.PageHandler(),
		logger: logger,
	}
}

// Handler returns the root handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle(s.site.Config.CacheURL+"/", http.HandlerFunc(s.serveArtifact))
	mux.Handle("/", http.HandlerFunc(s.route))
	return mux
}

// route sends file-like paths that exist in the docroot to the static
// handler and everything else through the page cache.
func (s *Server) route(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodGet || r.Method == http.MethodHead {
		if path.Ext(r.URL.Path) != "" && s.serveStatic(w, r) {
			return
		}
	}
	s.pages.ServeHTTP(w, r)
}

// Run serves on cfg.Listen until ctx is done, together with the scheduler
// and the content watcher. Metrics are logged on the way out.
func Run(ctx context.Context, site *run.Site, logger *slog.Logger) error {
	srv := New(site, logger)
	cfg := site.Config

	httpServer := &http.Server{
		Addr:              cfg.Listen,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		if err := site.Scheduler.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Warn("Scheduler stopped", "error", err)
		}
	}()

	if w, err := watch.New(cfg.ContentDir, site.Pages, logger.With("component", "watch")); err != nil {
		logger.Warn("Content watcher unavailable", "error", err)
	} else {
		w.OnReload = func() {
			if err := site.Content.Load(); err != nil {
				logger.Warn("Failed to reload content index", "error", err)
			}
		}
		w.OnGlobal = func(ctx context.Context) {
			if err := site.Pages.ClearAll(); err != nil {
				logger.Warn("Failed to clear page cache", "error", err)
				return
			}
			if _, err := site.Scheduler.SweepPages(ctx); err != nil {
				logger.Warn("Page sweep failed", "error", err)
			}
		}
		go w.Start(ctx)
	}

	go func() {
		<-ctx.Done()
		logger.Info("🛑 Shutting down HTTP server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warn("HTTP server shutdown error", "error", err)
		}
	}()

	logger.Info("🌐 Serving", "addr", cfg.Listen, "site", cfg.SiteURL)
	if strings.HasPrefix(cfg.Listen, ":") || strings.HasPrefix(cfg.Listen, "0.0.0.0") {
		logger.Info("   (Accessible on your local network)")
	}

	err := httpServer.ListenAndServe()
	logger.Info("✅ Server stopped", "metrics", site.Metrics.Snapshot())
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}
