// Package scheduler drives background work: delayed page regeneration,
// periodic preload sweeps and image queue draining.
package scheduler

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/Kush-Singh-26/rapidcache/pipeline/cache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// ContentSource lists the URL paths of every publicly visible page.
type ContentSource interface {
	URLPaths() ([]string, error)
}

// ImageProcessor drains the conversion queue.
type ImageProcessor interface {
	Formats() []images.Format
	Pending(f images.Format, limit int) ([]string, error)
	Process(path string, f images.Format) images.Status
}

// Fetcher requests a page so the page cache renders and stores it. The
// response itself is discarded.
type Fetcher func(ctx context.Context, url string) error

// Scheduler keeps at most one pending regeneration per page.
type Scheduler struct {
	cfg     *config.Config
	content ContentSource
	images  ImageProcessor
	state   *cache.Manager
	fetch   Fetcher
	sem     *semaphore.Weighted
	exclude *utils.URLMatcher
	logger  *slog.Logger

	// jitter picks a delay in [0, window); replaced in tests.
	jitter func(window time.Duration) time.Duration

	mu      sync.Mutex
	pending map[string]*time.Timer
	closed  bool
	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
}

// New creates a scheduler. content, imgs and state may be nil; the
// corresponding sweep then does nothing.
func New(cfg *config.Config, content ContentSource, imgs ImageProcessor, state *cache.Manager, logger *slog.Logger) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cfg:     cfg,
		content: content,
		images:  imgs,
		state:   state,
		fetch:   HTTPFetcher(&http.Client{Timeout: cfg.Preload.FetchTimeout}),
		sem:     semaphore.NewWeighted(int64(cfg.Preload.Concurrency)),
		exclude: utils.NewURLMatcher(cfg.Preload.Exclude),
		logger:  logger,
		jitter:  uniformJitter,
		pending: make(map[string]*time.Timer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// SetFetcher replaces the page fetcher.
func (s *Scheduler) SetFetcher(f Fetcher) {
	s.fetch = f
}

func uniformJitter(window time.Duration) time.Duration {
	if window <= 0 {
		return 0
	}
	return rand.N(window)
}

// HTTPFetcher issues a GET through client and drains the body.
func HTTPFetcher(client *http.Client) Fetcher {
	return func(ctx context.Context, url string) error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return err
		}
		req.Header.Set("User-Agent", "rapidcache-preload/1.0")
		req.Header.Set("Accept-Encoding", "gzip")
		resp, err := client.Do(req)
		if err != nil {
			return err
		}
		defer func() { _ = resp.Body.Close() }()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 400 {
			return fmt.Errorf("preload %s: status %d", url, resp.StatusCode)
		}
		return nil
	}
}

// Schedule arranges for path to be fetched after delay. It returns false when
// a regeneration of path is already pending or running, or after Stop.
func (s *Scheduler) Schedule(path string, delay time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	if _, ok := s.pending[path]; ok {
		return false
	}
	s.pending[path] = time.AfterFunc(delay, func() { s.fire(path) })
	return true
}

// IsPending reports whether path has a regeneration pending or running.
func (s *Scheduler) IsPending(path string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.pending[path]
	return ok
}

// PendingCount returns the number of pending regenerations.
func (s *Scheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}

func (s *Scheduler) fire(path string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.wg.Add(1)
	s.mu.Unlock()

	defer func() {
		s.mu.Lock()
		delete(s.pending, path)
		s.mu.Unlock()
		s.wg.Done()
	}()

	if err := s.regenerate(s.ctx, path); err != nil {
		s.logger.Debug("Regeneration fetch failed", "path", path, "error", err)
	}
}

// regenerate fetches one page under the concurrency bound and fetch timeout.
func (s *Scheduler) regenerate(ctx context.Context, path string) error {
	if err := s.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer s.sem.Release(1)

	fctx, cancel := context.WithTimeout(ctx, s.cfg.Preload.FetchTimeout)
	defer cancel()
	return s.fetch(fctx, utils.AbsoluteURL(s.cfg.SiteURL, path))
}

// Stop cancels pending regenerations and waits for running fetches.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	for path, t := range s.pending {
		if t.Stop() {
			delete(s.pending, path)
		}
	}
	s.mu.Unlock()

	s.cancel()
	s.wg.Wait()
}

// Run executes page sweeps every Preload.Interval and image sweeps every
// Preload.ImageInterval until ctx is done. Sweeps never overlap.
func (s *Scheduler) Run(ctx context.Context) error {
	defer s.Stop()
	if !s.cfg.Preload.CronEnable {
		<-ctx.Done()
		return ctx.Err()
	}

	pages := time.NewTicker(s.cfg.Preload.Interval)
	defer pages.Stop()
	imgs := time.NewTicker(s.cfg.Preload.ImageInterval)
	defer imgs.Stop()

	s.logger.Info("Scheduler started", "page_interval", s.cfg.Preload.Interval, "image_interval", s.cfg.Preload.ImageInterval)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-pages.C:
			if _, err := s.SweepPages(ctx); err != nil {
				s.logger.Warn("Page sweep failed", "error", err)
			}
		case <-imgs.C:
			if _, err := s.SweepImages(ctx); err != nil {
				s.logger.Warn("Image sweep failed", "error", err)
			}
		}
	}
}

func (s *Scheduler) saveReport(r *cache.SweepReport) {
	if s.state == nil {
		return
	}
	if err := s.state.PutSweepReport(r); err != nil {
		s.logger.Warn("Failed to save sweep report", "kind", r.Kind, "error", err)
	}
}
