package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Kush-Singh-26/rapidcache/pipeline/cache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Sweep kinds recorded in the state store.
const (
	KindPages   = "pages"
	KindImages  = "images"
	KindPreload = "preload"
)

func (s *Scheduler) pagePaths() ([]string, error) {
	if s.content == nil {
		return nil, nil
	}
	paths, err := s.content.URLPaths()
	if err != nil {
		return nil, fmt.Errorf("failed to list pages: %w", err)
	}
	return paths, nil
}

// SweepPages schedules a regeneration for every public page that has none
// pending, each at a random offset within the sweep interval so pages do not
// all render at once.
func (s *Scheduler) SweepPages(ctx context.Context) (*cache.SweepReport, error) {
	report := &cache.SweepReport{Kind: KindPages, StartedAt: time.Now().Unix()}
	if !s.cfg.Preload.Enable {
		return report, nil
	}
	paths, err := s.pagePaths()
	if err != nil {
		return report, err
	}

	start := time.Now()
	for _, p := range paths {
		if ctx.Err() != nil {
			break
		}
		p = utils.NormalizeURLPath(p)
		if s.exclude.Match(p) {
			report.Skipped++
			continue
		}
		if s.Schedule(p, s.jitter(s.cfg.Preload.Interval)) {
			report.Scheduled++
		} else {
			report.Skipped++
		}
	}
	report.Duration = int64(time.Since(start))
	s.saveReport(report)
	s.logger.Info("Page sweep done", "scheduled", report.Scheduled, "skipped", report.Skipped)
	return report, ctx.Err()
}

// PreloadNow fetches every public page immediately and waits. Fetch failures
// are counted, not returned.
func (s *Scheduler) PreloadNow(ctx context.Context) (*cache.SweepReport, error) {
	report := &cache.SweepReport{Kind: KindPreload, StartedAt: time.Now().Unix()}
	paths, err := s.pagePaths()
	if err != nil {
		return report, err
	}

	start := time.Now()
	var ok, failed atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Preload.Concurrency)
	for _, p := range paths {
		p = utils.NormalizeURLPath(p)
		if s.exclude.Match(p) {
			report.Skipped++
			continue
		}
		report.Scheduled++
		g.Go(func() error {
			if err := s.regenerate(gctx, p); err != nil {
				failed.Add(1)
				s.logger.Warn("Preload fetch failed", "path", p, "error", err)
				return nil
			}
			ok.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	report.Succeeded = int(ok.Load())
	report.Failed = int(failed.Load())
	report.Duration = int64(time.Since(start))
	s.saveReport(report)
	return report, ctx.Err()
}

// SweepImages converts up to BatchSize pending images per format. A failing
// image never stops the batch; whatever is left waits for the next run.
func (s *Scheduler) SweepImages(ctx context.Context) (*cache.SweepReport, error) {
	report := &cache.SweepReport{Kind: KindImages, StartedAt: time.Now().Unix()}
	if s.images == nil || !s.cfg.Images.Enable {
		return report, nil
	}

	start := time.Now()
	var succeeded, failed, skipped atomic.Int64
	for _, f := range s.images.Formats() {
		paths, err := s.images.Pending(f, s.cfg.Images.BatchSize)
		if err != nil {
			return report, fmt.Errorf("failed to read %s queue: %w", f, err)
		}
		report.Scheduled += len(paths)

		g := new(errgroup.Group)
		g.SetLimit(s.cfg.Images.Workers)
		for _, p := range paths {
			if ctx.Err() != nil {
				break
			}
			g.Go(func() error {
				switch s.images.Process(p, f) {
				case images.StatusCompleted:
					succeeded.Add(1)
				case images.StatusSkipped:
					skipped.Add(1)
				default:
					failed.Add(1)
				}
				return nil
			})
		}
		_ = g.Wait()
	}

	report.Succeeded = int(succeeded.Load())
	report.Failed = int(failed.Load())
	report.Skipped = int(skipped.Load())
	report.Duration = int64(time.Since(start))
	s.saveReport(report)
	if report.Scheduled > 0 {
		s.logger.Info("Image sweep done", "converted", report.Succeeded, "failed", report.Failed, "skipped", report.Skipped)
	}
	return report, ctx.Err()
}
