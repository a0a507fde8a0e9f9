package pagecache

import (
	"context"
	"fmt"

	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Invalidate removes the cached page of a changed resource and schedules one
// delayed regeneration. Resources that were never cached are not an error.
func (m *Manager) Invalidate(ctx context.Context, resourceID string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	urlPath := resourceID
	if m.deps.Resolver != nil {
		p, ok := m.deps.Resolver.Resolve(resourceID)
		if !ok {
			return fmt.Errorf("unknown resource %q", resourceID)
		}
		urlPath = p
	}
	urlPath = utils.NormalizeURLPath(urlPath)

	if err := m.ClearPath(urlPath); err != nil {
		return err
	}

	if m.deps.Regenerator != nil && m.cfg.Preload.Enable && !m.exclude.Match(urlPath) {
		delay := m.jitter(m.cfg.Cache.RegenerateWindow)
		if m.deps.Regenerator.Schedule(urlPath, delay) {
			m.logger.Debug("Scheduled regeneration", "path", urlPath, "delay", delay)
		}
	}
	m.logger.Info("Invalidated page", "resource", resourceID, "path", urlPath)
	return nil
}
