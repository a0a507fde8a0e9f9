// Package clean wipes the on-disk caches from the command line.
package clean

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/assets"
	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Options selects what Run removes. Cached pages and asset artifacts are
// always removed unless KeepAssets is set.
type Options struct {
	KeepAssets bool // leave minified artifacts in place
	State      bool // also remove the job/counter database; it must not be open
	Async      bool // finish deletion in the background after renaming
}

// Result counts what was removed.
type Result struct {
	Removed   int
	Preserved int
}

// Run clears cfg.CacheRoot. Every entry is renamed aside first so a
// concurrent reader never sees a half-deleted tree. The asset directory goes
// too unless opts.KeepAssets is set.
func Run(fs afero.Fs, cfg *config.Config, opts Options, logger *slog.Logger) (Result, error) {
	start := time.Now()
	var res Result

	entries, err := afero.ReadDir(fs, cfg.CacheRoot)
	if err != nil && !os.IsNotExist(err) {
		return res, fmt.Errorf("failed to read cache root: %w", err)
	}

	for _, e := range entries {
		if e.IsDir() && e.Name() == assets.MinDir && opts.KeepAssets {
			res.Preserved++
			continue
		}
		p := filepath.Join(cfg.CacheRoot, e.Name())
		if e.IsDir() {
			err = utils.RemoveTree(fs, p, opts.Async)
		} else {
			err = fs.Remove(p)
		}
		if err != nil {
			return res, fmt.Errorf("failed to remove %s: %w", p, err)
		}
		res.Removed++
	}

	if opts.State {
		if err := utils.RemoveTree(fs, cfg.StateDir, opts.Async); err != nil {
			return res, fmt.Errorf("failed to remove state: %w", err)
		}
		res.Removed++
	}

	logger.Info("🧹 Cache cleared", "removed", res.Removed, "preserved", res.Preserved, "duration", time.Since(start))
	return res, nil
}
