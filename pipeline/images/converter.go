package images

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"os"
	"sync"

	"github.com/chai2010/webp"
	"github.com/disintegration/imaging"
	"github.com/gen2brain/avif"
	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// encodeFunc writes img in one target format.
type encodeFunc func(w io.Writer, img image.Image, quality int) error

var encoders = map[Format]encodeFunc{
	WebP: func(w io.Writer, img image.Image, quality int) error {
		return webp.Encode(w, img, &webp.Options{Lossless: false, Quality: float32(quality)})
	},
	AVIF: func(w io.Writer, img image.Image, quality int) error {
		return avif.Encode(w, img, avif.Options{Quality: quality, QualityAlpha: quality, Speed: 8})
	},
}

// Converter produces next-gen variants beside their originals under the
// document root and records job outcomes in the queue.
type Converter struct {
	fs      afero.Fs
	cfg     *config.Config
	queue   *Queue
	formats []Format
	exclude *utils.KeywordMatcher
	logger  *slog.Logger

	encoders map[Format]encodeFunc
}

// NewConverter creates a converter rooted at cfg.SiteRoot.
func NewConverter(fs afero.Fs, cfg *config.Config, queue *Queue, logger *slog.Logger) *Converter {
	return &Converter{
		fs:       fs,
		cfg:      cfg,
		queue:    queue,
		formats:  ParseFormats(cfg.Images.Format),
		exclude:  utils.NewKeywordMatcher(cfg.Images.Exclude),
		logger:   logger,
		encoders: encoders,
	}
}

// Queue exposes the job queue.
func (c *Converter) Queue() *Queue {
	return c.queue
}

// Formats returns the configured target formats in preference order.
func (c *Converter) Formats() []Format {
	return c.formats
}

// Convert encodes the image at the URL path src to f. It returns true when
// the variant exists afterwards. An existing variant is left alone. Errors
// wrapping ErrUnsupported mean the input was skipped, not broken.
func (c *Converter) Convert(src string, f Format, quality int) (bool, error) {
	if _, err := c.convert(src, f, quality); err != nil {
		return false, err
	}
	return true, nil
}

// convert reports whether it wrote the variant. A variant already on disk,
// authored or produced from a sibling source, is not ours.
func (c *Converter) convert(src string, f Format, quality int) (bool, error) {
	_, ext := utils.SplitExt(src)
	if !Convertible(ext, f) {
		return false, fmt.Errorf("%w: %s to %s", ErrUnsupported, ext, f)
	}
	encode, ok := c.encoders[f]
	if !ok {
		return false, fmt.Errorf("%w: no %s encoder", ErrUnsupported, f)
	}

	srcPath := fsPath(c.cfg.SiteRoot, src)
	dstPath := fsPath(c.cfg.SiteRoot, VariantPath(src, f))

	if utils.Exists(c.fs, dstPath) {
		return false, nil
	}

	img, err := c.decode(srcPath, ext)
	if err != nil {
		return false, err
	}

	// Indexed-colour images are promoted to NRGBA so transparency survives
	// the encoder.
	if _, paletted := img.(*image.Paletted); paletted {
		img = imaging.Clone(img)
	}

	buf := utils.SharedBufferPool.Get()
	defer utils.SharedBufferPool.Put(buf)
	if err := encode(buf, img, quality); err != nil {
		return false, fmt.Errorf("failed to encode %s as %s: %w", src, f, err)
	}
	if buf.Len() == 0 {
		return false, fmt.Errorf("encoder produced no output for %s", src)
	}
	if err := utils.WriteFileAtomic(c.fs, dstPath, bytes.Clone(buf.Bytes())); err != nil {
		return false, err
	}

	if c.queue != nil {
		if _, err := c.queue.IncrementConverted(f); err != nil {
			c.logger.Warn("Failed to update conversion counter", "format", f, "error", err)
		}
	}
	return true, nil
}

func (c *Converter) decode(path, ext string) (image.Image, error) {
	file, err := c.fs.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer func() { _ = file.Close() }()

	var img image.Image
	if ext == ".webp" {
		img, err = webp.Decode(file)
	} else {
		img, err = imaging.Decode(file, imaging.AutoOrientation(true))
	}
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, fmt.Errorf("%w: %s: %v", ErrUnsupported, path, err)
		}
		return nil, fmt.Errorf("failed to decode %s: %w", path, err)
	}
	return img, nil
}

// Process converts one queued job and records its outcome: completed,
// skipped for unsupported input, failed otherwise. Failures are not retried.
func (c *Converter) Process(src string, f Format) Status {
	written, err := c.convert(src, f, c.cfg.Images.Quality)
	status := StatusCompleted
	switch {
	case errors.Is(err, ErrUnsupported):
		status = StatusSkipped
		c.logger.Debug("Skipped image conversion", "path", src, "format", f, "reason", err)
	case err != nil:
		status = StatusFailed
		c.logger.Warn("Image conversion failed", "path", src, "format", f, "error", err)
	}

	if c.queue != nil {
		var markErr error
		if status == StatusCompleted {
			markErr = c.queue.Complete(src, f, written)
		} else {
			markErr = c.queue.Mark(src, f, status, err.Error())
		}
		if markErr != nil {
			c.logger.Warn("Failed to record job status", "path", src, "format", f, "error", markErr)
		}
	}
	return status
}

// ConvertPaths converts each path to every configured format in parallel and
// returns the resulting status per path and format.
func (c *Converter) ConvertPaths(ctx context.Context, paths []string) map[string]map[Format]Status {
	type task struct {
		path   string
		format Format
	}

	var mu sync.Mutex
	results := make(map[string]map[Format]Status, len(paths))
	pool := utils.NewWorkerPool(ctx, c.cfg.Images.Workers, func(t task) {
		status := c.Process(t.path, t.format)
		mu.Lock()
		if results[t.path] == nil {
			results[t.path] = make(map[Format]Status)
		}
		results[t.path][t.format] = status
		mu.Unlock()
	})
	pool.Start()
	for _, p := range paths {
		for _, f := range c.formats {
			if !pool.Submit(task{path: p, format: f}) {
				break
			}
		}
	}
	pool.Stop()
	return results
}

// DeleteConverted removes every variant file the converter wrote and empties
// the completed and failed buckets. Variants it found on disk are kept, and
// missing files are ignored.
func (c *Converter) DeleteConverted() (int, error) {
	removed := 0
	for _, f := range []Format{WebP, AVIF} {
		recs, err := c.queue.List(f, StatusCompleted, 0)
		if err != nil {
			return removed, err
		}
		for _, r := range recs {
			if !r.Written {
				continue
			}
			dst := fsPath(c.cfg.SiteRoot, VariantPath(r.Path, f))
			if err := c.fs.Remove(dst); err != nil {
				if !os.IsNotExist(err) {
					c.logger.Warn("Failed to delete converted image", "path", dst, "error", err)
				}
				continue
			}
			removed++
		}
		if _, err := c.queue.Reset(f); err != nil {
			return removed, err
		}
	}
	return removed, nil
}

// Pending returns up to limit queued paths for f.
func (c *Converter) Pending(f Format, limit int) ([]string, error) {
	return c.queue.Pending(f, limit)
}
