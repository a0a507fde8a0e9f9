package images

import (
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// Resolution is the outcome of picking an image representation.
type Resolution struct {
	URL    string
	Format Format // empty when the original is served
	Jobs   []Job  // conversions newly enqueued by this call
}

// Variant is one converted representation present on disk.
type Variant struct {
	URL    string
	Format Format
}

// Offer lists the variants available for a <picture> element.
type Offer struct {
	Variants []Variant // preference order
	Jobs     []Job
}

// target maps originalURL to its docroot path when it is a local,
// convertible, non-excluded image.
func (c *Converter) target(base, originalURL string) (string, string, bool) {
	if !c.cfg.Images.Enable {
		return "", "", false
	}
	if c.exclude.Match(originalURL) {
		return "", "", false
	}
	p, ok := utils.LocalURLPath(c.cfg.SiteURL, base, originalURL)
	if !ok {
		return "", "", false
	}
	_, ext := utils.SplitExt(p)
	for _, f := range c.formats {
		if Convertible(ext, f) {
			return p, ext, true
		}
	}
	return "", "", false
}

func (c *Converter) variantExists(p string, f Format) bool {
	return utils.Exists(c.fs, fsPath(c.cfg.SiteRoot, VariantPath(p, f)))
}

// enqueueMissing queues every configured format that has no variant yet and
// returns the jobs that were newly added.
func (c *Converter) enqueueMissing(p, ext string) []Job {
	if c.queue == nil || !utils.Exists(c.fs, fsPath(c.cfg.SiteRoot, p)) {
		return nil
	}
	var jobs []Job
	for _, f := range c.formats {
		if !Convertible(ext, f) || c.variantExists(p, f) {
			continue
		}
		added, err := c.queue.Enqueue(p, f)
		if err != nil {
			c.logger.Warn("Failed to enqueue image", "path", p, "format", f, "error", err)
			continue
		}
		if added {
			jobs = append(jobs, Job{Path: p, Format: f, Status: StatusPending})
		}
	}
	return jobs
}

// Resolve picks the representation of originalURL (relative to base) for a
// client accepting the given formats. An existing variant in the preferred
// accepted format wins. Otherwise the missing conversions are enqueued and the
// original is returned, unless syncFallback converts on the spot.
func (c *Converter) Resolve(base, originalURL string, accepted map[Format]bool) Resolution {
	res := Resolution{URL: originalURL}
	p, ext, ok := c.target(base, originalURL)
	if !ok {
		return res
	}

	for _, f := range c.formats {
		if accepted[f] && Convertible(ext, f) && c.variantExists(p, f) {
			res.URL, res.Format = utils.ReplaceURLPathExt(originalURL, f.Ext()), f
			return res
		}
	}

	res.Jobs = c.enqueueMissing(p, ext)

	if c.cfg.Images.SyncFallback {
		for _, f := range c.formats {
			if !accepted[f] || !Convertible(ext, f) {
				continue
			}
			if c.Process(p, f) == StatusCompleted {
				res.URL, res.Format = utils.ReplaceURLPathExt(originalURL, f.Ext()), f
				return res
			}
		}
	}
	return res
}

// ResolveServingURL returns the URL to serve for originalURL given the
// client's Accept header.
func (c *Converter) ResolveServingURL(originalURL, accept string) string {
	return c.Resolve("", originalURL, AcceptedFormats(accept)).URL
}

// Offer returns the variants of originalURL that exist on disk and enqueues
// the rest. Used where the browser negotiates, such as <picture> sources.
func (c *Converter) Offer(base, originalURL string) Offer {
	var offer Offer
	p, ext, ok := c.target(base, originalURL)
	if !ok {
		return offer
	}
	for _, f := range c.formats {
		if Convertible(ext, f) && c.variantExists(p, f) {
			offer.Variants = append(offer.Variants, Variant{URL: utils.ReplaceURLPathExt(originalURL, f.Ext()), Format: f})
		}
	}
	offer.Jobs = c.enqueueMissing(p, ext)
	return offer
}
