// Package rewrite post-processes rendered HTML before it is cached: inline
// minification, asset and image rewriting, lazy loading and whole-document
// minification.
package rewrite

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"

	"github.com/Kush-Singh-26/rapidcache/pipeline/assets"
	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// ImageOfferer returns the converted variants of an image.
type ImageOfferer interface {
	Offer(base, originalURL string) images.Offer
}

// AssetLinker maps a local stylesheet or script to its minified artifact.
type AssetLinker interface {
	URLFor(src string, t assets.Transform, original string) (string, []images.Job)
}

// Result is the rewritten document and the image jobs it queued.
type Result struct {
	HTML []byte
	Jobs []images.Job
}

// Pipeline is safe for concurrent use; each Rewrite works on its own state.
type Pipeline struct {
	cfg           *config.Config
	minifier      *utils.Minifier
	images        ImageOfferer
	assets        AssetLinker
	excludeImages *utils.KeywordMatcher
	excludeDefer  *utils.KeywordMatcher
	logger        *slog.Logger
}

// New creates a pipeline. imgs and linker may be nil to skip those passes.
func New(cfg *config.Config, minifier *utils.Minifier, imgs ImageOfferer, linker AssetLinker, logger *slog.Logger) *Pipeline {
	return &Pipeline{
		cfg:           cfg,
		minifier:      minifier,
		images:        imgs,
		assets:        linker,
		excludeImages: utils.NewKeywordMatcher(cfg.Images.Exclude),
		excludeDefer:  utils.NewKeywordMatcher(cfg.File.ExcludeDefer),
		logger:        logger,
	}
}

// document carries one rewrite through the passes.
type document struct {
	html      string
	pageURL   string
	preserved []string
	jobs      []images.Job
	lazy      bool // an image was deferred to the loader script
}

// Rewrite runs every pass over body. pageURL is the absolute URL of the page
// and is used to resolve relative references. A failing pass leaves its part
// of the document untouched.
func (p *Pipeline) Rewrite(body []byte, pageURL string) Result {
	d := &document{html: string(body), pageURL: pageURL}

	p.protectCanonical(d)
	p.preserveScripts(d)
	if p.cfg.File.MinifyInlineCSS {
		p.minifyInlineCSS(d)
	}
	if p.cfg.File.MinifyInlineJS {
		p.minifyInlineJS(d)
	}
	// Defer runs before asset linking so exclusions see the authored URLs.
	if p.cfg.File.DeferJS {
		p.deferScripts(d)
	}
	if p.assets != nil {
		p.rewriteAssetLinks(d)
	}
	if p.cfg.Images.Enable {
		p.rewriteImages(d)
	}
	if p.cfg.File.MinifyHTML {
		p.minifyDocument(d)
	}
	p.restoreScripts(d)
	p.restoreCanonical(d)

	return Result{HTML: []byte(d.html), Jobs: d.jobs}
}

// Canonical links keep their exact URL: the attribute is renamed for the
// duration of the passes so nothing that rewrites href sees it.
const canonicalAttr = "data-rc-canonical-href"

var linkTagRe = regexp.MustCompile(`(?i)<link\b[^>]*>`)

func isCanonical(tag string) bool {
	rel, _ := getAttr(tag, "rel")
	for _, r := range strings.Fields(strings.ToLower(rel)) {
		if r == "canonical" {
			return true
		}
	}
	return false
}

func (p *Pipeline) protectCanonical(d *document) {
	d.html = linkTagRe.ReplaceAllStringFunc(d.html, func(tag string) string {
		if !isCanonical(tag) {
			return tag
		}
		return renameAttr(tag, "href", canonicalAttr)
	})
}

func (p *Pipeline) restoreCanonical(d *document) {
	d.html = strings.ReplaceAll(d.html, canonicalAttr+"=", "href=")
}

var (
	scriptRe   = regexp.MustCompile(`(?is)(<script\b[^>]*>)(.*?)(</script>)`)
	preserveRe = regexp.MustCompile(`<rc-preserve data-i="?(\d+)"?></rc-preserve>`)
)

// scriptKind classifies a <script> start tag by its type attribute.
func scriptKind(tag string) string {
	typ, ok := getAttr(tag, "type")
	typ = strings.ToLower(strings.TrimSpace(typ))
	if i := strings.IndexByte(typ, ';'); i >= 0 {
		typ = strings.TrimSpace(typ[:i])
	}
	switch {
	case !ok || typ == "":
		return "js"
	case typ == "module":
		return "module"
	case typ == "application/ld+json":
		return "jsonld"
	case typ == "text/javascript" || typ == "application/javascript" ||
		typ == "application/ecmascript" || typ == "text/ecmascript":
		return "js"
	}
	return "other"
}

// preserveScripts swaps scripts of non-standard types (templates, JSON
// payloads, importmaps) for placeholder elements so no later pass touches them.
func (p *Pipeline) preserveScripts(d *document) {
	d.html = scriptRe.ReplaceAllStringFunc(d.html, func(m string) string {
		open := scriptRe.FindStringSubmatch(m)[1]
		if scriptKind(open) != "other" {
			return m
		}
		d.preserved = append(d.preserved, m)
		return `<rc-preserve data-i="` + strconv.Itoa(len(d.preserved)-1) + `"></rc-preserve>`
	})
}

func (p *Pipeline) restoreScripts(d *document) {
	if len(d.preserved) == 0 {
		return
	}
	d.html = preserveRe.ReplaceAllStringFunc(d.html, func(m string) string {
		i, err := strconv.Atoi(preserveRe.FindStringSubmatch(m)[1])
		if err != nil || i >= len(d.preserved) {
			return m
		}
		return d.preserved[i]
	})
}

var styleRe = regexp.MustCompile(`(?is)(<style\b[^>]*>)(.*?)(</style>)`)

func (p *Pipeline) minifyInlineCSS(d *document) {
	d.html = styleRe.ReplaceAllStringFunc(d.html, func(m string) string {
		sub := styleRe.FindStringSubmatch(m)
		if strings.TrimSpace(sub[2]) == "" {
			return m
		}
		out, err := p.minifier.CSS(sub[2])
		if err != nil {
			p.logger.Debug("Inline CSS left as is", "page", d.pageURL, "error", err)
			return m
		}
		return sub[1] + out + sub[3]
	})
}

// minifyInlineJS compacts inline scripts. JSON-LD goes through the JSON
// minifier, which re-serializes the document instead of treating it as code.
func (p *Pipeline) minifyInlineJS(d *document) {
	d.html = scriptRe.ReplaceAllStringFunc(d.html, func(m string) string {
		sub := scriptRe.FindStringSubmatch(m)
		if hasAttr(sub[1], "src") || strings.TrimSpace(sub[2]) == "" {
			return m
		}

		var out string
		var err error
		switch scriptKind(sub[1]) {
		case "js", "module":
			out, err = p.minifier.JS(sub[2])
		case "jsonld":
			out, err = p.minifier.JSON(sub[2])
		default:
			return m
		}
		if err != nil {
			p.logger.Debug("Inline script left as is", "page", d.pageURL, "error", err)
			return m
		}
		return sub[1] + out + sub[3]
	})
}

var scriptOpenRe = regexp.MustCompile(`(?i)<script\b[^>]*>`)

// rewriteAssetLinks points local stylesheets and scripts at their minified
// artifacts. Anything the store cannot produce keeps its original URL.
func (p *Pipeline) rewriteAssetLinks(d *document) {
	d.html = linkTagRe.ReplaceAllStringFunc(d.html, func(tag string) string {
		rel, _ := getAttr(tag, "rel")
		if !strings.Contains(strings.ToLower(rel), "stylesheet") {
			return tag
		}
		return p.linkAsset(d, tag, "href")
	})
	d.html = scriptOpenRe.ReplaceAllStringFunc(d.html, func(tag string) string {
		return p.linkAsset(d, tag, "src")
	})
}

func (p *Pipeline) linkAsset(d *document, tag, attrName string) string {
	raw, ok := getAttr(tag, attrName)
	if !ok {
		return tag
	}
	local, ok := utils.LocalURLPath(p.cfg.SiteURL, d.pageURL, raw)
	if !ok {
		return tag
	}
	t, ok := assets.TransformFor(local)
	if !ok {
		return tag
	}
	target, jobs := p.assets.URLFor(local, t, raw)
	d.jobs = append(d.jobs, jobs...)
	if target == raw {
		return tag
	}
	return setAttr(tag, attrName, target)
}

// deferScripts adds defer to classic external scripts.
func (p *Pipeline) deferScripts(d *document) {
	d.html = scriptOpenRe.ReplaceAllStringFunc(d.html, func(tag string) string {
		src, ok := getAttr(tag, "src")
		if !ok || src == "" {
			return tag
		}
		if hasAttr(tag, "defer") || hasAttr(tag, "async") || scriptKind(tag) != "js" {
			return tag
		}
		if p.excludeDefer.Match(src) || hasAttr(tag, "data-no-defer") {
			return tag
		}
		return strings.TrimSuffix(tag, ">") + " defer>"
	})
}

func (p *Pipeline) minifyDocument(d *document) {
	out, err := p.minifier.HTML([]byte(d.html))
	if err != nil {
		p.logger.Warn("HTML minification failed", "page", d.pageURL, "error", err)
		return
	}
	if len(out) == 0 {
		return
	}
	d.html = string(out)
}
