package rewrite

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// imageRe matches a whole <picture> element or a standalone <img> tag.
var imageRe = regexp.MustCompile(`(?is)<picture\b.*?</picture>|<img\b[^>]*>`)

var (
	pictureImgRe = regexp.MustCompile(`(?i)<img\b[^>]*>`)
	noscriptRe   = regexp.MustCompile(`(?is)<noscript\b.*?</noscript>`)
)

// rewriteImages applies the image policy in document order. The first
// ExcludeFirst images and those matching the exclude list get eager-loading
// hints and are neither lazy loaded nor converted.
func (p *Pipeline) rewriteImages(d *document) {
	// Images inside existing <noscript> blocks are already fallbacks.
	var held []string
	d.html = noscriptRe.ReplaceAllStringFunc(d.html, func(m string) string {
		held = append(held, m)
		return "\x00rc-noscript-" + strconv.Itoa(len(held)-1) + "\x00"
	})

	seen := 0
	d.html = imageRe.ReplaceAllStringFunc(d.html, func(m string) string {
		seen++
		excluded := seen <= p.cfg.Images.ExcludeFirst || p.excludeImages.Match(m)
		if src, ok := getAttr(pictureImgRe.FindString(m), "src"); ok && p.excludeImages.Match(src) {
			excluded = true
		}

		if strings.HasPrefix(strings.ToLower(m), "<picture") {
			// Authored <picture> elements already negotiate; only hint the fallback.
			if !excluded {
				return m
			}
			return pictureImgRe.ReplaceAllStringFunc(m, eagerHints)
		}
		if excluded {
			return eagerHints(m)
		}
		return p.rewriteImg(d, m)
	})

	for i, m := range held {
		d.html = strings.Replace(d.html, "\x00rc-noscript-"+strconv.Itoa(i)+"\x00", m, 1)
	}
	if d.lazy {
		injectLazyLoader(d)
	}
}

// lazyLoaderAttr marks the injected loader so a document is never given two.
const lazyLoaderAttr = "data-rc-lazyload"

// lazyLoaderJS swaps data-src/data-srcset back in as images approach the
// viewport. Browsers without IntersectionObserver load everything at once.
const lazyLoaderJS = `(function(){function a(e){if(e.dataset.src){e.src=e.dataset.src;e.removeAttribute("data-src")}if(e.dataset.srcset){e.srcset=e.dataset.srcset;e.removeAttribute("data-srcset")}}` +
	`function l(i){var p=i.parentNode;if(p&&p.tagName==="PICTURE"){p.querySelectorAll("source[data-srcset]").forEach(a)}a(i);i.classList.remove("lazyload")}` +
	`function r(){var m=document.querySelectorAll("img.lazyload");if(!("IntersectionObserver"in window)){m.forEach(l);return}` +
	`var o=new IntersectionObserver(function(es){es.forEach(function(e){if(e.isIntersecting){o.unobserve(e.target);l(e.target)}})},{rootMargin:"200px"});m.forEach(function(i){o.observe(i)})}` +
	`if(document.readyState==="loading"){document.addEventListener("DOMContentLoaded",r)}else{r()}})();`

var bodyCloseRe = regexp.MustCompile(`(?i)</body\s*>`)

// injectLazyLoader adds the loader before the last </body>, or at the end of
// fragments without one.
func injectLazyLoader(d *document) {
	if strings.Contains(d.html, lazyLoaderAttr) {
		return
	}
	script := `<script ` + lazyLoaderAttr + `>` + lazyLoaderJS + `</script>`
	locs := bodyCloseRe.FindAllStringIndex(d.html, -1)
	if len(locs) == 0 {
		d.html += script
		return
	}
	at := locs[len(locs)-1][0]
	d.html = d.html[:at] + script + d.html[at:]
}

// eagerHints marks an above-the-fold image for immediate decoding.
func eagerHints(tag string) string {
	tag = removeAttr(tag, "loading")
	if !hasAttr(tag, "decoding") {
		tag = setAttr(tag, "decoding", "sync")
	}
	if !hasAttr(tag, "fetchpriority") {
		tag = setAttr(tag, "fetchpriority", "high")
	}
	return tag
}

func (p *Pipeline) rewriteImg(d *document, tag string) string {
	src, ok := getAttr(tag, "src")
	if !ok || src == "" || strings.HasPrefix(strings.ToLower(src), "data:") || hasAttr(tag, "data-src") {
		return tag
	}

	var sources []string
	if p.images != nil && p.cfg.Images.PictureTag {
		offer := p.images.Offer(d.pageURL, src)
		d.jobs = append(d.jobs, offer.Jobs...)
		for _, v := range offer.Variants {
			sources = append(sources, `<source type="`+v.Format.MIME()+`" srcset="`+v.URL+`">`)
		}
	}

	img := tag
	if p.cfg.Images.LazyLoad {
		img = p.lazyImg(tag, src)
	}
	// Only placeholder images are swapped by the loader; native lazy
	// loading keeps real srcset values on the sources.
	deferred := hasAttr(img, "data-src")
	if deferred {
		d.lazy = true
		for i, s := range sources {
			sources[i] = strings.Replace(s, ` srcset="`, ` data-srcset="`, 1)
		}
	}

	out := img
	if len(sources) > 0 {
		out = "<picture>" + strings.Join(sources, "") + img + "</picture>"
	}
	if deferred {
		out += "<noscript>" + tag + "</noscript>"
	}
	return out
}

// lazyImg defers the real source to data-src. With known dimensions the src
// becomes an inline SVG of the same size so layout does not shift and the
// injected loader restores it; otherwise only native lazy loading is requested.
func (p *Pipeline) lazyImg(tag, src string) string {
	w, wok := dimension(tag, "width")
	h, hok := dimension(tag, "height")
	if !hok || !wok || !p.cfg.Images.Placeholder {
		if hasAttr(tag, "loading") {
			return tag
		}
		return setAttr(tag, "loading", "lazy")
	}

	out := setAttr(tag, "src", p.placeholder(w, h))
	out = setAttr(out, "data-src", src)
	if srcset, ok := getAttr(out, "srcset"); ok {
		out = setAttr(removeAttr(out, "srcset"), "data-srcset", srcset)
	}
	if class, ok := getAttr(out, "class"); ok {
		out = setAttr(out, "class", strings.TrimSpace(class+" lazyload"))
	} else {
		out = setAttr(out, "class", "lazyload")
	}
	if !hasAttr(out, "loading") {
		out = setAttr(out, "loading", "lazy")
	}
	return out
}

func dimension(tag, name string) (int, bool) {
	v, ok := getAttr(tag, name)
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSpace(v), "px"))
	if err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

var svgEscaper = strings.NewReplacer(`"`, `'`, "<", "%3C", ">", "%3E", "#", "%23")

// placeholder returns a data URI of an empty SVG with the given size.
func (p *Pipeline) placeholder(w, h int) string {
	svg := fmt.Sprintf(`<svg xmlns="http://www.w3.org/2000/svg" width="%d" height="%d" viewBox="0 0 %d %d"></svg>`, w, h, w, h)
	if min, err := p.minifier.SVG(svg); err == nil && min != "" {
		svg = min
	}
	return "data:image/svg+xml," + svgEscaper.Replace(svg)
}
