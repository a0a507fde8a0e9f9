package assets

import (
	"net/url"
	"regexp"
	"strings"

	"github.com/Kush-Singh-26/rapidcache/pipeline/images"
)

// cssURL matches url(...) with double, single or no quotes.
var cssURL = regexp.MustCompile(`url\(\s*(?:"([^"]*)"|'([^']*)'|([^)'"\s]*))\s*\)`)

// rewriteCSSURLs makes every url() reference absolute against the stylesheet
// location, since the artifact lives under a different directory. Local images
// with a converted variant are swapped for it; missing variants are queued
// and reported in the returned jobs.
func (s *Store) rewriteCSSURLs(css, src string) (string, []images.Job) {
	base, err := url.Parse(s.cfg.SiteURL + src)
	if err != nil {
		return css, nil
	}

	var jobs []images.Job
	out := cssURL.ReplaceAllStringFunc(css, func(m string) string {
		sub := cssURL.FindStringSubmatch(m)
		raw, quote := sub[3], ""
		switch {
		case sub[1] != "":
			raw, quote = sub[1], `"`
		case sub[2] != "":
			raw, quote = sub[2], `'`
		}
		if raw == "" || strings.HasPrefix(raw, "#") || strings.HasPrefix(strings.ToLower(raw), "data:") {
			return m
		}

		target := raw
		if s.images != nil {
			offer := s.images.Offer(base.String(), raw)
			jobs = append(jobs, offer.Jobs...)
			for _, v := range offer.Variants {
				if v.Format == s.cssFormat {
					target = v.URL
				}
			}
		}

		ref, err := url.Parse(target)
		if err != nil {
			return m
		}
		return "url(" + quote + base.ResolveReference(ref).String() + quote + ")"
	})
	return out, jobs
}
