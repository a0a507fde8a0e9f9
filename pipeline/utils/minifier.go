package utils

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/evanw/esbuild/pkg/api"
	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/html"
	"github.com/tdewolff/minify/v2/js"
	"github.com/tdewolff/minify/v2/json"
	"github.com/tdewolff/minify/v2/svg"
)

// Media types handled by the minifier registry.
const (
	MediaHTML   = "text/html"
	MediaCSS    = "text/css"
	MediaJS     = "application/javascript"
	MediaJSONLD = "application/ld+json"
	MediaSVG    = "image/svg+xml"
)

// Minifier bundles the tdewolff registry with the selected JS engine.
// Whole documents go through a separate registry holding only the HTML
// minifier, so embedded CSS and JS are left to the inline passes.
type Minifier struct {
	m       *minify.M
	doc     *minify.M
	esbuild bool
}

// NewMinifier registers every transform used by the pipeline.
// engine selects the JS minifier: "esbuild" or "minify".
func NewMinifier(engine string) *Minifier {
	htmlMinifier := &html.Minifier{
		KeepDocumentTags:    true,
		KeepEndTags:         true,
		KeepQuotes:          true,
		KeepDefaultAttrVals: true,
	}

	m := minify.New()
	m.AddFunc(MediaCSS, css.Minify)
	m.Add(MediaHTML, htmlMinifier)
	m.AddFuncRegexp(regexp.MustCompile(`^(application|text)/(x-)?(java|ecma)script$`), js.Minify)
	m.AddFuncRegexp(regexp.MustCompile(`[/+]json$`), json.Minify)
	m.AddFunc(MediaSVG, svg.Minify)

	doc := minify.New()
	doc.Add(MediaHTML, htmlMinifier)

	return &Minifier{m: m, doc: doc, esbuild: engine == "esbuild"}
}

// CSS minifies a stylesheet.
func (mf *Minifier) CSS(src string) (string, error) {
	return mf.m.String(MediaCSS, src)
}

// JS minifies a script with the configured engine.
func (mf *Minifier) JS(src string) (string, error) {
	if !mf.esbuild {
		return mf.m.String(MediaJS, src)
	}
	result := api.Transform(src, api.TransformOptions{
		Loader:            api.LoaderJS,
		MinifyWhitespace:  true,
		MinifyIdentifiers: false, // globals may be referenced by inline handlers
		MinifySyntax:      true,
	})
	if len(result.Errors) > 0 {
		return "", fmt.Errorf("esbuild failed with %d errors: %s", len(result.Errors), result.Errors[0].Text)
	}
	return strings.TrimSuffix(string(result.Code), "\n"), nil
}

// JSON compacts a structured JSON document such as JSON-LD.
func (mf *Minifier) JSON(src string) (string, error) {
	return mf.m.String(MediaJSONLD, src)
}

// HTML minifies a whole document.
func (mf *Minifier) HTML(src []byte) ([]byte, error) {
	return mf.doc.Bytes(MediaHTML, src)
}

// SVG minifies an SVG fragment.
func (mf *Minifier) SVG(src string) (string, error) {
	return mf.m.String(MediaSVG, src)
}
