package content

import (
	"bytes"
	"html/template"
	"net/http"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

// LayoutFile, when present in the content directory, replaces the built-in
// page layout.
const LayoutFile = "_layout.html"

const defaultLayout = `<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1">
<title>{{.Title}}</title>
{{- if .Description}}
<meta name="description" content="{{.Description}}">
{{- end}}
<link rel="canonical" href="{{.Canonical}}">
</head>
<body>
<main>
<h1>{{.Title}}</h1>
{{- if not .Date.IsZero}}
<time datetime="{{.Date.Format "2006-01-02"}}">{{.Date.Format "January 2, 2006"}}</time>
{{- end}}
{{.Content}}
{{- if .Pages}}
<ul class="posts">
{{- range .Pages}}
<li><a href="{{.URLPath}}">{{.Title}}</a></li>
{{- end}}
</ul>
{{- end}}
</main>
</body>
</html>
`

var builtinLayout = template.Must(template.New("layout").Parse(defaultLayout))

// PageData is what the layout template receives.
type PageData struct {
	Title       string
	Description string
	Canonical   string
	Date        time.Time
	Tags        []string
	Content     template.HTML
	Pages       []*Page // listing on the home page
}

// Handler serves rendered pages; it is the origin behind the page cache.
type Handler struct {
	src     *Source
	siteURL string
}

// NewHandler creates the origin handler.
func NewHandler(src *Source, siteURL string) *Handler {
	return &Handler{src: src, siteURL: siteURL}
}

func (h *Handler) layout() *template.Template {
	data, err := afero.ReadFile(h.src.fs, filepath.Join(h.src.dir, LayoutFile))
	if err != nil {
		return builtinLayout
	}
	t, err := template.New("layout").Parse(string(data))
	if err != nil {
		h.src.logger.Warn("Invalid custom layout, using built-in", "error", err)
		return builtinLayout
	}
	return t
}

// find looks urlPath up, rescanning once so new files are picked up without
// a restart.
func (h *Handler) find(urlPath string) (*Page, bool) {
	if err := h.src.ensureLoaded(); err != nil {
		return nil, false
	}
	if p, ok := h.src.Lookup(urlPath); ok {
		return p, true
	}
	if err := h.src.Load(); err != nil {
		return nil, false
	}
	return h.src.Lookup(urlPath)
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		http.Error(w, http.StatusText(http.StatusMethodNotAllowed), http.StatusMethodNotAllowed)
		return
	}

	urlPath := utils.NormalizeURLPath(r.URL.Path)
	page, ok := h.find(urlPath)
	if ok && page.Draft {
		ok = false
	}
	if !ok && urlPath != "/" {
		http.NotFound(w, r)
		return
	}

	data := PageData{Canonical: utils.AbsoluteURL(h.siteURL, urlPath)}
	modTime := time.Time{}
	if page != nil && ok {
		body, err := h.src.Render(page)
		if err != nil {
			h.src.logger.Error("Failed to render page", "path", page.ID, "error", err)
			http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
			return
		}
		data.Title = page.Title
		data.Description = page.Description
		data.Date = page.Date
		data.Tags = page.Tags
		data.Content = template.HTML(body)
		modTime = page.ModTime
	} else {
		data.Title = "Home"
	}
	if urlPath == "/" {
		for _, p := range h.src.Pages() {
			if !p.Draft && p.URLPath != "/" {
				data.Pages = append(data.Pages, p)
			}
		}
	}

	var buf bytes.Buffer
	if err := h.layout().Execute(&buf, data); err != nil {
		h.src.logger.Error("Failed to execute layout", "url", urlPath, "error", err)
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if !modTime.IsZero() {
		w.Header().Set("Last-Modified", modTime.UTC().Format(http.TimeFormat))
	}
	w.WriteHeader(http.StatusOK)
	if r.Method == http.MethodGet {
		_, _ = w.Write(buf.Bytes())
	}
}
