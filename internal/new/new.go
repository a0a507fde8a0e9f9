// Package new creates markdown pages for the built-in origin.
package new

import (
	"errors"
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/spf13/afero"
)

// ErrExists is returned instead of overwriting a page.
var ErrExists = errors.New("page already exists")

// slugRegex matches characters that are unsafe for filenames/URLs
var slugRegex = regexp.MustCompile(`[<>:"/\\|?*\x00-\x1f#%&{}$!'@+=` + "`" + `]`)

// sanitizeSlug converts a title to a safe filename slug
func sanitizeSlug(title string) string {
	slug := strings.ToLower(strings.TrimSpace(title))
	slug = strings.ReplaceAll(slug, " ", "-")
	slug = slugRegex.ReplaceAllString(slug, "")
	for strings.Contains(slug, "--") {
		slug = strings.ReplaceAll(slug, "--", "-")
	}
	slug = strings.Trim(slug, "-.")
	if len(slug) > 100 {
		slug = strings.TrimRight(slug[:100], "-")
	}
	return slug
}

// Options describe the page to create.
type Options struct {
	Title   string
	Section string // subdirectory below the content dir, e.g. "posts"
	Draft   bool
}

// Run writes a new page with front matter below contentDir and returns its
// path. Drafts are not served or preloaded until draft is set to false.
func Run(fs afero.Fs, contentDir string, opts Options, now time.Time) (string, error) {
	slug := sanitizeSlug(opts.Title)
	if slug == "" {
		return "", fmt.Errorf("title %q produces an empty slug", opts.Title)
	}
	section := strings.Trim(filepath.Clean("/"+opts.Section), "/\\")
	dir := filepath.Join(contentDir, section)
	filename := filepath.Join(dir, slug+".md")

	if ok, _ := afero.Exists(fs, filename); ok {
		return "", fmt.Errorf("%w: %s", ErrExists, filename)
	}
	if err := fs.MkdirAll(dir, 0755); err != nil {
		return "", err
	}

	body := fmt.Sprintf(`---
title: %q
date: "%s"
description: ""
tags: []
draft: %t
---

Start writing here...
`, opts.Title, now.Format("2006-01-02"), opts.Draft)

	if err := afero.WriteFile(fs, filename, []byte(body), 0644); err != nil {
		return "", fmt.Errorf("failed to create %s: %w", filename, err)
	}
	return filename, nil
}
