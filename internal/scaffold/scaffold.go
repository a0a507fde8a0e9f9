// Package scaffold lays out a new rapidcache project.
package scaffold

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
)

const defaultConfig = `# Public URL and layout
siteURL: "http://localhost:8080"
siteRoot: "public"
cacheRoot: "cache"
cacheURL: "/cache"
stateDir: ".rapidcache"
contentDir: "content"
listen: ":8080"

log:
  level: info
  format: text

cache:
  enable: true
  excludeURLs: []          # "/shop/(.*)" matches every page below /shop/
  regenerateWindow: 5m

file:
  minifyHTML: true
  minifyCSS: true
  minifyJS: true
  minifyInlineCSS: true
  minifyInlineJS: true
  deferJS: false
  jsMinifier: minify      # minify|esbuild

images:
  enable: true
  format: webp            # webp|avif|both
  quality: 80
  batchSize: 20
  lazyLoad: true
  excludeFirst: 2
  placeholder: true
  pictureTag: true

preload:
  enable: true
  cronEnable: true
  interval: 6h
  imageInterval: 5m
`

const firstPost = `---
title: "Hello World"
date: "%s"
tags: ["rapidcache", "welcome"]
draft: false
---

This page is rendered once, cached under ` + "`cache/`" + ` and served from disk
until ` + "`content/hello-world.md`" + ` changes.
`

const siteCSS = `body {
  font-family: system-ui, sans-serif;
  max-width: 42rem;
  margin: 0 auto;
}
`

// Run creates the directories, config file and a first page below root.
// Existing files are left untouched. It returns the paths it created.
func Run(fs afero.Fs, root string, now time.Time) ([]string, error) {
	cfg := config.Default()
	var created []string

	for _, dir := range []string{cfg.ContentDir, filepath.Join(cfg.SiteRoot, "css"), filepath.Join(cfg.SiteRoot, "img"), cfg.CacheRoot} {
		p := filepath.Join(root, dir)
		if err := fs.MkdirAll(p, 0755); err != nil {
			return created, fmt.Errorf("failed to create directory %s: %w", p, err)
		}
	}

	files := []struct {
		path string
		data string
	}{
		{config.DefaultPath, defaultConfig},
		{filepath.Join(cfg.ContentDir, "hello-world.md"), fmt.Sprintf(firstPost, now.Format("2006-01-02"))},
		{filepath.Join(cfg.SiteRoot, "css", "site.css"), siteCSS},
	}
	for _, f := range files {
		p := filepath.Join(root, f.path)
		if ok, _ := afero.Exists(fs, p); ok {
			continue
		}
		if err := afero.WriteFile(fs, p, []byte(f.data), 0644); err != nil {
			return created, fmt.Errorf("failed to write %s: %w", p, err)
		}
		created = append(created, f.path)
	}
	return created, nil
}
