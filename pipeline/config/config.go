// Package config loads the immutable settings shared by every pipeline component.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file looked up when no path is given.
const DefaultPath = "rapidcache.yaml"

// Config contains all tunable parameters.
// These can be overridden via rapidcache.yaml
type Config struct {
	SiteURL    string `yaml:"siteURL"`    // Public base URL (default: http://localhost:8080)
	SiteRoot   string `yaml:"siteRoot"`   // Document root holding static assets and images (default: public)
	CacheRoot  string `yaml:"cacheRoot"`  // Page and asset cache directory (default: cache)
	CacheURL   string `yaml:"cacheURL"`   // URL prefix under which CacheRoot is served (default: /cache)
	StateDir   string `yaml:"stateDir"`   // Directory for the job/counter database (default: .rapidcache)
	ContentDir string `yaml:"contentDir"` // Markdown content for the built-in origin (default: content)
	Listen     string `yaml:"listen"`     // HTTP listen address (default: :8080)

	Log     LogConfig     `yaml:"log"`
	Cache   CacheConfig   `yaml:"cache"`
	File    FileConfig    `yaml:"file"`
	Images  ImageConfig   `yaml:"images"`
	Preload PreloadConfig `yaml:"preload"`
}

type LogConfig struct {
	Level  string `yaml:"level"`  // debug|info|warn|error
	Format string `yaml:"format"` // text|json
}

// CacheConfig drives the page cache policy.
type CacheConfig struct {
	Enable             bool          `yaml:"enable"`
	ExcludeURLs        []string      `yaml:"excludeURLs"`
	AllowedQueryParams []string      `yaml:"allowedQueryParams"`
	BypassCookies      []string      `yaml:"bypassCookies"` // Cookie name prefixes marking a logged-in session
	AdminPrefixes      []string      `yaml:"adminPrefixes"`
	RegenerateWindow   time.Duration `yaml:"regenerateWindow"` // Upper bound of the random regeneration delay
}

// FileConfig is the file optimization group.
type FileConfig struct {
	MinifyHTML      bool     `yaml:"minifyHTML"`
	MinifyCSS       bool     `yaml:"minifyCSS"`
	MinifyJS        bool     `yaml:"minifyJS"`
	MinifyInlineCSS bool     `yaml:"minifyInlineCSS"`
	MinifyInlineJS  bool     `yaml:"minifyInlineJS"`
	DeferJS         bool     `yaml:"deferJS"`
	JSMinifier      string   `yaml:"jsMinifier"` // minify|esbuild
	ExcludeCSS      []string `yaml:"excludeCSS"`
	ExcludeJS       []string `yaml:"excludeJS"`
	ExcludeDefer    []string `yaml:"excludeDefer"`
}

// ImageConfig is the image optimization group.
type ImageConfig struct {
	Enable       bool     `yaml:"enable"`
	Format       string   `yaml:"format"` // webp|avif|both
	Quality      int      `yaml:"quality"`
	BatchSize    int      `yaml:"batchSize"`
	Exclude      []string `yaml:"exclude"`
	LazyLoad     bool     `yaml:"lazyLoad"`
	ExcludeFirst int      `yaml:"excludeFirst"` // First N images are never lazy loaded or converted
	Placeholder  bool     `yaml:"placeholder"`
	PictureTag   bool     `yaml:"pictureTag"`
	SyncFallback bool     `yaml:"syncFallback"` // Convert on the request path when no variant exists
	Workers      int      `yaml:"workers"`
}

// PreloadConfig is the preload group.
type PreloadConfig struct {
	Enable        bool          `yaml:"enable"`
	CronEnable    bool          `yaml:"cronEnable"`
	Interval      time.Duration `yaml:"interval"`
	ImageInterval time.Duration `yaml:"imageInterval"`
	Exclude       []string      `yaml:"exclude"`
	FetchTimeout  time.Duration `yaml:"fetchTimeout"`
	Concurrency   int           `yaml:"concurrency"`
}

// Default returns the default configuration
func Default() *Config {
	cfg := &Config{
		SiteURL:    "http://localhost:8080",
		SiteRoot:   "public",
		CacheRoot:  "cache",
		CacheURL:   "/cache",
		StateDir:   ".rapidcache",
		ContentDir: "content",
		Listen:     ":8080",

		Log: LogConfig{Level: "info", Format: "text"},

		Cache: CacheConfig{
			Enable: true,
			AllowedQueryParams: []string{
				"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
				"utm_id", "gclid", "fbclid", "msclkid", "dclid", "gbraid", "wbraid",
				"mc_cid", "mc_eid", "_ga", "ref",
			},
			BypassCookies:    []string{"wordpress_logged_in_", "wp-postpass_", "comment_author_", "session"},
			AdminPrefixes:    []string{"/admin", "/wp-admin", "/wp-login.php"},
			RegenerateWindow: 5 * time.Minute,
		},

		File: FileConfig{
			MinifyHTML:      true,
			MinifyCSS:       true,
			MinifyJS:        true,
			MinifyInlineCSS: true,
			MinifyInlineJS:  true,
			JSMinifier:      "minify",
		},

		Images: ImageConfig{
			Enable:       true,
			Format:       "webp",
			Quality:      80,
			BatchSize:    20,
			LazyLoad:     true,
			ExcludeFirst: 2,
			Placeholder:  true,
			PictureTag:   true,
			Workers:      4,
		},

		Preload: PreloadConfig{
			Enable:        true,
			CronEnable:    true,
			Interval:      6 * time.Hour,
			ImageInterval: 5 * time.Minute,
			FetchTimeout:  10 * time.Second,
			Concurrency:   4,
		},
	}
	cfg.validate()
	return cfg
}

// Load reads configuration from path.
// Returns defaults if the file doesn't exist
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	if _, err := url.Parse(cfg.SiteURL); err != nil {
		return nil, fmt.Errorf("invalid siteURL %q: %w", cfg.SiteURL, err)
	}

	cfg.validate()
	return cfg, nil
}

// Host returns the lower-cased host of SiteURL without port.
func (c *Config) Host() string {
	u, err := url.Parse(c.SiteURL)
	if err != nil || u.Hostname() == "" {
		return "localhost"
	}
	return strings.ToLower(u.Hostname())
}

// validate ensures configuration values are within reasonable bounds
func (c *Config) validate() {
	c.SiteURL = strings.TrimSuffix(c.SiteURL, "/")

	c.CacheURL = "/" + strings.Trim(c.CacheURL, "/")
	if c.CacheURL == "/" {
		c.CacheURL = "/cache"
	}

	switch c.Images.Format {
	case "webp", "avif", "both":
	default:
		c.Images.Format = "webp"
	}
	if c.Images.Quality < 1 {
		c.Images.Quality = 1
	}
	if c.Images.Quality > 100 {
		c.Images.Quality = 100
	}
	if c.Images.BatchSize < 1 {
		c.Images.BatchSize = 1
	}
	if c.Images.BatchSize > 500 {
		c.Images.BatchSize = 500
	}
	if c.Images.ExcludeFirst < 0 {
		c.Images.ExcludeFirst = 0
	}
	if c.Images.Workers < 1 {
		c.Images.Workers = 1
	}
	if c.Images.Workers > 64 {
		c.Images.Workers = 64
	}

	if c.File.JSMinifier != "esbuild" {
		c.File.JSMinifier = "minify"
	}

	if c.Cache.RegenerateWindow < 0 {
		c.Cache.RegenerateWindow = 0
	}
	if c.Cache.RegenerateWindow > 24*time.Hour {
		c.Cache.RegenerateWindow = 24 * time.Hour
	}

	if c.Preload.Interval < time.Minute {
		c.Preload.Interval = time.Minute
	}
	if c.Preload.ImageInterval < 10*time.Second {
		c.Preload.ImageInterval = 10 * time.Second
	}
	if c.Preload.FetchTimeout < time.Second {
		c.Preload.FetchTimeout = time.Second
	}
	if c.Preload.FetchTimeout > time.Minute {
		c.Preload.FetchTimeout = time.Minute
	}
	if c.Preload.Concurrency < 1 {
		c.Preload.Concurrency = 1
	}
	if c.Preload.Concurrency > 32 {
		c.Preload.Concurrency = 32
	}
}
