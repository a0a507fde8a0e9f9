// Package testutil holds fixtures shared by the pipeline tests.
package testutil

import (
	"image"
	"image/color"
	"path/filepath"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/cache"
	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
)

// Test roots used with in-memory filesystems.
const (
	SiteRoot  = "/srv/public"
	CacheRoot = "/srv/cache"
	SiteURL   = "https://example.com"
)

// CreateTestState opens a state store in a temp dir, closed on cleanup.
func CreateTestState(t *testing.T) *cache.Manager {
	t.Helper()
	m, err := cache.Open(t.TempDir())
	if err != nil {
		t.Fatalf("Failed to open state store: %v", err)
	}
	t.Cleanup(func() { _ = m.Close() })
	return m
}

// TestConfig returns defaults pointed at the in-memory test roots.
func TestConfig() *config.Config {
	cfg := config.Default()
	cfg.SiteURL = SiteURL
	cfg.SiteRoot = SiteRoot
	cfg.CacheRoot = CacheRoot
	return cfg
}

// CreateTestFilesystemWithContent creates a filesystem with initial content
func CreateTestFilesystemWithContent(t *testing.T, files map[string]string) afero.Fs {
	t.Helper()
	fs := afero.NewMemMapFs()
	WriteFiles(t, fs, files)
	return fs
}

// WriteFiles writes every path => content pair.
func WriteFiles(t *testing.T, fs afero.Fs, files map[string]string) {
	t.Helper()
	for path, content := range files {
		if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create dir for %s: %v", path, err)
		}
		if err := afero.WriteFile(fs, path, []byte(content), 0644); err != nil {
			t.Fatalf("Failed to write %s: %v", path, err)
		}
	}
}

// WriteImage encodes a small gradient image at path. The format follows the
// extension (.png or .jpg). paletted produces an indexed-colour PNG.
func WriteImage(t *testing.T, fs afero.Fs, path string, w, h int, paletted bool) {
	t.Helper()
	var img image.Image
	if paletted {
		pal := image.NewPaletted(image.Rect(0, 0, w, h), color.Palette{
			color.NRGBA{0, 0, 0, 0},
			color.NRGBA{255, 0, 0, 255},
		})
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				pal.SetColorIndex(x, y, uint8((x+y)%2))
			}
		}
		img = pal
	} else {
		rgba := image.NewNRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				rgba.Set(x, y, color.NRGBA{uint8(x * 10), uint8(y * 10), 128, 255})
			}
		}
		img = rgba
	}

	format, err := imaging.FormatFromFilename(path)
	if err != nil {
		t.Fatalf("Unknown image type for %s: %v", path, err)
	}
	if err := fs.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create dir for %s: %v", path, err)
	}
	f, err := fs.Create(path)
	if err != nil {
		t.Fatalf("Failed to create %s: %v", path, err)
	}
	defer func() { _ = f.Close() }()
	if err := imaging.Encode(f, img, format); err != nil {
		t.Fatalf("Failed to encode %s: %v", path, err)
	}
}

// AssertFileExists checks if a file exists in the filesystem
func AssertFileExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	exists, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("Error checking file existence: %v", err)
	}
	if !exists {
		t.Errorf("Expected file to exist: %s", path)
	}
}

// AssertFileNotExists checks if a file does not exist
func AssertFileNotExists(t *testing.T, fs afero.Fs, path string) {
	t.Helper()
	exists, err := afero.Exists(fs, path)
	if err != nil {
		t.Fatalf("Error checking file existence: %v", err)
	}
	if exists {
		t.Errorf("Expected file to not exist: %s", path)
	}
}

// ReadFile returns the content of path or fails the test.
func ReadFile(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		t.Fatalf("Failed to read %s: %v", path, err)
	}
	return string(data)
}
