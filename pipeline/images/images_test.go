package images

import (
	"context"
	"errors"
	"image"
	"io"
	"sync/atomic"
	"testing"

	"github.com/spf13/afero"

	"github.com/Kush-Singh-26/rapidcache/pipeline/config"
	"github.com/Kush-Singh-26/rapidcache/pipeline/testutil"
	"github.com/Kush-Singh-26/rapidcache/pipeline/utils"
)

type stubEncoder struct {
	calls    atomic.Int32
	fail     bool
	paletted atomic.Bool
}

func (s *stubEncoder) encode(w io.Writer, img image.Image, _ int) error {
	s.calls.Add(1)
	if _, ok := img.(*image.Paletted); ok {
		s.paletted.Store(true)
	}
	if s.fail {
		return errors.New("encoder exploded")
	}
	_, err := w.Write([]byte("encoded"))
	return err
}

func newTestConverter(t *testing.T, mode string, stub *stubEncoder) (*Converter, afero.Fs, *config.Config) {
	t.Helper()
	cfg := testutil.TestConfig()
	cfg.Images.Format = mode
	fs := afero.NewMemMapFs()
	c := NewConverter(fs, cfg, NewQueue(testutil.CreateTestState(t)), utils.DiscardLogger())
	if stub != nil {
		c.encoders = map[Format]encodeFunc{WebP: stub.encode, AVIF: stub.encode}
	}
	return c, fs, cfg
}

func TestParseFormats(t *testing.T) {
	tests := []struct {
		mode string
		want []Format
	}{
		{"webp", []Format{WebP}},
		{"avif", []Format{AVIF}},
		{"both", []Format{AVIF, WebP}},
		{"", []Format{WebP}},
	}
	for _, tt := range tests {
		got := ParseFormats(tt.mode)
		if len(got) != len(tt.want) {
			t.Errorf("ParseFormats(%q) = %v, want %v", tt.mode, got, tt.want)
			continue
		}
		for i := range got {
			if got[i] != tt.want[i] {
				t.Errorf("ParseFormats(%q) = %v, want %v", tt.mode, got, tt.want)
			}
		}
	}
}

func TestAcceptedFormats(t *testing.T) {
	tests := []struct {
		accept string
		webp   bool
		avif   bool
	}{
		{"image/avif,image/webp,image/apng,*/*;q=0.8", true, true},
		{"image/webp,*/*", true, false},
		{"image/avif;q=0, image/webp;q=0.9", true, false},
		{"image/avif;q=0.000,image/webp;Q=0", false, false},
		{"image/avif; q = 0.0000, image/webp;q=0.001", true, false},
		{"image/webp;q=bogus", true, false},
		{"text/html", false, false},
		{"", false, false},
	}
	for _, tt := range tests {
		got := AcceptedFormats(tt.accept)
		if got[WebP] != tt.webp || got[AVIF] != tt.avif {
			t.Errorf("AcceptedFormats(%q) = %v, want webp=%v avif=%v", tt.accept, got, tt.webp, tt.avif)
		}
	}
}

func TestConvertible(t *testing.T) {
	tests := []struct {
		ext  string
		f    Format
		want bool
	}{
		{".jpg", WebP, true},
		{".JPEG", AVIF, true},
		{".png", WebP, true},
		{".webp", AVIF, true},
		{".webp", WebP, false},
		{".gif", WebP, false},
		{".svg", AVIF, false},
	}
	for _, tt := range tests {
		if got := Convertible(tt.ext, tt.f); got != tt.want {
			t.Errorf("Convertible(%q, %s) = %v, want %v", tt.ext, tt.f, got, tt.want)
		}
	}
}

func TestVariantPath(t *testing.T) {
	if got := VariantPath("/img/photo.jpg", WebP); got != "/img/photo.webp" {
		t.Errorf("VariantPath = %q", got)
	}
	if got := VariantPath("/img/a.b.PNG", AVIF); got != "/img/a.b.avif" {
		t.Errorf("VariantPath = %q", got)
	}
}

func TestConvert_IdempotentOnExistingVariant(t *testing.T) {
	stub := &stubEncoder{}
	c, fs, _ := newTestConverter(t, "webp", stub)
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/img/photo.jpg", 8, 8, false)

	for i := 0; i < 2; i++ {
		ok, err := c.Convert("/img/photo.jpg", WebP, 80)
		if err != nil || !ok {
			t.Fatalf("Convert #%d = %v, %v", i, ok, err)
		}
	}
	if n := stub.calls.Load(); n != 1 {
		t.Errorf("encoder called %d times, want 1", n)
	}
	testutil.AssertFileExists(t, fs, testutil.SiteRoot+"/img/photo.webp")

	total, err := c.Queue().Converted(WebP)
	if err != nil {
		t.Fatalf("Converted failed: %v", err)
	}
	if total != 1 {
		t.Errorf("Converted = %d, want 1", total)
	}
}

func TestConvert_PromotesPalettedImages(t *testing.T) {
	stub := &stubEncoder{}
	c, fs, _ := newTestConverter(t, "webp", stub)
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/logo.png", 4, 4, true)

	if ok, err := c.Convert("/logo.png", WebP, 80); err != nil || !ok {
		t.Fatalf("Convert = %v, %v", ok, err)
	}
	if stub.paletted.Load() {
		t.Error("encoder received a paletted image")
	}
}

func TestConvert_Unsupported(t *testing.T) {
	c, fs, _ := newTestConverter(t, "webp", &stubEncoder{})
	testutil.WriteFiles(t, fs, map[string]string{
		testutil.SiteRoot + "/anim.gif":   "GIF89a",
		testutil.SiteRoot + "/broken.png": "not a png",
	})

	if _, err := c.Convert("/anim.gif", WebP, 80); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Convert(gif) error = %v, want ErrUnsupported", err)
	}
	if got := c.Process("/anim.gif", WebP); got != StatusSkipped {
		t.Errorf("Process(gif) = %s, want %s", got, StatusSkipped)
	}
	if got := c.Process("/broken.png", WebP); got != StatusSkipped {
		t.Errorf("Process(broken png) = %s, want %s", got, StatusSkipped)
	}
}

func TestProcess_FailureIsRecordedNotRetried(t *testing.T) {
	c, fs, _ := newTestConverter(t, "webp", &stubEncoder{fail: true})
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/a.jpg", 4, 4, false)

	if got := c.Process("/a.jpg", WebP); got != StatusFailed {
		t.Fatalf("Process = %s, want %s", got, StatusFailed)
	}
	job, _ := c.Queue().Job("/a.jpg", WebP)
	if job == nil || job.Status != StatusFailed {
		t.Fatalf("Job = %+v, want failed", job)
	}

	added, err := c.Queue().Enqueue("/a.jpg", WebP)
	if err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	if added {
		t.Error("failed job was re-enqueued without RetryFailed")
	}

	n, err := c.Queue().RetryFailed(WebP)
	if err != nil || n != 1 {
		t.Fatalf("RetryFailed = %d, %v; want 1", n, err)
	}
	pending, _ := c.Queue().Pending(WebP, 10)
	if len(pending) != 1 || pending[0] != "/a.jpg" {
		t.Errorf("Pending = %v, want [/a.jpg]", pending)
	}
}

func TestResolve_BothModeFallback(t *testing.T) {
	c, fs, _ := newTestConverter(t, "both", &stubEncoder{})
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/img/hero.jpg", 4, 4, false)
	accepted := AcceptedFormats("image/avif,image/webp")

	res := c.Resolve("", "/img/hero.jpg", accepted)
	if res.URL != "/img/hero.jpg" {
		t.Errorf("URL = %q, want original", res.URL)
	}
	if len(res.Jobs) != 2 {
		t.Fatalf("Jobs = %v, want 2", res.Jobs)
	}

	again := c.Resolve("", "/img/hero.jpg", accepted)
	if len(again.Jobs) != 0 {
		t.Errorf("second Resolve enqueued %v, want none", again.Jobs)
	}
	for _, f := range []Format{AVIF, WebP} {
		counts, _ := c.Queue().Counts(f)
		if counts[StatusPending] != 1 {
			t.Errorf("%s pending = %d, want 1", f, counts[StatusPending])
		}
	}
}

func TestResolve_PrefersExistingVariant(t *testing.T) {
	c, fs, _ := newTestConverter(t, "both", &stubEncoder{})
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/img/hero.jpg", 4, 4, false)
	testutil.WriteFiles(t, fs, map[string]string{
		testutil.SiteRoot + "/img/hero.webp": "w",
		testutil.SiteRoot + "/img/hero.avif": "a",
	})

	tests := []struct {
		accept string
		want   string
	}{
		{"image/avif,image/webp", "/img/hero.avif?v=2"},
		{"image/webp", "/img/hero.webp?v=2"},
		{"image/png", "/img/hero.jpg?v=2"},
	}
	for _, tt := range tests {
		if got := c.ResolveServingURL("/img/hero.jpg?v=2", tt.accept); got != tt.want {
			t.Errorf("ResolveServingURL(%q) = %q, want %q", tt.accept, got, tt.want)
		}
	}
}

func TestResolve_ExclusionsAndForeignHosts(t *testing.T) {
	c, fs, cfg := newTestConverter(t, "webp", &stubEncoder{})
	cfg.Images.Exclude = []string{"/logos/", "*.png"}
	c = NewConverter(fs, cfg, c.queue, utils.DiscardLogger())
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/logos/brand.jpg", 4, 4, false)

	for _, u := range []string{
		"/logos/brand.jpg",
		"/img/icon.png",
		"https://cdn.other.org/a.jpg",
		"data:image/png;base64,AAAA",
	} {
		res := c.Resolve("", u, AcceptedFormats("image/webp"))
		if res.URL != u || len(res.Jobs) != 0 {
			t.Errorf("Resolve(%q) = %+v, want untouched", u, res)
		}
	}
}

func TestResolve_SyncFallback(t *testing.T) {
	_, fs, cfg := newTestConverter(t, "webp", nil)
	cfg.Images.SyncFallback = true
	stub := &stubEncoder{}
	c := NewConverter(fs, cfg, NewQueue(testutil.CreateTestState(t)), utils.DiscardLogger())
	c.encoders = map[Format]encodeFunc{WebP: stub.encode}
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/a.jpg", 4, 4, false)

	if got := c.ResolveServingURL("https://example.com/a.jpg", "image/webp"); got != "https://example.com/a.webp" {
		t.Errorf("ResolveServingURL = %q, want converted variant", got)
	}
	job, _ := c.Queue().Job("/a.jpg", WebP)
	if job == nil || job.Status != StatusCompleted {
		t.Errorf("Job = %+v, want completed", job)
	}
}

func TestOffer(t *testing.T) {
	c, fs, _ := newTestConverter(t, "both", &stubEncoder{})
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/p/a.jpg", 4, 4, false)
	testutil.WriteFiles(t, fs, map[string]string{testutil.SiteRoot + "/p/a.webp": "w"})

	offer := c.Offer("https://example.com/p/", "a.jpg")
	if len(offer.Variants) != 1 || offer.Variants[0].Format != WebP || offer.Variants[0].URL != "a.webp" {
		t.Errorf("Variants = %+v, want [a.webp]", offer.Variants)
	}
	if len(offer.Jobs) != 1 || offer.Jobs[0].Format != AVIF || offer.Jobs[0].Path != "/p/a.jpg" {
		t.Errorf("Jobs = %+v, want avif job for /p/a.jpg", offer.Jobs)
	}
}

func TestConvertPathsAndDeleteConverted(t *testing.T) {
	c, fs, _ := newTestConverter(t, "both", &stubEncoder{})
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/a.jpg", 4, 4, false)
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/b.png", 4, 4, false)

	results := c.ConvertPaths(context.Background(), []string{"/a.jpg", "/b.png"})
	for _, p := range []string{"/a.jpg", "/b.png"} {
		for _, f := range []Format{AVIF, WebP} {
			if results[p][f] != StatusCompleted {
				t.Errorf("%s %s = %s, want completed", p, f, results[p][f])
			}
		}
	}
	testutil.AssertFileExists(t, fs, testutil.SiteRoot+"/b.avif")

	removed, err := c.DeleteConverted()
	if err != nil {
		t.Fatalf("DeleteConverted failed: %v", err)
	}
	if removed != 4 {
		t.Errorf("removed = %d, want 4", removed)
	}
	for _, p := range []string{"/a.webp", "/a.avif", "/b.webp", "/b.avif"} {
		testutil.AssertFileNotExists(t, fs, testutil.SiteRoot+p)
	}
	testutil.AssertFileExists(t, fs, testutil.SiteRoot+"/a.jpg")
	counts, _ := c.Queue().Counts(WebP)
	if counts[StatusCompleted] != 0 {
		t.Errorf("completed after delete = %d, want 0", counts[StatusCompleted])
	}
}

func TestDeleteConverted_KeepsVariantsItDidNotWrite(t *testing.T) {
	stub := &stubEncoder{}
	c, fs, _ := newTestConverter(t, "webp", stub)
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/img/photo.jpg", 4, 4, false)
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/img/photo.png", 4, 4, false)
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/img/hero.jpg", 4, 4, false)
	testutil.WriteFiles(t, fs, map[string]string{testutil.SiteRoot + "/img/hero.webp": "authored"})

	for _, p := range []string{"/img/photo.jpg", "/img/photo.png", "/img/hero.jpg"} {
		if got := c.Process(p, WebP); got != StatusCompleted {
			t.Fatalf("Process(%s) = %s, want completed", p, got)
		}
	}
	if n := stub.calls.Load(); n != 1 {
		t.Errorf("encoder called %d times, want 1", n)
	}

	tests := []struct {
		path    string
		written bool
	}{
		{"/img/photo.jpg", true},
		{"/img/photo.png", false}, // photo.webp came from the jpg
		{"/img/hero.jpg", false},  // authored variant
	}
	recs, _ := c.Queue().List(WebP, StatusCompleted, 0)
	got := make(map[string]bool, len(recs))
	for _, r := range recs {
		got[r.Path] = r.Written
	}
	for _, tt := range tests {
		if got[tt.path] != tt.written {
			t.Errorf("Written(%s) = %v, want %v", tt.path, got[tt.path], tt.written)
		}
	}

	// Reprocessing an existing variant keeps ownership.
	if _, err := c.Queue().Enqueue("/img/photo.jpg", WebP); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}
	c.Process("/img/photo.jpg", WebP)

	removed, err := c.DeleteConverted()
	if err != nil {
		t.Fatalf("DeleteConverted failed: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
	testutil.AssertFileNotExists(t, fs, testutil.SiteRoot+"/img/photo.webp")
	if body := testutil.ReadFile(t, fs, testutil.SiteRoot+"/img/hero.webp"); body != "authored" {
		t.Errorf("authored variant changed: %q", body)
	}
}

func TestWebPEncoder(t *testing.T) {
	c, fs, _ := newTestConverter(t, "webp", nil)
	testutil.WriteImage(t, fs, testutil.SiteRoot+"/real.png", 16, 16, true)

	if got := c.Process("/real.png", WebP); got != StatusCompleted {
		t.Fatalf("Process = %s, want completed", got)
	}
	data := testutil.ReadFile(t, fs, testutil.SiteRoot+"/real.webp")
	if len(data) < 12 || data[:4] != "RIFF" || data[8:12] != "WEBP" {
		t.Errorf("output is not a WebP file: %q", data[:min(len(data), 12)])
	}
}
