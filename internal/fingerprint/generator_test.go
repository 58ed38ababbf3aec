package fingerprint

import (
	"testing"
)

func TestGenerate_DesktopProfile(t *testing.T) {
	g := NewSeededGenerator(1)

	f := g.Generate(Desktop)
	if f.ID == "" {
		t.Fatal("missing ID")
	}
	if f.DeviceClass != Desktop {
		t.Fatalf("DeviceClass = %q", f.DeviceClass)
	}
	if f.ColorDepth != 24 || f.PixelRatio != 1.0 {
		t.Fatalf("desktop display constants: depth=%d ratio=%v", f.ColorDepth, f.PixelRatio)
	}

	validViewport := false
	for _, v := range desktopViewports {
		if f.ViewportWidth == v[0] && f.ViewportHeight == v[1] {
			validViewport = true
		}
	}
	if !validViewport {
		t.Fatalf("viewport %dx%d not in profile table", f.ViewportWidth, f.ViewportHeight)
	}

	validConcurrency := false
	for _, c := range desktopConcurrency {
		if f.HardwareConcurrency == c {
			validConcurrency = true
		}
	}
	if !validConcurrency {
		t.Fatalf("hardware concurrency %d not in profile table", f.HardwareConcurrency)
	}

	if len(f.CanvasHash) != 16 || len(f.CanvasWebGLHash) != 16 || len(f.AudioHash) != 16 {
		t.Fatalf("surface hashes must be 16 hex chars: %q %q %q", f.CanvasHash, f.CanvasWebGLHash, f.AudioHash)
	}
	if len(f.Fonts) == 0 || len(f.Plugins) == 0 {
		t.Fatal("fonts/plugins must be populated")
	}
}

func TestGenerate_MobileProfile(t *testing.T) {
	g := NewSeededGenerator(2)

	f := g.Generate(Mobile)
	if !f.IsMobile() {
		t.Fatal("expected mobile fingerprint")
	}
	if f.WebGLVendor != "Apple Inc." || f.WebGLRenderer != "Apple GPU" {
		t.Fatalf("mobile WebGL identity: %q / %q", f.WebGLVendor, f.WebGLRenderer)
	}
	if f.ScreenWidth != 1080 || f.ScreenHeight != 2340 {
		t.Fatalf("mobile screen: %dx%d", f.ScreenWidth, f.ScreenHeight)
	}
	if f.PixelRatio != 2.0 && f.PixelRatio != 2.5 && f.PixelRatio != 3.0 {
		t.Fatalf("mobile pixel ratio %v not in profile table", f.PixelRatio)
	}
}

func TestGenerate_DistinctIdentities(t *testing.T) {
	g := NewSeededGenerator(3)

	a := g.Generate(Desktop)
	b := g.Generate(Desktop)
	if a.ID == b.ID {
		t.Fatal("IDs must be unique")
	}
	if a.AttributeHash() == b.AttributeHash() {
		t.Fatal("two random identities should differ in attributes (surface hashes alone make collisions implausible)")
	}
}

func TestAttributeHash_StableAcrossRoundTrip(t *testing.T) {
	g := NewSeededGenerator(4)
	f := g.Generate(Desktop)

	m, err := f.ToModel()
	if err != nil {
		t.Fatal(err)
	}
	restored, err := FromModel(m)
	if err != nil {
		t.Fatal(err)
	}

	if restored.AttributeHash() != f.AttributeHash() {
		t.Fatal("attribute hash changed across persistence round-trip")
	}
}

func TestContextOptions_ConsistentWithAttributes(t *testing.T) {
	g := NewSeededGenerator(5)

	f := g.Generate(Mobile)
	opts := f.ContextOptions()

	if opts.UserAgent != f.UserAgent {
		t.Fatal("user agent mismatch")
	}
	if !opts.IsMobile || !opts.HasTouch {
		t.Fatal("mobile context must set is_mobile and has_touch")
	}
	if opts.Viewport["width"] != f.ViewportWidth || opts.Viewport["height"] != f.ViewportHeight {
		t.Fatal("viewport mismatch")
	}
	if opts.TimezoneID != f.Timezone || opts.Locale != f.Language {
		t.Fatal("locale/timezone mismatch")
	}
}

func TestOSFamilyFromUA(t *testing.T) {
	tests := []struct {
		ua   string
		want string
	}{
		{desktopUserAgents[0], "Windows"},
		{desktopUserAgents[2], "macOS"},
		{desktopUserAgents[3], "Linux"},
		{mobileUserAgents[0], "iOS"},
		{mobileUserAgents[1], "Android"},
	}
	for _, tt := range tests {
		if got := osFamilyFromUA(tt.ua); got != tt.want {
			t.Errorf("osFamilyFromUA(%q) = %q, want %q", tt.ua[:40], got, tt.want)
		}
	}
}
