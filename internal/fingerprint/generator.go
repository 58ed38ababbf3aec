package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"math/rand/v2"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/xxh3"
)

// Desktop profile tables. Each generated identity draws one entry per table;
// the combination is frozen for the identity's lifetime.
var (
	desktopViewports = [][2]int{
		{1920, 1080},
		{1366, 768},
		{1536, 864},
		{1440, 900},
		{1600, 900},
	}

	desktopTimezones = []string{
		"America/New_York", "America/Chicago", "America/Denver",
		"America/Los_Angeles", "Europe/London", "Europe/Berlin",
		"Asia/Tokyo", "Asia/Shanghai", "Australia/Sydney",
	}

	desktopLanguages = []string{"en-US", "en-GB", "de-DE", "fr-FR", "es-ES", "ja-JP"}

	desktopConcurrency = []int{4, 6, 8, 12, 16}
	desktopMemoryGB    = []float64{4, 8, 16, 32}

	desktopUserAgents = []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/119.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
	}

	desktopWebGLVendors = []string{"Google Inc.", "Intel Inc.", "NVIDIA Corporation", "AMD"}

	desktopWebGLRenderers = []string{
		"ANGLE (Intel, Intel(R) UHD Graphics 620 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		"ANGLE (NVIDIA, NVIDIA GeForce GTX 1060 Direct3D11 vs_5_0 ps_5_0, D3D11)",
		"ANGLE (AMD, Radeon RX 580 Series Direct3D11 vs_5_0 ps_5_0, D3D11)",
		"Intel(R) UHD Graphics 620",
		"NVIDIA GeForce GTX 1060/PCIe/SSE2",
		"AMD Radeon RX 580",
	}

	desktopFontSets = [][]string{
		{"Arial", "Calibri", "Cambria", "Candara", "Consolas", "Constantia", "Corbel", "Courier New"},
		{"Arial", "Helvetica", "Times New Roman", "Courier", "Courier New", "Verdana", "Georgia"},
		{"Arial", "Calibri", "Cambria", "Candara", "Consolas", "Constantia", "Corbel", "Courier New", "Franklin Gothic"},
	}

	desktopPluginSets = [][]string{
		{"Chrome PDF Plugin", "Chrome PDF Viewer", "Native Client"},
		{"Chrome PDF Plugin", "Chrome PDF Viewer", "Native Client", "WebKit built-in PDF"},
		{"Chrome PDF Plugin", "Chrome PDF Viewer"},
	}
)

// Mobile profile tables.
var (
	mobileViewports = [][2]int{
		{412, 915}, // Pixel 3
		{390, 844}, // iPhone 12
		{428, 926}, // iPhone 12 Pro Max
		{360, 740}, // Samsung Galaxy S20
	}

	mobileUserAgents = []string{
		"Mozilla/5.0 (iPhone; CPU iPhone OS 16_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/16.0 Mobile/15E148 Safari/604.1",
		"Mozilla/5.0 (Linux; Android 10; SM-G973F) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Mobile Safari/537.36",
		"Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.0 Mobile/15E148 Safari/604.1",
	}

	mobileConcurrency = []int{2, 4, 8}
	mobileMemoryGB    = []float64{2, 4, 6, 8}
	mobilePixelRatios = []float64{2.0, 2.5, 3.0}
)

// Generator produces fingerprints from the profile tables.
type Generator struct {
	rng *rand.Rand
}

// NewGenerator creates a Generator with a self-seeded PRNG.
func NewGenerator() *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64()))}
}

// NewSeededGenerator creates a Generator with a fixed seed, for tests.
func NewSeededGenerator(seed uint64) *Generator {
	return &Generator{rng: rand.New(rand.NewPCG(seed, seed))}
}

// Generate produces a fresh fingerprint for the given device class.
func (g *Generator) Generate(class DeviceClass) *Fingerprint {
	if class == Mobile {
		return g.generateMobile()
	}
	return g.generateDesktop()
}

func (g *Generator) generateDesktop() *Fingerprint {
	viewport := pick(g.rng, desktopViewports)
	screen := pick(g.rng, desktopViewports)
	ua := pick(g.rng, desktopUserAgents)
	now := time.Now().UnixNano()

	return &Fingerprint{
		ID:                  uuid.NewString(),
		DeviceClass:         Desktop,
		UserAgent:           ua,
		Timezone:            pick(g.rng, desktopTimezones),
		Language:            pick(g.rng, desktopLanguages),
		OSFamily:            osFamilyFromUA(ua),
		ViewportWidth:       viewport[0],
		ViewportHeight:      viewport[1],
		ScreenWidth:         screen[0],
		ScreenHeight:        screen[1],
		ColorDepth:          24,
		PixelRatio:          1.0,
		HardwareConcurrency: pick(g.rng, desktopConcurrency),
		DeviceMemoryGB:      pick(g.rng, desktopMemoryGB),
		WebGLVendor:         pick(g.rng, desktopWebGLVendors),
		WebGLRenderer:       pick(g.rng, desktopWebGLRenderers),
		CanvasHash:          g.canvasHash(),
		CanvasWebGLHash:     g.webglHash(),
		AudioHash:           g.audioHash(),
		Fonts:               pick(g.rng, desktopFontSets),
		Plugins:             pick(g.rng, desktopPluginSets),
		CreatedAtNs:         now,
	}
}

func (g *Generator) generateMobile() *Fingerprint {
	viewport := pick(g.rng, mobileViewports)
	ua := pick(g.rng, mobileUserAgents)
	now := time.Now().UnixNano()

	return &Fingerprint{
		ID:                  uuid.NewString(),
		DeviceClass:         Mobile,
		UserAgent:           ua,
		Timezone:            "America/New_York",
		Language:            "en-US",
		OSFamily:            osFamilyFromUA(ua),
		ViewportWidth:       viewport[0],
		ViewportHeight:      viewport[1],
		ScreenWidth:         1080,
		ScreenHeight:        2340,
		ColorDepth:          24,
		PixelRatio:          pick(g.rng, mobilePixelRatios),
		HardwareConcurrency: pick(g.rng, mobileConcurrency),
		DeviceMemoryGB:      pick(g.rng, mobileMemoryGB),
		WebGLVendor:         "Apple Inc.",
		WebGLRenderer:       "Apple GPU",
		CanvasHash:          g.canvasHash(),
		CanvasWebGLHash:     g.webglHash(),
		AudioHash:           g.audioHash(),
		Fonts:               []string{"Arial", "Helvetica", "Times New Roman"},
		Plugins:             []string{"Chrome PDF Plugin"},
		CreatedAtNs:         now,
	}
}

// canvasHash simulates a 2D canvas rendering surface and digests it.
func (g *Generator) canvasHash() string {
	return surfaceHash(map[string]any{
		"text_rendering":       pick(g.rng, []string{"subpixel-antialiased", "antialiased", "grayscale"}),
		"font_smoothing":       pick(g.rng, []string{"antialiased", "subpixel-antialiased"}),
		"line_width":           0.5 + g.rng.Float64(),
		"text_baseline_offset": -0.1 + 0.2*g.rng.Float64(),
	})
}

// webglHash simulates WebGL capability characteristics and digests them.
func (g *Generator) webglHash() string {
	return surfaceHash(map[string]any{
		"max_texture_size":      pick(g.rng, []int{4096, 8192, 16384}),
		"max_renderbuffer_size": pick(g.rng, []int{4096, 8192}),
		"max_viewport_dims":     [2]int{pick(g.rng, []int{4096, 8192}), pick(g.rng, []int{4096, 8192})},
		"renderer_unmasked": pick(g.rng, []string{
			"ANGLE (Intel, Intel(R) UHD Graphics Direct3D11 vs_5_0)",
			"ANGLE (NVIDIA, NVIDIA GeForce GTX 1060 Direct3D11 vs_5_0)",
			"Apple GPU",
		}),
		"vendor_unmasked": pick(g.rng, []string{"Intel Inc.", "NVIDIA Corporation", "Apple Inc."}),
	})
}

// audioHash simulates audio context characteristics and digests them.
func (g *Generator) audioHash() string {
	return surfaceHash(map[string]any{
		"sample_rate":       pick(g.rng, []int{44100, 48000, 96000}),
		"channel_count":     pick(g.rng, []int{2, 1}),
		"max_channel_count": pick(g.rng, []int{2, 6, 8}),
		"state":             "running",
		"current_time":      0.001 + 0.009*g.rng.Float64(),
	})
}

// surfaceHash digests randomized surface characteristics into a short stable
// token. 64 bits is plenty for a per-identity rendering artifact.
func surfaceHash(characteristics map[string]any) string {
	data, err := json.Marshal(characteristics)
	if err != nil {
		data = []byte("surface")
	}
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], xxh3.Hash(data))
	return hex.EncodeToString(b[:])
}

func osFamilyFromUA(ua string) string {
	switch {
	case strings.Contains(ua, "Windows"):
		return "Windows"
	case strings.Contains(ua, "Macintosh"):
		return "macOS"
	case strings.Contains(ua, "iPhone"):
		return "iOS"
	case strings.Contains(ua, "Android"):
		return "Android"
	default:
		return "Linux"
	}
}

func pick[T any](rng *rand.Rand, candidates []T) T {
	return candidates[rng.IntN(len(candidates))]
}
