// Package fingerprint generates and manages synthetic browser identities.
// An identity's attributes are fixed at generation time and never change;
// only usage metadata is updated afterwards.
package fingerprint

import (
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/zeebo/xxh3"

	"github.com/radar-hq/radar/internal/model"
)

// DeviceClass selects the profile family a fingerprint is drawn from.
type DeviceClass string

const (
	Desktop DeviceClass = "desktop"
	Mobile  DeviceClass = "mobile"
)

// Fingerprint is the in-memory browser identity. All fields except UsageCount
// and LastUsedNs are immutable once generated.
type Fingerprint struct {
	ID          string      `json:"id"`
	DeviceClass DeviceClass `json:"device_class"`

	UserAgent string `json:"user_agent"`
	Timezone  string `json:"timezone"`
	Language  string `json:"language"`
	OSFamily  string `json:"os_family"`

	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	ScreenWidth    int     `json:"screen_width"`
	ScreenHeight   int     `json:"screen_height"`
	ColorDepth     int     `json:"color_depth"`
	PixelRatio     float64 `json:"pixel_ratio"`

	HardwareConcurrency int     `json:"hardware_concurrency"`
	DeviceMemoryGB      float64 `json:"device_memory_gb"`

	WebGLVendor     string `json:"webgl_vendor"`
	WebGLRenderer   string `json:"webgl_renderer"`
	CanvasHash      string `json:"canvas_hash"`
	CanvasWebGLHash string `json:"canvas_webgl_hash"`
	AudioHash       string `json:"audio_hash"`

	Fonts   []string `json:"fonts"`
	Plugins []string `json:"plugins"`

	UsageCount  int   `json:"usage_count"`
	CreatedAtNs int64 `json:"created_at_ns"`
	LastUsedNs  int64 `json:"last_used_ns"`
}

// IsMobile reports whether the fingerprint belongs to the mobile profile family.
func (f *Fingerprint) IsMobile() bool {
	return f.DeviceClass == Mobile
}

// AttributeHash returns a 128-bit hex digest of the immutable attribute set,
// derived from canonical JSON. Two fingerprints with identical attributes
// produce the same digest, which is used to detect drift after reload.
func (f *Fingerprint) AttributeHash() string {
	attrs := map[string]any{
		"device_class":         string(f.DeviceClass),
		"user_agent":           f.UserAgent,
		"timezone":             f.Timezone,
		"language":             f.Language,
		"os_family":            f.OSFamily,
		"viewport_width":       f.ViewportWidth,
		"viewport_height":      f.ViewportHeight,
		"screen_width":         f.ScreenWidth,
		"screen_height":        f.ScreenHeight,
		"color_depth":          f.ColorDepth,
		"pixel_ratio":          f.PixelRatio,
		"hardware_concurrency": f.HardwareConcurrency,
		"device_memory_gb":     f.DeviceMemoryGB,
		"webgl_vendor":         f.WebGLVendor,
		"webgl_renderer":       f.WebGLRenderer,
		"canvas_hash":          f.CanvasHash,
		"canvas_webgl_hash":    f.CanvasWebGLHash,
		"audio_hash":           f.AudioHash,
		"fonts":                f.Fonts,
		"plugins":              f.Plugins,
	}
	// encoding/json sorts map keys, so the output is canonical.
	data, err := json.Marshal(attrs)
	if err != nil {
		data = []byte(f.ID)
	}
	h128 := xxh3.Hash128(data)
	var b [16]byte
	binary.LittleEndian.PutUint64(b[:8], h128.Lo)
	binary.LittleEndian.PutUint64(b[8:], h128.Hi)
	return hex.EncodeToString(b[:])
}

// ContextOptions is the browser-context configuration derived from a
// fingerprint, serializable for whatever automation driver consumes it.
type ContextOptions struct {
	UserAgent         string         `json:"user_agent"`
	Viewport          map[string]int `json:"viewport"`
	ScreenSize        map[string]int `json:"screen"`
	DeviceScaleFactor float64        `json:"device_scale_factor"`
	IsMobile          bool           `json:"is_mobile"`
	HasTouch          bool           `json:"has_touch"`
	ColorScheme       string         `json:"color_scheme"`
	Locale            string         `json:"locale"`
	TimezoneID        string         `json:"timezone_id"`
}

// ContextOptions builds driver-ready context options from the fingerprint.
func (f *Fingerprint) ContextOptions() ContextOptions {
	return ContextOptions{
		UserAgent:         f.UserAgent,
		Viewport:          map[string]int{"width": f.ViewportWidth, "height": f.ViewportHeight},
		ScreenSize:        map[string]int{"width": f.ScreenWidth, "height": f.ScreenHeight},
		DeviceScaleFactor: f.PixelRatio,
		IsMobile:          f.IsMobile(),
		HasTouch:          f.IsMobile(),
		ColorScheme:       "light",
		Locale:            f.Language,
		TimezoneID:        f.Timezone,
	}
}

// ToModel converts the fingerprint to its persisted representation.
func (f *Fingerprint) ToModel() (model.Fingerprint, error) {
	fontsJSON, err := json.Marshal(f.Fonts)
	if err != nil {
		return model.Fingerprint{}, fmt.Errorf("encode fonts: %w", err)
	}
	pluginsJSON, err := json.Marshal(f.Plugins)
	if err != nil {
		return model.Fingerprint{}, fmt.Errorf("encode plugins: %w", err)
	}
	return model.Fingerprint{
		ID:                  f.ID,
		DeviceClass:         string(f.DeviceClass),
		UserAgent:           f.UserAgent,
		Timezone:            f.Timezone,
		Language:            f.Language,
		OSFamily:            f.OSFamily,
		ViewportWidth:       f.ViewportWidth,
		ViewportHeight:      f.ViewportHeight,
		ScreenWidth:         f.ScreenWidth,
		ScreenHeight:        f.ScreenHeight,
		ColorDepth:          f.ColorDepth,
		PixelRatio:          f.PixelRatio,
		HardwareConcurrency: f.HardwareConcurrency,
		DeviceMemoryGB:      f.DeviceMemoryGB,
		WebGLVendor:         f.WebGLVendor,
		WebGLRenderer:       f.WebGLRenderer,
		CanvasHash:          f.CanvasHash,
		CanvasWebGLHash:     f.CanvasWebGLHash,
		AudioHash:           f.AudioHash,
		FontsJSON:           string(fontsJSON),
		PluginsJSON:         string(pluginsJSON),
		UsageCount:          f.UsageCount,
		CreatedAtNs:         f.CreatedAtNs,
		LastUsedNs:          f.LastUsedNs,
	}, nil
}

// FromModel rebuilds a fingerprint from its persisted representation.
func FromModel(m model.Fingerprint) (*Fingerprint, error) {
	var fonts, plugins []string
	if err := json.Unmarshal([]byte(m.FontsJSON), &fonts); err != nil {
		return nil, fmt.Errorf("decode fonts_json for %s: %w", m.ID, err)
	}
	if err := json.Unmarshal([]byte(m.PluginsJSON), &plugins); err != nil {
		return nil, fmt.Errorf("decode plugins_json for %s: %w", m.ID, err)
	}
	return &Fingerprint{
		ID:                  m.ID,
		DeviceClass:         DeviceClass(m.DeviceClass),
		UserAgent:           m.UserAgent,
		Timezone:            m.Timezone,
		Language:            m.Language,
		OSFamily:            m.OSFamily,
		ViewportWidth:       m.ViewportWidth,
		ViewportHeight:      m.ViewportHeight,
		ScreenWidth:         m.ScreenWidth,
		ScreenHeight:        m.ScreenHeight,
		ColorDepth:          m.ColorDepth,
		PixelRatio:          m.PixelRatio,
		HardwareConcurrency: m.HardwareConcurrency,
		DeviceMemoryGB:      m.DeviceMemoryGB,
		WebGLVendor:         m.WebGLVendor,
		WebGLRenderer:       m.WebGLRenderer,
		CanvasHash:          m.CanvasHash,
		CanvasWebGLHash:     m.CanvasWebGLHash,
		AudioHash:           m.AudioHash,
		Fonts:               fonts,
		Plugins:             plugins,
		UsageCount:          m.UsageCount,
		CreatedAtNs:         m.CreatedAtNs,
		LastUsedNs:          m.LastUsedNs,
	}, nil
}
