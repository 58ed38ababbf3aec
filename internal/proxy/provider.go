package proxy

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/radar-hq/radar/internal/model"
)

// ProviderConfig carries the credentials and targeting defaults for one
// upstream proxy service account.
type ProviderConfig struct {
	Name     string `json:"name" yaml:"name"`
	Username string `json:"username" yaml:"username"`
	Password string `json:"password" yaml:"password"`
	// Zone selects the product tier: a BrightData zone name, or a proxy
	// type ("residential", "datacenter", "unblocker") for the others.
	Zone    string `json:"zone,omitempty" yaml:"zone,omitempty"`
	Country string `json:"country,omitempty" yaml:"country,omitempty"`

	RequestTimeout time.Duration `json:"-" yaml:"-"`
}

// Usage summarizes what an adapter has handed out since boot. Upstream
// billing APIs are out of reach without separate API keys, so the counters
// are tracked locally.
type Usage struct {
	Provider       string `json:"provider"`
	Zone           string `json:"zone,omitempty"`
	Issued         int64  `json:"issued"`
	Rotations      int64  `json:"rotations"`
	Validations    int64  `json:"validations"`
	ValidationFail int64  `json:"validation_failures"`
}

// Provider is an upstream proxy service adapter. Implementations are
// stateless beyond local usage counters; gateway-style services encode
// targeting and session affinity into the proxy username.
type Provider interface {
	Name() string
	// GetOne returns a single proxy. A non-empty sessionID requests a
	// sticky session that keeps the same egress IP across requests.
	GetOne(country, sessionID string) (model.Proxy, error)
	// GetBulk returns count distinct proxies, each with its own sticky
	// session so they egress from different IPs.
	GetBulk(count int, country string) ([]model.Proxy, error)
	// RotateSession re-issues the session's proxy config, which moves it
	// to a new egress IP on gateway providers.
	RotateSession(sessionID string) (model.Proxy, error)
	// Validate makes one request through the proxy and reports whether
	// it succeeded, with the observed latency.
	Validate(ctx context.Context, p model.Proxy) (bool, time.Duration, error)
	UsageStats() Usage
}

// NewProvider builds an adapter by provider name.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch strings.ToLower(cfg.Name) {
	case "brightdata":
		return newBrightData(cfg)
	case "smartproxy":
		return newSmartProxy(cfg)
	case "oxylabs":
		return newOxylabs(cfg)
	default:
		return nil, fmt.Errorf("unknown proxy provider %q", cfg.Name)
	}
}

// Registry holds configured provider adapters by name.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Add(p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[p.Name()] = p
}

func (r *Registry) Remove(name string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.providers[name]; !ok {
		return false
	}
	delete(r.providers, name)
	return true
}

func (r *Registry) Get(name string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[name]
	return p, ok
}

func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.providers))
	for name := range r.providers {
		names = append(names, name)
	}
	return names
}

const defaultValidateURL = "https://www.gstatic.com/generate_204"

// checkConnectivity makes one request through the proxy. Gateway providers
// only speak http, so a plain Transport proxy is enough here.
func checkConnectivity(ctx context.Context, p model.Proxy, timeout time.Duration) (bool, time.Duration, error) {
	proxyURL, err := url.Parse(URL(p))
	if err != nil {
		return false, 0, fmt.Errorf("proxy url: %w", err)
	}
	client := &http.Client{
		Timeout: timeout,
		Transport: &http.Transport{
			Proxy:             http.ProxyURL(proxyURL),
			DisableKeepAlives: true,
		},
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, defaultValidateURL, nil)
	if err != nil {
		return false, 0, err
	}
	start := time.Now()
	resp, err := client.Do(req)
	elapsed := time.Since(start)
	if err != nil {
		return false, elapsed, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		return false, elapsed, fmt.Errorf("validate status %d", resp.StatusCode)
	}
	return true, elapsed, nil
}

func randomSessionID(prefix string) string {
	return fmt.Sprintf("%s_%06d", prefix, rand.IntN(1000000))
}

var errMissingCredentials = errors.New("proxy provider: username and password are required")
