package probe

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
	"github.com/radar-hq/radar/internal/proxy"
)

type memRepo struct {
	mu      sync.Mutex
	proxies map[string]model.Proxy
}

func (r *memRepo) UpsertProxy(p model.Proxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[p.ID] = p
	return nil
}

func (r *memRepo) DeleteProxy(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies, id)
	return nil
}

type nopMarker struct{}

func (nopMarker) MarkProxyBinding(string)       {}
func (nopMarker) MarkProxyBindingDelete(string) {}

// proxyFromServer treats an httptest server as an HTTP forward proxy.
func proxyFromServer(t *testing.T, srv *httptest.Server, id string) model.Proxy {
	t.Helper()
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	port, err := strconv.Atoi(u.Port())
	if err != nil {
		t.Fatalf("parse server port: %v", err)
	}
	return model.Proxy{
		ID:          id,
		Host:        u.Hostname(),
		Port:        port,
		Protocol:    "http",
		Health:      proxy.HealthUnknown,
		SuccessRate: 0.5,
		Active:      true,
	}
}

func newTestProber(t *testing.T, cfg *config.RuntimeConfig) (*Prober, *proxy.Pool) {
	t.Helper()
	var rt atomic.Pointer[config.RuntimeConfig]
	rt.Store(cfg)
	pool := proxy.NewPool(&memRepo{proxies: make(map[string]model.Proxy)}, nopMarker{}, &rt)
	return NewProber(pool, nil, &rt, Options{Concurrency: 4}), pool
}

func probeConfig(targetURL string) *config.RuntimeConfig {
	cfg := config.NewDefaultRuntimeConfig()
	// Plain http target so the test server sees the proxied request
	// directly instead of a CONNECT tunnel.
	cfg.LatencyTestURL = targetURL
	cfg.ProbeTimeout = config.Duration(2 * time.Second)
	return cfg
}

func TestProberOptions(t *testing.T) {
	var rt atomic.Pointer[config.RuntimeConfig]
	rt.Store(config.NewDefaultRuntimeConfig())

	p := NewProber(nil, nil, &rt, Options{})
	if p.concurrency != 1 || p.interval != DefaultInterval || p.jitter != DefaultJitter {
		t.Fatalf("zero options not defaulted: concurrency=%d interval=%s jitter=%s", p.concurrency, p.interval, p.jitter)
	}

	p = NewProber(nil, nil, &rt, Options{Concurrency: 8, Interval: 90 * time.Second, Jitter: 5 * time.Second})
	if p.concurrency != 8 || p.interval != 90*time.Second || p.jitter != 5*time.Second {
		t.Fatalf("options not applied: concurrency=%d interval=%s jitter=%s", p.concurrency, p.interval, p.jitter)
	}
}

func TestProbeClassification(t *testing.T) {
	cases := []struct {
		name    string
		handler http.HandlerFunc
		want    string
	}{
		{
			name:    "healthy",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) },
			want:    proxy.HealthHealthy,
		},
		{
			name:    "blocked on 403",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusForbidden) },
			want:    proxy.HealthBlocked,
		},
		{
			name:    "blocked on 429",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusTooManyRequests) },
			want:    proxy.HealthBlocked,
		},
		{
			name:    "down on server error",
			handler: func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusBadGateway) },
			want:    proxy.HealthDown,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			srv := httptest.NewServer(tc.handler)
			defer srv.Close()

			prober, _ := newTestProber(t, probeConfig("http://checkpoint.invalid/generate_204"))
			res := prober.ProbeOne(context.Background(), proxyFromServer(t, srv, "px"))
			if res.Health != tc.want {
				t.Fatalf("expected %s, got %s (err=%v)", tc.want, res.Health, res.Err)
			}
		})
	}
}

func TestProbeSlowClassification(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		time.Sleep(50 * time.Millisecond)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	cfg := probeConfig("http://checkpoint.invalid/generate_204")
	cfg.ProxySlowLatencyThreshold = config.Duration(10 * time.Millisecond)
	prober, _ := newTestProber(t, cfg)

	res := prober.ProbeOne(context.Background(), proxyFromServer(t, srv, "px"))
	if res.Health != proxy.HealthSlow {
		t.Fatalf("expected slow, got %s", res.Health)
	}
	if res.Latency < 50*time.Millisecond {
		t.Fatalf("latency not measured: %v", res.Latency)
	}
}

func TestProbeUnreachableIsDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	px := proxyFromServer(t, srv, "px")
	srv.Close()

	prober, _ := newTestProber(t, probeConfig("http://checkpoint.invalid/generate_204"))
	res := prober.ProbeOne(context.Background(), px)
	if res.Health != proxy.HealthDown {
		t.Fatalf("expected down, got %s", res.Health)
	}
	if res.Err == nil {
		t.Fatal("expected dial error")
	}
}

func TestSweepReportsIntoPool(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	prober, pool := newTestProber(t, probeConfig("http://checkpoint.invalid/generate_204"))
	px := proxyFromServer(t, srv, "px")
	if err := pool.Add(px); err != nil {
		t.Fatalf("Add: %v", err)
	}

	prober.Sweep(context.Background())

	got, ok := pool.Get("px")
	if !ok {
		t.Fatal("proxy vanished from pool")
	}
	if got.Health != proxy.HealthHealthy {
		t.Fatalf("sweep did not mark healthy: %s", got.Health)
	}
	if got.SuccessRate <= 0.5 {
		t.Fatalf("success rate not nudged up: %v", got.SuccessRate)
	}
}
