// Package probe periodically checks proxy health by fetching a small
// no-content URL through each proxy and classifying the outcome.
package probe

import (
	"context"
	"fmt"
	"log"
	"net"
	"net/http"
	"net/netip"
	"net/url"
	"sync"
	"sync/atomic"
	"time"

	xproxy "golang.org/x/net/proxy"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/geoip"
	"github.com/radar-hq/radar/internal/model"
	"github.com/radar-hq/radar/internal/proxy"
	"github.com/radar-hq/radar/internal/scanloop"
)

// DefaultInterval is the sweep cadence between full pool probes.
const DefaultInterval = 5 * time.Minute

// DefaultJitter spreads sweeps so restarts do not align probe bursts.
const DefaultJitter = 30 * time.Second

// Options tunes the sweep loop. Zero values fall back to the defaults
// above; concurrency below one is clamped to one.
type Options struct {
	Concurrency int
	Interval    time.Duration
	Jitter      time.Duration
}

// Result is a single probe outcome.
type Result struct {
	ProxyID string
	Health  string
	Latency time.Duration
	Err     error
}

// Prober sweeps the proxy pool, reporting health back into it and filling
// in missing geo attribution.
type Prober struct {
	pool        *proxy.Pool
	geo         *geoip.Service
	runtime     *atomic.Pointer[config.RuntimeConfig]
	concurrency int

	interval time.Duration
	jitter   time.Duration
}

func NewProber(pool *proxy.Pool, geo *geoip.Service, runtime *atomic.Pointer[config.RuntimeConfig], opts Options) *Prober {
	if opts.Concurrency < 1 {
		opts.Concurrency = 1
	}
	if opts.Interval <= 0 {
		opts.Interval = DefaultInterval
	}
	if opts.Jitter <= 0 {
		opts.Jitter = DefaultJitter
	}
	return &Prober{
		pool:        pool,
		geo:         geo,
		runtime:     runtime,
		concurrency: opts.Concurrency,
		interval:    opts.Interval,
		jitter:      opts.Jitter,
	}
}

// Run sweeps until stopCh closes.
func (p *Prober) Run(stopCh <-chan struct{}) {
	scanloop.Run(stopCh, p.interval, p.jitter, func() {
		p.Sweep(context.Background())
	})
}

// Sweep probes every active proxy with bounded concurrency, then demotes
// healthy proxies that have gone stale.
func (p *Prober) Sweep(ctx context.Context) {
	targets := p.pool.List()
	sem := make(chan struct{}, p.concurrency)
	var wg sync.WaitGroup
	var probed, failed atomic.Int64

	for _, px := range targets {
		if !px.Active {
			continue
		}
		wg.Add(1)
		sem <- struct{}{}
		go func(px model.Proxy) {
			defer wg.Done()
			defer func() { <-sem }()

			res := p.ProbeOne(ctx, px)
			probed.Add(1)
			if res.Health != proxy.HealthHealthy {
				failed.Add(1)
			}
			if err := p.pool.ReportHealth(px.ID, res.Health, float64(res.Latency.Milliseconds())); err != nil {
				log.Printf("[probe] report health for %s: %v", px.ID, err)
			}
			p.fillCountry(px)
		}(px)
	}
	wg.Wait()

	demoted := p.pool.DemoteStale(time.Now())
	log.Printf("[probe] sweep done: probed=%d, unhealthy=%d, demoted=%d", probed.Load(), failed.Load(), demoted)
}

// ProbeOne classifies a single proxy: unreachable or erroring proxies are
// down, 403/429 responses mean the egress IP is blocked, responses slower
// than the latency threshold are slow, anything else is healthy.
func (p *Prober) ProbeOne(ctx context.Context, px model.Proxy) Result {
	cfg := p.runtime.Load()
	ctx, cancel := context.WithTimeout(ctx, cfg.ProbeTimeout.Std())
	defer cancel()

	client, err := clientFor(px, cfg.ProbeTimeout.Std())
	if err != nil {
		return Result{ProxyID: px.ID, Health: proxy.HealthDown, Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, cfg.LatencyTestURL, nil)
	if err != nil {
		return Result{ProxyID: px.ID, Health: proxy.HealthDown, Err: err}
	}

	start := time.Now()
	resp, err := client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Result{ProxyID: px.ID, Health: proxy.HealthDown, Latency: latency, Err: err}
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusForbidden || resp.StatusCode == http.StatusTooManyRequests:
		return Result{ProxyID: px.ID, Health: proxy.HealthBlocked, Latency: latency, Err: fmt.Errorf("probe status %d", resp.StatusCode)}
	case resp.StatusCode >= 400:
		return Result{ProxyID: px.ID, Health: proxy.HealthDown, Latency: latency, Err: fmt.Errorf("probe status %d", resp.StatusCode)}
	case latency >= cfg.ProxySlowLatencyThreshold.Std():
		return Result{ProxyID: px.ID, Health: proxy.HealthSlow, Latency: latency}
	default:
		return Result{ProxyID: px.ID, Health: proxy.HealthHealthy, Latency: latency}
	}
}

// clientFor builds an HTTP client that tunnels through the proxy. HTTP
// proxies go through Transport.Proxy; socks5 needs a dialer.
func clientFor(px model.Proxy, timeout time.Duration) (*http.Client, error) {
	transport := &http.Transport{DisableKeepAlives: true}

	switch px.Protocol {
	case "http", "https":
		proxyURL, err := url.Parse(proxy.URL(px))
		if err != nil {
			return nil, fmt.Errorf("proxy url: %w", err)
		}
		transport.Proxy = http.ProxyURL(proxyURL)
	case "socks5":
		var auth *xproxy.Auth
		if px.Username != "" {
			auth = &xproxy.Auth{User: px.Username, Password: px.Password}
		}
		dialer, err := xproxy.SOCKS5("tcp", proxy.Addr(px), auth, xproxy.Direct)
		if err != nil {
			return nil, fmt.Errorf("socks5 dialer: %w", err)
		}
		contextDialer, ok := dialer.(xproxy.ContextDialer)
		if !ok {
			return nil, fmt.Errorf("socks5 dialer for %s does not support context", proxy.Addr(px))
		}
		transport.DialContext = contextDialer.DialContext
	default:
		return nil, fmt.Errorf("unsupported proxy protocol %q", px.Protocol)
	}

	return &http.Client{Timeout: timeout, Transport: transport}, nil
}

// fillCountry attributes a country to proxies that lack one, resolving
// the endpoint host when it is not a literal IP.
func (p *Prober) fillCountry(px model.Proxy) {
	if p.geo == nil || px.Country != "" {
		return
	}
	addr, err := netip.ParseAddr(px.Host)
	if err != nil {
		ips, lookupErr := net.LookupIP(px.Host)
		if lookupErr != nil || len(ips) == 0 {
			return
		}
		addr, err = netip.ParseAddr(ips[0].String())
		if err != nil {
			return
		}
	}
	country := p.geo.Lookup(addr)
	if country == "" {
		return
	}
	if err := p.pool.SetCountry(px.ID, country); err != nil {
		log.Printf("[probe] set country for %s: %v", px.ID, err)
	}
}
