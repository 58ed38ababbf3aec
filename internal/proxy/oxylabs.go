package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/radar-hq/radar/internal/model"
)

// Oxylabs gateways. Country codes go into the username uppercased as
// cc-CC; sticky sessions as ses-ID.
var oxylabsEndpoints = map[string]struct {
	host string
	port int
}{
	"unblocker":   {"unblock.oxylabs.io", 60000},
	"residential": {"pr.oxylabs.io", 7777},
	"datacenter":  {"dc.pr.oxylabs.io", 8000},
}

type oxylabs struct {
	cfg       ProviderConfig
	proxyType string

	issued         atomic.Int64
	rotations      atomic.Int64
	validations    atomic.Int64
	validationFail atomic.Int64
}

func newOxylabs(cfg ProviderConfig) (*oxylabs, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errMissingCredentials
	}
	proxyType := cfg.Zone
	if proxyType == "" {
		proxyType = "unblocker"
	}
	if _, ok := oxylabsEndpoints[proxyType]; !ok {
		return nil, fmt.Errorf("oxylabs: invalid proxy type %q", proxyType)
	}
	return &oxylabs{cfg: cfg, proxyType: proxyType}, nil
}

func (o *oxylabs) Name() string { return "oxylabs" }

func (o *oxylabs) GetOne(country, sessionID string) (model.Proxy, error) {
	endpoint := oxylabsEndpoints[o.proxyType]
	parts := []string{o.cfg.Username}
	cc := country
	if cc == "" {
		cc = o.cfg.Country
	}
	if cc != "" {
		parts = append(parts, "cc-"+strings.ToUpper(cc))
	}
	if sessionID != "" {
		parts = append(parts, "ses-"+sessionID)
	}

	o.issued.Add(1)
	return model.Proxy{
		ID:          fmt.Sprintf("oxylabs_%s_%s_%s", o.proxyType, orAny(cc), orRotating(sessionID)),
		Host:        endpoint.host,
		Port:        endpoint.port,
		Username:    strings.Join(parts, "-"),
		Password:    o.cfg.Password,
		Protocol:    "http",
		Country:     cc,
		Provider:    "oxylabs",
		Health:      HealthUnknown,
		SuccessRate: 1.0,
		Active:      true,
		CreatedAtNs: time.Now().UnixNano(),
	}, nil
}

func (o *oxylabs) GetBulk(count int, country string) ([]model.Proxy, error) {
	proxies := make([]model.Proxy, 0, count)
	for i := 0; i < count; i++ {
		sessionID := fmt.Sprintf("%s_%d", randomSessionID("bulk"), i)
		p, err := o.GetOne(country, sessionID)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func (o *oxylabs) RotateSession(sessionID string) (model.Proxy, error) {
	o.rotations.Add(1)
	return o.GetOne("", sessionID)
}

func (o *oxylabs) Validate(ctx context.Context, p model.Proxy) (bool, time.Duration, error) {
	o.validations.Add(1)
	ok, latency, err := checkConnectivity(ctx, p, o.cfg.RequestTimeout)
	if !ok {
		o.validationFail.Add(1)
	}
	return ok, latency, err
}

func (o *oxylabs) UsageStats() Usage {
	return Usage{
		Provider:       "oxylabs",
		Zone:           o.proxyType,
		Issued:         o.issued.Load(),
		Rotations:      o.rotations.Load(),
		Validations:    o.validations.Load(),
		ValidationFail: o.validationFail.Load(),
	}
}
