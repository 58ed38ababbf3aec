package proxy

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/radar-hq/radar/internal/model"
)

// SmartProxy gateways. Residential supports country targeting and sticky
// sessions via the username; datacenter is a plain rotating endpoint.
var smartProxyEndpoints = map[string]struct {
	host string
	port int
}{
	"residential": {"gate.smartproxy.com", 7000},
	"datacenter":  {"dc.smartproxy.com", 20000},
}

type smartProxy struct {
	cfg       ProviderConfig
	proxyType string

	issued         atomic.Int64
	rotations      atomic.Int64
	validations    atomic.Int64
	validationFail atomic.Int64
}

func newSmartProxy(cfg ProviderConfig) (*smartProxy, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errMissingCredentials
	}
	proxyType := cfg.Zone
	if proxyType == "" {
		proxyType = "residential"
	}
	if _, ok := smartProxyEndpoints[proxyType]; !ok {
		return nil, fmt.Errorf("smartproxy: invalid proxy type %q", proxyType)
	}
	return &smartProxy{cfg: cfg, proxyType: proxyType}, nil
}

func (s *smartProxy) Name() string { return "smartproxy" }

func (s *smartProxy) GetOne(country, sessionID string) (model.Proxy, error) {
	endpoint := smartProxyEndpoints[s.proxyType]
	parts := []string{s.cfg.Username}
	cc := country
	if cc == "" {
		cc = s.cfg.Country
	}
	// Targeting options only exist on the residential gateway.
	if s.proxyType == "residential" {
		if cc != "" {
			parts = append(parts, "country-"+strings.ToLower(cc))
		}
		if sessionID != "" {
			parts = append(parts, "session-"+sessionID)
		}
	}

	s.issued.Add(1)
	return model.Proxy{
		ID:          fmt.Sprintf("smartproxy_%s_%s_%s", s.proxyType, orAny(cc), orRotating(sessionID)),
		Host:        endpoint.host,
		Port:        endpoint.port,
		Username:    strings.Join(parts, "-"),
		Password:    s.cfg.Password,
		Protocol:    "http",
		Country:     cc,
		Provider:    "smartproxy",
		Health:      HealthUnknown,
		SuccessRate: 1.0,
		Active:      true,
		CreatedAtNs: time.Now().UnixNano(),
	}, nil
}

func (s *smartProxy) GetBulk(count int, country string) ([]model.Proxy, error) {
	proxies := make([]model.Proxy, 0, count)
	for i := 0; i < count; i++ {
		sessionID := ""
		if s.proxyType == "residential" && count > 1 {
			sessionID = fmt.Sprintf("%s_%d", randomSessionID("bulk"), i)
		}
		p, err := s.GetOne(country, sessionID)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func (s *smartProxy) RotateSession(sessionID string) (model.Proxy, error) {
	s.rotations.Add(1)
	if s.proxyType == "residential" {
		return s.GetOne("", sessionID)
	}
	// Datacenter rotates per request already.
	return s.GetOne("", "")
}

func (s *smartProxy) Validate(ctx context.Context, p model.Proxy) (bool, time.Duration, error) {
	s.validations.Add(1)
	ok, latency, err := checkConnectivity(ctx, p, s.cfg.RequestTimeout)
	if !ok {
		s.validationFail.Add(1)
	}
	return ok, latency, err
}

func (s *smartProxy) UsageStats() Usage {
	return Usage{
		Provider:       "smartproxy",
		Zone:           s.proxyType,
		Issued:         s.issued.Load(),
		Rotations:      s.rotations.Load(),
		Validations:    s.validations.Load(),
		ValidationFail: s.validationFail.Load(),
	}
}
