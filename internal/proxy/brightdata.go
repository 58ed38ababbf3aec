package proxy

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"time"

	"github.com/radar-hq/radar/internal/model"
)

// BrightData super-proxy gateway. Zone, country, and session affinity are
// all encoded into the username: customer-zone-NAME-country-CC-session-ID.
const (
	brightDataHost = "zproxy.lum-superproxy.io"
	brightDataPort = 22225
)

type brightData struct {
	cfg ProviderConfig

	issued         atomic.Int64
	rotations      atomic.Int64
	validations    atomic.Int64
	validationFail atomic.Int64
}

func newBrightData(cfg ProviderConfig) (*brightData, error) {
	if cfg.Username == "" || cfg.Password == "" {
		return nil, errMissingCredentials
	}
	if cfg.Zone == "" {
		return nil, errors.New("brightdata: zone is required")
	}
	return &brightData{cfg: cfg}, nil
}

func (b *brightData) Name() string { return "brightdata" }

func (b *brightData) GetOne(country, sessionID string) (model.Proxy, error) {
	parts := []string{b.cfg.Username, "zone-" + b.cfg.Zone}
	cc := country
	if cc == "" {
		cc = b.cfg.Country
	}
	if cc != "" {
		parts = append(parts, "country-"+strings.ToLower(cc))
	}
	if sessionID != "" {
		parts = append(parts, "session-"+sessionID)
	}

	b.issued.Add(1)
	return model.Proxy{
		ID:          fmt.Sprintf("brightdata_%s_%s_%s", b.cfg.Zone, orAny(cc), orRotating(sessionID)),
		Host:        brightDataHost,
		Port:        brightDataPort,
		Username:    strings.Join(parts, "-"),
		Password:    b.cfg.Password,
		Protocol:    "http",
		Country:     cc,
		Provider:    "brightdata",
		Health:      HealthUnknown,
		SuccessRate: 1.0,
		Active:      true,
		CreatedAtNs: time.Now().UnixNano(),
	}, nil
}

func (b *brightData) GetBulk(count int, country string) ([]model.Proxy, error) {
	proxies := make([]model.Proxy, 0, count)
	for i := 0; i < count; i++ {
		sessionID := ""
		if count > 1 {
			sessionID = fmt.Sprintf("%s_%d", randomSessionID("bulk"), i)
		}
		p, err := b.GetOne(country, sessionID)
		if err != nil {
			return nil, err
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func (b *brightData) RotateSession(sessionID string) (model.Proxy, error) {
	// The gateway re-resolves the session to a new egress IP; the same
	// session suffix is reused so downstream state keeps matching.
	b.rotations.Add(1)
	return b.GetOne("", sessionID)
}

func (b *brightData) Validate(ctx context.Context, p model.Proxy) (bool, time.Duration, error) {
	b.validations.Add(1)
	ok, latency, err := checkConnectivity(ctx, p, b.cfg.RequestTimeout)
	if !ok {
		b.validationFail.Add(1)
	}
	return ok, latency, err
}

func (b *brightData) UsageStats() Usage {
	return Usage{
		Provider:       "brightdata",
		Zone:           b.cfg.Zone,
		Issued:         b.issued.Load(),
		Rotations:      b.rotations.Load(),
		Validations:    b.validations.Load(),
		ValidationFail: b.validationFail.Load(),
	}
}

func orAny(s string) string {
	if s == "" {
		return "any"
	}
	return s
}

func orRotating(s string) string {
	if s == "" {
		return "rotating"
	}
	return s
}
