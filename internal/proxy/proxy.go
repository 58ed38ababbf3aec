// Package proxy maintains the egress proxy pool: concurrent registry,
// account bindings, health nudging, and upstream provider adapters.
package proxy

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/radar-hq/radar/internal/model"
)

// Health states a proxy can be in. Unknown is the initial state and the
// state stale proxies decay back to.
const (
	HealthHealthy = "healthy"
	HealthSlow    = "slow"
	HealthBlocked = "blocked"
	HealthDown    = "down"
	HealthUnknown = "unknown"
)

// healthRank orders proxies for selection: healthy first, then untested,
// then degraded states. Down is never selected but still ranks for sorting.
var healthRank = map[string]int{
	HealthHealthy: 0,
	HealthUnknown: 1,
	HealthSlow:    2,
	HealthBlocked: 3,
	HealthDown:    4,
}

func rankOf(health string) int {
	if r, ok := healthRank[health]; ok {
		return r
	}
	return len(healthRank)
}

var supportedProtocols = map[string]bool{
	"http":   true,
	"https":  true,
	"socks5": true,
}

// FromURL parses "protocol://[user:pass@]host:port" into a pool entry.
// The entry gets a fresh UUID, unknown health, and is active by default.
func FromURL(raw, provider string) (model.Proxy, error) {
	u, err := url.Parse(strings.TrimSpace(raw))
	if err != nil {
		return model.Proxy{}, fmt.Errorf("parse proxy url: %w", err)
	}
	if !supportedProtocols[u.Scheme] {
		return model.Proxy{}, fmt.Errorf("unsupported proxy protocol %q", u.Scheme)
	}
	host := u.Hostname()
	if host == "" {
		return model.Proxy{}, fmt.Errorf("proxy url %q has no host", raw)
	}
	portStr := u.Port()
	if portStr == "" {
		return model.Proxy{}, fmt.Errorf("proxy url %q has no port", raw)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil || port < 1 || port > 65535 {
		return model.Proxy{}, fmt.Errorf("proxy url %q has invalid port", raw)
	}

	p := model.Proxy{
		ID:          uuid.NewString(),
		Host:        host,
		Port:        port,
		Protocol:    u.Scheme,
		Provider:    provider,
		Health:      HealthUnknown,
		SuccessRate: 1.0,
		Active:      true,
		CreatedAtNs: time.Now().UnixNano(),
	}
	if u.User != nil {
		p.Username = u.User.Username()
		p.Password, _ = u.User.Password()
	}
	return p, nil
}

// URL renders a proxy back into dialable form, embedding credentials
// when present.
func URL(p model.Proxy) string {
	if p.Username != "" && p.Password != "" {
		return fmt.Sprintf("%s://%s:%s@%s:%d", p.Protocol, url.QueryEscape(p.Username), url.QueryEscape(p.Password), p.Host, p.Port)
	}
	return fmt.Sprintf("%s://%s:%d", p.Protocol, p.Host, p.Port)
}

// Addr returns the host:port endpoint without scheme or credentials.
func Addr(p model.Proxy) string {
	return fmt.Sprintf("%s:%d", p.Host, p.Port)
}
