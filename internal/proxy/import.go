package proxy

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/radar-hq/radar/internal/model"
)

// importEntry is one row of a YAML proxy list. Either url or host/port
// must be set; explicit fields win over the parsed url.
type importEntry struct {
	URL      string `yaml:"url,omitempty"`
	Host     string `yaml:"host,omitempty"`
	Port     int    `yaml:"port,omitempty"`
	Username string `yaml:"username,omitempty"`
	Password string `yaml:"password,omitempty"`
	Protocol string `yaml:"protocol,omitempty"`
	Country  string `yaml:"country,omitempty"`
	Provider string `yaml:"provider,omitempty"`
}

type importFile struct {
	Provider string        `yaml:"provider,omitempty"`
	Proxies  []importEntry `yaml:"proxies"`
}

// ParseYAML decodes a YAML proxy list. A file-level provider applies to
// entries that do not name their own.
func ParseYAML(data []byte) ([]model.Proxy, error) {
	var file importFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse proxy yaml: %w", err)
	}
	proxies := make([]model.Proxy, 0, len(file.Proxies))
	for i, entry := range file.Proxies {
		provider := entry.Provider
		if provider == "" {
			provider = file.Provider
		}
		p, err := entry.toProxy(provider)
		if err != nil {
			return nil, fmt.Errorf("proxy entry %d: %w", i, err)
		}
		proxies = append(proxies, p)
	}
	return proxies, nil
}

func (e importEntry) toProxy(provider string) (model.Proxy, error) {
	if e.URL != "" {
		p, err := FromURL(e.URL, provider)
		if err != nil {
			return model.Proxy{}, err
		}
		if e.Country != "" {
			p.Country = e.Country
		}
		return p, nil
	}
	if e.Host == "" || e.Port == 0 {
		return model.Proxy{}, fmt.Errorf("entry needs url or host and port")
	}
	protocol := e.Protocol
	if protocol == "" {
		protocol = "http"
	}
	if !supportedProtocols[protocol] {
		return model.Proxy{}, fmt.Errorf("unsupported proxy protocol %q", protocol)
	}
	return model.Proxy{
		ID:          uuid.NewString(),
		Host:        e.Host,
		Port:        e.Port,
		Username:    e.Username,
		Password:    e.Password,
		Protocol:    protocol,
		Country:     e.Country,
		Provider:    provider,
		Health:      HealthUnknown,
		SuccessRate: 1.0,
		Active:      true,
		CreatedAtNs: time.Now().UnixNano(),
	}, nil
}

// ParseFlat reads a one-URL-per-line proxy list. Blank lines and lines
// starting with # are skipped.
func ParseFlat(r io.Reader, provider string) ([]model.Proxy, error) {
	var proxies []model.Proxy
	scanner := bufio.NewScanner(r)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		p, err := FromURL(line, provider)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", lineNo, err)
		}
		proxies = append(proxies, p)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read proxy list: %w", err)
	}
	return proxies, nil
}

// Import adds parsed proxies to the pool, skipping duplicates of an
// already-registered endpoint. Returns the number actually added.
func (p *Pool) Import(proxies []model.Proxy) (int, error) {
	existing := make(map[string]bool)
	p.proxies.Range(func(_ string, px model.Proxy) bool {
		existing[endpointKey(px)] = true
		return true
	})
	added := 0
	for _, px := range proxies {
		key := endpointKey(px)
		if existing[key] {
			continue
		}
		if err := p.Add(px); err != nil {
			return added, err
		}
		existing[key] = true
		added++
	}
	return added, nil
}

// ExportYAML renders the pool back into the import format, credentials
// included.
func (p *Pool) ExportYAML() ([]byte, error) {
	entries := p.List()
	file := importFile{Proxies: make([]importEntry, 0, len(entries))}
	for _, px := range entries {
		file.Proxies = append(file.Proxies, importEntry{
			Host:     px.Host,
			Port:     px.Port,
			Username: px.Username,
			Password: px.Password,
			Protocol: px.Protocol,
			Country:  px.Country,
			Provider: px.Provider,
		})
	}
	return yaml.Marshal(file)
}

func endpointKey(p model.Proxy) string {
	return fmt.Sprintf("%s|%d|%s", p.Host, p.Port, p.Username)
}
