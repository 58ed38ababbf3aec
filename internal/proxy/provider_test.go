package proxy

import (
	"strings"
	"testing"
)

func TestBrightDataUsernameFormat(t *testing.T) {
	p, err := NewProvider(ProviderConfig{
		Name: "brightdata", Username: "cust123", Password: "zp", Zone: "resi",
	})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}

	px, err := p.GetOne("US", "abc")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if px.Host != "zproxy.lum-superproxy.io" || px.Port != 22225 {
		t.Fatalf("unexpected endpoint: %s:%d", px.Host, px.Port)
	}
	if px.Username != "cust123-zone-resi-country-us-session-abc" {
		t.Fatalf("unexpected username: %s", px.Username)
	}
	if px.Password != "zp" || px.Protocol != "http" || px.Provider != "brightdata" {
		t.Fatalf("unexpected proxy: %+v", px)
	}

	// Rotating proxy without country or session.
	px, err = p.GetOne("", "")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if px.Username != "cust123-zone-resi" {
		t.Fatalf("unexpected rotating username: %s", px.Username)
	}
}

func TestBrightDataRequiredFields(t *testing.T) {
	if _, err := NewProvider(ProviderConfig{Name: "brightdata", Username: "c", Password: "p"}); err == nil {
		t.Fatal("expected error for missing zone")
	}
	if _, err := NewProvider(ProviderConfig{Name: "brightdata", Zone: "z"}); err == nil {
		t.Fatal("expected error for missing credentials")
	}
}

func TestSmartProxyEndpoints(t *testing.T) {
	resi, err := NewProvider(ProviderConfig{Name: "smartproxy", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	px, err := resi.GetOne("gb", "s1")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if px.Host != "gate.smartproxy.com" || px.Port != 7000 {
		t.Fatalf("unexpected residential endpoint: %s:%d", px.Host, px.Port)
	}
	if px.Username != "u-country-gb-session-s1" {
		t.Fatalf("unexpected username: %s", px.Username)
	}

	dc, err := NewProvider(ProviderConfig{Name: "smartproxy", Username: "u", Password: "p", Zone: "datacenter"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	px, err = dc.GetOne("gb", "s1")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if px.Host != "dc.smartproxy.com" || px.Port != 20000 {
		t.Fatalf("unexpected datacenter endpoint: %s:%d", px.Host, px.Port)
	}
	// Datacenter gateway carries no targeting options in the username.
	if px.Username != "u" {
		t.Fatalf("unexpected datacenter username: %s", px.Username)
	}

	if _, err := NewProvider(ProviderConfig{Name: "smartproxy", Username: "u", Password: "p", Zone: "mobile"}); err == nil {
		t.Fatal("expected error for invalid proxy type")
	}
}

func TestOxylabsUsernameFormat(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Name: "oxylabs", Username: "u", Password: "p", Zone: "residential"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	px, err := p.GetOne("de", "s9")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if px.Host != "pr.oxylabs.io" || px.Port != 7777 {
		t.Fatalf("unexpected endpoint: %s:%d", px.Host, px.Port)
	}
	if px.Username != "u-cc-DE-ses-s9" {
		t.Fatalf("unexpected username: %s", px.Username)
	}

	unblocker, err := NewProvider(ProviderConfig{Name: "oxylabs", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	px, err = unblocker.GetOne("", "")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if px.Host != "unblock.oxylabs.io" || px.Port != 60000 {
		t.Fatalf("unexpected unblocker endpoint: %s:%d", px.Host, px.Port)
	}

	dc, err := NewProvider(ProviderConfig{Name: "oxylabs", Username: "u", Password: "p", Zone: "datacenter"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	px, err = dc.GetOne("", "")
	if err != nil {
		t.Fatalf("GetOne: %v", err)
	}
	if px.Host != "dc.pr.oxylabs.io" || px.Port != 8000 {
		t.Fatalf("unexpected datacenter endpoint: %s:%d", px.Host, px.Port)
	}
}

func TestGetBulkDistinctSessions(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Name: "brightdata", Username: "c", Password: "p", Zone: "z"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	proxies, err := p.GetBulk(5, "us")
	if err != nil {
		t.Fatalf("GetBulk: %v", err)
	}
	if len(proxies) != 5 {
		t.Fatalf("expected 5 proxies, got %d", len(proxies))
	}
	seen := make(map[string]bool)
	for _, px := range proxies {
		if !strings.Contains(px.Username, "-session-") {
			t.Fatalf("bulk proxy missing sticky session: %s", px.Username)
		}
		if seen[px.Username] {
			t.Fatalf("duplicate bulk session: %s", px.Username)
		}
		seen[px.Username] = true
	}
}

func TestRotateSessionKeepsSessionID(t *testing.T) {
	p, err := NewProvider(ProviderConfig{Name: "oxylabs", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	px, err := p.RotateSession("keepme")
	if err != nil {
		t.Fatalf("RotateSession: %v", err)
	}
	if !strings.HasSuffix(px.Username, "-ses-keepme") {
		t.Fatalf("rotation lost session id: %s", px.Username)
	}
	if p.UsageStats().Rotations != 1 {
		t.Fatalf("rotation not counted: %+v", p.UsageStats())
	}
}

func TestProviderRegistry(t *testing.T) {
	reg := NewRegistry()
	p, err := NewProvider(ProviderConfig{Name: "smartproxy", Username: "u", Password: "p"})
	if err != nil {
		t.Fatalf("NewProvider: %v", err)
	}
	reg.Add(p)

	if got, ok := reg.Get("smartproxy"); !ok || got.Name() != "smartproxy" {
		t.Fatalf("registry lookup failed: %v %v", got, ok)
	}
	if names := reg.Names(); len(names) != 1 || names[0] != "smartproxy" {
		t.Fatalf("unexpected names: %v", names)
	}
	if !reg.Remove("smartproxy") {
		t.Fatal("remove reported missing provider")
	}
	if reg.Remove("smartproxy") {
		t.Fatal("double remove reported success")
	}

	if _, err := NewProvider(ProviderConfig{Name: "nosuch"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
}
