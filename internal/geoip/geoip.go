// Package geoip provides country lookup for proxy egress classification,
// backed by a local MaxMind-format database with hot reload.
package geoip

import (
	"fmt"
	"log"
	"net/netip"
	"os"
	"sync"
	"time"

	"github.com/oschwald/maxminddb-golang"
)

// countryRecord is the minimal MMDB decode target for country lookups.
type countryRecord struct {
	Country struct {
		ISOCode string `maxminddb:"iso_code"`
	} `maxminddb:"country"`
}

// Service provides country lookup with hot-reloading via RWMutex.
// A Service with no database loaded answers "" for every lookup, so proxy
// classification degrades gracefully when no MMDB file is configured.
type Service struct {
	mu     sync.RWMutex
	reader *maxminddb.Reader // nil until first load

	dbPath   string
	reloadMu sync.Mutex // serializes Reload calls
}

// NewService creates a GeoIP service for the database at dbPath.
// The database is not opened until Start.
func NewService(dbPath string) *Service {
	return &Service{dbPath: dbPath}
}

// Start loads the database if the file exists. A missing file is not an
// error: lookups return "" until a Reload succeeds.
func (s *Service) Start() error {
	if s.dbPath == "" {
		return nil
	}
	if _, err := os.Stat(s.dbPath); err != nil {
		if os.IsNotExist(err) {
			log.Printf("[geoip] no database at %s, country classification disabled", s.dbPath)
			return nil
		}
		return fmt.Errorf("geoip: stat %s: %w", s.dbPath, err)
	}
	return s.Reload()
}

// Reload re-opens the database file and swaps the reader.
// Safe for concurrent lookups: RLock holders finish before the old
// reader is closed.
func (s *Service) Reload() error {
	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	newReader, err := maxminddb.Open(s.dbPath)
	if err != nil {
		return fmt.Errorf("geoip: open %s: %w", s.dbPath, err)
	}

	s.mu.Lock()
	old := s.reader
	s.reader = newReader
	s.mu.Unlock()
	if old != nil {
		old.Close()
	}
	log.Printf("[geoip] loaded database %s", s.dbPath)
	return nil
}

// Stop closes the reader.
func (s *Service) Stop() {
	s.mu.Lock()
	r := s.reader
	s.reader = nil
	s.mu.Unlock()
	if r != nil {
		r.Close()
	}
}

// Lookup returns the ISO country code for the given IP, or "" when the
// database is absent or has no record for the address.
func (s *Service) Lookup(ip netip.Addr) string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.reader == nil || !ip.IsValid() {
		return ""
	}
	var rec countryRecord
	if err := s.reader.Lookup(ip.AsSlice(), &rec); err != nil {
		return ""
	}
	return rec.Country.ISOCode
}

// LastUpdated returns the modification time of the database file.
func (s *Service) LastUpdated() time.Time {
	if s.dbPath == "" {
		return time.Time{}
	}
	info, err := os.Stat(s.dbPath)
	if err != nil {
		return time.Time{}
	}
	return info.ModTime()
}
