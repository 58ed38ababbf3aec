package fingerprint

import (
	"fmt"
	"sync"
	"time"

	"github.com/maypok86/otter"

	"github.com/radar-hq/radar/internal/model"
)

// Repo is the persistence surface the store needs. *state.StateRepo satisfies it.
type Repo interface {
	UpsertFingerprint(f model.Fingerprint) error
	GetFingerprint(id string) (*model.Fingerprint, error)
	ListFingerprints() ([]model.Fingerprint, error)
	DeleteFingerprint(id string) error
}

// Store persists fingerprints write-through and serves reads from a bounded
// otter cache. Fingerprint attributes never change after generation, so a
// cached entry can only go stale in its usage metadata.
type Store struct {
	repo  Repo
	gen   *Generator
	mu    sync.Mutex // serializes usage-metadata read-modify-write
	cache otter.Cache[string, *Fingerprint]
}

// NewStore creates a Store bounded to maxEntries cached fingerprints.
func NewStore(repo Repo, gen *Generator, maxEntries int) *Store {
	cache, err := otter.MustBuilder[string, *Fingerprint](maxEntries).
		Cost(func(_ string, _ *Fingerprint) uint32 { return 1 }).
		Build()
	if err != nil {
		panic("fingerprint: failed to create cache: " + err.Error())
	}
	return &Store{repo: repo, gen: gen, cache: cache}
}

// Generate creates, persists, and caches a new fingerprint.
func (s *Store) Generate(class DeviceClass) (*Fingerprint, error) {
	f := s.gen.Generate(class)
	m, err := f.ToModel()
	if err != nil {
		return nil, err
	}
	if err := s.repo.UpsertFingerprint(m); err != nil {
		return nil, fmt.Errorf("persist fingerprint %s: %w", f.ID, err)
	}
	s.cache.Set(f.ID, f)
	return f, nil
}

// Get returns a fingerprint by ID, reading through to the database on miss.
func (s *Store) Get(id string) (*Fingerprint, error) {
	if f, ok := s.cache.Get(id); ok {
		return f, nil
	}
	m, err := s.repo.GetFingerprint(id)
	if err != nil {
		return nil, err
	}
	f, err := FromModel(*m)
	if err != nil {
		return nil, err
	}
	s.cache.Set(id, f)
	return f, nil
}

// MarkUsed bumps the usage counter and last-used timestamp, write-through.
func (s *Store) MarkUsed(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	f, err := s.Get(id)
	if err != nil {
		return err
	}
	updated := *f
	updated.UsageCount++
	updated.LastUsedNs = time.Now().UnixNano()

	m, err := updated.ToModel()
	if err != nil {
		return err
	}
	if err := s.repo.UpsertFingerprint(m); err != nil {
		return fmt.Errorf("persist usage for fingerprint %s: %w", id, err)
	}
	s.cache.Set(id, &updated)
	return nil
}

// List returns all persisted fingerprints.
func (s *Store) List() ([]*Fingerprint, error) {
	models, err := s.repo.ListFingerprints()
	if err != nil {
		return nil, err
	}
	result := make([]*Fingerprint, 0, len(models))
	for i := range models {
		f, err := FromModel(models[i])
		if err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, nil
}

// Delete removes a fingerprint from the database and the cache.
func (s *Store) Delete(id string) error {
	if err := s.repo.DeleteFingerprint(id); err != nil {
		return err
	}
	s.cache.Delete(id)
	return nil
}
