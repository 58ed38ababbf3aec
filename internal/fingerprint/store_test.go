package fingerprint

import (
	"errors"
	"sync"
	"testing"

	"github.com/radar-hq/radar/internal/model"
)

var errMissing = errors.New("not found")

// memRepo is an in-memory Repo with a call counter for read-through checks.
type memRepo struct {
	mu   sync.Mutex
	rows map[string]model.Fingerprint
	gets int
}

func newMemRepo() *memRepo {
	return &memRepo{rows: make(map[string]model.Fingerprint)}
}

func (r *memRepo) UpsertFingerprint(f model.Fingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rows[f.ID] = f
	return nil
}

func (r *memRepo) GetFingerprint(id string) (*model.Fingerprint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.gets++
	f, ok := r.rows[id]
	if !ok {
		return nil, errMissing
	}
	return &f, nil
}

func (r *memRepo) ListFingerprints() ([]model.Fingerprint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []model.Fingerprint
	for _, f := range r.rows {
		out = append(out, f)
	}
	return out, nil
}

func (r *memRepo) DeleteFingerprint(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rows, id)
	return nil
}

func (r *memRepo) getCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.gets
}

func TestStore_GenerateAndCacheHit(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, NewSeededGenerator(1), 64)

	f, err := store.Generate(Desktop)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := repo.rows[f.ID]; !ok {
		t.Fatal("fingerprint not persisted on generate")
	}

	// Two reads: both must come from cache, not the repo.
	for i := 0; i < 2; i++ {
		got, err := store.Get(f.ID)
		if err != nil {
			t.Fatal(err)
		}
		if got.ID != f.ID {
			t.Fatalf("got %s, want %s", got.ID, f.ID)
		}
	}
	if repo.getCount() != 0 {
		t.Fatalf("expected cache hits, repo was queried %d times", repo.getCount())
	}
}

func TestStore_ReadThroughOnMiss(t *testing.T) {
	repo := newMemRepo()
	gen := NewSeededGenerator(2)

	// Seed the repo directly, bypassing the store cache.
	seeded := gen.Generate(Mobile)
	m, err := seeded.ToModel()
	if err != nil {
		t.Fatal(err)
	}
	if err := repo.UpsertFingerprint(m); err != nil {
		t.Fatal(err)
	}

	store := NewStore(repo, gen, 64)
	got, err := store.Get(seeded.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.AttributeHash() != seeded.AttributeHash() {
		t.Fatal("read-through result differs from seeded fingerprint")
	}
	if repo.getCount() != 1 {
		t.Fatalf("repo queried %d times, want 1", repo.getCount())
	}

	// Subsequent reads are cached.
	if _, err := store.Get(seeded.ID); err != nil {
		t.Fatal(err)
	}
	if repo.getCount() != 1 {
		t.Fatalf("repo queried %d times after cached read, want 1", repo.getCount())
	}
}

func TestStore_MarkUsedPreservesAttributes(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, NewSeededGenerator(3), 64)

	f, err := store.Generate(Desktop)
	if err != nil {
		t.Fatal(err)
	}
	before := f.AttributeHash()

	for i := 0; i < 3; i++ {
		if err := store.MarkUsed(f.ID); err != nil {
			t.Fatal(err)
		}
	}

	got, err := store.Get(f.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.UsageCount != 3 {
		t.Fatalf("UsageCount = %d, want 3", got.UsageCount)
	}
	if got.LastUsedNs == 0 {
		t.Fatal("LastUsedNs not set")
	}
	if got.AttributeHash() != before {
		t.Fatal("attributes mutated by MarkUsed")
	}
}

func TestStore_Delete(t *testing.T) {
	repo := newMemRepo()
	store := NewStore(repo, NewSeededGenerator(4), 64)

	f, err := store.Generate(Desktop)
	if err != nil {
		t.Fatal(err)
	}
	if err := store.Delete(f.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := store.Get(f.ID); !errors.Is(err, errMissing) {
		t.Fatalf("err = %v, want repo miss after delete", err)
	}
}
