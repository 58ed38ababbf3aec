package history

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
	"github.com/radar-hq/radar/internal/state"
)

type memSink struct {
	mu       sync.Mutex
	records  []model.TaskRecord
	cutoffNs int64
	failNext bool
}

func (s *memSink) InsertTaskRecords(records []model.TaskRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		s.failNext = false
		return errors.New("disk full")
	}
	s.records = append(s.records, records...)
	return nil
}

func (s *memSink) TrimTaskHistory(cutoffNs int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cutoffNs = cutoffNs
	return 0, nil
}

func (s *memSink) QueryTaskRecords(platform string, limit int) ([]model.TaskRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []model.TaskRecord
	for _, rec := range s.records {
		if platform == "" || rec.Platform == platform {
			out = append(out, rec)
		}
	}
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *memSink) QueryTaskStats(int64) ([]state.TaskStats, error) { return nil, nil }

func (s *memSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func (s *memSink) ids() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, 0, len(s.records))
	for _, rec := range s.records {
		out = append(out, rec.TaskID)
	}
	return out
}

func testRuntime() *atomic.Pointer[config.RuntimeConfig] {
	p := &atomic.Pointer[config.RuntimeConfig]{}
	p.Store(config.NewDefaultRuntimeConfig())
	return p
}

func rec(id string) model.TaskRecord {
	return model.TaskRecord{TaskID: id, Platform: "instagram", Status: "success"}
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met within 2s")
}

func TestFlushOnBatchSize(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, testRuntime(), 64, 3, time.Hour)
	r.Start()
	defer r.Stop()

	r.Record(rec("a"))
	r.Record(rec("b"))
	r.Record(rec("c"))

	waitFor(t, func() bool { return sink.count() == 3 })
}

func TestStopDrainsQueue(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, testRuntime(), 64, 100, time.Hour)
	r.Start()
	r.Record(rec("a"))
	r.Record(rec("b"))
	r.Stop()

	if got := sink.count(); got != 2 {
		t.Fatalf("persisted = %d after Stop, want 2", got)
	}
}

func TestOverflowDropsOldest(t *testing.T) {
	sink := &memSink{}
	r := NewRecorder(sink, testRuntime(), 2, 100, time.Hour)

	r.Record(rec("a"))
	r.Record(rec("b"))
	r.Record(rec("c"))

	if got := r.Dropped(); got != 1 {
		t.Fatalf("dropped = %d, want 1", got)
	}
	r.Start()
	r.Stop()

	ids := sink.ids()
	if len(ids) != 2 || ids[0] != "b" || ids[1] != "c" {
		t.Fatalf("persisted ids = %v, want [b c]", ids)
	}
}

func TestFlushFailureKeepsBatch(t *testing.T) {
	sink := &memSink{failNext: true}
	r := NewRecorder(sink, testRuntime(), 64, 3, time.Hour)

	batch := []model.TaskRecord{rec("a"), rec("b")}
	kept := r.flush(batch)
	if len(kept) != 2 {
		t.Fatalf("kept = %d after failed flush, want 2", len(kept))
	}
	kept = r.flush(kept)
	if len(kept) != 0 {
		t.Fatalf("kept = %d after retry, want 0", len(kept))
	}
	if got := sink.count(); got != 2 {
		t.Fatalf("persisted = %d, want 2", got)
	}
}

func TestTrimUsesRetention(t *testing.T) {
	sink := &memSink{}
	runtime := testRuntime()
	r := NewRecorder(sink, runtime, 64, 100, time.Hour)

	now := time.Now()
	if _, err := r.Trim(now); err != nil {
		t.Fatalf("Trim: %v", err)
	}
	want := now.Add(-runtime.Load().TaskHistoryRetention.Std()).UnixNano()
	sink.mu.Lock()
	got := sink.cutoffNs
	sink.mu.Unlock()
	if got != want {
		t.Fatalf("cutoff = %d, want %d", got, want)
	}
}
