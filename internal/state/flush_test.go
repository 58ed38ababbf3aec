package state

import (
	"testing"
	"time"

	"github.com/radar-hq/radar/internal/model"
)

func testSlotReaders(store map[SlotStatDirtyKey]*model.SlotStat) CacheReaders {
	return CacheReaders{
		ReadSessionRecord:      func(SessionDirtyKey) *model.SessionRecord { return nil },
		ReadProxyBinding:       func(string) *model.ProxyBinding { return nil },
		ReadFingerprintBinding: func(string) *model.FingerprintBinding { return nil },
		ReadSlotStat:           func(k SlotStatDirtyKey) *model.SlotStat { return store[k] },
	}
}

func TestFlushWorker_ThresholdTriggered(t *testing.T) {
	engine := newTestEngine(t)

	store := map[SlotStatDirtyKey]*model.SlotStat{
		{Platform: "instagram", Slot: "13:00"}: {Platform: "instagram", Slot: "13:00", Samples: 1},
		{Platform: "instagram", Slot: "19:00"}: {Platform: "instagram", Slot: "19:00", Samples: 2},
		{Platform: "tiktok", Slot: "13:00"}:    {Platform: "tiktok", Slot: "13:00", Samples: 3},
	}

	// Threshold = 2, interval very long, check tick short.
	w := NewCacheFlushWorker(
		engine,
		testSlotReaders(store),
		func() int { return 2 },
		func() time.Duration { return 1 * time.Hour },
		50*time.Millisecond,
	)
	w.Start()

	engine.MarkSlotStat("instagram", "13:00")
	engine.MarkSlotStat("instagram", "19:00")
	engine.MarkSlotStat("tiktok", "13:00")

	// Wait for flush cycle.
	time.Sleep(300 * time.Millisecond)

	if dc := engine.DirtyCount(); dc != 0 {
		t.Fatalf("expected dirty count 0 after threshold flush, got %d", dc)
	}

	stats, _ := engine.LoadAllSlotStats()
	if len(stats) != 3 {
		t.Fatalf("expected 3 slot stats in DB, got %d", len(stats))
	}

	w.Stop()
}

func TestFlushWorker_PeriodicTriggered(t *testing.T) {
	engine := newTestEngine(t)

	store := map[SlotStatDirtyKey]*model.SlotStat{
		{Platform: "instagram", Slot: "13:00"}: {Platform: "instagram", Slot: "13:00", Samples: 1},
	}

	// Threshold very high (won't trigger), interval short (will trigger).
	w := NewCacheFlushWorker(
		engine,
		testSlotReaders(store),
		func() int { return 10000 },
		func() time.Duration { return 100 * time.Millisecond },
		50*time.Millisecond,
	)
	w.Start()

	engine.MarkSlotStat("instagram", "13:00")

	// Wait longer than interval for periodic flush.
	time.Sleep(400 * time.Millisecond)

	if dc := engine.DirtyCount(); dc != 0 {
		t.Fatalf("expected dirty count 0 after periodic flush, got %d", dc)
	}

	w.Stop()
}

func TestFlushWorker_FinalFlushOnStop(t *testing.T) {
	engine := newTestEngine(t)

	store := map[SlotStatDirtyKey]*model.SlotStat{
		{Platform: "tiktok", Slot: "19:00"}: {Platform: "tiktok", Slot: "19:00", Samples: 4},
	}

	// Neither threshold nor interval will trigger before Stop.
	w := NewCacheFlushWorker(
		engine,
		testSlotReaders(store),
		func() int { return 10000 },
		func() time.Duration { return 1 * time.Hour },
		1*time.Hour,
	)
	w.Start()

	engine.MarkSlotStat("tiktok", "19:00")
	w.Stop()

	if dc := engine.DirtyCount(); dc != 0 {
		t.Fatalf("expected dirty count 0 after final flush, got %d", dc)
	}
	stats, _ := engine.LoadAllSlotStats()
	if len(stats) != 1 {
		t.Fatalf("expected 1 slot stat in DB, got %d", len(stats))
	}
}
