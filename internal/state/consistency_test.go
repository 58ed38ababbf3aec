package state

import (
	"testing"

	"github.com/radar-hq/radar/internal/model"
)

func TestRepairConsistency_RemovesOrphans(t *testing.T) {
	stateDir := t.TempDir()
	cacheDir := t.TempDir()

	engine1, closer1, err := PersistenceBootstrap(stateDir, cacheDir)
	if err != nil {
		t.Fatal(err)
	}

	// Live references.
	if err := engine1.UpsertAccount(model.Account{
		ID: "a-live", Platform: "instagram", Username: "live",
		Priority: "medium", Status: "active",
		TagsJSON: "[]", CustomDataJSON: "{}", CreatedAtNs: 1, UpdatedAtNs: 1,
	}); err != nil {
		t.Fatal(err)
	}
	if err := engine1.UpsertProxy(model.Proxy{
		ID: "p-live", Host: "10.0.0.1", Port: 8080, Protocol: "http",
		Health: "healthy", SuccessRate: 1.0, Active: true, CreatedAtNs: 1,
	}); err != nil {
		t.Fatal(err)
	}

	// Cache rows: one set referencing the live account, one orphaned.
	if err := engine1.BulkUpsertSessionRecords([]model.SessionRecord{
		{AccountID: "a-live", Platform: "instagram", CookiesJSON: "[]", LocalStorageJSON: "{}", CreatedAtNs: 1, UpdatedAtNs: 1},
		{AccountID: "a-gone", Platform: "instagram", CookiesJSON: "[]", LocalStorageJSON: "{}", CreatedAtNs: 1, UpdatedAtNs: 1},
	}); err != nil {
		t.Fatal(err)
	}
	if err := engine1.BulkUpsertProxyBindings([]model.ProxyBinding{
		{AccountID: "a-live", ProxyID: "p-live", BoundAtNs: 1},
		{AccountID: "a-live2", ProxyID: "p-gone", BoundAtNs: 1}, // orphan proxy
		{AccountID: "a-gone", ProxyID: "p-live", BoundAtNs: 1},  // orphan account
	}); err != nil {
		t.Fatal(err)
	}
	closer1.Close()

	// Reboot runs RepairConsistency.
	engine2, closer2, err := PersistenceBootstrap(stateDir, cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	defer closer2.Close()

	records, err := engine2.LoadAllSessionRecords()
	if err != nil {
		t.Fatal(err)
	}
	if len(records) != 1 || records[0].AccountID != "a-live" {
		t.Fatalf("orphan session record survived: %+v", records)
	}

	bindings, err := engine2.LoadAllProxyBindings()
	if err != nil {
		t.Fatal(err)
	}
	if len(bindings) != 1 || bindings[0].AccountID != "a-live" {
		t.Fatalf("orphan proxy binding survived: %+v", bindings)
	}
}

func TestRepairConsistency_KeepsAnalyticsTables(t *testing.T) {
	stateDir := t.TempDir()
	cacheDir := t.TempDir()

	engine1, closer1, err := PersistenceBootstrap(stateDir, cacheDir)
	if err != nil {
		t.Fatal(err)
	}

	// No state references at all: slot stats and task history must survive.
	if err := engine1.BulkUpsertSlotStats([]model.SlotStat{
		{Platform: "instagram", Slot: "13:00", Samples: 7, RewardSum: 3.5, RewardMean: 0.5},
	}); err != nil {
		t.Fatal(err)
	}
	if err := engine1.InsertTaskRecords([]model.TaskRecord{
		{TaskID: "t1", AccountID: "ghost", Platform: "instagram", TaskType: "like",
			Priority: "medium", Status: "completed", ScheduledNs: 1, ExecutedNs: 1},
	}); err != nil {
		t.Fatal(err)
	}
	closer1.Close()

	engine2, closer2, err := PersistenceBootstrap(stateDir, cacheDir)
	if err != nil {
		t.Fatal(err)
	}
	defer closer2.Close()

	stats, err := engine2.LoadAllSlotStats()
	if err != nil {
		t.Fatal(err)
	}
	if len(stats) != 1 {
		t.Fatalf("slot stats removed by repair: %+v", stats)
	}

	tasks, err := engine2.QueryTaskRecords("", 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(tasks) != 1 {
		t.Fatalf("task history removed by repair: %+v", tasks)
	}
}
