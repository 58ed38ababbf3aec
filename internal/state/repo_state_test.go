package state

import (
	"errors"
	"strings"
	"testing"

	"github.com/radar-hq/radar/internal/model"
)

func newTestStateRepo(t *testing.T) *StateRepo {
	t.Helper()
	engine := newTestEngine(t)
	return engine.StateRepo
}

func TestStateRepo_AccountCRUD(t *testing.T) {
	repo := newTestStateRepo(t)

	a := model.Account{
		ID: "a1", Platform: "instagram", Username: "user1",
		Priority: "high", Status: "active", RiskScore: 0.1,
		DailyLimit: 100, HourlyLimit: 20,
		TagsJSON: `["seed"]`, CustomDataJSON: "{}",
		CreatedAtNs: 1, UpdatedAtNs: 1,
	}
	if err := repo.UpsertAccount(a); err != nil {
		t.Fatal(err)
	}

	// Update in place.
	a.Status = "quarantined"
	a.RiskScore = 0.5
	if err := repo.UpsertAccount(a); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("ListAccounts returned %d rows, want 1", len(got))
	}
	if got[0].Status != "quarantined" || got[0].RiskScore != 0.5 {
		t.Fatalf("update not applied: %+v", got[0])
	}

	if err := repo.DeleteAccount("a1"); err != nil {
		t.Fatal(err)
	}
	got, err = repo.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Fatalf("account not deleted: %+v", got)
	}
}

func TestStateRepo_AccountUniquePlatformUsername(t *testing.T) {
	repo := newTestStateRepo(t)

	base := model.Account{
		Platform: "instagram", Username: "dup_user",
		Priority: "medium", Status: "active",
		TagsJSON: "[]", CustomDataJSON: "{}", CreatedAtNs: 1, UpdatedAtNs: 1,
	}

	a := base
	a.ID = "a1"
	if err := repo.UpsertAccount(a); err != nil {
		t.Fatal(err)
	}

	b := base
	b.ID = "a2"
	err := repo.UpsertAccount(b)
	if err == nil {
		t.Fatal("expected UNIQUE violation for duplicate (platform, username)")
	}
	if !strings.Contains(strings.ToUpper(err.Error()), "UNIQUE") {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestStateRepo_BulkUpsertAccounts(t *testing.T) {
	repo := newTestStateRepo(t)

	var accounts []model.Account
	for _, name := range []string{"u1", "u2", "u3"} {
		accounts = append(accounts, model.Account{
			ID: "id-" + name, Platform: "tiktok", Username: name,
			Priority: "medium", Status: "active",
			TagsJSON: "[]", CustomDataJSON: "{}", CreatedAtNs: 1, UpdatedAtNs: 1,
		})
	}
	if err := repo.BulkUpsertAccounts(accounts); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListAccounts()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d accounts, want 3", len(got))
	}
}

func TestStateRepo_ProxyCRUD(t *testing.T) {
	repo := newTestStateRepo(t)

	p := model.Proxy{
		ID: "p1", Host: "203.0.113.7", Port: 8080, Protocol: "http",
		Provider: "brightdata", Health: "unknown", SuccessRate: 1.0,
		Active: true, CreatedAtNs: 1,
	}
	if err := repo.UpsertProxy(p); err != nil {
		t.Fatal(err)
	}

	p.Health = "healthy"
	p.SuccessRate = 0.97
	if err := repo.UpsertProxy(p); err != nil {
		t.Fatal(err)
	}

	got, err := repo.ListProxies()
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 || got[0].Health != "healthy" || got[0].SuccessRate != 0.97 {
		t.Fatalf("proxy update not applied: %+v", got)
	}

	if err := repo.DeleteProxy("p1"); err != nil {
		t.Fatal(err)
	}
	got, _ = repo.ListProxies()
	if len(got) != 0 {
		t.Fatalf("proxy not deleted: %+v", got)
	}
}

func TestStateRepo_FingerprintUpsertOnlyMutatesUsage(t *testing.T) {
	repo := newTestStateRepo(t)

	f := model.Fingerprint{
		ID: "f1", DeviceClass: "desktop",
		UserAgent: "Mozilla/5.0", Timezone: "America/New_York", Language: "en-US", OSFamily: "Windows",
		ViewportWidth: 1920, ViewportHeight: 1080, ScreenWidth: 1920, ScreenHeight: 1080,
		ColorDepth: 24, PixelRatio: 1.0, HardwareConcurrency: 8, DeviceMemoryGB: 16,
		WebGLVendor: "Google Inc.", WebGLRenderer: "ANGLE",
		CanvasHash: "c1", CanvasWebGLHash: "w1", AudioHash: "a1",
		FontsJSON: "[]", PluginsJSON: "[]", CreatedAtNs: 1,
	}
	if err := repo.UpsertFingerprint(f); err != nil {
		t.Fatal(err)
	}

	// Second upsert with mutated attributes: only usage columns should change.
	f2 := f
	f2.UserAgent = "changed"
	f2.UsageCount = 5
	f2.LastUsedNs = 99
	if err := repo.UpsertFingerprint(f2); err != nil {
		t.Fatal(err)
	}

	got, err := repo.GetFingerprint("f1")
	if err != nil {
		t.Fatal(err)
	}
	if got.UserAgent != "Mozilla/5.0" {
		t.Fatalf("attribute mutated on upsert: %q", got.UserAgent)
	}
	if got.UsageCount != 5 || got.LastUsedNs != 99 {
		t.Fatalf("usage metadata not updated: %+v", got)
	}
}

func TestStateRepo_GetFingerprintNotFound(t *testing.T) {
	repo := newTestStateRepo(t)

	_, err := repo.GetFingerprint("missing")
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
