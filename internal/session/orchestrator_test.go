package session

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/radar-hq/radar/internal/account"
	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/fingerprint"
	"github.com/radar-hq/radar/internal/model"
	"github.com/radar-hq/radar/internal/proxy"
)

// fakeRepo backs all three pools with in-memory maps.
type fakeRepo struct {
	mu           sync.Mutex
	accounts     map[string]model.Account
	proxies      map[string]model.Proxy
	fingerprints map[string]model.Fingerprint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		accounts:     make(map[string]model.Account),
		proxies:      make(map[string]model.Proxy),
		fingerprints: make(map[string]model.Fingerprint),
	}
}

func (r *fakeRepo) UpsertAccount(a model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.accounts[a.ID] = a
	return nil
}

func (r *fakeRepo) DeleteAccount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.accounts, id)
	return nil
}

func (r *fakeRepo) UpsertProxy(p model.Proxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.proxies[p.ID] = p
	return nil
}

func (r *fakeRepo) DeleteProxy(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.proxies, id)
	return nil
}

func (r *fakeRepo) UpsertFingerprint(f model.Fingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fingerprints[f.ID] = f
	return nil
}

func (r *fakeRepo) GetFingerprint(id string) (*model.Fingerprint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fingerprints[id]
	if !ok {
		return nil, fmt.Errorf("fingerprint %s not found", id)
	}
	return &f, nil
}

func (r *fakeRepo) ListFingerprints() ([]model.Fingerprint, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]model.Fingerprint, 0, len(r.fingerprints))
	for _, f := range r.fingerprints {
		out = append(out, f)
	}
	return out, nil
}

func (r *fakeRepo) DeleteFingerprint(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fingerprints, id)
	return nil
}

// fakeMarks records dirty-set calls from both the proxy pool and the
// orchestrator.
type fakeMarks struct {
	mu            sync.Mutex
	records       int
	recordDeletes int
	fpBindings    int
	fpDeletes     int
}

func (m *fakeMarks) MarkProxyBinding(string)       {}
func (m *fakeMarks) MarkProxyBindingDelete(string) {}

func (m *fakeMarks) MarkSessionRecord(string, string) {
	m.mu.Lock()
	m.records++
	m.mu.Unlock()
}

func (m *fakeMarks) MarkSessionRecordDelete(string, string) {
	m.mu.Lock()
	m.recordDeletes++
	m.mu.Unlock()
}

func (m *fakeMarks) MarkFingerprintBinding(string) {
	m.mu.Lock()
	m.fpBindings++
	m.mu.Unlock()
}

func (m *fakeMarks) MarkFingerprintBindingDelete(string) {
	m.mu.Lock()
	m.fpDeletes++
	m.mu.Unlock()
}

type fixture struct {
	orch     *Orchestrator
	accounts *account.Pool
	proxies  *proxy.Pool
	marks    *fakeMarks
	runtime  *atomic.Pointer[config.RuntimeConfig]
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	repo := newFakeRepo()
	marks := &fakeMarks{}
	runtime := &atomic.Pointer[config.RuntimeConfig]{}
	runtime.Store(config.NewDefaultRuntimeConfig())

	accounts := account.NewPool(repo, runtime)
	proxies := proxy.NewPool(repo, marks, runtime)
	fps := fingerprint.NewStore(repo, fingerprint.NewGenerator(), 128)
	orch := NewOrchestrator(accounts, proxies, fps, marks, runtime)
	return &fixture{orch: orch, accounts: accounts, proxies: proxies, marks: marks, runtime: runtime}
}

func (f *fixture) updateConfig(t *testing.T, mut func(*config.RuntimeConfig)) {
	t.Helper()
	cfg := *f.runtime.Load()
	mut(&cfg)
	f.runtime.Store(&cfg)
}

func (f *fixture) seedAccount(t *testing.T, id string) {
	t.Helper()
	_, err := f.accounts.Add(model.Account{
		ID:       id,
		Platform: "instagram",
		Username: "user_" + id,
	})
	if err != nil {
		t.Fatalf("seed account %s: %v", id, err)
	}
}

func (f *fixture) seedProxy(t *testing.T, id string) {
	t.Helper()
	err := f.proxies.Add(model.Proxy{
		ID:          id,
		Protocol:    "http",
		Host:        "198.51.100.1",
		Port:        8080,
		Health:      proxy.HealthHealthy,
		SuccessRate: 1.0,
		Active:      true,
	})
	if err != nil {
		t.Fatalf("seed proxy %s: %v", id, err)
	}
}

func TestCreateOrGetReturnsSingleton(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")

	const workers = 16
	ctxs := make([]*Context, workers)
	var wg sync.WaitGroup
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ctx, err := f.orch.CreateOrGet("acc1", "instagram")
			if err != nil {
				t.Errorf("CreateOrGet: %v", err)
				return
			}
			ctxs[i] = ctx
		}()
	}
	wg.Wait()

	for i := 1; i < workers; i++ {
		if ctxs[i] != ctxs[0] {
			t.Fatalf("worker %d got a different context", i)
		}
	}
	if f.orch.sessions.Size() != 1 {
		t.Fatalf("sessions = %d, want 1", f.orch.sessions.Size())
	}
	rec, ok := f.orch.Record("acc1", "instagram")
	if !ok {
		t.Fatal("no session record after create")
	}
	if rec.ProxyID != "px1" || rec.FingerprintID == "" {
		t.Fatalf("record = %+v, want proxy px1 and a fingerprint", rec)
	}
}

func TestCreateOrGetEnforcesPlatformLimit(t *testing.T) {
	f := newFixture(t)
	f.updateConfig(t, func(c *config.RuntimeConfig) { c.MaxSessionsPerPlatform = 1 })
	f.seedAccount(t, "acc1")
	f.seedAccount(t, "acc2")
	f.seedProxy(t, "px1")
	f.seedProxy(t, "px2")

	if _, err := f.orch.CreateOrGet("acc1", "instagram"); err != nil {
		t.Fatalf("first create: %v", err)
	}
	if _, err := f.orch.CreateOrGet("acc2", "instagram"); !errors.Is(err, ErrSessionLimit) {
		t.Fatalf("second create err = %v, want ErrSessionLimit", err)
	}
	// An existing session is still reachable at the cap.
	if _, err := f.orch.CreateOrGet("acc1", "instagram"); err != nil {
		t.Fatalf("re-get at cap: %v", err)
	}
}

func TestConcurrentCreatesRespectPlatformLimit(t *testing.T) {
	f := newFixture(t)
	const limit = 2
	f.updateConfig(t, func(c *config.RuntimeConfig) { c.MaxSessionsPerPlatform = limit })

	const workers = 8
	for i := range workers {
		f.seedAccount(t, fmt.Sprintf("acc%d", i))
		f.seedProxy(t, fmt.Sprintf("px%d", i))
	}

	var wg sync.WaitGroup
	var created, limited atomic.Int64
	for i := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.orch.CreateOrGet(fmt.Sprintf("acc%d", i), "instagram")
			switch {
			case err == nil:
				created.Add(1)
			case errors.Is(err, ErrSessionLimit):
				limited.Add(1)
			default:
				t.Errorf("CreateOrGet: %v", err)
			}
		}()
	}
	wg.Wait()

	if created.Load() != limit || limited.Load() != workers-limit {
		t.Fatalf("created=%d limited=%d, want %d/%d", created.Load(), limited.Load(), limit, workers-limit)
	}
	if n := f.orch.sessions.Size(); n != limit {
		t.Fatalf("sessions = %d, want %d", n, limit)
	}
}

func TestCreateOrGetUnknownAccount(t *testing.T) {
	f := newFixture(t)
	f.seedProxy(t, "px1")
	if _, err := f.orch.CreateOrGet("ghost", "instagram"); !errors.Is(err, ErrUnknownAccount) {
		t.Fatalf("err = %v, want ErrUnknownAccount", err)
	}
}

func TestFingerprintSurvivesCloseAndReopen(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")

	ctx, err := f.orch.CreateOrGet("acc1", "instagram")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fpID := ctx.Fingerprint().ID
	if fpID == "" {
		t.Fatal("no fingerprint on fresh context")
	}
	if ctx.Fingerprint().DeviceClass != fingerprint.Mobile {
		t.Fatalf("instagram fingerprint class = %s, want mobile", ctx.Fingerprint().DeviceClass)
	}

	if err := f.orch.Close("acc1", "instagram"); err != nil {
		t.Fatalf("close: %v", err)
	}
	ctx2, err := f.orch.CreateOrGet("acc1", "instagram")
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if ctx2.Fingerprint().ID != fpID {
		t.Fatalf("reopened fingerprint = %s, want %s", ctx2.Fingerprint().ID, fpID)
	}
}

func TestMarkErrorTriggersRecoveryAtThreshold(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")
	f.seedProxy(t, "px2")

	ctx, err := f.orch.CreateOrGet("acc1", "instagram")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	firstProxy := ctx.Proxy().ID

	threshold := f.runtime.Load().SessionErrorThreshold
	for i := 0; i < threshold; i++ {
		if err := f.orch.MarkError("acc1", "instagram"); err != nil {
			t.Fatalf("MarkError %d: %v", i, err)
		}
	}

	if got := ctx.Proxy().ID; got == firstProxy {
		t.Fatalf("proxy not rotated after recovery, still %s", got)
	}
	if ctx.Errors() != 0 {
		t.Fatalf("errors = %d after recovery, want 0", ctx.Errors())
	}
	rec, _ := f.orch.Record("acc1", "instagram")
	if rec.ProxyID != ctx.Proxy().ID {
		t.Fatalf("record proxy = %s, context proxy = %s", rec.ProxyID, ctx.Proxy().ID)
	}
}

func TestRecoverClosesSessionWhenNoProxyUsable(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")

	ctx, err := f.orch.CreateOrGet("acc1", "instagram")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	fpID := ctx.Fingerprint().ID

	// Drive the only proxy to down so both rotation and re-acquisition fail.
	if err := f.proxies.ReportHealth("px1", proxy.HealthDown, 0); err != nil {
		t.Fatalf("ReportHealth: %v", err)
	}
	if err := f.orch.Recover("acc1", "instagram"); err == nil {
		t.Fatal("Recover succeeded with no usable proxy")
	}
	if _, ok := f.orch.Get("acc1", "instagram"); ok {
		t.Fatal("session still live after failed recovery")
	}
	// The record survives close so the identity is reusable later.
	rec, ok := f.orch.Record("acc1", "instagram")
	if !ok || rec.FingerprintID != fpID {
		t.Fatalf("record after failed recovery = %+v, want fingerprint %s", rec, fpID)
	}
}

func TestSweepClosesIdleSessions(t *testing.T) {
	f := newFixture(t)
	f.updateConfig(t, func(c *config.RuntimeConfig) {
		c.SessionIdleTimeout = config.Duration(time.Millisecond)
	})
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")

	if _, err := f.orch.CreateOrGet("acc1", "instagram"); err != nil {
		t.Fatalf("create: %v", err)
	}
	time.Sleep(5 * time.Millisecond)
	f.orch.sweep()

	if _, ok := f.orch.Get("acc1", "instagram"); ok {
		t.Fatal("idle session still live after sweep")
	}
	if _, ok := f.orch.Record("acc1", "instagram"); !ok {
		t.Fatal("record dropped on idle close")
	}
}

func TestSweepRecoversUnhealthySessions(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")
	f.seedProxy(t, "px2")

	ctx, err := f.orch.CreateOrGet("acc1", "instagram")
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	firstProxy := ctx.Proxy().ID
	for i := 0; i < f.runtime.Load().SessionErrorThreshold; i++ {
		ctx.markError()
	}

	f.orch.sweep()

	if ctx.Proxy().ID == firstProxy {
		t.Fatal("sweep did not rotate unhealthy session's proxy")
	}
	if ctx.Errors() != 0 {
		t.Fatalf("errors = %d after sweep recovery, want 0", ctx.Errors())
	}
}

func TestCleanupExpiredRecords(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")

	now := time.Now()
	stale := now.AddDate(0, 0, -40).UnixNano()
	f.orch.Bootstrap([]model.SessionRecord{
		{AccountID: "old", Platform: "tiktok", LastUsedNs: stale},
		{AccountID: "acc1", Platform: "instagram", LastUsedNs: stale},
		{AccountID: "fresh", Platform: "tiktok", LastUsedNs: now.UnixNano()},
	}, nil)

	// acc1 has a live session, so its stale record must survive.
	if _, err := f.orch.CreateOrGet("acc1", "instagram"); err != nil {
		t.Fatalf("create: %v", err)
	}
	liveKey := Key{AccountID: "acc1", Platform: "instagram"}
	if r, ok := f.orch.records.Load(liveKey); ok {
		r.LastUsedNs = stale
		r.UpdatedAtNs = stale
		r.CreatedAtNs = stale
		f.orch.records.Store(liveKey, r)
	}

	removed := f.orch.CleanupExpiredRecords(now)
	if removed != 1 {
		t.Fatalf("removed = %d, want 1", removed)
	}
	if _, ok := f.orch.Record("old", "tiktok"); ok {
		t.Fatal("stale record not removed")
	}
	if _, ok := f.orch.Record("fresh", "tiktok"); !ok {
		t.Fatal("fresh record removed")
	}
	if _, ok := f.orch.Record("acc1", "instagram"); !ok {
		t.Fatal("live session's record removed")
	}
	f.marks.mu.Lock()
	deletes := f.marks.recordDeletes
	f.marks.mu.Unlock()
	if deletes != 1 {
		t.Fatalf("record delete marks = %d, want 1", deletes)
	}
}

func TestRecordLoginBooksCounters(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")

	if _, err := f.orch.CreateOrGet("acc1", "instagram"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.orch.RecordLogin("acc1", "instagram", true); err != nil {
		t.Fatalf("RecordLogin success: %v", err)
	}
	if err := f.orch.RecordLogin("acc1", "instagram", false); err != nil {
		t.Fatalf("RecordLogin failure: %v", err)
	}

	rec, _ := f.orch.Record("acc1", "instagram")
	if rec.LoginSuccessCount != 1 || rec.LoginFailureCount != 1 {
		t.Fatalf("login counters = %d/%d, want 1/1", rec.LoginSuccessCount, rec.LoginFailureCount)
	}
	if rec.LoggedIn {
		t.Fatal("LoggedIn true after a failed login")
	}
	acc, _ := f.accounts.Get("acc1")
	if acc.SuccessfulSessions != 1 || acc.FailedSessions != 1 {
		t.Fatalf("account session counters = %d/%d, want 1/1", acc.SuccessfulSessions, acc.FailedSessions)
	}
}

func TestSetBrowserState(t *testing.T) {
	f := newFixture(t)
	f.seedAccount(t, "acc1")
	f.seedProxy(t, "px1")

	if _, err := f.orch.CreateOrGet("acc1", "instagram"); err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := f.orch.SetBrowserState("acc1", "instagram", `[{"name":"sid"}]`, `{"k":"v"}`); err != nil {
		t.Fatalf("SetBrowserState: %v", err)
	}
	rec, _ := f.orch.Record("acc1", "instagram")
	if rec.CookiesJSON == "" || rec.LocalStorageJSON == "" {
		t.Fatalf("browser state not stored: %+v", rec)
	}
	if err := f.orch.SetBrowserState("ghost", "instagram", "", ""); !errors.Is(err, ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}
