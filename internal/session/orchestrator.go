package session

import (
	"errors"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/radar-hq/radar/internal/account"
	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/fingerprint"
	"github.com/radar-hq/radar/internal/model"
	"github.com/radar-hq/radar/internal/proxy"
	"github.com/radar-hq/radar/internal/scanloop"
)

// ErrSessionLimit means the platform is at its concurrent-session cap.
// Callers fail fast instead of queueing.
var ErrSessionLimit = errors.New("session: per-platform session limit reached")

// ErrUnknownAccount means the session references an account the pool does
// not know.
var ErrUnknownAccount = errors.New("session: unknown account")

// ErrNotFound is returned when no live context exists for the key.
var ErrNotFound = errors.New("session: not found")

// RecordMarker flags session records and fingerprint bindings dirty for
// the weak-persist flush cycle. Satisfied by *state.StateEngine.
type RecordMarker interface {
	MarkSessionRecord(accountID, platform string)
	MarkSessionRecordDelete(accountID, platform string)
	MarkFingerprintBinding(accountID string)
	MarkFingerprintBindingDelete(accountID string)
}

// mobilePlatforms are served mobile fingerprints; everything else gets a
// desktop identity.
var mobilePlatforms = map[string]bool{
	"instagram":       true,
	"instagram_reels": true,
	"tiktok":          true,
}

// Orchestrator owns the live session registry and the durable per-account
// session records. One live context per (account, platform), enforced by
// the registry's per-key locking.
type Orchestrator struct {
	accounts     *account.Pool
	proxies      *proxy.Pool
	fingerprints *fingerprint.Store
	marks        RecordMarker
	runtime      *atomic.Pointer[config.RuntimeConfig]

	sessions   *xsync.Map[Key, *Context]
	records    *xsync.Map[Key, model.SessionRecord]
	fpBindings *xsync.Map[string, model.FingerprintBinding]

	// createMu serializes the cap check with session creation so racing
	// creates for different accounts cannot overshoot the platform limit.
	createMu sync.Mutex

	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	// sweepHook is called after every sweep; tests use it to observe the
	// background loop.
	sweepHook func()
}

func NewOrchestrator(
	accounts *account.Pool,
	proxies *proxy.Pool,
	fingerprints *fingerprint.Store,
	marks RecordMarker,
	runtime *atomic.Pointer[config.RuntimeConfig],
) *Orchestrator {
	return &Orchestrator{
		accounts:     accounts,
		proxies:      proxies,
		fingerprints: fingerprints,
		marks:        marks,
		runtime:      runtime,
		sessions:     xsync.NewMap[Key, *Context](),
		records:      xsync.NewMap[Key, model.SessionRecord](),
		fpBindings:   xsync.NewMap[string, model.FingerprintBinding](),
		stopCh:       make(chan struct{}),
	}
}

func (o *Orchestrator) cfg() *config.RuntimeConfig { return o.runtime.Load() }

// Bootstrap seeds the record and binding tables from persisted rows.
func (o *Orchestrator) Bootstrap(records []model.SessionRecord, bindings []model.FingerprintBinding) {
	for _, r := range records {
		o.records.Store(Key{AccountID: r.AccountID, Platform: r.Platform}, r)
	}
	for _, b := range bindings {
		o.fpBindings.Store(b.AccountID, b)
	}
	log.Printf("[session] bootstrapped: records=%d, fingerprint_bindings=%d", len(records), len(bindings))
}

// Start launches the background sweep loop.
func (o *Orchestrator) Start() {
	interval := o.cfg().SessionHealthInterval.Std()
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		scanloop.Run(o.stopCh, interval, interval/4, o.sweep)
	}()
}

// Stop halts the sweep loop and closes every live session, persisting
// their records.
func (o *Orchestrator) Stop() {
	o.stopOnce.Do(func() {
		close(o.stopCh)
		o.wg.Wait()
		o.CloseAll()
	})
}

// CreateOrGet returns the live context for the key, creating it when
// absent. Creation resolves the account, binds a proxy, reuses the bound
// fingerprint (generating one on first use), and loads persisted session
// state. Concurrent calls for the same key get the same context.
func (o *Orchestrator) CreateOrGet(accountID, platform string) (*Context, error) {
	key := Key{AccountID: accountID, Platform: platform}
	if ctx, ok := o.sessions.Load(key); ok {
		o.touchRecord(key)
		return ctx, nil
	}

	o.createMu.Lock()
	defer o.createMu.Unlock()
	if ctx, ok := o.sessions.Load(key); ok {
		o.touchRecord(key)
		return ctx, nil
	}
	if o.platformSessionCount(platform) >= o.cfg().MaxSessionsPerPlatform {
		return nil, fmt.Errorf("%w: %s", ErrSessionLimit, platform)
	}
	return o.create(key, "")
}

// create builds the context inside the registry's per-key critical
// section so two racing callers cannot both construct one.
func (o *Orchestrator) create(key Key, fingerprintID string) (*Context, error) {
	var result *Context
	var buildErr error
	o.sessions.Compute(key, func(cur *Context, loaded bool) (*Context, xsync.ComputeOp) {
		if loaded {
			result = cur
			return cur, xsync.CancelOp
		}
		ctx, err := o.build(key, fingerprintID)
		if err != nil {
			buildErr = err
			return nil, xsync.CancelOp
		}
		result = ctx
		return ctx, xsync.UpdateOp
	})
	if buildErr != nil {
		return nil, buildErr
	}
	o.touchRecord(key)
	return result, nil
}

func (o *Orchestrator) build(key Key, fingerprintID string) (*Context, error) {
	if _, ok := o.accounts.Get(key.AccountID); !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownAccount, key.AccountID)
	}

	px, err := o.proxies.Acquire(key.AccountID)
	if err != nil {
		return nil, fmt.Errorf("acquire proxy for %s: %w", key.AccountID, err)
	}

	fp, err := o.resolveFingerprint(key, fingerprintID)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	o.records.Compute(key, func(r model.SessionRecord, loaded bool) (model.SessionRecord, xsync.ComputeOp) {
		if !loaded {
			r = model.SessionRecord{
				AccountID:   key.AccountID,
				Platform:    key.Platform,
				CreatedAtNs: now.UnixNano(),
			}
		}
		r.ProxyID = px.ID
		r.FingerprintID = fp.ID
		r.UpdatedAtNs = now.UnixNano()
		return r, xsync.UpdateOp
	})
	o.marks.MarkSessionRecord(key.AccountID, key.Platform)

	log.Printf("[session] created context for %s/%s: proxy=%s, fingerprint=%s", key.AccountID, key.Platform, px.ID, fp.ID)
	return newContext(key.AccountID, key.Platform, px, fp, now), nil
}

// resolveFingerprint reuses, in order: an explicitly requested id, the
// record's previous fingerprint, the account's binding, or a freshly
// generated identity that is then bound to the account.
func (o *Orchestrator) resolveFingerprint(key Key, explicitID string) (*fingerprint.Fingerprint, error) {
	tryIDs := make([]string, 0, 3)
	if explicitID != "" {
		tryIDs = append(tryIDs, explicitID)
	}
	if r, ok := o.records.Load(key); ok && r.FingerprintID != "" {
		tryIDs = append(tryIDs, r.FingerprintID)
	}
	if b, ok := o.fpBindings.Load(key.AccountID); ok {
		tryIDs = append(tryIDs, b.FingerprintID)
	}
	for _, id := range tryIDs {
		fp, err := o.fingerprints.Get(id)
		if err != nil {
			continue
		}
		if err := o.fingerprints.MarkUsed(id); err != nil {
			log.Printf("[session] mark fingerprint %s used: %v", id, err)
		}
		o.bindFingerprint(key.AccountID, id)
		return fp, nil
	}

	class := fingerprint.Desktop
	if mobilePlatforms[key.Platform] {
		class = fingerprint.Mobile
	}
	fp, err := o.fingerprints.Generate(class)
	if err != nil {
		return nil, fmt.Errorf("generate fingerprint for %s: %w", key.AccountID, err)
	}
	o.bindFingerprint(key.AccountID, fp.ID)
	return fp, nil
}

func (o *Orchestrator) bindFingerprint(accountID, fingerprintID string) {
	changed := false
	o.fpBindings.Compute(accountID, func(b model.FingerprintBinding, loaded bool) (model.FingerprintBinding, xsync.ComputeOp) {
		if loaded && b.FingerprintID == fingerprintID {
			return b, xsync.CancelOp
		}
		changed = true
		return model.FingerprintBinding{
			AccountID:     accountID,
			FingerprintID: fingerprintID,
			BoundAtNs:     time.Now().UnixNano(),
		}, xsync.UpdateOp
	})
	if changed {
		o.marks.MarkFingerprintBinding(accountID)
	}
}

// touchRecord bumps the record's usage metadata on every checkout.
func (o *Orchestrator) touchRecord(key Key) {
	now := time.Now().UnixNano()
	o.records.Compute(key, func(r model.SessionRecord, loaded bool) (model.SessionRecord, xsync.ComputeOp) {
		if !loaded {
			return r, xsync.CancelOp
		}
		r.UsageCount++
		r.LastUsedNs = now
		r.UpdatedAtNs = now
		return r, xsync.UpdateOp
	})
	o.marks.MarkSessionRecord(key.AccountID, key.Platform)
}

// Get returns the live context for the key, if any.
func (o *Orchestrator) Get(accountID, platform string) (*Context, bool) {
	return o.sessions.Load(Key{AccountID: accountID, Platform: platform})
}

// List returns live contexts, optionally filtered by platform.
func (o *Orchestrator) List(platform string) []*Context {
	var out []*Context
	o.sessions.Range(func(_ Key, ctx *Context) bool {
		if platform == "" || ctx.Platform == platform {
			out = append(out, ctx)
		}
		return true
	})
	return out
}

func (o *Orchestrator) platformSessionCount(platform string) int {
	n := 0
	o.sessions.Range(func(_ Key, ctx *Context) bool {
		if ctx.Platform == platform {
			n++
		}
		return true
	})
	return n
}

// Close tears down the live context and persists its record.
func (o *Orchestrator) Close(accountID, platform string) error {
	key := Key{AccountID: accountID, Platform: platform}
	if _, ok := o.sessions.LoadAndDelete(key); !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, accountID, platform)
	}
	now := time.Now().UnixNano()
	o.records.Compute(key, func(r model.SessionRecord, loaded bool) (model.SessionRecord, xsync.ComputeOp) {
		if !loaded {
			return r, xsync.CancelOp
		}
		r.UpdatedAtNs = now
		return r, xsync.UpdateOp
	})
	o.marks.MarkSessionRecord(accountID, platform)
	log.Printf("[session] closed context for %s/%s", accountID, platform)
	return nil
}

// CloseAll closes every live context.
func (o *Orchestrator) CloseAll() {
	o.sessions.Range(func(key Key, _ *Context) bool {
		if err := o.Close(key.AccountID, key.Platform); err != nil {
			log.Printf("[session] close %s/%s: %v", key.AccountID, key.Platform, err)
		}
		return true
	})
}

// MarkError bumps the context's consecutive-error count. Crossing the
// threshold triggers the recovery ladder: rotate the proxy first; if
// rotation fails, recreate the session with the same fingerprint.
func (o *Orchestrator) MarkError(accountID, platform string) error {
	ctx, ok := o.Get(accountID, platform)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, accountID, platform)
	}
	if ctx.markError() >= o.cfg().SessionErrorThreshold {
		return o.Recover(accountID, platform)
	}
	return nil
}

// MarkSuccess clears the consecutive-error count.
func (o *Orchestrator) MarkSuccess(accountID, platform string) {
	if ctx, ok := o.Get(accountID, platform); ok {
		ctx.resetErrors()
		ctx.RecordActivity()
	}
}

// Recover attempts to bring an unhealthy session back: proxy rotation
// first (identity fully preserved), then recreation with the same
// fingerprint (identity preserved, egress changed).
func (o *Orchestrator) Recover(accountID, platform string) error {
	ctx, ok := o.Get(accountID, platform)
	if !ok {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, accountID, platform)
	}

	if px, err := o.proxies.Rotate(accountID); err == nil {
		ctx.setProxy(px)
		ctx.resetErrors()
		o.records.Compute(Key{AccountID: accountID, Platform: platform}, func(r model.SessionRecord, loaded bool) (model.SessionRecord, xsync.ComputeOp) {
			if !loaded {
				return r, xsync.CancelOp
			}
			r.ProxyID = px.ID
			r.UpdatedAtNs = time.Now().UnixNano()
			return r, xsync.UpdateOp
		})
		o.marks.MarkSessionRecord(accountID, platform)
		return nil
	}

	log.Printf("[session] proxy rotation failed for %s/%s, recreating session", accountID, platform)
	fingerprintID := ""
	if fp := ctx.Fingerprint(); fp != nil {
		fingerprintID = fp.ID
	}
	if err := o.Close(accountID, platform); err != nil {
		return err
	}
	_, err := o.create(Key{AccountID: accountID, Platform: platform}, fingerprintID)
	return err
}

// RotateProxy swaps the session's egress without touching its errors.
func (o *Orchestrator) RotateProxy(accountID, platform string) (model.Proxy, error) {
	ctx, ok := o.Get(accountID, platform)
	if !ok {
		return model.Proxy{}, fmt.Errorf("%w: %s/%s", ErrNotFound, accountID, platform)
	}
	px, err := o.proxies.Rotate(accountID)
	if err != nil {
		return model.Proxy{}, err
	}
	ctx.setProxy(px)
	return px, nil
}

// Record returns the durable session record for the key.
func (o *Orchestrator) Record(accountID, platform string) (model.SessionRecord, bool) {
	return o.records.Load(Key{AccountID: accountID, Platform: platform})
}

// RecordSnapshot adapts the record table to the flush reader shape.
func (o *Orchestrator) RecordSnapshot(key Key) *model.SessionRecord {
	r, ok := o.records.Load(key)
	if !ok {
		return nil
	}
	return &r
}

// FingerprintBindingSnapshot adapts the binding table to the flush
// reader shape.
func (o *Orchestrator) FingerprintBindingSnapshot(accountID string) *model.FingerprintBinding {
	b, ok := o.fpBindings.Load(accountID)
	if !ok {
		return nil
	}
	return &b
}

// SetBrowserState stores the serialized cookies and local storage for the
// session, typically called by the automator after each run.
func (o *Orchestrator) SetBrowserState(accountID, platform, cookiesJSON, localStorageJSON string) error {
	key := Key{AccountID: accountID, Platform: platform}
	found := false
	o.records.Compute(key, func(r model.SessionRecord, loaded bool) (model.SessionRecord, xsync.ComputeOp) {
		if !loaded {
			return r, xsync.CancelOp
		}
		found = true
		r.CookiesJSON = cookiesJSON
		r.LocalStorageJSON = localStorageJSON
		r.UpdatedAtNs = time.Now().UnixNano()
		return r, xsync.UpdateOp
	})
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, accountID, platform)
	}
	o.marks.MarkSessionRecord(accountID, platform)
	return nil
}

// RecordLogin books a login outcome into the session record and the
// account's session counters.
func (o *Orchestrator) RecordLogin(accountID, platform string, success bool) error {
	key := Key{AccountID: accountID, Platform: platform}
	found := false
	now := time.Now().UnixNano()
	o.records.Compute(key, func(r model.SessionRecord, loaded bool) (model.SessionRecord, xsync.ComputeOp) {
		if !loaded {
			return r, xsync.CancelOp
		}
		found = true
		if success {
			r.LoginSuccessCount++
			r.LoggedIn = true
			r.LastLoginNs = now
		} else {
			r.LoginFailureCount++
			r.LoggedIn = false
		}
		r.UpdatedAtNs = now
		return r, xsync.UpdateOp
	})
	if !found {
		return fmt.Errorf("%w: %s/%s", ErrNotFound, accountID, platform)
	}
	o.marks.MarkSessionRecord(accountID, platform)
	if err := o.accounts.RecordSession(accountID, success); err != nil {
		return err
	}
	return nil
}

// sweep closes idle sessions, recovers unhealthy ones, and expires old
// records. Errors are logged, never propagated: one bad iteration must
// not stop the loop.
func (o *Orchestrator) sweep() {
	cfg := o.cfg()
	now := time.Now()
	idleCutoff := now.Add(-cfg.SessionIdleTimeout.Std())

	o.sessions.Range(func(key Key, ctx *Context) bool {
		if ctx.LastActivity().Before(idleCutoff) {
			log.Printf("[session] closing idle context %s/%s", key.AccountID, key.Platform)
			if err := o.Close(key.AccountID, key.Platform); err != nil {
				log.Printf("[session] idle close %s/%s: %v", key.AccountID, key.Platform, err)
			}
			return true
		}
		if !ctx.Healthy(cfg.SessionErrorThreshold) {
			if err := o.Recover(key.AccountID, key.Platform); err != nil {
				log.Printf("[session] recover %s/%s: %v", key.AccountID, key.Platform, err)
			}
		}
		return true
	})

	o.CleanupExpiredRecords(now)
	if o.sweepHook != nil {
		o.sweepHook()
	}
}

// CleanupExpiredRecords drops session records unused past the retention
// horizon, skipping records with a live context. Returns the number
// removed.
func (o *Orchestrator) CleanupExpiredRecords(now time.Time) int {
	cutoff := now.AddDate(0, 0, -o.cfg().SessionRecordMaxAgeDays).UnixNano()
	var expired []Key
	o.records.Range(func(key Key, r model.SessionRecord) bool {
		if _, live := o.sessions.Load(key); live {
			return true
		}
		last := r.LastUsedNs
		if last == 0 {
			last = r.UpdatedAtNs
		}
		if last == 0 {
			last = r.CreatedAtNs
		}
		if last < cutoff {
			expired = append(expired, key)
		}
		return true
	})
	for _, key := range expired {
		o.records.Delete(key)
		o.marks.MarkSessionRecordDelete(key.AccountID, key.Platform)
	}
	if len(expired) > 0 {
		log.Printf("[session] expired %d stale session records", len(expired))
	}
	return len(expired)
}
