package proxy

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
)

// ErrNoProxyAvailable is returned when every candidate is inactive or down.
var ErrNoProxyAvailable = errors.New("proxy: no proxy available")

// ErrNotFound is returned for lookups of unknown proxy IDs.
var ErrNotFound = errors.New("proxy: not found")

// Repo is the strong-persist surface the pool writes proxies through.
// Satisfied by *state.StateRepo.
type Repo interface {
	UpsertProxy(p model.Proxy) error
	DeleteProxy(id string) error
}

// BindingMarker flags account->proxy bindings dirty for the weak-persist
// flush cycle. Satisfied by *state.StateEngine.
type BindingMarker interface {
	MarkProxyBinding(accountID string)
	MarkProxyBindingDelete(accountID string)
}

// Stats is a point-in-time summary of the pool.
type Stats struct {
	Total    int            `json:"total"`
	Active   int            `json:"active"`
	Bound    int            `json:"bound"`
	ByHealth map[string]int `json:"by_health"`
}

// Pool is the concurrent proxy registry with account bindings.
//
// Proxies are strong-persisted: every mutation is written through to the
// state repo before the in-memory entry changes hands. Bindings are
// weak-persisted: mutations land in memory and are flagged dirty for the
// batch flusher.
type Pool struct {
	proxies  *xsync.Map[string, model.Proxy]
	bindings *xsync.Map[string, model.ProxyBinding]

	repo      Repo
	marks     BindingMarker
	runtime   *atomic.Pointer[config.RuntimeConfig]
	providers *Registry
}

func NewPool(repo Repo, marks BindingMarker, runtime *atomic.Pointer[config.RuntimeConfig]) *Pool {
	return &Pool{
		proxies:  xsync.NewMap[string, model.Proxy](),
		bindings: xsync.NewMap[string, model.ProxyBinding](),
		repo:     repo,
		marks:    marks,
		runtime:  runtime,
	}
}

func (p *Pool) cfg() *config.RuntimeConfig { return p.runtime.Load() }

// Bootstrap seeds the pool from persisted rows. Bindings referencing a
// proxy absent from the strong store are dropped rather than resurrected.
func (p *Pool) Bootstrap(proxies []model.Proxy, bindings []model.ProxyBinding) {
	for _, px := range proxies {
		p.proxies.Store(px.ID, px)
	}
	kept := 0
	for _, b := range bindings {
		if _, ok := p.proxies.Load(b.ProxyID); !ok {
			p.marks.MarkProxyBindingDelete(b.AccountID)
			continue
		}
		p.bindings.Store(b.AccountID, b)
		kept++
	}
	log.Printf("[proxy] bootstrapped pool: proxies=%d, bindings=%d", len(proxies), kept)
}

// Add persists and registers a proxy. The write-through happens first so a
// crash never leaves an entry that only exists in memory.
func (p *Pool) Add(px model.Proxy) error {
	if px.ID == "" {
		return fmt.Errorf("proxy: missing id for %s", Addr(px))
	}
	if px.Health == "" {
		px.Health = HealthUnknown
	}
	if err := p.repo.UpsertProxy(px); err != nil {
		return fmt.Errorf("persist proxy %s: %w", px.ID, err)
	}
	p.proxies.Store(px.ID, px)
	return nil
}

// Remove deletes a proxy and severs any bindings pointing at it.
func (p *Pool) Remove(id string) error {
	if err := p.repo.DeleteProxy(id); err != nil {
		return fmt.Errorf("delete proxy %s: %w", id, err)
	}
	p.proxies.Delete(id)
	p.bindings.Range(func(accountID string, b model.ProxyBinding) bool {
		if b.ProxyID == id {
			p.bindings.Delete(accountID)
			p.marks.MarkProxyBindingDelete(accountID)
		}
		return true
	})
	return nil
}

func (p *Pool) Get(id string) (model.Proxy, bool) {
	return p.proxies.Load(id)
}

func (p *Pool) List() []model.Proxy {
	out := make([]model.Proxy, 0, p.proxies.Size())
	p.proxies.Range(func(_ string, px model.Proxy) bool {
		out = append(out, px)
		return true
	})
	return out
}

func (p *Pool) Stats() Stats {
	s := Stats{ByHealth: make(map[string]int)}
	p.proxies.Range(func(_ string, px model.Proxy) bool {
		s.Total++
		if px.Active {
			s.Active++
		}
		s.ByHealth[px.Health]++
		return true
	})
	s.Bound = p.bindings.Size()
	return s
}

// Binding returns the current binding for an account, if any.
func (p *Pool) Binding(accountID string) (model.ProxyBinding, bool) {
	return p.bindings.Load(accountID)
}

// BindingSnapshot adapts Binding to the flush reader shape: nil means the
// binding was dropped and the flusher should delete the row.
func (p *Pool) BindingSnapshot(accountID string) *model.ProxyBinding {
	b, ok := p.bindings.Load(accountID)
	if !ok {
		return nil
	}
	return &b
}

// AcquireOptions target an unbound acquisition: an optional country
// filter, and sticky-session parameters forwarded to providers.
type AcquireOptions struct {
	Country   string `json:"country,omitempty"`
	Sticky    bool   `json:"sticky,omitempty"`
	SessionID string `json:"session_id,omitempty"`
}

// SetProviders attaches a provider registry used as the fallback source
// when the local pool cannot satisfy an acquisition.
func (p *Pool) SetProviders(reg *Registry) { p.providers = reg }

// AcquireAny returns the best usable proxy matching the options without
// binding it to an account. When the local pool has no match, configured
// providers are tried in turn and the issued proxy joins the pool.
func (p *Pool) AcquireAny(opts AcquireOptions) (model.Proxy, error) {
	candidates := p.usable("")
	if opts.Country != "" {
		filtered := candidates[:0:0]
		for _, px := range candidates {
			if strings.EqualFold(px.Country, opts.Country) {
				filtered = append(filtered, px)
			}
		}
		candidates = filtered
	}
	if len(candidates) > 0 {
		sortCandidates(candidates)
		p.touch(candidates[0].ID)
		return candidates[0], nil
	}

	if p.providers == nil {
		return model.Proxy{}, ErrNoProxyAvailable
	}
	sessionID := opts.SessionID
	if opts.Sticky && sessionID == "" {
		sessionID = randomSessionID("ses")
	}
	for _, name := range p.providers.Names() {
		provider, ok := p.providers.Get(name)
		if !ok {
			continue
		}
		px, err := provider.GetOne(opts.Country, sessionID)
		if err != nil {
			log.Printf("[proxy] provider %s acquisition failed: %v", name, err)
			continue
		}
		if err := p.Add(px); err != nil {
			return model.Proxy{}, err
		}
		log.Printf("[proxy] acquired %s from provider %s", px.ID, name)
		return px, nil
	}
	return model.Proxy{}, ErrNoProxyAvailable
}

// Acquire returns the proxy bound to an account, binding a fresh one when
// the account has none or its current proxy is unusable.
func (p *Pool) Acquire(accountID string) (model.Proxy, error) {
	if b, ok := p.bindings.Load(accountID); ok {
		if px, ok := p.proxies.Load(b.ProxyID); ok && px.Active && px.Health != HealthDown {
			p.touch(px.ID)
			return px, nil
		}
	}
	return p.rebind(accountID, "")
}

// Rotate force-binds the account to a different proxy, excluding the one
// it currently holds.
func (p *Pool) Rotate(accountID string) (model.Proxy, error) {
	exclude := ""
	if b, ok := p.bindings.Load(accountID); ok {
		exclude = b.ProxyID
	}
	px, err := p.rebind(accountID, exclude)
	if err != nil {
		return model.Proxy{}, err
	}
	log.Printf("[proxy] rotated account %s: %s -> %s", accountID, exclude, px.ID)
	return px, nil
}

// Unbind drops the account's binding without touching the proxy itself.
func (p *Pool) Unbind(accountID string) {
	if _, ok := p.bindings.LoadAndDelete(accountID); ok {
		p.marks.MarkProxyBindingDelete(accountID)
	}
}

func (p *Pool) rebind(accountID, excludeID string) (model.Proxy, error) {
	px, err := p.selectBest(excludeID)
	if err != nil {
		return model.Proxy{}, err
	}
	p.bindings.Store(accountID, model.ProxyBinding{
		AccountID: accountID,
		ProxyID:   px.ID,
		BoundAtNs: time.Now().UnixNano(),
	})
	p.marks.MarkProxyBinding(accountID)
	p.touch(px.ID)
	return px, nil
}

// selectBest picks the most attractive usable proxy: best health rank,
// then highest success rate, then least recently used. The exclusion is
// dropped when it would leave nothing to hand out.
func (p *Pool) selectBest(excludeID string) (model.Proxy, error) {
	candidates := p.usable(excludeID)
	if len(candidates) == 0 && excludeID != "" {
		candidates = p.usable("")
	}
	if len(candidates) == 0 {
		return model.Proxy{}, ErrNoProxyAvailable
	}
	sortCandidates(candidates)
	return candidates[0], nil
}

func sortCandidates(candidates []model.Proxy) {
	sort.Slice(candidates, func(i, j int) bool {
		ri, rj := rankOf(candidates[i].Health), rankOf(candidates[j].Health)
		if ri != rj {
			return ri < rj
		}
		if candidates[i].SuccessRate != candidates[j].SuccessRate {
			return candidates[i].SuccessRate > candidates[j].SuccessRate
		}
		return candidates[i].LastUsedNs < candidates[j].LastUsedNs
	})
}

func (p *Pool) usable(excludeID string) []model.Proxy {
	var out []model.Proxy
	p.proxies.Range(func(id string, px model.Proxy) bool {
		if id == excludeID || !px.Active || px.Health == HealthDown {
			return true
		}
		out = append(out, px)
		return true
	})
	return out
}

func (p *Pool) touch(id string) {
	p.proxies.Compute(id, func(px model.Proxy, loaded bool) (model.Proxy, xsync.ComputeOp) {
		if !loaded {
			return px, xsync.CancelOp
		}
		px.LastUsedNs = time.Now().UnixNano()
		return px, xsync.UpdateOp
	})
}

// ReportHealth records a probe or request outcome. The success rate is
// nudged rather than recomputed so one bad request cannot sink a proxy:
// healthy +0.01, slow -0.02, blocked/down -0.10, clamped to [0, 1].
func (p *Pool) ReportHealth(id, health string, responseTimeMs float64) error {
	cfg := p.cfg()
	var updated model.Proxy
	found := false
	p.proxies.Compute(id, func(px model.Proxy, loaded bool) (model.Proxy, xsync.ComputeOp) {
		if !loaded {
			return px, xsync.CancelOp
		}
		found = true
		px.Health = health
		px.LastUsedNs = time.Now().UnixNano()
		if responseTimeMs > 0 {
			px.ResponseTimeMs = responseTimeMs
		}
		switch health {
		case HealthHealthy:
			px.SuccessRate = clamp01(px.SuccessRate + cfg.ProxyNudgeHealthy)
		case HealthSlow:
			px.SuccessRate = clamp01(px.SuccessRate - cfg.ProxyNudgeSlow)
		case HealthBlocked, HealthDown:
			px.SuccessRate = clamp01(px.SuccessRate - cfg.ProxyNudgeFailure)
		}
		updated = px
		return px, xsync.UpdateOp
	})
	if !found {
		return ErrNotFound
	}
	if err := p.repo.UpsertProxy(updated); err != nil {
		return fmt.Errorf("persist proxy %s: %w", id, err)
	}
	return nil
}

// SetCountry fills in the geo attribution of a proxy, typically after a
// GeoIP lookup on its endpoint. No-op when the value is already set.
func (p *Pool) SetCountry(id, country string) error {
	if country == "" {
		return nil
	}
	var updated model.Proxy
	changed := false
	p.proxies.Compute(id, func(px model.Proxy, loaded bool) (model.Proxy, xsync.ComputeOp) {
		if !loaded || px.Country == country {
			return px, xsync.CancelOp
		}
		px.Country = country
		updated = px
		changed = true
		return px, xsync.UpdateOp
	})
	if !changed {
		return nil
	}
	if err := p.repo.UpsertProxy(updated); err != nil {
		return fmt.Errorf("persist proxy %s: %w", id, err)
	}
	return nil
}

// DemoteStale downgrades healthy proxies that have gone unprobed past the
// staleness window back to unknown, forcing a re-probe before reuse.
func (p *Pool) DemoteStale(now time.Time) int {
	cutoff := now.Add(-p.cfg().ProxyStaleAfter.Std()).UnixNano()
	demoted := 0
	var stale []model.Proxy
	p.proxies.Range(func(id string, px model.Proxy) bool {
		if px.Health == HealthHealthy && px.LastUsedNs > 0 && px.LastUsedNs < cutoff {
			stale = append(stale, px)
		}
		return true
	})
	for _, px := range stale {
		var updated model.Proxy
		changed := false
		p.proxies.Compute(px.ID, func(cur model.Proxy, loaded bool) (model.Proxy, xsync.ComputeOp) {
			if !loaded || cur.Health != HealthHealthy {
				return cur, xsync.CancelOp
			}
			cur.Health = HealthUnknown
			updated = cur
			changed = true
			return cur, xsync.UpdateOp
		})
		if !changed {
			continue
		}
		if err := p.repo.UpsertProxy(updated); err != nil {
			log.Printf("[proxy] persist stale demotion for %s: %v", px.ID, err)
			continue
		}
		demoted++
	}
	if demoted > 0 {
		log.Printf("[proxy] demoted %d stale proxies to unknown", demoted)
	}
	return demoted
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
