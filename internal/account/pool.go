package account

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/puzpuzpuz/xsync/v4"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
)

// ErrNoAccountAvailable means every account was filtered out by status,
// risk, or usage limits.
var ErrNoAccountAvailable = errors.New("account: no account available")

// ErrNotFound is returned for lookups of unknown account IDs.
var ErrNotFound = errors.New("account: not found")

// Repo is the strong-persist surface the pool writes accounts through.
// Satisfied by *state.StateRepo.
type Repo interface {
	UpsertAccount(a model.Account) error
	DeleteAccount(id string) error
}

// Stats summarizes the pool for the API layer.
type Stats struct {
	Total      int            `json:"total"`
	ByStatus   map[string]int `json:"by_status"`
	ByPlatform map[string]int `json:"by_platform"`
	AvgRisk    float64        `json:"avg_risk"`
}

// Pool is the concurrent account registry. Accounts are strong-persisted:
// every mutation writes through to the state repo.
type Pool struct {
	accounts *xsync.Map[string, model.Account]
	repo     Repo
	runtime  *atomic.Pointer[config.RuntimeConfig]
}

func NewPool(repo Repo, runtime *atomic.Pointer[config.RuntimeConfig]) *Pool {
	return &Pool{
		accounts: xsync.NewMap[string, model.Account](),
		repo:     repo,
		runtime:  runtime,
	}
}

func (p *Pool) cfg() *config.RuntimeConfig { return p.runtime.Load() }

// Bootstrap seeds the pool from persisted rows.
func (p *Pool) Bootstrap(accounts []model.Account) {
	for _, a := range accounts {
		p.accounts.Store(a.ID, a)
	}
	log.Printf("[account] bootstrapped pool: accounts=%d", len(accounts))
}

// Add registers an account, assigning defaults for missing fields.
func (p *Pool) Add(a model.Account) (model.Account, error) {
	if a.Platform == "" || a.Username == "" {
		return model.Account{}, fmt.Errorf("account: platform and username are required")
	}
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	if a.Status == "" {
		a.Status = StatusActive
	}
	if a.Priority == "" {
		a.Priority = PrioritySecondary
	}
	now := time.Now().UnixNano()
	if a.CreatedAtNs == 0 {
		a.CreatedAtNs = now
	}
	a.UpdatedAtNs = now
	if err := p.repo.UpsertAccount(a); err != nil {
		return model.Account{}, fmt.Errorf("persist account %s: %w", a.ID, err)
	}
	p.accounts.Store(a.ID, a)
	return a, nil
}

func (p *Pool) Remove(id string) error {
	if err := p.repo.DeleteAccount(id); err != nil {
		return fmt.Errorf("delete account %s: %w", id, err)
	}
	p.accounts.Delete(id)
	return nil
}

func (p *Pool) Get(id string) (model.Account, bool) {
	return p.accounts.Load(id)
}

func (p *Pool) List() []model.Account {
	out := make([]model.Account, 0, p.accounts.Size())
	p.accounts.Range(func(_ string, a model.Account) bool {
		out = append(out, a)
		return true
	})
	return out
}

func (p *Pool) Stats() Stats {
	s := Stats{ByStatus: make(map[string]int), ByPlatform: make(map[string]int)}
	var riskSum float64
	p.accounts.Range(func(_ string, a model.Account) bool {
		s.Total++
		s.ByStatus[a.Status]++
		s.ByPlatform[a.Platform]++
		riskSum += a.RiskScore
		return true
	})
	if s.Total > 0 {
		s.AvgRisk = riskSum / float64(s.Total)
	}
	return s
}

// SelectOptions tunes a single selection. Zero values fall back to the
// runtime config: a nil ExcludeRecent means the exclusion window applies,
// a non-positive MaxRiskScore means the configured ceiling.
type SelectOptions struct {
	Priority      string  `json:"priority,omitempty"`
	ExcludeRecent *bool   `json:"exclude_recent,omitempty"`
	MaxRiskScore  float64 `json:"max_risk_score,omitempty"`
}

func (o SelectOptions) excludeRecent() bool {
	return o.ExcludeRecent == nil || *o.ExcludeRecent
}

func (o SelectOptions) riskCeiling(cfg *config.RuntimeConfig) float64 {
	if o.MaxRiskScore > 0 {
		return o.MaxRiskScore
	}
	return cfg.MaxSelectableRisk
}

// Select picks the best available account for a platform: eligible
// accounts sorted by priority match, then risk, then daily usage, then
// hourly usage. Accounts used within the exclusion window are skipped
// unless doing so would leave nothing, in which case the window is
// waived rather than failing the request.
func (p *Pool) Select(platform string, opts SelectOptions) (model.Account, error) {
	cfg := p.cfg()
	now := time.Now()

	eligible := p.eligible(platform, cfg, opts.riskCeiling(cfg), now)
	if len(eligible) == 0 {
		return model.Account{}, ErrNoAccountAvailable
	}

	candidates := eligible
	if opts.excludeRecent() {
		cutoff := now.Add(-cfg.RecentUseExclusionWindow.Std()).UnixNano()
		rested := eligible[:0:0]
		for _, a := range eligible {
			if a.LastUsedNs < cutoff {
				rested = append(rested, a)
			}
		}
		if len(rested) > 0 {
			candidates = rested
		}
	}

	priority := opts.Priority
	sort.SliceStable(candidates, func(i, j int) bool {
		im, jm := candidates[i].Priority == priority, candidates[j].Priority == priority
		if im != jm {
			return im
		}
		if candidates[i].RiskScore != candidates[j].RiskScore {
			return candidates[i].RiskScore < candidates[j].RiskScore
		}
		if candidates[i].TodaysUsage != candidates[j].TodaysUsage {
			return candidates[i].TodaysUsage < candidates[j].TodaysUsage
		}
		return candidates[i].LastHourUsage < candidates[j].LastHourUsage
	})

	chosen := candidates[0]
	if err := p.markUsed(chosen.ID, now); err != nil {
		return model.Account{}, err
	}
	got, _ := p.accounts.Load(chosen.ID)
	return got, nil
}

// RandomPick returns a uniformly random eligible account, for callers
// that want spread instead of the usual ranking. Only the risk ceiling
// from opts applies; ranking options are ignored.
func (p *Pool) RandomPick(platform string, opts SelectOptions) (model.Account, error) {
	cfg := p.cfg()
	now := time.Now()
	eligible := p.eligible(platform, cfg, opts.riskCeiling(cfg), now)
	if len(eligible) == 0 {
		return model.Account{}, ErrNoAccountAvailable
	}
	chosen := eligible[rand.IntN(len(eligible))]
	if err := p.markUsed(chosen.ID, now); err != nil {
		return model.Account{}, err
	}
	got, _ := p.accounts.Load(chosen.ID)
	return got, nil
}

// eligible applies lazy usage resets and filters to active, under-limit
// accounts for the platform whose risk does not exceed maxRisk.
func (p *Pool) eligible(platform string, cfg *config.RuntimeConfig, maxRisk float64, now time.Time) []model.Account {
	var out []model.Account
	p.accounts.Range(func(id string, a model.Account) bool {
		if a.Platform != platform {
			return true
		}
		refreshed := p.refreshWindows(id, cfg, now)
		if refreshed.RiskScore > maxRisk {
			return true
		}
		if !canEngage(refreshed, cfg) {
			return true
		}
		out = append(out, refreshed)
		return true
	})
	return out
}

// refreshWindows applies the lazy daily/hourly resets and a risk
// recompute in place, persisting only when something changed.
func (p *Pool) refreshWindows(id string, cfg *config.RuntimeConfig, now time.Time) model.Account {
	var result model.Account
	var dirty bool
	p.accounts.Compute(id, func(a model.Account, loaded bool) (model.Account, xsync.ComputeOp) {
		if !loaded {
			return a, xsync.CancelOp
		}
		before := a
		resetUsageWindows(&a, now)
		a.RiskScore = riskScore(a, cfg, now)
		result = a
		if a == before {
			return a, xsync.CancelOp
		}
		dirty = true
		return a, xsync.UpdateOp
	})
	if dirty {
		if err := p.repo.UpsertAccount(result); err != nil {
			log.Printf("[account] persist window reset for %s: %v", id, err)
		}
	}
	return result
}

func (p *Pool) markUsed(id string, now time.Time) error {
	return p.mutate(id, func(a *model.Account) {
		a.LastUsedNs = now.UnixNano()
	})
}

// RecordEngagement books one engagement attempt against the account's
// usage windows and failure counters, then recomputes its risk.
func (p *Pool) RecordEngagement(id string, success bool) error {
	cfg := p.cfg()
	now := time.Now()
	return p.mutate(id, func(a *model.Account) {
		resetUsageWindows(a, now)
		a.TotalEngagements++
		if success {
			a.SuccessfulEngagements++
		} else {
			a.FailedEngagements++
		}
		a.TodaysUsage++
		a.LastHourUsage++
		a.LastUsedNs = now.UnixNano()
		a.RiskScore = riskScore(*a, cfg, now)
	})
}

// RecordOutcome books a full task outcome in one call: the session result
// always, the engagement result only when one was attempted.
func (p *Pool) RecordOutcome(id string, sessionOK bool, engagementOK *bool) error {
	if err := p.RecordSession(id, sessionOK); err != nil {
		return err
	}
	if engagementOK != nil {
		return p.RecordEngagement(id, *engagementOK)
	}
	return nil
}

// RecordSession books one session outcome.
func (p *Pool) RecordSession(id string, success bool) error {
	cfg := p.cfg()
	now := time.Now()
	return p.mutate(id, func(a *model.Account) {
		a.TotalSessions++
		if success {
			a.SuccessfulSessions++
		} else {
			a.FailedSessions++
		}
		a.RiskScore = riskScore(*a, cfg, now)
	})
}

// SetStatus transitions the account and recomputes risk under the new
// status base.
func (p *Pool) SetStatus(id, status string) error {
	cfg := p.cfg()
	now := time.Now()
	return p.mutate(id, func(a *model.Account) {
		a.Status = status
		a.RiskScore = riskScore(*a, cfg, now)
	})
}

// Quarantine sidelines the account and records why in its notes.
func (p *Pool) Quarantine(id, reason string) error {
	cfg := p.cfg()
	now := time.Now()
	return p.mutate(id, func(a *model.Account) {
		a.Status = StatusQuarantined
		if reason != "" {
			a.Notes = "Quarantined: " + reason
		}
		a.RiskScore = riskScore(*a, cfg, now)
	})
}

func (p *Pool) Reactivate(id string) error { return p.SetStatus(id, StatusActive) }

// mutate runs fn on the account under the map's per-key lock and writes
// the result through. UpdatedAt is bumped on every mutation.
func (p *Pool) mutate(id string, fn func(*model.Account)) error {
	var updated model.Account
	found := false
	p.accounts.Compute(id, func(a model.Account, loaded bool) (model.Account, xsync.ComputeOp) {
		if !loaded {
			return a, xsync.CancelOp
		}
		found = true
		fn(&a)
		a.UpdatedAtNs = time.Now().UnixNano()
		updated = a
		return a, xsync.UpdateOp
	})
	if !found {
		return ErrNotFound
	}
	if err := p.repo.UpsertAccount(updated); err != nil {
		return fmt.Errorf("persist account %s: %w", id, err)
	}
	return nil
}

// PruneInactive removes accounts unused past the inactivity horizon,
// unless they are still active. Returns the number pruned.
func (p *Pool) PruneInactive(now time.Time) int {
	cfg := p.cfg()
	cutoff := now.AddDate(0, 0, -cfg.AccountPruneInactiveDays).UnixNano()
	var stale []string
	p.accounts.Range(func(id string, a model.Account) bool {
		last := a.LastUsedNs
		if last == 0 {
			last = a.CreatedAtNs
		}
		if a.Status != StatusActive && last < cutoff {
			stale = append(stale, id)
		}
		return true
	})
	pruned := 0
	for _, id := range stale {
		if err := p.Remove(id); err != nil {
			log.Printf("[account] prune %s: %v", id, err)
			continue
		}
		pruned++
	}
	if pruned > 0 {
		log.Printf("[account] pruned %d inactive accounts", pruned)
	}
	return pruned
}
