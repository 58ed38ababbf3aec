package task

import (
	"math/rand/v2"
	"time"

	"github.com/radar-hq/radar/internal/config"
)

// platformPacing tracks one platform's dispatch rhythm: rolling hour/day
// windows, burst accounting, and the consecutive-success run that forces
// a longer break. Guarded by the scheduler's mutex.
type platformPacing struct {
	nextAllowed time.Time

	hourStart time.Time
	hourCount int
	dayStart  time.Time
	dayCount  int

	burstCount int
	runLength  int

	cooldownUntil time.Time
}

// check reports whether the platform may dispatch now. When blocked it
// returns the earliest time the caller should try again.
func (p *platformPacing) check(rule config.PacingRule, now time.Time) (bool, time.Time) {
	p.rollWindows(now)

	if now.Before(p.cooldownUntil) {
		return false, p.cooldownUntil
	}
	if now.Before(p.nextAllowed) {
		return false, p.nextAllowed
	}
	if rule.HourlyLimit > 0 && p.hourCount >= rule.HourlyLimit {
		return false, p.hourStart.Add(time.Hour)
	}
	if rule.DailyLimit > 0 && p.dayCount >= rule.DailyLimit {
		return false, p.dayStart.Add(24 * time.Hour)
	}
	return true, time.Time{}
}

// recordDispatch books one dispatch: bumps the rolling windows, advances
// the randomized inter-action delay, and opens the burst cooldown when
// the burst is spent.
func (p *platformPacing) recordDispatch(rule config.PacingRule, now time.Time) {
	p.rollWindows(now)
	p.hourCount++
	p.dayCount++

	p.nextAllowed = now.Add(jitteredDelay(rule))

	if rule.BurstSize > 0 {
		p.burstCount++
		if p.burstCount >= rule.BurstSize {
			p.burstCount = 0
			if cd := rule.BurstCooldown.Std(); cd > 0 && now.Add(cd).After(p.cooldownUntil) {
				p.cooldownUntil = now.Add(cd)
			}
		}
	}
}

// recordOutcome maintains the consecutive-success run. A long enough run
// triggers a forced 5-10 minute break; any failure resets it.
func (p *platformPacing) recordOutcome(rule config.PacingRule, cfg *config.RuntimeConfig, success bool, now time.Time) {
	if !success {
		p.runLength = 0
		return
	}
	p.runLength++
	if rule.BurstSize > 0 && p.runLength >= rule.BurstSize {
		p.runLength = 0
		pause := runCooldown(cfg)
		if now.Add(pause).After(p.cooldownUntil) {
			p.cooldownUntil = now.Add(pause)
		}
	}
}

func (p *platformPacing) rollWindows(now time.Time) {
	if p.hourStart.IsZero() || now.Sub(p.hourStart) >= time.Hour {
		p.hourStart = now
		p.hourCount = 0
	}
	if p.dayStart.IsZero() || now.Sub(p.dayStart) >= 24*time.Hour {
		p.dayStart = now
		p.dayCount = 0
	}
}

// jitteredDelay randomizes the minimum inter-action delay inside the
// rule's jitter range so dispatch never falls into a fixed rhythm.
func jitteredDelay(rule config.PacingRule) time.Duration {
	base := rule.MinDelay.Std()
	if base <= 0 {
		return 0
	}
	lo, hi := rule.JitterRange[0], rule.JitterRange[1]
	if hi <= lo {
		return base
	}
	factor := lo + rand.Float64()*(hi-lo)
	return time.Duration(float64(base) * factor)
}

// runCooldown picks the forced-break duration uniformly between the
// configured bounds.
func runCooldown(cfg *config.RuntimeConfig) time.Duration {
	lo, hi := cfg.RunCooldownMin.Std(), cfg.RunCooldownMax.Std()
	if hi <= lo {
		return lo
	}
	return lo + time.Duration(rand.Int64N(int64(hi-lo)))
}
