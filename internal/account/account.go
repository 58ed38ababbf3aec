// Package account manages the identity pool: per-account usage windows,
// the risk model, and eligibility-ranked selection.
package account

import (
	"time"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
)

// Account lifecycle statuses. Only active accounts are selectable; the
// others carry increasing base risk in the risk model.
const (
	StatusActive      = "active"
	StatusInactive    = "inactive"
	StatusQuarantined = "quarantined"
	StatusSuspended   = "suspended"
	StatusBanned      = "banned"
)

// Priority tiers. Selection prefers accounts whose tier matches the
// request before falling back to the rest.
const (
	PriorityPrimary   = "primary"
	PrioritySecondary = "secondary"
	PriorityTertiary  = "tertiary"
	PriorityTest      = "test"
)

// resetUsageWindows lazily rolls the daily and hourly usage counters.
// The daily counter resets when the stored reset date is before today;
// the hourly counter when the stored clock hour differs from now.
func resetUsageWindows(a *model.Account, now time.Time) {
	day := time.Unix(0, a.LastResetDayNs)
	if a.LastResetDayNs == 0 || beforeDay(day, now) {
		a.TodaysUsage = 0
		a.LastResetDayNs = now.UnixNano()
	}
	hour := time.Unix(0, a.LastResetHourNs)
	if a.LastResetHourNs == 0 || hour.Hour() != now.Hour() || !sameDay(hour, now) {
		a.LastHourUsage = 0
		a.LastResetHourNs = now.UnixNano()
	}
}

func sameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}

func beforeDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	if ay != by {
		return ay < by
	}
	if am != bm {
		return am < bm
	}
	return ad < bd
}

func dailyLimit(a model.Account, cfg *config.RuntimeConfig) int {
	if a.DailyLimit > 0 {
		return a.DailyLimit
	}
	return cfg.DefaultDailyLimit
}

func hourlyLimit(a model.Account, cfg *config.RuntimeConfig) int {
	if a.HourlyLimit > 0 {
		return a.HourlyLimit
	}
	return cfg.DefaultHourlyLimit
}

// canEngage reports whether the account may take another engagement right
// now. Callers must have applied resetUsageWindows first.
func canEngage(a model.Account, cfg *config.RuntimeConfig) bool {
	if a.Status != StatusActive {
		return false
	}
	return a.TodaysUsage < dailyLimit(a, cfg) && a.LastHourUsage < hourlyLimit(a, cfg)
}

// riskScore combines engagement failures, session failures, how recently
// the account was used, and the status base risk into one [0, 1] score.
// Recent use is the risky direction: platforms watch bursts, so an
// account touched minutes ago scores near the full recency weight.
func riskScore(a model.Account, cfg *config.RuntimeConfig, now time.Time) float64 {
	var engagementFailure float64
	if a.TotalEngagements > 0 {
		engagementFailure = float64(a.FailedEngagements) / float64(a.TotalEngagements)
	}
	var sessionFailure float64
	if a.TotalSessions > 0 {
		sessionFailure = float64(a.FailedSessions) / float64(a.TotalSessions)
	}

	var recency float64
	if a.LastUsedNs > 0 {
		days := now.Sub(time.Unix(0, a.LastUsedNs)).Hours() / 24
		decay := float64(cfg.RiskRecencyDecayDays)
		if decay <= 0 {
			decay = 30
		}
		recency = 1 - days/decay
		if recency < 0 {
			recency = 0
		}
	}

	status := cfg.StatusBaseRisk[a.Status]

	score := cfg.RiskWeightEngagementFailure*engagementFailure +
		cfg.RiskWeightSessionFailure*sessionFailure +
		cfg.RiskWeightRecency*recency +
		cfg.RiskWeightStatus*status
	if score < 0 {
		return 0
	}
	if score > 1 {
		return 1
	}
	return score
}
