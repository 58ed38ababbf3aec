package account

import (
	"testing"
	"time"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
)

func TestRiskScoreComponents(t *testing.T) {
	cfg := config.NewDefaultRuntimeConfig()
	now := time.Now()

	// A fresh active account carries no risk at all.
	if got := riskScore(model.Account{Status: StatusActive}, cfg, now); got != 0 {
		t.Fatalf("fresh account risk = %v, want 0", got)
	}

	// Engagement failures weigh 0.4: half failed -> 0.2.
	a := model.Account{Status: StatusActive, TotalEngagements: 10, FailedEngagements: 5}
	if got := riskScore(a, cfg, now); !near(got, 0.2) {
		t.Fatalf("engagement risk = %v, want 0.2", got)
	}

	// Session failures weigh 0.3: all failed -> 0.3.
	a = model.Account{Status: StatusActive, TotalSessions: 4, FailedSessions: 4}
	if got := riskScore(a, cfg, now); !near(got, 0.3) {
		t.Fatalf("session risk = %v, want 0.3", got)
	}

	// Status base risk weighs 0.1: banned -> 0.1.
	a = model.Account{Status: StatusBanned}
	if got := riskScore(a, cfg, now); !near(got, 0.1) {
		t.Fatalf("status risk = %v, want 0.1", got)
	}

	// An account used this instant takes the full recency weight.
	a = model.Account{Status: StatusActive, LastUsedNs: now.UnixNano()}
	if got := riskScore(a, cfg, now); !near(got, 0.2) {
		t.Fatalf("recency risk = %v, want 0.2", got)
	}

	// Recency decays linearly to zero over the decay window.
	a = model.Account{Status: StatusActive, LastUsedNs: now.AddDate(0, 0, -15).UnixNano()}
	if got := riskScore(a, cfg, now); !near(got, 0.1) {
		t.Fatalf("half-decayed recency risk = %v, want 0.1", got)
	}
	a = model.Account{Status: StatusActive, LastUsedNs: now.AddDate(0, 0, -60).UnixNano()}
	if got := riskScore(a, cfg, now); got != 0 {
		t.Fatalf("fully decayed recency risk = %v, want 0", got)
	}
}

func TestRiskScoreWorstCase(t *testing.T) {
	cfg := config.NewDefaultRuntimeConfig()
	now := time.Now()
	a := model.Account{
		Status:            StatusBanned,
		TotalEngagements:  10,
		FailedEngagements: 10,
		TotalSessions:     10,
		FailedSessions:    10,
		LastUsedNs:        now.UnixNano(),
	}
	if got := riskScore(a, cfg, now); !near(got, 1.0) {
		t.Fatalf("worst case risk = %v, want 1.0", got)
	}
}

func TestResetUsageWindows(t *testing.T) {
	now := time.Date(2026, 3, 10, 14, 30, 0, 0, time.UTC)

	a := model.Account{
		TodaysUsage:     40,
		LastHourUsage:   5,
		LastResetDayNs:  now.AddDate(0, 0, -1).UnixNano(),
		LastResetHourNs: now.Add(-2 * time.Hour).UnixNano(),
	}
	resetUsageWindows(&a, now)
	if a.TodaysUsage != 0 || a.LastHourUsage != 0 {
		t.Fatalf("expected both windows reset: %+v", a)
	}

	// Same hour of the same day: nothing resets.
	a = model.Account{
		TodaysUsage:     3,
		LastHourUsage:   2,
		LastResetDayNs:  now.UnixNano(),
		LastResetHourNs: now.Add(-10 * time.Minute).UnixNano(),
	}
	resetUsageWindows(&a, now)
	if a.TodaysUsage != 3 || a.LastHourUsage != 2 {
		t.Fatalf("windows reset too eagerly: %+v", a)
	}

	// Hour rolled over but day did not: only the hourly window resets.
	a = model.Account{
		TodaysUsage:     3,
		LastHourUsage:   2,
		LastResetDayNs:  now.UnixNano(),
		LastResetHourNs: now.Add(-90 * time.Minute).UnixNano(),
	}
	resetUsageWindows(&a, now)
	if a.TodaysUsage != 3 {
		t.Fatalf("daily window reset on hour rollover: %+v", a)
	}
	if a.LastHourUsage != 0 {
		t.Fatalf("hourly window survived rollover: %+v", a)
	}

	// Same clock hour on a different day still resets both.
	a = model.Account{
		TodaysUsage:     3,
		LastHourUsage:   2,
		LastResetDayNs:  now.AddDate(0, 0, -1).UnixNano(),
		LastResetHourNs: now.AddDate(0, 0, -1).UnixNano(),
	}
	resetUsageWindows(&a, now)
	if a.TodaysUsage != 0 || a.LastHourUsage != 0 {
		t.Fatalf("day-old windows survived: %+v", a)
	}
}

func TestCanEngageLimits(t *testing.T) {
	cfg := config.NewDefaultRuntimeConfig()

	a := model.Account{Status: StatusActive}
	if !canEngage(a, cfg) {
		t.Fatal("fresh active account should be able to engage")
	}

	a = model.Account{Status: StatusActive, TodaysUsage: cfg.DefaultDailyLimit}
	if canEngage(a, cfg) {
		t.Fatal("daily limit not enforced")
	}

	a = model.Account{Status: StatusActive, LastHourUsage: cfg.DefaultHourlyLimit}
	if canEngage(a, cfg) {
		t.Fatal("hourly limit not enforced")
	}

	// Explicit per-account limits override the defaults.
	a = model.Account{Status: StatusActive, DailyLimit: 2, TodaysUsage: 2}
	if canEngage(a, cfg) {
		t.Fatal("per-account daily limit not enforced")
	}

	a = model.Account{Status: StatusQuarantined}
	if canEngage(a, cfg) {
		t.Fatal("non-active account should not engage")
	}
}

func near(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 1e-9
}
