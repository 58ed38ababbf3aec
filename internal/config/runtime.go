package config

import "time"

// PacingRule bounds how fast tasks may run against a single platform.
type PacingRule struct {
	MinDelay      Duration   `json:"min_delay"`
	BurstSize     int        `json:"burst_size"`
	BurstCooldown Duration   `json:"burst_cooldown"`
	DailyLimit    int        `json:"daily_limit"`
	HourlyLimit   int        `json:"hourly_limit"`
	JitterRange   [2]float64 `json:"jitter_range"`
}

// Stagger is a per-platform minute offset window added to scheduled slot
// times so that platforms never fire at the exact same wall-clock minute.
type Stagger struct {
	MinMinutes int `json:"min_minutes"`
	MaxMinutes int `json:"max_minutes"`
}

// SlotPolicy drives epsilon-greedy posting-slot selection.
type SlotPolicy struct {
	Slots             []string           `json:"slots"`
	OptionalLateSlot  string             `json:"optional_late_slot"`
	EnableLateSlot    bool               `json:"enable_late_slot"`
	Epsilon           float64            `json:"epsilon"`
	BootstrapWeeks    int                `json:"bootstrap_weeks"`
	MinSamplesPerSlot int                `json:"min_samples_per_slot"`
	MinGap            Duration           `json:"min_gap"`
	JitterMinMinutes  int                `json:"jitter_min_minutes"`
	JitterMaxMinutes  int                `json:"jitter_max_minutes"`
	SkipWeekends      bool               `json:"skip_weekends"`
	Staggers          map[string]Stagger `json:"staggers"`
}

// RuntimeConfig holds all hot-updatable global settings.
// Served and patched via /api/v1/system/config; swapped atomically as a whole.
type RuntimeConfig struct {
	// Account risk model
	RiskWeightEngagementFailure float64            `json:"risk_weight_engagement_failure"`
	RiskWeightSessionFailure    float64            `json:"risk_weight_session_failure"`
	RiskWeightRecency           float64            `json:"risk_weight_recency"`
	RiskWeightStatus            float64            `json:"risk_weight_status"`
	RiskRecencyDecayDays        int                `json:"risk_recency_decay_days"`
	StatusBaseRisk              map[string]float64 `json:"status_base_risk"`
	MaxSelectableRisk           float64            `json:"max_selectable_risk"`
	RecentUseExclusionWindow    Duration           `json:"recent_use_exclusion_window"`

	// Account usage
	DefaultDailyLimit        int `json:"default_daily_limit"`
	DefaultHourlyLimit       int `json:"default_hourly_limit"`
	AccountPruneInactiveDays int `json:"account_prune_inactive_days"`

	// Proxy health
	ProxyNudgeHealthy         float64  `json:"proxy_nudge_healthy"`
	ProxyNudgeSlow            float64  `json:"proxy_nudge_slow"`
	ProxyNudgeFailure         float64  `json:"proxy_nudge_failure"`
	ProxyStaleAfter           Duration `json:"proxy_stale_after"`
	ProxySlowLatencyThreshold Duration `json:"proxy_slow_latency_threshold"`

	// Probe
	LatencyTestURL string   `json:"latency_test_url"`
	ProbeTimeout   Duration `json:"probe_timeout"`

	// Sessions
	MaxSessionsPerPlatform  int      `json:"max_sessions_per_platform"`
	SessionIdleTimeout      Duration `json:"session_idle_timeout"`
	SessionHealthInterval   Duration `json:"session_health_interval"`
	SessionErrorThreshold   int      `json:"session_error_threshold"`
	SessionRecordMaxAgeDays int      `json:"session_record_max_age_days"`

	// Scheduler
	RetryBackoffBase Duration              `json:"retry_backoff_base"`
	MaxRetries       int                   `json:"max_retries"`
	RunCooldownMin   Duration              `json:"run_cooldown_min"`
	RunCooldownMax   Duration              `json:"run_cooldown_max"`
	PacingRules      map[string]PacingRule `json:"pacing_rules"`
	DefaultPacing    PacingRule            `json:"default_pacing"`

	// Slot selection
	SlotPolicy SlotPolicy `json:"slot_policy"`

	// Reward shaping
	RewardLongWindowWeight  float64 `json:"reward_long_window_weight"`
	RewardShortWindowWeight float64 `json:"reward_short_window_weight"`

	// Persistence
	CacheFlushInterval       Duration `json:"cache_flush_interval"`
	CacheFlushDirtyThreshold int      `json:"cache_flush_dirty_threshold"`
	TaskHistoryRetention     Duration `json:"task_history_retention"`
}

// NewDefaultRuntimeConfig returns a RuntimeConfig populated with the stock
// heuristics. Every value here can be overridden at runtime via the API.
func NewDefaultRuntimeConfig() *RuntimeConfig {
	return &RuntimeConfig{
		RiskWeightEngagementFailure: 0.4,
		RiskWeightSessionFailure:    0.3,
		RiskWeightRecency:           0.2,
		RiskWeightStatus:            0.1,
		RiskRecencyDecayDays:        30,
		StatusBaseRisk: map[string]float64{
			"active":      0.0,
			"inactive":    0.2,
			"quarantined": 0.5,
			"suspended":   0.8,
			"banned":      1.0,
		},
		MaxSelectableRisk:        0.7,
		RecentUseExclusionWindow: Duration(30 * time.Minute),

		DefaultDailyLimit:        100,
		DefaultHourlyLimit:       20,
		AccountPruneInactiveDays: 90,

		ProxyNudgeHealthy:         0.01,
		ProxyNudgeSlow:            0.02,
		ProxyNudgeFailure:         0.10,
		ProxyStaleAfter:           Duration(24 * time.Hour),
		ProxySlowLatencyThreshold: Duration(3 * time.Second),

		LatencyTestURL: "https://www.gstatic.com/generate_204",
		ProbeTimeout:   Duration(15 * time.Second),

		MaxSessionsPerPlatform:  5,
		SessionIdleTimeout:      Duration(30 * time.Minute),
		SessionHealthInterval:   Duration(60 * time.Second),
		SessionErrorThreshold:   3,
		SessionRecordMaxAgeDays: 30,

		RetryBackoffBase: Duration(60 * time.Second),
		MaxRetries:       3,
		RunCooldownMin:   Duration(5 * time.Minute),
		RunCooldownMax:   Duration(10 * time.Minute),
		PacingRules: map[string]PacingRule{
			"instagram": {
				MinDelay:      Duration(30 * time.Second),
				BurstSize:     5,
				BurstCooldown: Duration(300 * time.Second),
				DailyLimit:    200,
				HourlyLimit:   30,
				JitterRange:   [2]float64{0.8, 1.2},
			},
			"tiktok": {
				MinDelay:      Duration(20 * time.Second),
				BurstSize:     3,
				BurstCooldown: Duration(180 * time.Second),
				DailyLimit:    150,
				HourlyLimit:   25,
				JitterRange:   [2]float64{0.7, 1.3},
			},
		},
		DefaultPacing: PacingRule{
			MinDelay:      Duration(30 * time.Second),
			BurstSize:     5,
			BurstCooldown: Duration(300 * time.Second),
			DailyLimit:    100,
			HourlyLimit:   20,
			JitterRange:   [2]float64{0.8, 1.2},
		},

		SlotPolicy: SlotPolicy{
			Slots:             []string{"13:00", "19:00"},
			OptionalLateSlot:  "02:00",
			EnableLateSlot:    false,
			Epsilon:           0.2,
			BootstrapWeeks:    2,
			MinSamplesPerSlot: 5,
			MinGap:            Duration(18 * time.Hour),
			JitterMinMinutes:  7,
			JitterMaxMinutes:  12,
			SkipWeekends:      true,
			Staggers: map[string]Stagger{
				"tiktok":          {MinMinutes: 0, MaxMinutes: 10},
				"instagram_reels": {MinMinutes: 20, MaxMinutes: 40},
				"youtube_shorts":  {MinMinutes: 40, MaxMinutes: 60},
			},
		},

		RewardLongWindowWeight:  0.6,
		RewardShortWindowWeight: 0.4,

		CacheFlushInterval:       Duration(5 * time.Minute),
		CacheFlushDirtyThreshold: 1000,
		TaskHistoryRetention:     Duration(90 * 24 * time.Hour),
	}
}

// PacingFor returns the pacing rule for a platform, or the default rule.
func (c *RuntimeConfig) PacingFor(platform string) PacingRule {
	if rule, ok := c.PacingRules[platform]; ok {
		return rule
	}
	return c.DefaultPacing
}
