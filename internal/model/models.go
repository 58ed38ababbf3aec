// Package model defines domain structs shared across the persistence layer.
package model

// Account represents a managed identity on one platform.
// Nested collections (tags, custom data) are stored as JSON blobs.
type Account struct {
	ID       string `json:"id"`
	Platform string `json:"platform"`
	Username string `json:"username"`
	Priority string `json:"priority"`
	Status   string `json:"status"`

	RiskScore float64 `json:"risk_score"`

	TotalSessions         int `json:"total_sessions"`
	SuccessfulSessions    int `json:"successful_sessions"`
	FailedSessions        int `json:"failed_sessions"`
	TotalEngagements      int `json:"total_engagements"`
	SuccessfulEngagements int `json:"successful_engagements"`
	FailedEngagements     int `json:"failed_engagements"`

	DailyLimit      int   `json:"daily_limit"`
	HourlyLimit     int   `json:"hourly_limit"`
	TodaysUsage     int   `json:"todays_usage"`
	LastHourUsage   int   `json:"last_hour_usage"`
	LastResetDayNs  int64 `json:"last_reset_day_ns"`
	LastResetHourNs int64 `json:"last_reset_hour_ns"`

	LastUsedNs  int64 `json:"last_used_ns"`
	CreatedAtNs int64 `json:"created_at_ns"`
	UpdatedAtNs int64 `json:"updated_at_ns"`

	TagsJSON       string `json:"tags_json"`
	Notes          string `json:"notes"`
	CustomDataJSON string `json:"custom_data_json"`
}

// Proxy represents a network egress descriptor.
type Proxy struct {
	ID       string `json:"id"`
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	Protocol string `json:"protocol"`
	Country  string `json:"country"`
	Provider string `json:"provider"`

	Health         string  `json:"health"`
	SuccessRate    float64 `json:"success_rate"`
	ResponseTimeMs float64 `json:"response_time_ms"`
	Active         bool    `json:"active"`

	LastUsedNs  int64 `json:"last_used_ns"`
	CreatedAtNs int64 `json:"created_at_ns"`
}

// Fingerprint holds a synthetic device/browser identity. Attribute fields are
// immutable once generated; only the usage metadata changes afterwards.
type Fingerprint struct {
	ID          string `json:"id"`
	DeviceClass string `json:"device_class"`

	UserAgent string `json:"user_agent"`
	Timezone  string `json:"timezone"`
	Language  string `json:"language"`
	OSFamily  string `json:"os_family"`

	ViewportWidth  int     `json:"viewport_width"`
	ViewportHeight int     `json:"viewport_height"`
	ScreenWidth    int     `json:"screen_width"`
	ScreenHeight   int     `json:"screen_height"`
	ColorDepth     int     `json:"color_depth"`
	PixelRatio     float64 `json:"pixel_ratio"`

	HardwareConcurrency int     `json:"hardware_concurrency"`
	DeviceMemoryGB      float64 `json:"device_memory_gb"`

	WebGLVendor     string `json:"webgl_vendor"`
	WebGLRenderer   string `json:"webgl_renderer"`
	CanvasHash      string `json:"canvas_hash"`
	CanvasWebGLHash string `json:"canvas_webgl_hash"`
	AudioHash       string `json:"audio_hash"`

	FontsJSON   string `json:"fonts_json"`
	PluginsJSON string `json:"plugins_json"`

	UsageCount  int   `json:"usage_count"`
	CreatedAtNs int64 `json:"created_at_ns"`
	LastUsedNs  int64 `json:"last_used_ns"`
}

// SessionRecord is the durable per-account session artifact: stored browser
// state plus login outcome history.
type SessionRecord struct {
	AccountID string `json:"account_id"`
	Platform  string `json:"platform"`

	CookiesJSON      string `json:"cookies_json"`
	LocalStorageJSON string `json:"local_storage_json"`

	ProxyID       string `json:"proxy_id"`
	FingerprintID string `json:"fingerprint_id"`

	LoggedIn          bool  `json:"logged_in"`
	LoginSuccessCount int   `json:"login_success_count"`
	LoginFailureCount int   `json:"login_failure_count"`
	LastLoginNs       int64 `json:"last_login_ns"`

	UsageCount  int   `json:"usage_count"`
	CreatedAtNs int64 `json:"created_at_ns"`
	UpdatedAtNs int64 `json:"updated_at_ns"`
	LastUsedNs  int64 `json:"last_used_ns"`
}

// ProxyBinding durably assigns one proxy to one account.
type ProxyBinding struct {
	AccountID string `json:"account_id"`
	ProxyID   string `json:"proxy_id"`
	BoundAtNs int64  `json:"bound_at_ns"`
}

// FingerprintBinding durably assigns one fingerprint to one account.
type FingerprintBinding struct {
	AccountID     string `json:"account_id"`
	FingerprintID string `json:"fingerprint_id"`
	BoundAtNs     int64  `json:"bound_at_ns"`
}

// TaskRecord is one completed (terminal) task execution, kept for analytics.
type TaskRecord struct {
	TaskID      string `json:"task_id"`
	AccountID   string `json:"account_id"`
	Platform    string `json:"platform"`
	TaskType    string `json:"task_type"`
	Target      string `json:"target"`
	Priority    string `json:"priority"`
	Status      string `json:"status"`
	Error       string `json:"error"`
	RetryCount  int    `json:"retry_count"`
	ScheduledNs int64  `json:"scheduled_ns"`
	ExecutedNs  int64  `json:"executed_ns"`
}

// SlotStat aggregates observed reward for one (platform, time-slot) pair.
type SlotStat struct {
	Platform      string  `json:"platform"`
	Slot          string  `json:"slot"`
	Samples       int     `json:"samples"`
	RewardSum     float64 `json:"reward_sum"`
	RewardMean    float64 `json:"reward_mean"`
	Dispatches    int     `json:"dispatches"`
	LastUpdatedNs int64   `json:"last_updated_ns"`
}

// SlotStatKey is the composite primary key for slot_stats.
type SlotStatKey struct {
	Platform string
	Slot     string
}

// SessionRecordKey is the composite primary key for session records.
type SessionRecordKey struct {
	AccountID string
	Platform  string
}
