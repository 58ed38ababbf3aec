// Package config handles environment-based configuration loading and runtime config models.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// EnvConfig holds all environment-variable-driven settings (not hot-updatable).
type EnvConfig struct {
	// Directories
	StateDir string
	CacheDir string

	// Network
	ListenAddress string
	Port          int

	// API
	APIMaxBodyBytes int

	// Auth
	AdminToken string

	// GeoIP
	GeoIPDBPath string

	// Probing (the probe timeout itself lives in the runtime config)
	ProbeConcurrency int
	ProbeInterval    time.Duration
	ProbeJitter      time.Duration

	// Scheduler
	SchedulerTick time.Duration

	// Maintenance cron expressions
	AccountPruneSchedule   string
	SessionCleanupSchedule string
	GeoIPReloadSchedule    string

	// Task history
	HistoryQueueSize      int
	HistoryFlushBatchSize int
	HistoryFlushInterval  time.Duration

	// Platforms enabled at boot (seed pacing state)
	Platforms []string
}

// LoadEnvConfig reads all RADAR_* environment variables, applies defaults,
// and validates. All validation problems are collected and reported together.
func LoadEnvConfig() (*EnvConfig, error) {
	cfg := &EnvConfig{}
	var errs []string

	// --- Directories ---
	cfg.StateDir = envStr("RADAR_STATE_DIR", "./data/state")
	cfg.CacheDir = envStr("RADAR_CACHE_DIR", "./data/cache")

	// --- Network ---
	cfg.ListenAddress = envStr("RADAR_LISTEN_ADDRESS", "127.0.0.1")
	cfg.Port = envInt("RADAR_PORT", 8460, &errs)
	cfg.APIMaxBodyBytes = envInt("RADAR_API_MAX_BODY_BYTES", 10*1024*1024, &errs)

	// --- Auth (must be defined; empty means auth disabled) ---
	adminToken, hasAdminToken := os.LookupEnv("RADAR_ADMIN_TOKEN")
	cfg.AdminToken = adminToken

	// --- GeoIP ---
	cfg.GeoIPDBPath = envStr("RADAR_GEOIP_DB_PATH", "")

	// --- Probing ---
	cfg.ProbeConcurrency = envInt("RADAR_PROBE_CONCURRENCY", 16, &errs)
	cfg.ProbeInterval = envDuration("RADAR_PROBE_INTERVAL", 5*time.Minute, &errs)
	cfg.ProbeJitter = envDuration("RADAR_PROBE_JITTER", 30*time.Second, &errs)

	// --- Scheduler ---
	cfg.SchedulerTick = envDuration("RADAR_SCHEDULER_TICK", time.Second, &errs)

	// --- Maintenance ---
	cfg.AccountPruneSchedule = envStr("RADAR_ACCOUNT_PRUNE_SCHEDULE", "0 4 * * *")
	cfg.SessionCleanupSchedule = envStr("RADAR_SESSION_CLEANUP_SCHEDULE", "30 4 * * *")
	cfg.GeoIPReloadSchedule = envStr("RADAR_GEOIP_RELOAD_SCHEDULE", "0 5 * * 1")

	// --- Task history ---
	cfg.HistoryQueueSize = envInt("RADAR_HISTORY_QUEUE_SIZE", 8192, &errs)
	cfg.HistoryFlushBatchSize = envInt("RADAR_HISTORY_FLUSH_BATCH_SIZE", 2048, &errs)
	cfg.HistoryFlushInterval = envDuration("RADAR_HISTORY_FLUSH_INTERVAL", time.Minute, &errs)

	// --- Platforms ---
	cfg.Platforms = envStringSlice("RADAR_PLATFORMS", []string{"instagram", "tiktok"}, &errs)

	// --- Validation ---
	if !hasAdminToken {
		errs = append(errs, "RADAR_ADMIN_TOKEN must be defined (can be empty)")
	}
	if cfg.ListenAddress == "" {
		errs = append(errs, "RADAR_LISTEN_ADDRESS must not be empty")
	}
	validatePort("RADAR_PORT", cfg.Port, &errs)
	validatePositive("RADAR_API_MAX_BODY_BYTES", cfg.APIMaxBodyBytes, &errs)
	validatePositive("RADAR_PROBE_CONCURRENCY", cfg.ProbeConcurrency, &errs)
	if cfg.ProbeInterval <= 0 {
		errs = append(errs, "RADAR_PROBE_INTERVAL must be positive")
	}
	if cfg.ProbeJitter <= 0 {
		errs = append(errs, "RADAR_PROBE_JITTER must be positive")
	}
	if cfg.SchedulerTick <= 0 {
		errs = append(errs, "RADAR_SCHEDULER_TICK must be positive")
	}
	for _, pair := range [][2]string{
		{"RADAR_ACCOUNT_PRUNE_SCHEDULE", cfg.AccountPruneSchedule},
		{"RADAR_SESSION_CLEANUP_SCHEDULE", cfg.SessionCleanupSchedule},
		{"RADAR_GEOIP_RELOAD_SCHEDULE", cfg.GeoIPReloadSchedule},
	} {
		if _, err := cron.ParseStandard(pair[1]); err != nil {
			errs = append(errs, fmt.Sprintf("%s: invalid cron expression %q: %v", pair[0], pair[1], err))
		}
	}
	validatePositive("RADAR_HISTORY_QUEUE_SIZE", cfg.HistoryQueueSize, &errs)
	validatePositive("RADAR_HISTORY_FLUSH_BATCH_SIZE", cfg.HistoryFlushBatchSize, &errs)
	if cfg.HistoryFlushInterval <= 0 {
		errs = append(errs, "RADAR_HISTORY_FLUSH_INTERVAL must be positive")
	}
	// Queue size must be >= 2x batch size
	if cfg.HistoryQueueSize < 2*cfg.HistoryFlushBatchSize {
		errs = append(errs, "RADAR_HISTORY_QUEUE_SIZE must be at least 2x RADAR_HISTORY_FLUSH_BATCH_SIZE")
	}
	if len(cfg.Platforms) == 0 {
		errs = append(errs, "RADAR_PLATFORMS must not be empty")
	}

	if len(errs) > 0 {
		return nil, fmt.Errorf("config validation failed:\n  %s", strings.Join(errs, "\n  "))
	}

	return cfg, nil
}

// --- helpers ---

func envStr(key, defaultVal string) string {
	if v, ok := os.LookupEnv(key); ok {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int, errs *[]string) int {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid integer %q", key, v))
		return defaultVal
	}
	return n
}

func envDuration(key string, defaultVal time.Duration, errs *[]string) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid duration %q", key, v))
		return defaultVal
	}
	return d
}

func envStringSlice(key string, defaultVal []string, errs *[]string) []string {
	v := os.Getenv(key)
	if v == "" {
		return defaultVal
	}
	var out []string
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		*errs = append(*errs, fmt.Sprintf("%s: invalid JSON string array %q", key, v))
		return defaultVal
	}
	if out == nil {
		return []string{}
	}
	return out
}

func validatePort(name string, value int, errs *[]string) {
	if value < 1 || value > 65535 {
		*errs = append(*errs, fmt.Sprintf("%s: port must be 1-65535, got %d", name, value))
	}
}

func validatePositive(name string, value int, errs *[]string) {
	if value <= 0 {
		*errs = append(*errs, fmt.Sprintf("%s must be positive, got %d", name, value))
	}
}
