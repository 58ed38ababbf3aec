package config

import (
	"strings"
	"testing"
	"time"
)

// setEnvs sets multiple env vars for the duration of the test.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// requiredEnvs returns the minimum env vars needed for LoadEnvConfig to succeed.
func requiredEnvs() map[string]string {
	return map[string]string{
		"RADAR_ADMIN_TOKEN": "admin-secret",
	}
}

func TestLoadEnvConfig_Defaults(t *testing.T) {
	setEnvs(t, requiredEnvs())

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "./data/state")
	assertEqual(t, "CacheDir", cfg.CacheDir, "./data/cache")
	assertEqual(t, "ListenAddress", cfg.ListenAddress, "127.0.0.1")
	assertEqual(t, "Port", cfg.Port, 8460)
	assertEqual(t, "APIMaxBodyBytes", cfg.APIMaxBodyBytes, 10*1024*1024)
	assertEqual(t, "ProbeConcurrency", cfg.ProbeConcurrency, 16)
	assertEqual(t, "ProbeInterval", cfg.ProbeInterval, 5*time.Minute)
	assertEqual(t, "ProbeJitter", cfg.ProbeJitter, 30*time.Second)
	assertEqual(t, "SchedulerTick", cfg.SchedulerTick, time.Second)
	assertEqual(t, "AccountPruneSchedule", cfg.AccountPruneSchedule, "0 4 * * *")
	assertEqual(t, "SessionCleanupSchedule", cfg.SessionCleanupSchedule, "30 4 * * *")
	assertEqual(t, "HistoryQueueSize", cfg.HistoryQueueSize, 8192)
	assertEqual(t, "HistoryFlushBatchSize", cfg.HistoryFlushBatchSize, 2048)
	assertEqual(t, "HistoryFlushInterval", cfg.HistoryFlushInterval, time.Minute)
	assertEqual(t, "PlatformsLength", len(cfg.Platforms), 2)
	assertEqual(t, "GeoIPDBPath", cfg.GeoIPDBPath, "")
}

func TestLoadEnvConfig_EnvOverrides(t *testing.T) {
	setEnvs(t, requiredEnvs())
	setEnvs(t, map[string]string{
		"RADAR_STATE_DIR":              "/tmp/radar-state",
		"RADAR_PORT":                   "9000",
		"RADAR_PROBE_INTERVAL":         "90s",
		"RADAR_SCHEDULER_TICK":         "250ms",
		"RADAR_ACCOUNT_PRUNE_SCHEDULE": "15 3 * * *",
		"RADAR_PLATFORMS":              `["instagram","tiktok","youtube_shorts"]`,
	})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	assertEqual(t, "StateDir", cfg.StateDir, "/tmp/radar-state")
	assertEqual(t, "Port", cfg.Port, 9000)
	assertEqual(t, "ProbeInterval", cfg.ProbeInterval, 90*time.Second)
	assertEqual(t, "SchedulerTick", cfg.SchedulerTick, 250*time.Millisecond)
	assertEqual(t, "AccountPruneSchedule", cfg.AccountPruneSchedule, "15 3 * * *")
	assertEqual(t, "PlatformsLength", len(cfg.Platforms), 3)
}

func TestLoadEnvConfig_MissingAdminToken(t *testing.T) {
	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error when RADAR_ADMIN_TOKEN is undefined")
	}
	assertContains(t, err.Error(), "RADAR_ADMIN_TOKEN")
}

func TestLoadEnvConfig_EmptyTokenAllowedWhenDefined(t *testing.T) {
	setEnvs(t, map[string]string{"RADAR_ADMIN_TOKEN": ""})

	cfg, err := LoadEnvConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	assertEqual(t, "AdminToken", cfg.AdminToken, "")
}

func TestLoadEnvConfig_InvalidValuesAccumulate(t *testing.T) {
	setEnvs(t, requiredEnvs())
	setEnvs(t, map[string]string{
		"RADAR_PORT":                   "70000",
		"RADAR_PROBE_INTERVAL":         "soon",
		"RADAR_ACCOUNT_PRUNE_SCHEDULE": "not-a-cron",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "RADAR_PORT")
	assertContains(t, err.Error(), "RADAR_PROBE_INTERVAL")
	assertContains(t, err.Error(), "RADAR_ACCOUNT_PRUNE_SCHEDULE")
}

func TestLoadEnvConfig_QueueBatchRatio(t *testing.T) {
	setEnvs(t, requiredEnvs())
	setEnvs(t, map[string]string{
		"RADAR_HISTORY_QUEUE_SIZE":       "100",
		"RADAR_HISTORY_FLUSH_BATCH_SIZE": "80",
	})

	_, err := LoadEnvConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	assertContains(t, err.Error(), "RADAR_HISTORY_QUEUE_SIZE")
}

func assertEqual[T comparable](t *testing.T, name string, got, want T) {
	t.Helper()
	if got != want {
		t.Errorf("%s: got %v, want %v", name, got, want)
	}
}

func assertContains(t *testing.T, s, substr string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Errorf("expected %q to contain %q", s, substr)
	}
}
