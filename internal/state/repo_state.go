package state

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
)

// StateRepo wraps state.db and provides transactional CRUD for strong-persist data.
// All writes are serialized by an internal mutex.
type StateRepo struct {
	db *sql.DB
	mu sync.Mutex
}

// newStateRepo creates a StateRepo for the given state.db connection.
func newStateRepo(db *sql.DB) *StateRepo {
	return &StateRepo{db: db}
}

// --- system_config ---

// GetSystemConfig loads the runtime config and version from state.db.
// Returns nil config and version 0 if no row exists.
func (r *StateRepo) GetSystemConfig() (*config.RuntimeConfig, int, error) {
	row := r.db.QueryRow("SELECT config_json, version FROM system_config WHERE id = 1")
	var configJSON string
	var version int
	if err := row.Scan(&configJSON, &version); err != nil {
		if err == sql.ErrNoRows {
			return nil, 0, nil
		}
		return nil, 0, fmt.Errorf("scan system_config: %w", err)
	}
	cfg := &config.RuntimeConfig{}
	if err := json.Unmarshal([]byte(configJSON), cfg); err != nil {
		return nil, 0, fmt.Errorf("unmarshal system_config: %w", err)
	}
	return cfg, version, nil
}

// SaveSystemConfig persists the runtime config with the given version.
func (r *StateRepo) SaveSystemConfig(cfg *config.RuntimeConfig, version int, updatedAtNs int64) error {
	data, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshal system_config: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	_, err = r.db.Exec(`
		INSERT INTO system_config (id, config_json, version, updated_at_ns)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			config_json   = excluded.config_json,
			version       = excluded.version,
			updated_at_ns = excluded.updated_at_ns
	`, string(data), version, updatedAtNs)
	return err
}

// --- accounts ---

// UpsertAccount inserts or updates an account by ID.
// A (platform, username) collision with a different account surfaces as a
// UNIQUE constraint error to the caller.
func (r *StateRepo) UpsertAccount(a model.Account) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO accounts (id, platform, username, priority, status, risk_score,
		                      total_sessions, successful_sessions, failed_sessions,
		                      total_engagements, successful_engagements, failed_engagements,
		                      daily_limit, hourly_limit, todays_usage, last_hour_usage,
		                      last_reset_day_ns, last_reset_hour_ns, last_used_ns,
		                      created_at_ns, updated_at_ns, tags_json, notes, custom_data_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			platform               = excluded.platform,
			username               = excluded.username,
			priority               = excluded.priority,
			status                 = excluded.status,
			risk_score             = excluded.risk_score,
			total_sessions         = excluded.total_sessions,
			successful_sessions    = excluded.successful_sessions,
			failed_sessions        = excluded.failed_sessions,
			total_engagements      = excluded.total_engagements,
			successful_engagements = excluded.successful_engagements,
			failed_engagements     = excluded.failed_engagements,
			daily_limit            = excluded.daily_limit,
			hourly_limit           = excluded.hourly_limit,
			todays_usage           = excluded.todays_usage,
			last_hour_usage        = excluded.last_hour_usage,
			last_reset_day_ns      = excluded.last_reset_day_ns,
			last_reset_hour_ns     = excluded.last_reset_hour_ns,
			last_used_ns           = excluded.last_used_ns,
			updated_at_ns          = excluded.updated_at_ns,
			tags_json              = excluded.tags_json,
			notes                  = excluded.notes,
			custom_data_json       = excluded.custom_data_json
	`, a.ID, a.Platform, a.Username, a.Priority, a.Status, a.RiskScore,
		a.TotalSessions, a.SuccessfulSessions, a.FailedSessions,
		a.TotalEngagements, a.SuccessfulEngagements, a.FailedEngagements,
		a.DailyLimit, a.HourlyLimit, a.TodaysUsage, a.LastHourUsage,
		a.LastResetDayNs, a.LastResetHourNs, a.LastUsedNs,
		a.CreatedAtNs, a.UpdatedAtNs, a.TagsJSON, a.Notes, a.CustomDataJSON)
	return err
}

// BulkUpsertAccounts writes many accounts in a single transaction.
// Used by the periodic usage-counter flush and by bulk import.
func (r *StateRepo) BulkUpsertAccounts(accounts []model.Account) error {
	if len(accounts) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range accounts {
		a := accounts[i]
		if _, err := tx.Exec(`
			INSERT INTO accounts (id, platform, username, priority, status, risk_score,
			                      total_sessions, successful_sessions, failed_sessions,
			                      total_engagements, successful_engagements, failed_engagements,
			                      daily_limit, hourly_limit, todays_usage, last_hour_usage,
			                      last_reset_day_ns, last_reset_hour_ns, last_used_ns,
			                      created_at_ns, updated_at_ns, tags_json, notes, custom_data_json)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				platform               = excluded.platform,
				username               = excluded.username,
				priority               = excluded.priority,
				status                 = excluded.status,
				risk_score             = excluded.risk_score,
				total_sessions         = excluded.total_sessions,
				successful_sessions    = excluded.successful_sessions,
				failed_sessions        = excluded.failed_sessions,
				total_engagements      = excluded.total_engagements,
				successful_engagements = excluded.successful_engagements,
				failed_engagements     = excluded.failed_engagements,
				daily_limit            = excluded.daily_limit,
				hourly_limit           = excluded.hourly_limit,
				todays_usage           = excluded.todays_usage,
				last_hour_usage        = excluded.last_hour_usage,
				last_reset_day_ns      = excluded.last_reset_day_ns,
				last_reset_hour_ns     = excluded.last_reset_hour_ns,
				last_used_ns           = excluded.last_used_ns,
				updated_at_ns          = excluded.updated_at_ns,
				tags_json              = excluded.tags_json,
				notes                  = excluded.notes,
				custom_data_json       = excluded.custom_data_json
		`, a.ID, a.Platform, a.Username, a.Priority, a.Status, a.RiskScore,
			a.TotalSessions, a.SuccessfulSessions, a.FailedSessions,
			a.TotalEngagements, a.SuccessfulEngagements, a.FailedEngagements,
			a.DailyLimit, a.HourlyLimit, a.TodaysUsage, a.LastHourUsage,
			a.LastResetDayNs, a.LastResetHourNs, a.LastUsedNs,
			a.CreatedAtNs, a.UpdatedAtNs, a.TagsJSON, a.Notes, a.CustomDataJSON); err != nil {
			return fmt.Errorf("upsert account %s: %w", a.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteAccount removes an account by ID.
func (r *StateRepo) DeleteAccount(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("DELETE FROM accounts WHERE id = ?", id)
	return err
}

// ListAccounts returns all accounts.
func (r *StateRepo) ListAccounts() ([]model.Account, error) {
	rows, err := r.db.Query(`SELECT id, platform, username, priority, status, risk_score,
		total_sessions, successful_sessions, failed_sessions,
		total_engagements, successful_engagements, failed_engagements,
		daily_limit, hourly_limit, todays_usage, last_hour_usage,
		last_reset_day_ns, last_reset_hour_ns, last_used_ns,
		created_at_ns, updated_at_ns, tags_json, notes, custom_data_json FROM accounts`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Account
	for rows.Next() {
		var a model.Account
		if err := rows.Scan(&a.ID, &a.Platform, &a.Username, &a.Priority, &a.Status, &a.RiskScore,
			&a.TotalSessions, &a.SuccessfulSessions, &a.FailedSessions,
			&a.TotalEngagements, &a.SuccessfulEngagements, &a.FailedEngagements,
			&a.DailyLimit, &a.HourlyLimit, &a.TodaysUsage, &a.LastHourUsage,
			&a.LastResetDayNs, &a.LastResetHourNs, &a.LastUsedNs,
			&a.CreatedAtNs, &a.UpdatedAtNs, &a.TagsJSON, &a.Notes, &a.CustomDataJSON); err != nil {
			return nil, err
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

// --- proxies ---

// UpsertProxy inserts or updates a proxy by ID.
func (r *StateRepo) UpsertProxy(p model.Proxy) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO proxies (id, host, port, username, password, protocol, country, provider,
		                     health, success_rate, response_time_ms, active, last_used_ns, created_at_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			host             = excluded.host,
			port             = excluded.port,
			username         = excluded.username,
			password         = excluded.password,
			protocol         = excluded.protocol,
			country          = excluded.country,
			provider         = excluded.provider,
			health           = excluded.health,
			success_rate     = excluded.success_rate,
			response_time_ms = excluded.response_time_ms,
			active           = excluded.active,
			last_used_ns     = excluded.last_used_ns
	`, p.ID, p.Host, p.Port, p.Username, p.Password, p.Protocol, p.Country, p.Provider,
		p.Health, p.SuccessRate, p.ResponseTimeMs, p.Active, p.LastUsedNs, p.CreatedAtNs)
	return err
}

// BulkUpsertProxies writes many proxies in a single transaction.
func (r *StateRepo) BulkUpsertProxies(proxies []model.Proxy) error {
	if len(proxies) == 0 {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tx, err := r.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	for i := range proxies {
		p := proxies[i]
		if _, err := tx.Exec(`
			INSERT INTO proxies (id, host, port, username, password, protocol, country, provider,
			                     health, success_rate, response_time_ms, active, last_used_ns, created_at_ns)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET
				host             = excluded.host,
				port             = excluded.port,
				username         = excluded.username,
				password         = excluded.password,
				protocol         = excluded.protocol,
				country          = excluded.country,
				provider         = excluded.provider,
				health           = excluded.health,
				success_rate     = excluded.success_rate,
				response_time_ms = excluded.response_time_ms,
				active           = excluded.active,
				last_used_ns     = excluded.last_used_ns
		`, p.ID, p.Host, p.Port, p.Username, p.Password, p.Protocol, p.Country, p.Provider,
			p.Health, p.SuccessRate, p.ResponseTimeMs, p.Active, p.LastUsedNs, p.CreatedAtNs); err != nil {
			return fmt.Errorf("upsert proxy %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}

// DeleteProxy removes a proxy by ID.
func (r *StateRepo) DeleteProxy(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("DELETE FROM proxies WHERE id = ?", id)
	return err
}

// ListProxies returns all proxies.
func (r *StateRepo) ListProxies() ([]model.Proxy, error) {
	rows, err := r.db.Query(`SELECT id, host, port, username, password, protocol, country, provider,
		health, success_rate, response_time_ms, active, last_used_ns, created_at_ns FROM proxies`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Proxy
	for rows.Next() {
		var p model.Proxy
		if err := rows.Scan(&p.ID, &p.Host, &p.Port, &p.Username, &p.Password, &p.Protocol,
			&p.Country, &p.Provider, &p.Health, &p.SuccessRate, &p.ResponseTimeMs,
			&p.Active, &p.LastUsedNs, &p.CreatedAtNs); err != nil {
			return nil, err
		}
		result = append(result, p)
	}
	return result, rows.Err()
}

// --- fingerprints ---

// UpsertFingerprint inserts or updates a fingerprint by ID.
// Attribute columns never change after the first insert in practice;
// the upsert exists for usage metadata.
func (r *StateRepo) UpsertFingerprint(f model.Fingerprint) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`
		INSERT INTO fingerprints (id, device_class, user_agent, timezone, language, os_family,
		                          viewport_width, viewport_height, screen_width, screen_height,
		                          color_depth, pixel_ratio, hardware_concurrency, device_memory_gb,
		                          webgl_vendor, webgl_renderer, canvas_hash, canvas_webgl_hash, audio_hash,
		                          fonts_json, plugins_json, usage_count, created_at_ns, last_used_ns)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			usage_count  = excluded.usage_count,
			last_used_ns = excluded.last_used_ns
	`, f.ID, f.DeviceClass, f.UserAgent, f.Timezone, f.Language, f.OSFamily,
		f.ViewportWidth, f.ViewportHeight, f.ScreenWidth, f.ScreenHeight,
		f.ColorDepth, f.PixelRatio, f.HardwareConcurrency, f.DeviceMemoryGB,
		f.WebGLVendor, f.WebGLRenderer, f.CanvasHash, f.CanvasWebGLHash, f.AudioHash,
		f.FontsJSON, f.PluginsJSON, f.UsageCount, f.CreatedAtNs, f.LastUsedNs)
	return err
}

// DeleteFingerprint removes a fingerprint by ID.
func (r *StateRepo) DeleteFingerprint(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec("DELETE FROM fingerprints WHERE id = ?", id)
	return err
}

// GetFingerprint loads one fingerprint by ID. Returns ErrNotFound when absent.
func (r *StateRepo) GetFingerprint(id string) (*model.Fingerprint, error) {
	row := r.db.QueryRow(`SELECT id, device_class, user_agent, timezone, language, os_family,
		viewport_width, viewport_height, screen_width, screen_height,
		color_depth, pixel_ratio, hardware_concurrency, device_memory_gb,
		webgl_vendor, webgl_renderer, canvas_hash, canvas_webgl_hash, audio_hash,
		fonts_json, plugins_json, usage_count, created_at_ns, last_used_ns
		FROM fingerprints WHERE id = ?`, id)

	var f model.Fingerprint
	if err := row.Scan(&f.ID, &f.DeviceClass, &f.UserAgent, &f.Timezone, &f.Language, &f.OSFamily,
		&f.ViewportWidth, &f.ViewportHeight, &f.ScreenWidth, &f.ScreenHeight,
		&f.ColorDepth, &f.PixelRatio, &f.HardwareConcurrency, &f.DeviceMemoryGB,
		&f.WebGLVendor, &f.WebGLRenderer, &f.CanvasHash, &f.CanvasWebGLHash, &f.AudioHash,
		&f.FontsJSON, &f.PluginsJSON, &f.UsageCount, &f.CreatedAtNs, &f.LastUsedNs); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan fingerprint %s: %w", id, err)
	}
	return &f, nil
}

// ListFingerprints returns all fingerprints.
func (r *StateRepo) ListFingerprints() ([]model.Fingerprint, error) {
	rows, err := r.db.Query(`SELECT id, device_class, user_agent, timezone, language, os_family,
		viewport_width, viewport_height, screen_width, screen_height,
		color_depth, pixel_ratio, hardware_concurrency, device_memory_gb,
		webgl_vendor, webgl_renderer, canvas_hash, canvas_webgl_hash, audio_hash,
		fonts_json, plugins_json, usage_count, created_at_ns, last_used_ns FROM fingerprints`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []model.Fingerprint
	for rows.Next() {
		var f model.Fingerprint
		if err := rows.Scan(&f.ID, &f.DeviceClass, &f.UserAgent, &f.Timezone, &f.Language, &f.OSFamily,
			&f.ViewportWidth, &f.ViewportHeight, &f.ScreenWidth, &f.ScreenHeight,
			&f.ColorDepth, &f.PixelRatio, &f.HardwareConcurrency, &f.DeviceMemoryGB,
			&f.WebGLVendor, &f.WebGLRenderer, &f.CanvasHash, &f.CanvasWebGLHash, &f.AudioHash,
			&f.FontsJSON, &f.PluginsJSON, &f.UsageCount, &f.CreatedAtNs, &f.LastUsedNs); err != nil {
			return nil, err
		}
		result = append(result, f)
	}
	return result, rows.Err()
}
