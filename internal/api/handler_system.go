package api

import (
	"encoding/json"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/geoip"
	"github.com/radar-hq/radar/internal/state"
)

// SystemInfo is reported by GET /api/v1/system/info.
type SystemInfo struct {
	Version   string    `json:"version"`
	GitCommit string    `json:"git_commit"`
	BuildTime string    `json:"build_time"`
	StartedAt time.Time `json:"started_at"`
}

// HandleSystemInfo returns a handler for GET /api/v1/system/info.
func HandleSystemInfo(info SystemInfo) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, info)
	}
}

// HandleSystemConfig returns a handler for GET /api/v1/system/config.
func HandleSystemConfig(runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if runtimeCfg == nil {
			WriteJSON(w, http.StatusOK, nil)
			return
		}
		WriteJSON(w, http.StatusOK, runtimeCfg.Load())
	}
}

// HandleSystemDefaultConfig returns a handler for GET /api/v1/system/config/default.
func HandleSystemDefaultConfig() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, config.NewDefaultRuntimeConfig())
	}
}

// HandlePatchSystemConfig returns a handler for PATCH /api/v1/system/config.
// The body is a partial RuntimeConfig merged over the current one; the
// merged config is persisted with a bumped version and swapped in live.
func HandlePatchSystemConfig(repo *state.StateRepo, runtimeCfg *atomic.Pointer[config.RuntimeConfig]) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if len(body) == 0 {
			writeInvalidArgument(w, "request body is empty")
			return
		}

		_, version, err := repo.GetSystemConfig()
		if err != nil {
			writeDomainError(w, err)
			return
		}

		merged := *runtimeCfg.Load()
		if err := json.Unmarshal(body, &merged); err != nil {
			writeInvalidArgument(w, "invalid config patch: "+err.Error())
			return
		}

		if err := repo.SaveSystemConfig(&merged, version+1, time.Now().UnixNano()); err != nil {
			writeDomainError(w, err)
			return
		}
		runtimeCfg.Store(&merged)
		WriteJSON(w, http.StatusOK, map[string]any{"version": version + 1, "config": &merged})
	}
}

// HandleSystemEnvConfig returns a handler for GET /api/v1/system/config/env.
// The admin token is never echoed back.
func HandleSystemEnvConfig(envCfg *config.EnvConfig) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if envCfg == nil {
			WriteJSON(w, http.StatusOK, nil)
			return
		}
		redacted := *envCfg
		if redacted.AdminToken != "" {
			redacted.AdminToken = "[redacted]"
		}
		WriteJSON(w, http.StatusOK, redacted)
	}
}

// HandleGeoIPInfo returns a handler for GET /api/v1/system/geoip.
func HandleGeoIPInfo(geo *geoip.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if geo == nil {
			WriteJSON(w, http.StatusOK, map[string]any{"loaded": false})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{
			"loaded":       true,
			"last_updated": geo.LastUpdated(),
		})
	}
}

// HandleGeoIPReload returns a handler for POST /api/v1/system/geoip:reload.
func HandleGeoIPReload(geo *geoip.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if geo == nil {
			WriteError(w, http.StatusConflict, "POLICY_VIOLATION", "geoip database not configured")
			return
		}
		if err := geo.Reload(); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"last_updated": geo.LastUpdated()})
	}
}
