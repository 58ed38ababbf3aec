package api

import (
	"net/http"
	"time"

	"github.com/radar-hq/radar/internal/session"
)

// sessionView is the wire shape of a live session. Context keeps its
// health bookkeeping behind accessors, so handlers flatten it here.
type sessionView struct {
	AccountID     string    `json:"account_id"`
	Platform      string    `json:"platform"`
	ProxyID       string    `json:"proxy_id,omitempty"`
	FingerprintID string    `json:"fingerprint_id,omitempty"`
	Errors        int       `json:"errors"`
	CreatedAt     time.Time `json:"created_at"`
	LastActivity  time.Time `json:"last_activity"`
}

func viewOf(ctx *session.Context) sessionView {
	v := sessionView{
		AccountID:    ctx.AccountID,
		Platform:     ctx.Platform,
		ProxyID:      ctx.Proxy().ID,
		Errors:       ctx.Errors(),
		CreatedAt:    ctx.CreatedAt(),
		LastActivity: ctx.LastActivity(),
	}
	if fp := ctx.Fingerprint(); fp != nil {
		v.FingerprintID = fp.ID
	}
	return v
}

// HandleListSessions returns GET /api/v1/sessions.
// Optional filter: platform.
func HandleListSessions(orch *session.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		live := orch.List(r.URL.Query().Get("platform"))
		views := make([]sessionView, 0, len(live))
		for _, ctx := range live {
			views = append(views, viewOf(ctx))
		}
		WritePage(w, http.StatusOK, views, p)
	}
}

// HandleSessionStats returns GET /api/v1/sessions/stats.
func HandleSessionStats(orch *session.Orchestrator) http.HandlerFunc {
	type sessionStats struct {
		Total      int            `json:"total"`
		ByPlatform map[string]int `json:"by_platform"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		live := orch.List("")
		stats := sessionStats{Total: len(live), ByPlatform: make(map[string]int)}
		for _, ctx := range live {
			stats.ByPlatform[ctx.Platform]++
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}

// HandleStartSession returns POST /api/v1/sessions.
// Body: {"account_id": "...", "platform": "..."}. Idempotent: an
// existing live session for the pair is returned as-is.
func HandleStartSession(orch *session.Orchestrator) http.HandlerFunc {
	type startRequest struct {
		AccountID string `json:"account_id"`
		Platform  string `json:"platform"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req startRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.AccountID == "" || req.Platform == "" {
			writeInvalidArgument(w, "account_id and platform are required")
			return
		}
		ctx, err := orch.CreateOrGet(req.AccountID, req.Platform)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, viewOf(ctx))
	}
}

// HandleGetSession returns GET /api/v1/sessions/{account_id}/{platform}.
func HandleGetSession(orch *session.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, ok := orch.Get(PathParam(r, "account_id"), PathParam(r, "platform"))
		if !ok {
			writeDomainError(w, session.ErrNotFound)
			return
		}
		WriteJSON(w, http.StatusOK, viewOf(ctx))
	}
}

// HandleStopSession returns DELETE /api/v1/sessions/{account_id}/{platform}.
func HandleStopSession(orch *session.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		accountID := PathParam(r, "account_id")
		platform := PathParam(r, "platform")
		if err := orch.Close(accountID, platform); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"closed": accountID + "/" + platform})
	}
}

// HandleRotateSessionProxy returns POST /api/v1/sessions/{account_id}/{platform}/actions/rotate-proxy.
func HandleRotateSessionProxy(orch *session.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		px, err := orch.RotateProxy(PathParam(r, "account_id"), PathParam(r, "platform"))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, px)
	}
}

// HandleGetSessionRecord returns GET /api/v1/sessions/{account_id}/{platform}/record.
// The record survives session close and carries the persisted browser
// state for the next login.
func HandleGetSessionRecord(orch *session.Orchestrator) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rec, ok := orch.Record(PathParam(r, "account_id"), PathParam(r, "platform"))
		if !ok {
			writeDomainError(w, session.ErrNotFound)
			return
		}
		WriteJSON(w, http.StatusOK, rec)
	}
}

// HandleSetBrowserState returns PUT /api/v1/sessions/{account_id}/{platform}/browser-state.
// Body: {"cookies_json": "...", "local_storage_json": "..."}.
func HandleSetBrowserState(orch *session.Orchestrator) http.HandlerFunc {
	type stateRequest struct {
		CookiesJSON      string `json:"cookies_json"`
		LocalStorageJSON string `json:"local_storage_json"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req stateRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		accountID := PathParam(r, "account_id")
		platform := PathParam(r, "platform")
		if err := orch.SetBrowserState(accountID, platform, req.CookiesJSON, req.LocalStorageJSON); err != nil {
			writeDomainError(w, err)
			return
		}
		rec, _ := orch.Record(accountID, platform)
		WriteJSON(w, http.StatusOK, rec)
	}
}

// HandleRecordLogin returns POST /api/v1/sessions/{account_id}/{platform}/actions/record-login.
// Body: {"success": true|false}.
func HandleRecordLogin(orch *session.Orchestrator) http.HandlerFunc {
	type loginRequest struct {
		Success bool `json:"success"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		accountID := PathParam(r, "account_id")
		platform := PathParam(r, "platform")
		if err := orch.RecordLogin(accountID, platform, req.Success); err != nil {
			writeDomainError(w, err)
			return
		}
		rec, _ := orch.Record(accountID, platform)
		WriteJSON(w, http.StatusOK, rec)
	}
}
