package api

import (
	"net/http"
	"time"

	"github.com/radar-hq/radar/internal/account"
	"github.com/radar-hq/radar/internal/model"
)

// HandleListAccounts returns GET /api/v1/accounts.
// Optional filters: platform, status.
func HandleListAccounts(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		platform := r.URL.Query().Get("platform")
		status := r.URL.Query().Get("status")

		var out []model.Account
		for _, a := range pool.List() {
			if platform != "" && a.Platform != platform {
				continue
			}
			if status != "" && a.Status != status {
				continue
			}
			out = append(out, a)
		}
		WritePage(w, http.StatusOK, out, p)
	}
}

// HandleCreateAccount returns POST /api/v1/accounts.
func HandleCreateAccount(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var a model.Account
		if err := DecodeBody(r, &a); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		created, err := pool.Add(a)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusCreated, created)
	}
}

// HandleGetAccount returns GET /api/v1/accounts/{id}.
func HandleGetAccount(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := pool.Get(PathParam(r, "id"))
		if !ok {
			writeDomainError(w, account.ErrNotFound)
			return
		}
		WriteJSON(w, http.StatusOK, a)
	}
}

// accountPatch carries the mutable account fields for PATCH.
type accountPatch struct {
	Status      *string `json:"status,omitempty"`
	Priority    *string `json:"priority,omitempty"`
	DailyLimit  *int    `json:"daily_limit,omitempty"`
	HourlyLimit *int    `json:"hourly_limit,omitempty"`
	Notes       *string `json:"notes,omitempty"`
	TagsJSON    *string `json:"tags_json,omitempty"`
}

// HandleUpdateAccount returns PATCH /api/v1/accounts/{id}.
func HandleUpdateAccount(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		a, ok := pool.Get(PathParam(r, "id"))
		if !ok {
			writeDomainError(w, account.ErrNotFound)
			return
		}
		var patch accountPatch
		if err := DecodeBody(r, &patch); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if patch.Status != nil {
			a.Status = *patch.Status
		}
		if patch.Priority != nil {
			a.Priority = *patch.Priority
		}
		if patch.DailyLimit != nil {
			a.DailyLimit = *patch.DailyLimit
		}
		if patch.HourlyLimit != nil {
			a.HourlyLimit = *patch.HourlyLimit
		}
		if patch.Notes != nil {
			a.Notes = *patch.Notes
		}
		if patch.TagsJSON != nil {
			a.TagsJSON = *patch.TagsJSON
		}
		updated, err := pool.Add(a)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		WriteJSON(w, http.StatusOK, updated)
	}
}

// HandleDeleteAccount returns DELETE /api/v1/accounts/{id}.
func HandleDeleteAccount(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := PathParam(r, "id")
		if _, ok := pool.Get(id); !ok {
			writeDomainError(w, account.ErrNotFound)
			return
		}
		if err := pool.Remove(id); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"deleted": id})
	}
}

// HandleSelectAccount returns POST /api/v1/accounts:select.
// Body: {"platform": "..."} plus optional selection knobs: "priority",
// "exclude_recent", "max_risk_score".
func HandleSelectAccount(pool *account.Pool) http.HandlerFunc {
	type selectRequest struct {
		Platform string `json:"platform"`
		account.SelectOptions
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req selectRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.Platform == "" {
			writeInvalidArgument(w, "platform is required")
			return
		}
		a, err := pool.Select(req.Platform, req.SelectOptions)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, a)
	}
}

// HandleRandomAccount returns GET /api/v1/accounts:random?platform=x.
func HandleRandomAccount(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		platform := r.URL.Query().Get("platform")
		if platform == "" {
			writeInvalidArgument(w, "platform is required")
			return
		}
		a, err := pool.RandomPick(platform, account.SelectOptions{})
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, a)
	}
}

// HandleAccountStats returns GET /api/v1/accounts/stats.
func HandleAccountStats(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, pool.Stats())
	}
}

// HandleQuarantineAccount returns POST /api/v1/accounts/{id}/actions/quarantine.
// Body is optional: {"reason": "..."} ends up in the account notes.
func HandleQuarantineAccount(pool *account.Pool) http.HandlerFunc {
	type quarantineRequest struct {
		Reason string `json:"reason,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		id := PathParam(r, "id")
		var req quarantineRequest
		if r.ContentLength != 0 {
			if err := DecodeBody(r, &req); err != nil {
				writeDecodeBodyError(w, err)
				return
			}
		}
		if err := pool.Quarantine(id, req.Reason); err != nil {
			writeDomainError(w, err)
			return
		}
		a, _ := pool.Get(id)
		WriteJSON(w, http.StatusOK, a)
	}
}

// HandleReactivateAccount returns POST /api/v1/accounts/{id}/actions/reactivate.
func HandleReactivateAccount(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := PathParam(r, "id")
		if err := pool.Reactivate(id); err != nil {
			writeDomainError(w, err)
			return
		}
		a, _ := pool.Get(id)
		WriteJSON(w, http.StatusOK, a)
	}
}

// HandleImportAccounts returns POST /api/v1/accounts:import.
// Body: a JSON array of accounts; existing ids are overwritten.
func HandleImportAccounts(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var accounts []model.Account
		if err := DecodeBody(r, &accounts); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		imported := 0
		for _, a := range accounts {
			if _, err := pool.Add(a); err != nil {
				writeInvalidArgument(w, err.Error())
				return
			}
			imported++
		}
		WriteJSON(w, http.StatusOK, map[string]int{"imported": imported})
	}
}

// HandleExportAccounts returns GET /api/v1/accounts:export.
func HandleExportAccounts(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, pool.List())
	}
}

// HandlePruneAccounts returns POST /api/v1/accounts/actions/prune.
func HandlePruneAccounts(pool *account.Pool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]int{"pruned": pool.PruneInactive(time.Now())})
	}
}
