package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/radar-hq/radar/internal/history"
	"github.com/radar-hq/radar/internal/task"
)

// HandleScheduleTask returns POST /api/v1/tasks.
func HandleScheduleTask(sched *task.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var t task.Task
		if err := DecodeBody(r, &t); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if t.AccountID == "" || t.Platform == "" || t.Type == "" {
			writeInvalidArgument(w, "account_id, platform and type are required")
			return
		}
		if err := sched.Schedule(&t); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, t)
	}
}

// HandleScheduleBatch returns POST /api/v1/tasks:batch.
// Spreads one task per target across the platform's account pool.
func HandleScheduleBatch(sched *task.Scheduler) http.HandlerFunc {
	type batchRequest struct {
		Platform     string            `json:"platform"`
		TaskType     string            `json:"task_type"`
		Targets      []string          `json:"targets"`
		Priority     string            `json:"priority,omitempty"`
		DelayBetween int               `json:"delay_between_seconds,omitempty"`
		Metadata     map[string]string `json:"metadata,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req batchRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.Platform == "" || req.TaskType == "" || len(req.Targets) == 0 {
			writeInvalidArgument(w, "platform, task_type and targets are required")
			return
		}
		opts := task.BatchOptions{
			Priority: req.Priority,
			Metadata: req.Metadata,
		}
		if req.DelayBetween > 0 {
			opts.DelayBetween = time.Duration(req.DelayBetween) * time.Second
		}
		ids, err := sched.ScheduleBatch(req.Platform, req.TaskType, req.Targets, opts)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusCreated, map[string]any{"scheduled": len(ids), "task_ids": ids})
	}
}

// HandleCancelTask returns DELETE /api/v1/tasks/{id}.
func HandleCancelTask(sched *task.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := PathParam(r, "id")
		if err := sched.Cancel(id); err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, map[string]string{"cancelled": id})
	}
}

// HandleClearQueue returns POST /api/v1/tasks:clear.
// Body: {"platform": "..."}; an empty platform clears everything.
func HandleClearQueue(sched *task.Scheduler) http.HandlerFunc {
	type clearRequest struct {
		Platform string `json:"platform,omitempty"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req clearRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		removed := sched.ClearQueue(req.Platform)
		WriteJSON(w, http.StatusOK, map[string]int{"removed": removed})
	}
}

// HandleListTasks returns GET /api/v1/tasks (the pending queue).
func HandleListTasks(sched *task.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		p, err := ParsePagination(r)
		if err != nil {
			writeInvalidArgument(w, err.Error())
			return
		}
		WritePage(w, http.StatusOK, sched.Pending(), p)
	}
}

// HandleTaskStats returns GET /api/v1/tasks/stats.
func HandleTaskStats(sched *task.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, sched.Stats())
	}
}

// HandleTaskHistory returns GET /api/v1/tasks/history.
// Filters: platform, limit (default 100).
func HandleTaskHistory(rec *history.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 0
		if raw := r.URL.Query().Get("limit"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeInvalidArgument(w, "limit must be a positive integer")
				return
			}
			limit = n
		}
		records, err := rec.Recent(r.URL.Query().Get("platform"), limit)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, records)
	}
}

// HandleTaskHistoryStats returns GET /api/v1/tasks/history/stats.
// Optional since_hours window (default 24).
func HandleTaskHistoryStats(rec *history.Recorder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		hours := 24
		if raw := r.URL.Query().Get("since_hours"); raw != "" {
			n, err := strconv.Atoi(raw)
			if err != nil || n < 1 {
				writeInvalidArgument(w, "since_hours must be a positive integer")
				return
			}
			hours = n
		}
		stats, err := rec.Stats(time.Now().Add(-time.Duration(hours) * time.Hour))
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, stats)
	}
}
