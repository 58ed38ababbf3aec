package api

import (
	"net/http"
	"time"

	"github.com/radar-hq/radar/internal/bandit"
)

// HandleSlotStats returns GET /api/v1/slots/{platform}/stats.
func HandleSlotStats(sched *bandit.Scheduler) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, sched.Stats(PathParam(r, "platform")))
	}
}

// HandleScheduleNextRun returns POST /api/v1/slots/{platform}:next.
// Picks a slot, books the dispatch, and returns the concrete run time.
func HandleScheduleNextRun(sched *bandit.Scheduler) http.HandlerFunc {
	type nextResponse struct {
		Platform string    `json:"platform"`
		Slot     string    `json:"slot"`
		RunAt    time.Time `json:"run_at"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		platform := PathParam(r, "platform")
		slot, at, err := sched.ScheduleNext(platform)
		if err != nil {
			writeDomainError(w, err)
			return
		}
		WriteJSON(w, http.StatusOK, nextResponse{Platform: platform, Slot: slot, RunAt: at})
	}
}

// HandleReportSlotOutcome returns POST /api/v1/slots/{platform}:outcome.
// Body carries the two engagement window scores; the composite reward
// under the configured weights is what feeds slot selection.
func HandleReportSlotOutcome(sched *bandit.Scheduler) http.HandlerFunc {
	type outcomeRequest struct {
		Slot        string  `json:"slot"`
		LongWindow  float64 `json:"long_window"`
		ShortWindow float64 `json:"short_window"`
	}
	type outcomeResponse struct {
		Platform string  `json:"platform"`
		Slot     string  `json:"slot"`
		Reward   float64 `json:"reward"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req outcomeRequest
		if err := DecodeBody(r, &req); err != nil {
			writeDecodeBodyError(w, err)
			return
		}
		if req.Slot == "" {
			writeInvalidArgument(w, "slot is required")
			return
		}
		platform := PathParam(r, "platform")
		reward := sched.ComposeReward(req.LongWindow, req.ShortWindow)
		sched.ReportReward(platform, req.Slot, reward)
		WriteJSON(w, http.StatusOK, outcomeResponse{Platform: platform, Slot: req.Slot, Reward: reward})
	}
}
