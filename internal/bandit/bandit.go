// Package bandit picks posting time slots per platform. New platforms go
// through a bootstrap rotation that visits every slot, then selection
// switches to epsilon-greedy over the slots' running mean rewards.
package bandit

import (
	"fmt"
	"log"
	"math/rand/v2"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
)

// fallbackSlots is used when the policy carries no slot list at all.
var fallbackSlots = []string{"13:00", "19:00"}

// Marker flags slot stats dirty for the flush cycle. Satisfied by
// *state.StateEngine.
type Marker interface {
	MarkSlotStat(platform, slot string)
}

// Scheduler holds per-(platform, slot) reward statistics and the last
// scheduled run per platform.
type Scheduler struct {
	stats   *xsync.Map[model.SlotStatKey, model.SlotStat]
	lastRun *xsync.Map[string, time.Time]
	marks   Marker
	runtime *atomic.Pointer[config.RuntimeConfig]

	// now is swappable for deterministic tests.
	now func() time.Time
}

func NewScheduler(marks Marker, runtime *atomic.Pointer[config.RuntimeConfig]) *Scheduler {
	return &Scheduler{
		stats:   xsync.NewMap[model.SlotStatKey, model.SlotStat](),
		lastRun: xsync.NewMap[string, time.Time](),
		marks:   marks,
		runtime: runtime,
		now:     time.Now,
	}
}

func (s *Scheduler) cfg() *config.RuntimeConfig { return s.runtime.Load() }

// Bootstrap seeds slot statistics from persisted rows.
func (s *Scheduler) Bootstrap(stats []model.SlotStat) {
	for _, st := range stats {
		s.stats.Store(model.SlotStatKey{Platform: st.Platform, Slot: st.Slot}, st)
	}
	log.Printf("[bandit] bootstrapped %d slot stats", len(stats))
}

// Slots returns the candidate slot list from the active policy, widened
// with the optional low-traffic slot when enabled.
func (s *Scheduler) Slots() []string {
	policy := s.cfg().SlotPolicy
	slots := make([]string, 0, len(policy.Slots)+1)
	slots = append(slots, policy.Slots...)
	if policy.EnableLateSlot && policy.OptionalLateSlot != "" {
		present := false
		for _, sl := range slots {
			if sl == policy.OptionalLateSlot {
				present = true
				break
			}
		}
		if !present {
			slots = append(slots, policy.OptionalLateSlot)
		}
	}
	if len(slots) == 0 {
		slots = append(slots, fallbackSlots...)
	}
	return slots
}

// SelectSlot picks a slot for the platform. During bootstrap (too few
// total dispatches, or any slot short on reward samples) it returns the
// least-dispatched slot so every slot gets explored. Afterwards it
// explores uniformly with probability epsilon and otherwise exploits the
// highest running mean.
func (s *Scheduler) SelectSlot(platform string) string {
	policy := s.cfg().SlotPolicy
	slots := s.Slots()

	totalDispatches := 0
	undersampled := false
	for _, slot := range slots {
		st, _ := s.stats.Load(model.SlotStatKey{Platform: platform, Slot: slot})
		totalDispatches += st.Dispatches
		if st.Samples < policy.MinSamplesPerSlot {
			undersampled = true
		}
	}

	threshold := max(1, policy.BootstrapWeeks*10)
	if totalDispatches < threshold || undersampled {
		least := slots[0]
		leastCount := -1
		for _, slot := range slots {
			st, _ := s.stats.Load(model.SlotStatKey{Platform: platform, Slot: slot})
			if leastCount < 0 || st.Dispatches < leastCount {
				least = slot
				leastCount = st.Dispatches
			}
		}
		return least
	}

	if rand.Float64() < policy.Epsilon {
		return slots[rand.IntN(len(slots))]
	}

	best := slots[0]
	bestMean := -1e9
	for _, slot := range slots {
		st, _ := s.stats.Load(model.SlotStatKey{Platform: platform, Slot: slot})
		if st.RewardMean > bestMean {
			bestMean = st.RewardMean
			best = slot
		}
	}
	return best
}

// NextRunTime converts a slot's clock time (HH:MM, UTC) into the next
// valid run timestamp: next weekday occurrence, pushed forward a day at
// a time until the platform's minimum gap from its last scheduled run is
// satisfied, then perturbed by jitter plus the platform's stagger offset.
func (s *Scheduler) NextRunTime(platform, slot string) (time.Time, error) {
	hour, minute, err := parseSlot(slot)
	if err != nil {
		return time.Time{}, err
	}
	policy := s.cfg().SlotPolicy
	now := s.now().UTC()

	candidate := time.Date(now.Year(), now.Month(), now.Day(), hour, minute, 0, 0, time.UTC)
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 1)
	}
	candidate = skipWeekends(candidate, policy.SkipWeekends)

	if last, ok := s.lastRun.Load(platform); ok {
		for candidate.Sub(last) < policy.MinGap.Std() {
			candidate = skipWeekends(candidate.AddDate(0, 0, 1), policy.SkipWeekends)
		}
	}

	offset := randBetween(policy.JitterMinMinutes, policy.JitterMaxMinutes)
	if st, ok := policy.Staggers[platform]; ok {
		offset += randBetween(st.MinMinutes, st.MaxMinutes)
	}
	return candidate.Add(time.Duration(offset) * time.Minute), nil
}

// ScheduleNext is the usual entry point: pick a slot, compute its next
// run time, and book the dispatch.
func (s *Scheduler) ScheduleNext(platform string) (string, time.Time, error) {
	slot := s.SelectSlot(platform)
	at, err := s.NextRunTime(platform, slot)
	if err != nil {
		return "", time.Time{}, err
	}
	s.RecordDispatch(platform, slot, at)
	return slot, at, nil
}

// RecordDispatch books one scheduled run into the slot's dispatch count
// and advances the platform's last-run marker.
func (s *Scheduler) RecordDispatch(platform, slot string, at time.Time) {
	key := model.SlotStatKey{Platform: platform, Slot: slot}
	now := s.now().UnixNano()
	s.stats.Compute(key, func(st model.SlotStat, loaded bool) (model.SlotStat, xsync.ComputeOp) {
		if !loaded {
			st = model.SlotStat{Platform: platform, Slot: slot}
		}
		st.Dispatches++
		st.LastUpdatedNs = now
		return st, xsync.UpdateOp
	})
	s.marks.MarkSlotStat(platform, slot)

	s.lastRun.Compute(platform, func(cur time.Time, loaded bool) (time.Time, xsync.ComputeOp) {
		if loaded && cur.After(at) {
			return cur, xsync.CancelOp
		}
		return at, xsync.UpdateOp
	})
}

// ReportReward folds one observed reward into the slot's running mean
// via incremental averaging.
func (s *Scheduler) ReportReward(platform, slot string, reward float64) {
	key := model.SlotStatKey{Platform: platform, Slot: slot}
	now := s.now().UnixNano()
	s.stats.Compute(key, func(st model.SlotStat, loaded bool) (model.SlotStat, xsync.ComputeOp) {
		if !loaded {
			st = model.SlotStat{Platform: platform, Slot: slot}
		}
		st.Samples++
		st.RewardSum += reward
		st.RewardMean = st.RewardSum / float64(st.Samples)
		st.LastUpdatedNs = now
		return st, xsync.UpdateOp
	})
	s.marks.MarkSlotStat(platform, slot)
}

// ComposeReward collapses the two measurement windows into the scalar
// reward fed to ReportReward.
func (s *Scheduler) ComposeReward(longWindow, shortWindow float64) float64 {
	cfg := s.cfg()
	return cfg.RewardLongWindowWeight*longWindow + cfg.RewardShortWindowWeight*shortWindow
}

// Stats returns the slot statistics for one platform in slot order.
func (s *Scheduler) Stats(platform string) []model.SlotStat {
	slots := s.Slots()
	out := make([]model.SlotStat, 0, len(slots))
	for _, slot := range slots {
		st, ok := s.stats.Load(model.SlotStatKey{Platform: platform, Slot: slot})
		if !ok {
			st = model.SlotStat{Platform: platform, Slot: slot}
		}
		out = append(out, st)
	}
	return out
}

// SlotStatSnapshot adapts the stats table to the flush reader shape.
func (s *Scheduler) SlotStatSnapshot(key model.SlotStatKey) *model.SlotStat {
	st, ok := s.stats.Load(key)
	if !ok {
		return nil
	}
	return &st
}

func parseSlot(slot string) (hour, minute int, err error) {
	parts := strings.SplitN(slot, ":", 2)
	if len(parts) != 2 {
		return 0, 0, fmt.Errorf("bandit: malformed slot %q", slot)
	}
	hour, err = strconv.Atoi(parts[0])
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("bandit: malformed slot hour %q", slot)
	}
	minute, err = strconv.Atoi(parts[1])
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("bandit: malformed slot minute %q", slot)
	}
	return hour, minute, nil
}

func skipWeekends(t time.Time, enabled bool) time.Time {
	if !enabled {
		return t
	}
	for t.Weekday() == time.Saturday || t.Weekday() == time.Sunday {
		t = t.AddDate(0, 0, 1)
	}
	return t
}

func randBetween(lo, hi int) int {
	if hi <= lo {
		return lo
	}
	return lo + rand.IntN(hi-lo+1)
}
