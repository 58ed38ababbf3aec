package task

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/radar-hq/radar/internal/account"
	"github.com/radar-hq/radar/internal/config"
	"github.com/radar-hq/radar/internal/model"
	"github.com/radar-hq/radar/internal/session"
)

var (
	// ErrDuplicateTask rejects a second schedule call for an id that is
	// already queued or executing.
	ErrDuplicateTask = errors.New("task: duplicate task id")

	// ErrAccountUnavailable rejects scheduling against a missing or
	// non-active account.
	ErrAccountUnavailable = errors.New("task: account unavailable")

	// ErrAccountAtLimit rejects scheduling that would push the account
	// past its platform daily or hourly cap.
	ErrAccountAtLimit = errors.New("task: account at usage limit")

	// ErrNotFound is returned by Cancel for an unknown task id.
	ErrNotFound = errors.New("task: not found")
)

// SessionSource supplies resolved sessions to task execution. Satisfied
// by *session.Orchestrator.
type SessionSource interface {
	CreateOrGet(accountID, platform string) (*session.Context, error)
	MarkError(accountID, platform string) error
	MarkSuccess(accountID, platform string)
}

// Recorder receives terminal task outcomes for the history log.
type Recorder interface {
	Record(rec model.TaskRecord)
}

// QueueStats is a point-in-time view of the scheduler's load.
type QueueStats struct {
	Queued     int                       `json:"queued"`
	Active     int                       `json:"active"`
	ByPlatform map[string]map[string]int `json:"by_platform"`
	NextRunAt  *time.Time                `json:"next_run_at,omitempty"`
}

// Scheduler owns the pending-task heap and the driver loop that pops due
// work. Dispatch happens on worker goroutines so a slow automator call
// never delays due-task detection.
type Scheduler struct {
	accounts  *account.Pool
	sessions  SessionSource
	automator Automator
	history   Recorder
	runtime   *atomic.Pointer[config.RuntimeConfig]
	tick      time.Duration

	mu        sync.Mutex
	q         *queue
	active    map[string]*Task
	cancelled map[string]bool
	pacing    map[string]*platformPacing

	ctx      context.Context
	cancel   context.CancelFunc
	stopOnce sync.Once
	loopWG   sync.WaitGroup
	taskWG   sync.WaitGroup

	// now is swappable for deterministic tests.
	now func() time.Time
}

func NewScheduler(
	accounts *account.Pool,
	sessions SessionSource,
	automator Automator,
	history Recorder,
	runtime *atomic.Pointer[config.RuntimeConfig],
	tick time.Duration,
) *Scheduler {
	if tick <= 0 {
		tick = time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		accounts:  accounts,
		sessions:  sessions,
		automator: automator,
		history:   history,
		runtime:   runtime,
		tick:      tick,
		q:         newQueue(),
		active:    make(map[string]*Task),
		cancelled: make(map[string]bool),
		pacing:    make(map[string]*platformPacing),
		ctx:       ctx,
		cancel:    cancel,
		now:       time.Now,
	}
}

func (s *Scheduler) cfg() *config.RuntimeConfig { return s.runtime.Load() }

// Start launches the driver loop.
func (s *Scheduler) Start() {
	s.loopWG.Add(1)
	go func() {
		defer s.loopWG.Done()
		ticker := time.NewTicker(s.tick)
		defer ticker.Stop()
		for {
			select {
			case <-s.ctx.Done():
				return
			case <-ticker.C:
				s.dispatchDue(s.now())
			}
		}
	}()
	log.Printf("[scheduler] driver started: tick=%s", s.tick)
}

// Stop halts the driver and waits for in-flight task executions.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.cancel()
		s.loopWG.Wait()
		s.taskWG.Wait()
	})
}

// Schedule validates and enqueues one task. Validation fails closed: an
// inactive account, a platform cap already reached, or a duplicate id
// all reject synchronously rather than being dropped later.
func (s *Scheduler) Schedule(t *Task) error {
	now := s.now()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	if t.Priority == "" {
		t.Priority = PriorityNormal
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.ScheduledAt.IsZero() {
		t.ScheduledAt = now
	}

	acc, ok := s.accounts.Get(t.AccountID)
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountUnavailable, t.AccountID)
	}
	if acc.Status != account.StatusActive {
		return fmt.Errorf("%w: %s is %s", ErrAccountUnavailable, t.AccountID, acc.Status)
	}
	rule := s.cfg().PacingFor(t.Platform)
	if rule.DailyLimit > 0 && acc.TodaysUsage >= rule.DailyLimit {
		return fmt.Errorf("%w: %s daily", ErrAccountAtLimit, t.AccountID)
	}
	if rule.HourlyLimit > 0 && acc.LastHourUsage >= rule.HourlyLimit {
		return fmt.Errorf("%w: %s hourly", ErrAccountAtLimit, t.AccountID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.q.contains(t.ID) {
		return fmt.Errorf("%w: %s", ErrDuplicateTask, t.ID)
	}
	if _, running := s.active[t.ID]; running {
		return fmt.Errorf("%w: %s is executing", ErrDuplicateTask, t.ID)
	}
	delete(s.cancelled, t.ID)
	s.q.push(t)
	return nil
}

// BatchOptions tunes ScheduleBatch.
type BatchOptions struct {
	Priority     string
	DelayBetween time.Duration
	Metadata     map[string]string
}

// ScheduleBatch fans a list of targets out over eligible accounts, one
// task per target, spaced by the requested delay plus per-platform
// jitter. Targets with no eligible account are skipped.
func (s *Scheduler) ScheduleBatch(platform, taskType string, targets []string, opts BatchOptions) ([]string, error) {
	if opts.DelayBetween <= 0 {
		opts.DelayBetween = time.Minute
	}
	if opts.Priority == "" {
		opts.Priority = PriorityNormal
	}

	now := s.now()
	var ids []string
	var lastErr error
	for i, target := range targets {
		acc, err := s.accounts.Select(platform, account.SelectOptions{Priority: account.PrioritySecondary})
		if err != nil {
			lastErr = err
			log.Printf("[scheduler] batch %s/%s: no account for target %d: %v", platform, taskType, i+1, err)
			continue
		}
		t := &Task{
			ID:          fmt.Sprintf("%s_%s_%s_%s", platform, taskType, acc.ID, uuid.NewString()[:8]),
			AccountID:   acc.ID,
			Platform:    platform,
			Type:        taskType,
			Target:      target,
			Priority:    opts.Priority,
			Metadata:    opts.Metadata,
			ScheduledAt: now.Add(time.Duration(i)*opts.DelayBetween + batchJitter(s.cfg().PacingFor(platform))),
			CreatedAt:   now,
		}
		if err := s.Schedule(t); err != nil {
			lastErr = err
			continue
		}
		ids = append(ids, t.ID)
	}
	if len(ids) == 0 && len(targets) > 0 {
		return nil, fmt.Errorf("schedule batch %s/%s: %w", platform, taskType, lastErr)
	}
	return ids, nil
}

// batchJitter perturbs a batch slot by up to ±(range width) of a minute
// so batches never land on an exact grid.
func batchJitter(rule config.PacingRule) time.Duration {
	lo, hi := rule.JitterRange[0], rule.JitterRange[1]
	if hi <= lo {
		return 0
	}
	factor := lo + rand.Float64()*(hi-lo)
	return time.Duration((factor - 1.0) * float64(time.Minute))
}

// Cancel removes a queued task. A task already dispatched cannot be
// interrupted; cancelling it only suppresses future retries.
func (s *Scheduler) Cancel(taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.q.remove(taskID); ok {
		s.recordTerminal(t, taskID, StatusCancelled, "cancelled while queued")
		return nil
	}
	if _, running := s.active[taskID]; running {
		s.cancelled[taskID] = true
		return nil
	}
	return fmt.Errorf("%w: %s", ErrNotFound, taskID)
}

// ClearQueue drops pending tasks, optionally only one platform's.
func (s *Scheduler) ClearQueue(platform string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.clear(platform)
}

// Pending returns the queued tasks, soonest first not guaranteed.
func (s *Scheduler) Pending() []*Task {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.q.snapshot()
}

// Stats summarizes queue load grouped by platform and task type.
func (s *Scheduler) Stats() QueueStats {
	s.mu.Lock()
	defer s.mu.Unlock()
	stats := QueueStats{
		Queued:     s.q.len(),
		Active:     len(s.active),
		ByPlatform: make(map[string]map[string]int),
	}
	for _, t := range s.q.snapshot() {
		byType := stats.ByPlatform[t.Platform]
		if byType == nil {
			byType = make(map[string]int)
			stats.ByPlatform[t.Platform] = byType
		}
		byType[t.Type]++
	}
	if t, ok := s.q.peek(); ok {
		at := t.ScheduledAt
		stats.NextRunAt = &at
	}
	return stats
}

// dispatchDue pops every due task and hands it to a worker goroutine.
// Tasks whose platform is pacing-blocked are pushed back to the pacer's
// earliest retry time so they cannot head-of-line block other platforms.
func (s *Scheduler) dispatchDue(now time.Time) {
	s.mu.Lock()
	var ready []*Task
	for {
		t, ok := s.q.peek()
		if !ok || t.ScheduledAt.After(now) {
			break
		}
		s.q.pop()
		if s.cancelled[t.ID] {
			delete(s.cancelled, t.ID)
			continue
		}
		rule := s.cfg().PacingFor(t.Platform)
		pc := s.pacingFor(t.Platform)
		allowed, retryAt := pc.check(rule, now)
		if !allowed {
			if !retryAt.After(now) {
				retryAt = now.Add(s.tick)
			}
			t.ScheduledAt = retryAt
			s.q.push(t)
			continue
		}
		pc.recordDispatch(rule, now)
		s.active[t.ID] = t
		ready = append(ready, t)
	}
	s.mu.Unlock()

	for _, t := range ready {
		s.taskWG.Add(1)
		go s.run(t)
	}
}

func (s *Scheduler) pacingFor(platform string) *platformPacing {
	pc, ok := s.pacing[platform]
	if !ok {
		pc = &platformPacing{}
		s.pacing[platform] = pc
	}
	return pc
}

// run executes one dispatched task. Runs off the driver goroutine.
func (s *Scheduler) run(t *Task) {
	defer s.taskWG.Done()
	defer func() {
		s.mu.Lock()
		delete(s.active, t.ID)
		s.mu.Unlock()
	}()

	acc, ok := s.accounts.Get(t.AccountID)
	if !ok || acc.Status != account.StatusActive {
		s.fail(t, "account not available")
		return
	}

	sess, err := s.sessions.CreateOrGet(t.AccountID, t.Platform)
	if err != nil {
		s.fail(t, fmt.Sprintf("session: %v", err))
		return
	}

	res := Result{Success: true, Message: "no automator configured, recorded as dry run"}
	if s.automator != nil {
		res = s.automator.Execute(s.ctx, sess, t)
	}
	if res.Success {
		s.succeed(t)
	} else {
		s.fail(t, res.Message)
	}
}

func (s *Scheduler) succeed(t *Task) {
	now := s.now()
	if err := s.accounts.RecordEngagement(t.AccountID, true); err != nil {
		log.Printf("[scheduler] record engagement for %s: %v", t.AccountID, err)
	}
	s.sessions.MarkSuccess(t.AccountID, t.Platform)

	s.mu.Lock()
	s.pacingFor(t.Platform).recordOutcome(s.cfg().PacingFor(t.Platform), s.cfg(), true, now)
	delete(s.cancelled, t.ID)
	s.recordTerminal(t, t.ID, StatusSuccess, "")
	s.mu.Unlock()
}

// fail applies the retry policy: reschedule with exponential backoff
// while retries remain, otherwise record a terminal failure.
func (s *Scheduler) fail(t *Task, reason string) {
	now := s.now()
	if err := s.sessions.MarkError(t.AccountID, t.Platform); err != nil {
		log.Printf("[scheduler] mark session error for %s/%s: %v", t.AccountID, t.Platform, err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	cfg := s.cfg()
	s.pacingFor(t.Platform).recordOutcome(cfg.PacingFor(t.Platform), cfg, false, now)

	if s.cancelled[t.ID] {
		delete(s.cancelled, t.ID)
		s.recordTerminal(t, t.ID, StatusCancelled, reason)
		return
	}
	maxRetries := t.MaxRetries
	if maxRetries <= 0 {
		maxRetries = cfg.MaxRetries
	}
	if t.RetryCount < maxRetries {
		t.RetryCount++
		backoff := cfg.RetryBackoffBase.Std() * time.Duration(1<<t.RetryCount)
		t.ScheduledAt = now.Add(backoff)
		s.q.push(t)
		log.Printf("[scheduler] task %s failed (%s), retry %d/%d in %s", t.ID, reason, t.RetryCount, maxRetries, backoff)
		return
	}

	s.recordTerminal(t, t.ID, StatusFailed, reason)
	if err := s.accounts.RecordEngagement(t.AccountID, false); err != nil {
		log.Printf("[scheduler] record engagement for %s: %v", t.AccountID, err)
	}
	log.Printf("[scheduler] task %s terminally failed after %d retries: %s", t.ID, t.RetryCount, reason)
}

// recordTerminal ships a terminal outcome to the history recorder.
// Callers hold s.mu; the recorder is expected to be non-blocking.
func (s *Scheduler) recordTerminal(t *Task, taskID, status, errMsg string) {
	if s.history == nil {
		return
	}
	rec := model.TaskRecord{
		TaskID:     taskID,
		Status:     status,
		Error:      errMsg,
		ExecutedNs: s.now().UnixNano(),
	}
	if t != nil {
		rec.AccountID = t.AccountID
		rec.Platform = t.Platform
		rec.TaskType = t.Type
		rec.Target = t.Target
		rec.Priority = t.Priority
		rec.RetryCount = t.RetryCount
		rec.ScheduledNs = t.ScheduledAt.UnixNano()
	}
	s.history.Record(rec)
}
