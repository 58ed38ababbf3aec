// Package task schedules engagement work against platform accounts. A
// min-heap orders tasks by due time, a 1s driver loop pops due work, and
// per-platform pacing keeps dispatch rates inside human-plausible bounds.
package task

import (
	"context"
	"time"

	"github.com/radar-hq/radar/internal/session"
)

// Engagement task types.
const (
	TypeLike      = "like"
	TypeFollow    = "follow"
	TypeComment   = "comment"
	TypeSave      = "save"
	TypeShare     = "share"
	TypeUnfollow  = "unfollow"
	TypeViewStory = "view_story"
	TypeSendDM    = "send_dm"
)

// Task priorities.
const (
	PriorityLow    = "low"
	PriorityNormal = "normal"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Terminal and transient task statuses, recorded into history.
const (
	StatusSuccess   = "success"
	StatusFailed    = "failed"
	StatusCancelled = "cancelled"
)

// Task is one scheduled engagement action.
type Task struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	Platform  string            `json:"platform"`
	Type      string            `json:"type"`
	Target    string            `json:"target"`
	Priority  string            `json:"priority"`
	Metadata  map[string]string `json:"metadata,omitempty"`

	ScheduledAt time.Time `json:"scheduled_at"`
	CreatedAt   time.Time `json:"created_at"`
	RetryCount  int       `json:"retry_count"`

	// MaxRetries caps retries for this task alone; zero or negative
	// means the configured default applies.
	MaxRetries int `json:"max_retries,omitempty"`
}

// Result is what an automator reports back for one execution.
type Result struct {
	Success   bool              `json:"success"`
	Message   string            `json:"message"`
	Artifacts map[string]string `json:"artifacts,omitempty"`
}

// Automator executes a task inside a fully resolved session. The session
// already carries the proxy, fingerprint and restored browser state; the
// automator must not do its own account or proxy selection.
type Automator interface {
	Execute(ctx context.Context, sess *session.Context, t *Task) Result
}
