package task

import (
	"fmt"
	"time"

	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/model/risk"
)

// Priority indicates scheduling importance of a task. The orchestrator
// advances higher-priority tasks first within a polling cycle.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// Rank returns a numeric ordering for priorities; unknown values rank lowest.
func (p Priority) Rank() int {
	switch p {
	case PriorityHigh:
		return 2
	case PriorityMedium:
		return 1
	case PriorityLow:
		return 0
	}
	return -1
}

// Task represents a unit of work flowing through the orchestrator. Exactly
// one document exists per ID at any time; Status is the source of truth for
// its lifecycle position.
type Task struct {
	ID       string                 `json:"id"`
	Type     string                 `json:"type"`
	Priority Priority               `json:"priority"`
	Payload  map[string]interface{} `json:"payload,omitempty"`

	Status Status     `json:"status"`
	Risk   risk.Level `json:"risk,omitempty"`

	CreatedAt     time.Time  `json:"createdAt"`
	UpdatedAt     time.Time  `json:"updatedAt"`
	NextAttemptAt *time.Time `json:"nextAttemptAt,omitempty"`

	RetryCount int    `json:"retryCount"`
	MaxRetries int    `json:"maxRetries"`
	LastError  string `json:"lastError,omitempty"`

	// ApprovalID references the approval artifact gating this task, if any.
	ApprovalID string `json:"approvalId,omitempty"`
}

// New creates a discovered task with the supplied identity and payload.
func New(id, taskType string, priority Priority, payload map[string]interface{}) *Task {
	now := clock.Now()
	return &Task{
		ID:        id,
		Type:      taskType,
		Priority:  priority,
		Payload:   payload,
		Status:    StatusDiscovered,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// TransitionTo moves the task to the supplied status, enforcing state machine
// legality and touching UpdatedAt. Terminal tasks never transition again.
func (t *Task) TransitionTo(status Status) error {
	if t.Status.Terminal() {
		return fmt.Errorf("task %s is terminal in state %q", t.ID, t.Status)
	}
	if !CanTransition(t.Status, status) {
		return fmt.Errorf("illegal transition %q -> %q for task %s", t.Status, status, t.ID)
	}
	t.Status = status
	t.UpdatedAt = clock.Now()
	return nil
}

// Eligible reports whether the task may be advanced now: non-terminal and,
// when a retry is scheduled, past its backoff deadline.
func (t *Task) Eligible(now time.Time) bool {
	if t.Status.Terminal() {
		return false
	}
	if t.Status == StatusRetryScheduled && t.NextAttemptAt != nil {
		return !now.Before(*t.NextAttemptAt)
	}
	return true
}

// RetriesExhausted reports whether another failure must escalate instead of
// scheduling a retry.
func (t *Task) RetriesExhausted() bool {
	return t.RetryCount >= t.MaxRetries
}

// Clone returns a deep-enough copy for handing across goroutine boundaries.
func (t *Task) Clone() *Task {
	clone := *t
	if t.NextAttemptAt != nil {
		at := *t.NextAttemptAt
		clone.NextAttemptAt = &at
	}
	if t.Payload != nil {
		clone.Payload = make(map[string]interface{}, len(t.Payload))
		for k, v := range t.Payload {
			clone.Payload[k] = v
		}
	}
	return &clone
}
