package approval

import (
	"time"

	"github.com/wardenflow/warden/model/risk"
)

// Decision represents the status of an approval request.
type Decision string

const (
	DecisionPending  Decision = "pending"
	DecisionApproved Decision = "approved"
	DecisionRejected Decision = "rejected"
	DecisionTimeout  Decision = "timeout"
)

// Terminal reports whether the decision is final.
func (d Decision) Terminal() bool {
	return d != DecisionPending && d != ""
}

// Request is the human-facing artifact gating execution of a medium or high
// risk task. The document is externally owned: a human may edit the decision
// field or relocate the artifact to a decision bucket; the workflow only
// observes it. At most one pending request exists per task id.
type Request struct {
	ID            string     `yaml:"id" json:"id"`
	TaskID        string     `yaml:"task_id" json:"taskId"`
	Action        string     `yaml:"action" json:"action"`
	Risk          risk.Level `yaml:"risk" json:"risk"`
	Justification string     `yaml:"justification,omitempty" json:"justification,omitempty"`
	CreatedAt     time.Time  `yaml:"created_at" json:"createdAt"`
	ExpiresAt     time.Time  `yaml:"expires_at" json:"expiresAt"`

	// Decision section – the only part a human is expected to touch.
	Decision  Decision   `yaml:"decision" json:"decision"`
	DecidedBy string     `yaml:"decided_by,omitempty" json:"decidedBy,omitempty"`
	DecidedAt *time.Time `yaml:"decided_at,omitempty" json:"decidedAt,omitempty"`
	Reason    string     `yaml:"reason,omitempty" json:"reason,omitempty"`
}

// Expired reports whether the request passed its deadline at the given time.
func (r *Request) Expired(now time.Time) bool {
	return !r.ExpiresAt.IsZero() && now.After(r.ExpiresAt)
}
