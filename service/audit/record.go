package audit

import (
	"time"

	"github.com/wardenflow/warden/internal/clock"
)

// Status qualifies an audit record.
type Status string

const (
	StatusSuccess Status = "success"
	StatusWarning Status = "warning"
	StatusError   Status = "error"
)

// Record is an append-only fact about a state transition or a notable
// condition. Records are never mutated after emission.
type Record struct {
	Timestamp time.Time              `json:"timestamp"`
	Component string                 `json:"component"`
	Action    string                 `json:"action"`
	Actor     string                 `json:"actor"`
	Target    string                 `json:"target"`
	Status    Status                 `json:"status"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// NewRecord creates a success record for the supplied component, action and
// target (task or request id). The actor defaults to the engine itself.
func NewRecord(component, action, target string) *Record {
	return &Record{
		Timestamp: clock.Now(),
		Component: component,
		Action:    action,
		Actor:     "orchestrator",
		Target:    target,
		Status:    StatusSuccess,
		Details:   map[string]interface{}{},
	}
}

// WithActor overrides the record actor.
func (r *Record) WithActor(actor string) *Record {
	r.Actor = actor
	return r
}

// WithStatus overrides the record status.
func (r *Record) WithStatus(status Status) *Record {
	r.Status = status
	return r
}

// WithDetail attaches a key/value detail.
func (r *Record) WithDetail(key string, value interface{}) *Record {
	if r.Details == nil {
		r.Details = map[string]interface{}{}
	}
	r.Details[key] = value
	return r
}
