package task

// Status represents a task's position in its lifecycle state machine.
type Status string

const (
	// StatusDiscovered marks a task freshly admitted from the inbox.
	StatusDiscovered Status = "discovered"

	// StatusEvaluated marks a task whose risk level has been classified.
	StatusEvaluated Status = "evaluated"

	// StatusCleared marks a low-risk task that bypassed approval.
	StatusCleared Status = "cleared"

	// StatusWaitingApproval marks a task suspended on a pending human decision.
	StatusWaitingApproval Status = "waitingApproval"

	// StatusExecuting marks a task whose executor is being invoked.
	StatusExecuting Status = "executing"

	// StatusRetryScheduled marks a failed task waiting out its backoff delay.
	StatusRetryScheduled Status = "retryScheduled"

	// StatusDone marks successful completion. Terminal.
	StatusDone Status = "done"

	// StatusEscalated marks retry exhaustion handed over to a human. Terminal.
	StatusEscalated Status = "escalated"

	// StatusRejected marks a human rejection or approval timeout. Terminal.
	StatusRejected Status = "rejected"
)

// transitions encodes the legal state machine edges.
var transitions = map[Status][]Status{
	StatusDiscovered:      {StatusEvaluated},
	StatusEvaluated:       {StatusCleared, StatusWaitingApproval},
	StatusCleared:         {StatusExecuting},
	StatusWaitingApproval: {StatusExecuting, StatusRejected},
	StatusExecuting:       {StatusDone, StatusRetryScheduled, StatusEscalated},
	StatusRetryScheduled:  {StatusExecuting},
}

// Terminal reports whether no further transition may be applied.
func (s Status) Terminal() bool {
	switch s {
	case StatusDone, StatusEscalated, StatusRejected:
		return true
	}
	return false
}

// IsValid reports whether the status is one of the recognised constants.
func (s Status) IsValid() bool {
	if s.Terminal() {
		return true
	}
	_, ok := transitions[s]
	return ok
}

// CanTransition reports whether the state machine permits moving from one
// status to another.
func CanTransition(from, to Status) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}
