package task

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStatus_Terminal(t *testing.T) {
	terminal := []Status{StatusDone, StatusEscalated, StatusRejected}
	for _, status := range terminal {
		assert.True(t, status.Terminal(), "%s should be terminal", status)
	}
	open := []Status{StatusDiscovered, StatusEvaluated, StatusCleared, StatusWaitingApproval, StatusExecuting, StatusRetryScheduled}
	for _, status := range open {
		assert.False(t, status.Terminal(), "%s should not be terminal", status)
	}
}

func TestCanTransition(t *testing.T) {
	testCases := []struct {
		name    string
		from    Status
		to      Status
		allowed bool
	}{
		{name: "discovered to evaluated", from: StatusDiscovered, to: StatusEvaluated, allowed: true},
		{name: "evaluated to cleared", from: StatusEvaluated, to: StatusCleared, allowed: true},
		{name: "evaluated to waiting approval", from: StatusEvaluated, to: StatusWaitingApproval, allowed: true},
		{name: "cleared to executing", from: StatusCleared, to: StatusExecuting, allowed: true},
		{name: "waiting approval to executing", from: StatusWaitingApproval, to: StatusExecuting, allowed: true},
		{name: "waiting approval to rejected", from: StatusWaitingApproval, to: StatusRejected, allowed: true},
		{name: "executing to done", from: StatusExecuting, to: StatusDone, allowed: true},
		{name: "executing to retry", from: StatusExecuting, to: StatusRetryScheduled, allowed: true},
		{name: "executing to escalated", from: StatusExecuting, to: StatusEscalated, allowed: true},
		{name: "retry back to executing", from: StatusRetryScheduled, to: StatusExecuting, allowed: true},
		{name: "discovered cannot execute directly", from: StatusDiscovered, to: StatusExecuting, allowed: false},
		{name: "evaluated cannot complete directly", from: StatusEvaluated, to: StatusDone, allowed: false},
		{name: "done is final", from: StatusDone, to: StatusExecuting, allowed: false},
		{name: "rejected is final", from: StatusRejected, to: StatusEvaluated, allowed: false},
		{name: "escalated is final", from: StatusEscalated, to: StatusRetryScheduled, allowed: false},
		{name: "no skipping evaluation", from: StatusDiscovered, to: StatusCleared, allowed: false},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.allowed, CanTransition(tc.from, tc.to))
		})
	}
}
