// Package approval manages the human sign-off artifacts gating risky tasks.
package approval

import (
	"context"
	"errors"
	"time"
)

// DefaultTTL is how long a request stays open before it times out.
const DefaultTTL = 24 * time.Hour

var (
	// ErrStorage indicates the artifact could not be durably written or read.
	// Callers must treat the affected task as blocked, never auto-approved.
	ErrStorage = errors.New("approval: storage failure")

	// ErrMalformedArtifact indicates the artifact exists but cannot be
	// parsed. CheckStatus reports pending alongside this error.
	ErrMalformedArtifact = errors.New("approval: malformed artifact")

	// ErrNotFound indicates no request exists for the task.
	ErrNotFound = errors.New("approval: request not found")

	// ErrAlreadyDecided indicates a decision was already recorded.
	ErrAlreadyDecided = errors.New("approval: already decided")
)

// Service defines the approval workflow contract.
type Service interface {
	// RequestApproval creates exactly one pending artifact for the request's
	// task; requesting again while a pending artifact exists returns the
	// existing one. Fails with ErrStorage when the artifact cannot be
	// durably written.
	RequestApproval(ctx context.Context, r *Request) (*Request, error)

	// CheckStatus reads the current artifact for the task. A pending
	// artifact past its deadline is atomically transitioned to timeout
	// before the decision is returned. Malformed or unreadable artifacts
	// report (DecisionPending, ErrMalformedArtifact) — pending, never
	// approved. Repeated calls on an undecided request are idempotent and
	// create no artifacts.
	CheckStatus(ctx context.Context, taskID string) (Decision, error)

	// Decide records a human decision on the pending request for the task.
	Decide(ctx context.Context, taskID, decidedBy string, approved bool, reason string) (*Request, error)

	// ListPending returns all open requests.
	ListPending(ctx context.Context) ([]*Request, error)
}
