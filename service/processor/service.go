// Package processor implements the task lifecycle state machine: risk
// evaluation, approval gating, execution, and the retry/backoff/escalation
// policy. Each Process call advances a single task; transition bookkeeping
// for a task is strictly sequential.
package processor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/approval"
	"github.com/wardenflow/warden/service/audit"
	"github.com/wardenflow/warden/service/classifier"
	"github.com/wardenflow/warden/service/dao"
	"github.com/wardenflow/warden/service/dispatcher"
	"github.com/wardenflow/warden/service/escalation"
	"github.com/wardenflow/warden/tracing"
)

const component = "processor"

// Config represents the retry policy applied to failing executions.
type Config struct {
	// MaxRetries caps re-attempts after the first failure.
	MaxRetries int

	// BackoffBase is the delay after the first failure.
	BackoffBase time.Duration

	// BackoffCap bounds the exponential growth of the delay.
	BackoffCap time.Duration
}

// DefaultConfig returns the default retry policy.
func DefaultConfig() Config {
	return Config{
		MaxRetries:  3,
		BackoffBase: 5 * time.Second,
		BackoffCap:  30 * time.Second,
	}
}

// Backoff returns the delay before attempt n+1, n being the retry count
// after the n-th failure: min(base * 2^(n-1), cap).
func (c Config) Backoff(n int) time.Duration {
	if n <= 0 {
		return 0
	}
	delay := c.BackoffBase
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= c.BackoffCap {
			return c.BackoffCap
		}
	}
	if delay > c.BackoffCap {
		return c.BackoffCap
	}
	return delay
}

// Service drives a task through its state machine.
type Service struct {
	config     Config
	taskDAO    dao.Service[string, task.Task]
	classifier *classifier.Service
	approval   approval.Service
	dispatcher *dispatcher.Service
	escalation *escalation.Service
	audit      *audit.Service
}

// Option customises the processor.
type Option func(*Service)

// WithConfig sets the retry policy.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithTaskDAO sets the task store implementation.
func WithTaskDAO(taskDAO dao.Service[string, task.Task]) Option {
	return func(s *Service) { s.taskDAO = taskDAO }
}

// WithClassifier sets the risk classifier.
func WithClassifier(svc *classifier.Service) Option {
	return func(s *Service) { s.classifier = svc }
}

// WithApprovalService sets the approval workflow.
func WithApprovalService(svc approval.Service) Option {
	return func(s *Service) { s.approval = svc }
}

// WithDispatcher sets the execution dispatcher.
func WithDispatcher(svc *dispatcher.Service) Option {
	return func(s *Service) { s.dispatcher = svc }
}

// WithEscalationService sets the escalation notice writer.
func WithEscalationService(svc *escalation.Service) Option {
	return func(s *Service) { s.escalation = svc }
}

// WithAuditService sets the audit emitter.
func WithAuditService(svc *audit.Service) Option {
	return func(s *Service) { s.audit = svc }
}

// New creates a processor service.
func New(options ...Option) (*Service, error) {
	s := &Service{config: DefaultConfig()}
	for _, opt := range options {
		opt(s)
	}
	if s.taskDAO == nil {
		return nil, fmt.Errorf("task DAO is required")
	}
	if s.classifier == nil {
		return nil, fmt.Errorf("classifier is required")
	}
	if s.approval == nil {
		return nil, fmt.Errorf("approval service is required")
	}
	if s.dispatcher == nil {
		return nil, fmt.Errorf("dispatcher is required")
	}
	if s.escalation == nil {
		return nil, fmt.Errorf("escalation service is required")
	}
	if s.audit == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	return s, nil
}

// Config exposes the active retry policy.
func (s *Service) Config() Config {
	return s.config
}

// Process advances the task by one lifecycle step. The two suspension states
// (waitingApproval, retryScheduled) simply return with no change when their
// wake condition has not been met yet.
func (s *Service) Process(ctx context.Context, t *task.Task) (err error) {
	ctx, span := tracing.StartSpan(ctx, fmt.Sprintf("processor.Process %s", t.ID), "INTERNAL")
	defer tracing.EndSpan(span, err)
	span.WithAttributes(map[string]string{"task.id": t.ID, "task.status": string(t.Status)})

	switch t.Status {
	case task.StatusDiscovered:
		return s.evaluate(ctx, t)
	case task.StatusEvaluated:
		return s.gate(ctx, t)
	case task.StatusWaitingApproval:
		return s.checkApproval(ctx, t)
	case task.StatusCleared:
		return s.beginExecution(ctx, t)
	case task.StatusRetryScheduled:
		if !t.Eligible(clock.Now()) {
			return nil
		}
		return s.beginExecution(ctx, t)
	case task.StatusExecuting:
		// Only reachable when a previous run crashed mid-execution; the
		// orchestrator's recovery path feeds it back through the failure
		// accounting. Guard here as well so a stray document cannot wedge.
		return s.applyFailure(ctx, t, "process crashed during execution")
	default:
		if t.Status.Terminal() {
			return nil
		}
		return fmt.Errorf("task %s has unknown status %q", t.ID, t.Status)
	}
}

// evaluate classifies the task's action and records the level.
func (s *Service) evaluate(ctx context.Context, t *task.Task) error {
	level := s.classifier.Classify(t.Type, t.Payload)
	t.Risk = level
	if err := s.transition(ctx, t, task.StatusEvaluated, "task.evaluated", map[string]interface{}{
		"risk": string(level),
	}); err != nil {
		return err
	}
	return nil
}

// gate routes an evaluated task: low risk clears, medium and high risk get a
// pending approval artifact. A storage failure on artifact creation leaves
// the task blocked in waitingApproval – it never falls through to cleared.
func (s *Service) gate(ctx context.Context, t *task.Task) error {
	if !t.Risk.RequiresApproval() {
		return s.transition(ctx, t, task.StatusCleared, "task.cleared", nil)
	}

	request, err := s.approval.RequestApproval(ctx, &approval.Request{
		TaskID:        t.ID,
		Action:        t.Type,
		Risk:          t.Risk,
		Justification: fmt.Sprintf("action %q classified %s risk", t.Type, t.Risk),
	})
	details := map[string]interface{}{"risk": string(t.Risk)}
	if err != nil {
		// Fail-safe: blocked, not auto-approved. The approval check path
		// re-requests the artifact until the write succeeds.
		t.LastError = err.Error()
		details["error"] = err.Error()
	} else {
		t.ApprovalID = request.ID
		details["expiresAt"] = request.ExpiresAt
	}
	return s.transition(ctx, t, task.StatusWaitingApproval, "approval.requested", details)
}

// checkApproval polls the approval artifact; the task suspends here across
// cycles until a decision (or timeout) is observed.
func (s *Service) checkApproval(ctx context.Context, t *task.Task) error {
	decision, err := s.approval.CheckStatus(ctx, t.ID)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrMalformedArtifact):
			// Warning already audited by the approval service; stay pending.
			return nil
		case errors.Is(err, approval.ErrNotFound):
			// The artifact write failed earlier; retry creating it.
			request, rErr := s.approval.RequestApproval(ctx, &approval.Request{
				TaskID:        t.ID,
				Action:        t.Type,
				Risk:          t.Risk,
				Justification: fmt.Sprintf("action %q classified %s risk", t.Type, t.Risk),
			})
			if rErr == nil {
				t.ApprovalID = request.ID
				t.LastError = ""
				return s.taskDAO.Save(ctx, t)
			}
			return nil
		default:
			return nil
		}
	}

	switch decision {
	case approval.DecisionApproved:
		if err := s.transition(ctx, t, task.StatusExecuting, "task.approved", nil); err != nil {
			return err
		}
		return s.execute(ctx, t)
	case approval.DecisionRejected:
		return s.transition(ctx, t, task.StatusRejected, "task.rejected", map[string]interface{}{
			"cause": "rejected by human decision",
		})
	case approval.DecisionTimeout:
		// Inaction cancelled the task; distinct from human rejection – a
		// notice alerts the human that the request expired.
		if err := s.transition(ctx, t, task.StatusRejected, "task.rejected", map[string]interface{}{
			"cause": "approval request timed out",
		}); err != nil {
			return err
		}
		s.raise(ctx, t, escalation.ReasonApprovalTimeout)
		return nil
	}
	return nil
}

// beginExecution brackets a single execution attempt: the executing state is
// persisted before dispatch so a crash mid-attempt is observable on restart.
func (s *Service) beginExecution(ctx context.Context, t *task.Task) error {
	if err := s.transition(ctx, t, task.StatusExecuting, "execution.started", map[string]interface{}{
		"attempt": t.RetryCount + 1,
	}); err != nil {
		return err
	}
	return s.execute(ctx, t)
}

func (s *Service) execute(ctx context.Context, t *task.Task) error {
	result := s.dispatcher.Execute(ctx, t)
	if result.Outcome == dispatcher.OutcomeSuccess {
		return s.transition(ctx, t, task.StatusDone, "execution.succeeded", map[string]interface{}{
			"durationMs": result.Duration.Milliseconds(),
			"detail":     result.Detail,
		})
	}
	return s.applyFailure(ctx, t, result.Detail)
}

// applyFailure feeds one failure occurrence into the retry policy: schedule a
// bounded, backed-off re-attempt or escalate once retries are exhausted.
func (s *Service) applyFailure(ctx context.Context, t *task.Task, detail string) error {
	t.LastError = detail
	s.audit.Emit(ctx, audit.NewRecord(component, "execution.failed", t.ID).
		WithStatus(audit.StatusError).
		WithDetail("attempt", t.RetryCount+1).
		WithDetail("error", detail))

	if t.RetriesExhausted() {
		if err := s.transition(ctx, t, task.StatusEscalated, "task.escalated", map[string]interface{}{
			"attempts": t.RetryCount + 1,
			"error":    detail,
		}); err != nil {
			return err
		}
		s.raise(ctx, t, escalation.ReasonRetriesExhausted)
		return nil
	}

	t.RetryCount++
	next := clock.Now().Add(s.config.Backoff(t.RetryCount))
	t.NextAttemptAt = &next
	return s.transition(ctx, t, task.StatusRetryScheduled, "execution.retryScheduled", map[string]interface{}{
		"retryCount":    t.RetryCount,
		"nextAttemptAt": next,
	})
}

// transition applies a state machine edge, persists the document and emits
// exactly one audit record describing the change.
func (s *Service) transition(ctx context.Context, t *task.Task, to task.Status, action string, details map[string]interface{}) error {
	from := t.Status
	if err := t.TransitionTo(to); err != nil {
		return err
	}
	if err := s.taskDAO.Save(ctx, t); err != nil {
		return fmt.Errorf("failed to save task %s: %w", t.ID, err)
	}
	record := audit.NewRecord(component, action, t.ID).
		WithDetail("from", string(from)).
		WithDetail("to", string(to))
	for key, value := range details {
		record.WithDetail(key, value)
	}
	if to == task.StatusEscalated || to == task.StatusRejected {
		record.WithStatus(audit.StatusWarning)
	}
	s.audit.Emit(ctx, record)
	return nil
}

func (s *Service) raise(ctx context.Context, t *task.Task, reason escalation.Reason) {
	if _, err := s.escalation.Raise(ctx, t, reason); err != nil {
		s.audit.Emit(ctx, audit.NewRecord(component, "escalation.failed", t.ID).
			WithStatus(audit.StatusError).
			WithDetail("error", err.Error()))
	}
}
