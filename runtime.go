package warden

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/wardenflow/warden/internal/idgen"
	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/approval"
	"github.com/wardenflow/warden/service/audit"
	"github.com/wardenflow/warden/service/dao"
	"github.com/wardenflow/warden/service/escalation"
	"github.com/wardenflow/warden/service/messaging"
	"github.com/wardenflow/warden/service/orchestrator"
)

// Runtime is the running engine: the scheduler loop plus the audit drain,
// with accessors over the task, approval and escalation surfaces.
type Runtime struct {
	orchestrator      *orchestrator.Service
	taskDAO           dao.Service[string, task.Task]
	inbox             messaging.Queue[orchestrator.InboxTask]
	approvalService   approval.Service
	escalationService *escalation.Service
	auditService      *audit.Service
	auditSink         *zap.Logger
	logger            *zap.Logger

	cancel context.CancelFunc
	group  *errgroup.Group
}

// Start launches the scheduler loop and the audit drain in the background.
func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	group, ctx := errgroup.WithContext(ctx)
	r.group = group
	group.Go(func() error {
		if err := r.orchestrator.Start(ctx); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	group.Go(func() error {
		if err := r.auditService.Drain(ctx, r.auditSink); err != nil && ctx.Err() == nil {
			return err
		}
		return nil
	})
	return nil
}

// Shutdown stops the loop; any in-flight state transition completes and
// persists before Shutdown returns.
func (r *Runtime) Shutdown(ctx context.Context) error {
	r.orchestrator.Shutdown()
	if r.cancel != nil {
		r.cancel()
	}
	if r.group != nil {
		done := make(chan error, 1)
		go func() { done <- r.group.Wait() }()
		select {
		case err := <-done:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// RunOnce performs recovery and a single scheduling cycle without starting
// the background loop.
func (r *Runtime) RunOnce(ctx context.Context) error {
	return r.orchestrator.RunOnce(ctx)
}

// Submit publishes a task document to the inbox; the next scheduling cycle
// admits it as a discovered task. An empty id is assigned one; the assigned
// id is returned.
func (r *Runtime) Submit(ctx context.Context, doc *orchestrator.InboxTask) (string, error) {
	if doc == nil {
		return "", fmt.Errorf("inbox document is nil")
	}
	if doc.ID == "" {
		doc.ID = idgen.New()
	}
	if err := r.inbox.Publish(ctx, doc); err != nil {
		return "", fmt.Errorf("failed to submit task %s: %w", doc.ID, err)
	}
	return doc.ID, nil
}

// Task returns a task by id.
func (r *Runtime) Task(ctx context.Context, id string) (*task.Task, error) {
	return r.taskDAO.Load(ctx, id)
}

// Tasks returns tasks matching the supplied parameters.
func (r *Runtime) Tasks(ctx context.Context, parameter ...*dao.Parameter) ([]*task.Task, error) {
	return r.taskDAO.List(ctx, parameter...)
}

// WaitForTask polls until the task reaches a terminal state or the timeout
// elapses. The last observed task is returned either way.
func (r *Runtime) WaitForTask(ctx context.Context, id string, timeout time.Duration) (*task.Task, error) {
	deadline := time.Now().Add(timeout)
	for {
		t, err := r.taskDAO.Load(ctx, id)
		if err == nil && t.Status.Terminal() {
			return t, nil
		}
		if time.Now().After(deadline) {
			if err != nil {
				return nil, err
			}
			return t, fmt.Errorf("timeout waiting for task %q", id)
		}
		select {
		case <-ctx.Done():
			return t, ctx.Err()
		case <-time.After(100 * time.Millisecond):
		}
	}
}

// PendingApprovals returns all open approval requests.
func (r *Runtime) PendingApprovals(ctx context.Context) ([]*approval.Request, error) {
	return r.approvalService.ListPending(ctx)
}

// Approve records a positive decision on the pending request for the task.
func (r *Runtime) Approve(ctx context.Context, taskID, decidedBy, reason string) (*approval.Request, error) {
	return r.approvalService.Decide(ctx, taskID, decidedBy, true, reason)
}

// Reject records a negative decision on the pending request for the task.
func (r *Runtime) Reject(ctx context.Context, taskID, decidedBy, reason string) (*approval.Request, error) {
	return r.approvalService.Decide(ctx, taskID, decidedBy, false, reason)
}

// Escalations returns all raised escalation notices.
func (r *Runtime) Escalations(ctx context.Context) ([]*escalation.Notice, error) {
	return r.escalationService.List(ctx)
}

// Audit exposes the audit emitter, e.g. for host applications that want their
// own records on the same stream.
func (r *Runtime) Audit() *audit.Service {
	return r.auditService
}
