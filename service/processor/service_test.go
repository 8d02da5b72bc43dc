package processor

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/wardenflow/warden/model/risk"
	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/approval"
	apmemory "github.com/wardenflow/warden/service/approval/memory"
	"github.com/wardenflow/warden/service/audit"
	"github.com/wardenflow/warden/service/classifier"
	tmemory "github.com/wardenflow/warden/service/dao/task/memory"
	"github.com/wardenflow/warden/service/dispatcher"
	"github.com/wardenflow/warden/service/escalation"
	mmemory "github.com/wardenflow/warden/service/messaging/memory"
)

func TestConfig_Backoff(t *testing.T) {
	config := DefaultConfig()
	testCases := []struct {
		retryCount int
		expected   time.Duration
	}{
		{retryCount: 0, expected: 0},
		{retryCount: 1, expected: 5 * time.Second},
		{retryCount: 2, expected: 10 * time.Second},
		{retryCount: 3, expected: 20 * time.Second},
		{retryCount: 4, expected: 30 * time.Second},
		{retryCount: 5, expected: 30 * time.Second},
		{retryCount: 20, expected: 30 * time.Second},
	}
	for _, tc := range testCases {
		assert.Equal(t, tc.expected, config.Backoff(tc.retryCount), "retryCount=%d", tc.retryCount)
	}
}

func TestConfig_Backoff_Properties(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		config := Config{
			MaxRetries:  3,
			BackoffBase: time.Duration(rapid.Int64Range(1, int64(time.Minute)).Draw(t, "base")),
			BackoffCap:  time.Duration(rapid.Int64Range(int64(time.Minute), int64(time.Hour)).Draw(t, "cap")),
		}
		n := rapid.IntRange(1, 30).Draw(t, "n")
		delay := config.Backoff(n)
		if delay > config.BackoffCap {
			t.Fatalf("Backoff(%d)=%v exceeds cap %v", n, delay, config.BackoffCap)
		}
		if delay < config.Backoff(n-1) && n > 1 {
			t.Fatalf("Backoff not monotonic at n=%d", n)
		}
	})
}

// harness bundles a processor with in-memory collaborators and an inspectable
// audit stream.
type harness struct {
	service    *Service
	taskDAO    *tmemory.Service
	approval   approval.Service
	dispatcher *dispatcher.Service
	escalation *escalation.Service
	auditQueue *mmemory.Queue[audit.Record]
}

func newHarness(t *testing.T, options ...Option) *harness {
	t.Helper()
	taskDAO := tmemory.New()
	approvalService := apmemory.New()
	dispatcherService := dispatcher.New(dispatcher.Config{Timeout: time.Second})
	escalationService, err := escalation.New(t.TempDir())
	require.NoError(t, err)
	auditQueue := mmemory.NewQueue[audit.Record](mmemory.Config{QueueBuffer: 1000})

	base := []Option{
		WithConfig(Config{MaxRetries: 3}),
		WithTaskDAO(taskDAO),
		WithClassifier(classifier.New()),
		WithApprovalService(approvalService),
		WithDispatcher(dispatcherService),
		WithEscalationService(escalationService),
		WithAuditService(audit.New(auditQueue)),
	}
	service, err := New(append(base, options...)...)
	require.NoError(t, err)
	return &harness{
		service:    service,
		taskDAO:    taskDAO,
		approval:   approvalService,
		dispatcher: dispatcherService,
		escalation: escalationService,
		auditQueue: auditQueue,
	}
}

func (h *harness) records(t *testing.T) []*audit.Record {
	t.Helper()
	ctx := context.Background()
	var records []*audit.Record
	for {
		msg, err := h.auditQueue.Consume(ctx)
		require.NoError(t, err)
		if msg == nil {
			return records
		}
		records = append(records, msg.T())
		_ = msg.Ack()
	}
}

func actions(records []*audit.Record) []string {
	var out []string
	for _, record := range records {
		out = append(out, record.Action)
	}
	return out
}

func succeedingExecutor(taskType string) dispatcher.Executor {
	return dispatcher.Func{
		TaskType: taskType,
		Fn: func(ctx context.Context, t *task.Task) (*dispatcher.Result, error) {
			return &dispatcher.Result{Outcome: dispatcher.OutcomeSuccess, Detail: "ok"}, nil
		},
	}
}

func failingExecutor(taskType, detail string) dispatcher.Executor {
	return dispatcher.Func{
		TaskType: taskType,
		Fn: func(ctx context.Context, t *task.Task) (*dispatcher.Result, error) {
			return nil, errors.New(detail)
		},
	}
}

// settle runs Process until the task is terminal or makes no more progress.
func settle(t *testing.T, h *harness, aTask *task.Task) {
	t.Helper()
	ctx := context.Background()
	for i := 0; i < 30; i++ {
		before := fmt.Sprintf("%s/%d", aTask.Status, aTask.RetryCount)
		require.NoError(t, h.service.Process(ctx, aTask))
		if aTask.Status.Terminal() || fmt.Sprintf("%s/%d", aTask.Status, aTask.RetryCount) == before {
			return
		}
	}
	t.Fatalf("task %s did not settle, stuck at %s", aTask.ID, aTask.Status)
}

func TestService_Process_LowRiskStraightThrough(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Register(succeedingExecutor("sync_calendar"))
	ctx := context.Background()

	aTask := task.New("t-1", "sync_calendar", task.PriorityLow, map[string]interface{}{"amount": 10.0})
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))

	settle(t, h, aTask)

	assert.Equal(t, task.StatusDone, aTask.Status)
	assert.Equal(t, risk.Low, aTask.Risk)
	assert.Equal(t, 0, aTask.RetryCount)

	persisted, err := h.taskDAO.Load(ctx, "t-1")
	require.NoError(t, err)
	assert.Equal(t, task.StatusDone, persisted.Status)

	assert.Equal(t, []string{"task.evaluated", "task.cleared", "execution.started", "execution.succeeded"}, actions(h.records(t)))
}

func TestService_Process_HighRiskWaitsForApproval(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Register(succeedingExecutor("payment"))
	ctx := context.Background()

	aTask := task.New("t-1", "payment", task.PriorityHigh, map[string]interface{}{"amount": 1200.0})
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))

	settle(t, h, aTask)
	assert.Equal(t, task.StatusWaitingApproval, aTask.Status)
	assert.Equal(t, risk.High, aTask.Risk)
	assert.NotEmpty(t, aTask.ApprovalID)

	// Undecided: the task suspends, no matter how many cycles pass.
	for i := 0; i < 3; i++ {
		require.NoError(t, h.service.Process(ctx, aTask))
		assert.Equal(t, task.StatusWaitingApproval, aTask.Status)
	}
	pending, err := h.approval.ListPending(ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1, "repeated checks must not create artifacts")

	_, err = h.approval.Decide(ctx, aTask.ID, "alice", true, "looks right")
	require.NoError(t, err)

	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusDone, aTask.Status)
	assert.Contains(t, actions(h.records(t)), "task.approved")
}

func TestService_Process_RejectionIsTerminal(t *testing.T) {
	h := newHarness(t)
	h.dispatcher.Register(succeedingExecutor("payment"))
	ctx := context.Background()

	aTask := task.New("t-1", "payment", task.PriorityHigh, nil)
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))
	settle(t, h, aTask)

	_, err := h.approval.Decide(ctx, aTask.ID, "alice", false, "not this payee")
	require.NoError(t, err)

	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusRejected, aTask.Status)

	// Terminal means terminal.
	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusRejected, aTask.Status)

	records := h.records(t)
	var rejected *audit.Record
	for _, record := range records {
		if record.Action == "task.rejected" {
			rejected = record
		}
	}
	require.NotNil(t, rejected)
	assert.Equal(t, audit.StatusWarning, rejected.Status)
	assert.Equal(t, "rejected by human decision", rejected.Details["cause"])
}

func TestService_Process_RetriesThenEscalates(t *testing.T) {
	// Zero backoff keeps retryScheduled immediately eligible.
	h := newHarness(t, WithConfig(Config{MaxRetries: 3}))
	attempts := 0
	h.dispatcher.Register(dispatcher.Func{
		TaskType: "sync_calendar",
		Fn: func(ctx context.Context, t *task.Task) (*dispatcher.Result, error) {
			attempts++
			return nil, fmt.Errorf("upstream unavailable")
		},
	})
	ctx := context.Background()

	aTask := task.New("t-1", "sync_calendar", task.PriorityLow, map[string]interface{}{"amount": 1.0})
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))

	settle(t, h, aTask)

	assert.Equal(t, task.StatusEscalated, aTask.Status)
	assert.Equal(t, 4, attempts, "initial attempt plus maxRetries re-attempts")
	assert.Equal(t, 3, aTask.RetryCount)
	assert.Equal(t, "upstream unavailable", aTask.LastError)

	records := h.records(t)
	failures := 0
	for _, record := range records {
		if record.Action == "execution.failed" {
			failures++
		}
	}
	assert.Equal(t, 4, failures, "one failure record per attempt")
	assert.Contains(t, actions(records), "task.escalated")

	notices, err := h.escalation.List(ctx)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, escalation.ReasonRetriesExhausted, notices[0].Reason)
	assert.Equal(t, 4, notices[0].Attempts)
	assert.Equal(t, "upstream unavailable", notices[0].LastError)
}

func TestService_Process_RetryRespectsBackoff(t *testing.T) {
	h := newHarness(t, WithConfig(Config{MaxRetries: 3, BackoffBase: time.Hour, BackoffCap: time.Hour}))
	h.dispatcher.Register(failingExecutor("sync_calendar", "boom"))
	ctx := context.Background()

	aTask := task.New("t-1", "sync_calendar", task.PriorityLow, map[string]interface{}{"amount": 1.0})
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))

	settle(t, h, aTask)

	assert.Equal(t, task.StatusRetryScheduled, aTask.Status)
	assert.Equal(t, 1, aTask.RetryCount)
	require.NotNil(t, aTask.NextAttemptAt)

	// Before the deadline another cycle is a no-op.
	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusRetryScheduled, aTask.Status)
	assert.Equal(t, 1, aTask.RetryCount)
}

func TestService_Process_CrashDuringExecution(t *testing.T) {
	h := newHarness(t, WithConfig(Config{MaxRetries: 3}))
	h.dispatcher.Register(succeedingExecutor("sync_calendar"))
	ctx := context.Background()

	// A document persisted as executing means the previous run died
	// mid-attempt. That counts as a failure occurrence.
	aTask := task.New("t-1", "sync_calendar", task.PriorityLow, nil)
	aTask.Status = task.StatusExecuting
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))

	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusRetryScheduled, aTask.Status)
	assert.Equal(t, 1, aTask.RetryCount)
	assert.Equal(t, "process crashed during execution", aTask.LastError)
}

// blockedApproval simulates an approval store whose writes fail until healed.
type blockedApproval struct {
	healed   bool
	requests int
	inner    approval.Service
}

func (b *blockedApproval) RequestApproval(ctx context.Context, r *approval.Request) (*approval.Request, error) {
	b.requests++
	if !b.healed {
		return nil, approval.ErrStorage
	}
	return b.inner.RequestApproval(ctx, r)
}

func (b *blockedApproval) CheckStatus(ctx context.Context, taskID string) (approval.Decision, error) {
	if !b.healed {
		return approval.DecisionPending, approval.ErrNotFound
	}
	return b.inner.CheckStatus(ctx, taskID)
}

func (b *blockedApproval) Decide(ctx context.Context, taskID, decidedBy string, approved bool, reason string) (*approval.Request, error) {
	return b.inner.Decide(ctx, taskID, decidedBy, approved, reason)
}

func (b *blockedApproval) ListPending(ctx context.Context) ([]*approval.Request, error) {
	return b.inner.ListPending(ctx)
}

func TestService_Process_ApprovalStorageFailureBlocks(t *testing.T) {
	blocked := &blockedApproval{inner: apmemory.New()}
	h := newHarness(t, WithApprovalService(blocked))
	h.dispatcher.Register(succeedingExecutor("payment"))
	ctx := context.Background()

	aTask := task.New("t-1", "payment", task.PriorityHigh, nil)
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))

	require.NoError(t, h.service.Process(ctx, aTask)) // discovered -> evaluated
	require.NoError(t, h.service.Process(ctx, aTask)) // artifact write fails

	// Fail-safe: blocked in waitingApproval, never cleared, never executed.
	assert.Equal(t, task.StatusWaitingApproval, aTask.Status)
	assert.Empty(t, aTask.ApprovalID)
	assert.Equal(t, approval.ErrStorage.Error(), aTask.LastError)

	// Still blocked while the store is down.
	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusWaitingApproval, aTask.Status)

	// Once the store heals the artifact is re-requested.
	blocked.healed = true
	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusWaitingApproval, aTask.Status)
	assert.NotEmpty(t, aTask.ApprovalID)
	assert.Empty(t, aTask.LastError)

	_, err := blocked.Decide(ctx, aTask.ID, "alice", true, "")
	require.NoError(t, err)
	require.NoError(t, h.service.Process(ctx, aTask))
	assert.Equal(t, task.StatusDone, aTask.Status)
}

func TestService_Process_ApprovalTimeoutRejectsAndNotifies(t *testing.T) {
	h := newHarness(t, WithApprovalService(&staticDecision{request: true, decision: approval.DecisionTimeout}))
	h.dispatcher.Register(succeedingExecutor("payment"))
	ctx := context.Background()

	aTask := task.New("t-1", "payment", task.PriorityHigh, nil)
	aTask.MaxRetries = 3
	require.NoError(t, h.taskDAO.Save(ctx, aTask))

	require.NoError(t, h.service.Process(ctx, aTask)) // evaluated
	require.NoError(t, h.service.Process(ctx, aTask)) // waitingApproval
	require.NoError(t, h.service.Process(ctx, aTask)) // timeout observed

	assert.Equal(t, task.StatusRejected, aTask.Status)

	records := h.records(t)
	var rejected *audit.Record
	for _, record := range records {
		if record.Action == "task.rejected" {
			rejected = record
		}
	}
	require.NotNil(t, rejected)
	assert.Equal(t, "approval request timed out", rejected.Details["cause"])

	notices, err := h.escalation.List(ctx)
	require.NoError(t, err)
	require.Len(t, notices, 1)
	assert.Equal(t, escalation.ReasonApprovalTimeout, notices[0].Reason)
	assert.Equal(t, 0, notices[0].Attempts)
}

// staticDecision always reports the configured decision once a request exists.
type staticDecision struct {
	request  bool
	decision approval.Decision
}

func (s *staticDecision) RequestApproval(ctx context.Context, r *approval.Request) (*approval.Request, error) {
	r.ID = "req-1"
	r.Decision = approval.DecisionPending
	return r, nil
}

func (s *staticDecision) CheckStatus(ctx context.Context, taskID string) (approval.Decision, error) {
	return s.decision, nil
}

func (s *staticDecision) Decide(ctx context.Context, taskID, decidedBy string, approved bool, reason string) (*approval.Request, error) {
	return nil, approval.ErrNotFound
}

func (s *staticDecision) ListPending(ctx context.Context) ([]*approval.Request, error) {
	return nil, nil
}
