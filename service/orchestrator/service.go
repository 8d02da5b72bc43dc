// Package orchestrator drives the task lifecycle: it recovers incomplete
// tasks on startup, admits newly discovered tasks from the inbox, and
// advances every eligible task through the processor on a fixed polling
// cadence. A per-task lock (in-process mutex plus an advisory flock) keeps a
// continuous daemon and a manual one-shot run from ever processing the same
// task concurrently.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/internal/idgen"
	"github.com/wardenflow/warden/internal/lock"
	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/audit"
	"github.com/wardenflow/warden/service/dao"
	"github.com/wardenflow/warden/service/messaging"
	"github.com/wardenflow/warden/service/processor"
	"github.com/wardenflow/warden/tracing"
)

const component = "orchestrator"

// InboxTask is the minimal document sensors publish to the task inbox; each
// becomes exactly one Task entity.
type InboxTask struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"`
	Priority  task.Priority          `json:"priority"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
	CreatedAt time.Time              `json:"created_at"`
}

// Config represents orchestrator configuration.
type Config struct {
	// PollInterval is how often the loop scans the inbox and the task store.
	PollInterval time.Duration

	// Workers bounds concurrent task advancement so one long-running
	// execution does not stall polling of other tasks.
	Workers int

	// MaxRetries is the retry budget stamped onto admitted tasks.
	MaxRetries int

	// LockDir enables cross-process advisory flocks when non-empty.
	LockDir string

	// WatchDir, when non-empty, is watched for new inbox documents to wake
	// the loop before the next tick. Polling remains authoritative.
	WatchDir string
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		PollInterval: 5 * time.Second,
		Workers:      4,
		MaxRetries:   3,
	}
}

// Service is the scheduler loop.
type Service struct {
	config    Config
	taskDAO   dao.Service[string, task.Task]
	inbox     messaging.Queue[InboxTask]
	processor *processor.Service
	audit     *audit.Service
	logger    *zap.Logger

	locks    *lock.MutexMap
	inFlight map[string]bool
	mu       sync.Mutex

	jobs       chan string
	wake       chan struct{}
	shutdownCh chan struct{}
	shutdown   sync.Once
	workerWg   sync.WaitGroup
}

// Option customises the orchestrator.
type Option func(*Service)

// WithConfig sets the loop configuration.
func WithConfig(config Config) Option {
	return func(s *Service) { s.config = config }
}

// WithLogger sets the service logger.
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// New creates an orchestrator service.
func New(taskDAO dao.Service[string, task.Task], inbox messaging.Queue[InboxTask], proc *processor.Service, auditSvc *audit.Service, options ...Option) (*Service, error) {
	if taskDAO == nil {
		return nil, fmt.Errorf("task DAO is required")
	}
	if inbox == nil {
		return nil, fmt.Errorf("inbox queue is required")
	}
	if proc == nil {
		return nil, fmt.Errorf("processor is required")
	}
	if auditSvc == nil {
		return nil, fmt.Errorf("audit service is required")
	}
	s := &Service{
		config:     DefaultConfig(),
		taskDAO:    taskDAO,
		inbox:      inbox,
		processor:  proc,
		audit:      auditSvc,
		logger:     zap.NewNop(),
		locks:      lock.NewMutexMap(),
		inFlight:   make(map[string]bool),
		wake:       make(chan struct{}, 1),
		shutdownCh: make(chan struct{}),
	}
	for _, opt := range options {
		opt(s)
	}
	if s.config.PollInterval <= 0 {
		s.config.PollInterval = DefaultConfig().PollInterval
	}
	if s.config.Workers <= 0 {
		s.config.Workers = DefaultConfig().Workers
	}
	s.jobs = make(chan string, s.config.Workers*4)
	return s, nil
}

// Start runs recovery and then the polling loop until the context is
// cancelled or Shutdown is called. An in-flight transition always completes
// and persists before Start returns.
func (s *Service) Start(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		s.logger.Warn("recovery incomplete", zap.Error(err))
	}

	for i := 0; i < s.config.Workers; i++ {
		s.workerWg.Add(1)
		go s.worker(ctx)
	}
	defer s.workerWg.Wait()

	if s.config.WatchDir != "" {
		stopWatch, err := s.watch()
		if err != nil {
			s.logger.Warn("inbox watcher unavailable, relying on polling", zap.Error(err))
		} else {
			defer stopWatch()
		}
	}

	ticker := time.NewTicker(s.config.PollInterval)
	defer ticker.Stop()

	s.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			s.Shutdown()
			return ctx.Err()
		case <-s.shutdownCh:
			return nil
		case <-ticker.C:
			s.runCycle(ctx)
		case <-s.wake:
			s.runCycle(ctx)
		}
	}
}

// Shutdown signals the loop to stop after the in-flight transitions finish.
func (s *Service) Shutdown() {
	s.shutdown.Do(func() { close(s.shutdownCh) })
}

// RunOnce performs recovery and a single scheduling cycle; used by manual
// invocations alongside (or instead of) a continuous daemon.
func (s *Service) RunOnce(ctx context.Context) error {
	if err := s.Recover(ctx); err != nil {
		return err
	}
	s.drainInbox(ctx)
	for _, t := range s.eligibleTasks(ctx) {
		s.advance(ctx, t.ID)
	}
	return nil
}

// Recover scans all non-terminal tasks at startup and resumes them at their
// recorded state. A task persisted as executing was interrupted by a crash:
// it is fed through the failure accounting (retry counter or escalation),
// never silently restarted with a clean slate.
func (s *Service) Recover(ctx context.Context) error {
	tasks, err := s.taskDAO.List(ctx)
	if err != nil {
		return fmt.Errorf("failed to list tasks for recovery: %w", err)
	}
	for _, t := range tasks {
		if t.Status != task.StatusExecuting {
			continue
		}
		s.audit.Emit(ctx, audit.NewRecord(component, "task.recovered", t.ID).
			WithStatus(audit.StatusWarning).
			WithDetail("status", string(t.Status)).
			WithDetail("retryCount", t.RetryCount))
		s.locks.Lock(t.ID)
		if err := s.processor.Process(ctx, t); err != nil {
			s.logger.Warn("failed to recover task", zap.String("taskId", t.ID), zap.Error(err))
		}
		s.locks.Unlock(t.ID)
	}
	return nil
}

// runCycle admits new tasks and schedules every eligible one for advancement.
func (s *Service) runCycle(ctx context.Context) {
	ctx, span := tracing.StartSpan(ctx, "orchestrator.cycle", "INTERNAL")
	defer tracing.EndSpan(span, nil)

	s.drainInbox(ctx)
	for _, t := range s.eligibleTasks(ctx) {
		s.enqueue(t.ID)
	}
}

// eligibleTasks returns non-terminal tasks ready to advance, highest
// priority first, then oldest first.
func (s *Service) eligibleTasks(ctx context.Context) []*task.Task {
	tasks, err := s.taskDAO.List(ctx)
	if err != nil {
		s.logger.Warn("failed to list tasks", zap.Error(err))
		return nil
	}
	now := clock.Now()
	eligible := tasks[:0]
	for _, t := range tasks {
		if t.Eligible(now) {
			eligible = append(eligible, t)
		}
	}
	sort.SliceStable(eligible, func(i, j int) bool {
		if eligible[i].Priority.Rank() != eligible[j].Priority.Rank() {
			return eligible[i].Priority.Rank() > eligible[j].Priority.Rank()
		}
		return eligible[i].CreatedAt.Before(eligible[j].CreatedAt)
	})
	return eligible
}

// drainInbox consumes every pending inbox document, admitting each as a
// discovered task. The message is acknowledged only after the task document
// is durably written, so at-least-once delivery never loses a task.
func (s *Service) drainInbox(ctx context.Context) {
	for {
		msg, err := s.inbox.Consume(ctx)
		if err != nil {
			if ctx.Err() == nil {
				s.logger.Warn("failed to consume inbox", zap.Error(err))
			}
			return
		}
		if msg == nil {
			return
		}
		doc := msg.T()
		if err := s.admit(ctx, doc); err != nil {
			s.logger.Warn("failed to admit task", zap.String("taskId", doc.ID), zap.Error(err))
			_ = msg.Nack(err)
			continue
		}
		_ = msg.Ack()
	}
}

// admit turns an inbox document into exactly one task entity; an id already
// present in the store marks a redelivered or duplicate document and is
// skipped with a warning.
func (s *Service) admit(ctx context.Context, doc *InboxTask) error {
	if doc.ID == "" {
		doc.ID = idgen.New()
	}
	if doc.Type == "" {
		return fmt.Errorf("inbox document %s has no type", doc.ID)
	}
	if existing, err := s.taskDAO.Load(ctx, doc.ID); err == nil && existing != nil {
		s.audit.Emit(ctx, audit.NewRecord(component, "task.duplicate", doc.ID).
			WithStatus(audit.StatusWarning).
			WithDetail("status", string(existing.Status)))
		return nil
	} else if err != nil && !errors.Is(err, dao.ErrNotFound) {
		return err
	}

	t := task.New(doc.ID, doc.Type, doc.Priority, doc.Payload)
	if !doc.CreatedAt.IsZero() {
		t.CreatedAt = doc.CreatedAt
	}
	if t.Priority.Rank() < 0 {
		t.Priority = task.PriorityMedium
	}
	t.MaxRetries = s.config.MaxRetries
	if err := s.taskDAO.Save(ctx, t); err != nil {
		return fmt.Errorf("failed to persist admitted task %s: %w", t.ID, err)
	}
	s.audit.Emit(ctx, audit.NewRecord(component, "task.admitted", t.ID).
		WithDetail("type", t.Type).
		WithDetail("priority", string(t.Priority)))
	return nil
}

// enqueue hands a task id to the worker pool unless it is already in flight.
func (s *Service) enqueue(id string) {
	s.mu.Lock()
	if s.inFlight[id] {
		s.mu.Unlock()
		return
	}
	s.inFlight[id] = true
	s.mu.Unlock()

	select {
	case s.jobs <- id:
	default:
		// Pool saturated; the next cycle will pick the task up again.
		s.clearInFlight(id)
	}
}

func (s *Service) clearInFlight(id string) {
	s.mu.Lock()
	delete(s.inFlight, id)
	s.mu.Unlock()
}

func (s *Service) worker(ctx context.Context) {
	defer s.workerWg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.shutdownCh:
			return
		case id := <-s.jobs:
			s.advance(ctx, id)
			s.clearInFlight(id)
		}
	}
}

// advance applies at most one state transition to the task identified by id.
// The task document is re-read under the lock so the transition always starts
// from the latest persisted state.
func (s *Service) advance(ctx context.Context, id string) {
	if s.config.LockDir != "" {
		fileLock := lock.NewFileLock(filepath.Join(s.config.LockDir, sanitize(id)+".lock"))
		if err := fileLock.TryLock(); err != nil {
			// Another scheduler instance owns this task right now.
			return
		}
		defer fileLock.Unlock()
	}
	s.locks.Lock(id)
	defer s.locks.Unlock(id)

	t, err := s.taskDAO.Load(ctx, id)
	if err != nil {
		if !errors.Is(err, dao.ErrNotFound) {
			s.logger.Warn("failed to load task", zap.String("taskId", id), zap.Error(err))
		}
		return
	}
	if !t.Eligible(clock.Now()) {
		return
	}
	if err := s.processor.Process(ctx, t); err != nil {
		s.logger.Warn("failed to advance task", zap.String("taskId", id), zap.Error(err))
	}
}

// watch wires an fsnotify watcher that nudges the loop when a new inbox
// document shows up between ticks.
func (s *Service) watch() (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := watcher.Add(s.config.WatchDir); err != nil {
		watcher.Close()
		return nil, err
	}
	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Op&(fsnotify.Create|fsnotify.Write) != 0 {
					select {
					case s.wake <- struct{}{}:
					default:
					}
				}
			case _, ok := <-watcher.Errors:
				if !ok {
					return
				}
			}
		}
	}()
	return func() { watcher.Close() }, nil
}

func sanitize(id string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_', r == '.':
			return r
		}
		return '_'
	}, id)
}
