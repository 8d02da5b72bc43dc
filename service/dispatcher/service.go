// Package dispatcher invokes the executor registered for a task's type. The
// dispatcher knows nothing about gating or retry policy; it reports a single
// attempt's outcome and leaves scheduling decisions one layer up.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/wardenflow/warden/model/task"
)

var (
	// ErrNoExecutor indicates no executor is registered for the task type.
	ErrNoExecutor = errors.New("no executor registered")

	// ErrExecutionTimeout indicates an executor exceeded the wall-clock
	// bound and is presumed hung.
	ErrExecutionTimeout = errors.New("execution timed out")
)

// DefaultTimeout bounds a single execution attempt.
const DefaultTimeout = 5 * time.Minute

// Outcome is the result classification of one execution attempt.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
)

// Result describes a single execution attempt.
type Result struct {
	Outcome  Outcome       `json:"outcome"`
	Detail   string        `json:"detail,omitempty"`
	Duration time.Duration `json:"duration"`
}

// Executor performs the actual effect of a task's action. Executors may block
// for the duration of the external action; the dispatcher bounds that wait.
// Executors are not assumed idempotent – the dispatcher never retries.
type Executor interface {
	Name() string
	Execute(ctx context.Context, t *task.Task) (*Result, error)
}

// Config represents dispatcher configuration.
type Config struct {
	// Timeout is the wall-clock bound for one execution attempt.
	Timeout time.Duration
}

// DefaultConfig returns the default dispatcher configuration.
func DefaultConfig() Config {
	return Config{Timeout: DefaultTimeout}
}

// Service dispatches task executions against a registry of executors.
type Service struct {
	config    Config
	executors map[string]Executor
	mu        sync.RWMutex
}

// New creates a dispatcher with the supplied configuration.
func New(config Config) *Service {
	if config.Timeout <= 0 {
		config.Timeout = DefaultTimeout
	}
	return &Service{
		config:    config,
		executors: make(map[string]Executor),
	}
}

// Register binds an executor to its task type; the last registration wins.
func (s *Service) Register(executor Executor) {
	if executor == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.executors[executor.Name()] = executor
}

// Lookup returns the executor registered for a task type, or nil.
func (s *Service) Lookup(taskType string) Executor {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.executors[taskType]
}

// Execute runs the single executor attempt for the task. An unregistered
// type, an executor error, a panic or a timeout all come back as a FAILURE
// result – never a crash, never an internal retry.
func (s *Service) Execute(ctx context.Context, t *task.Task) *Result {
	started := time.Now()
	executor := s.Lookup(t.Type)
	if executor == nil {
		return &Result{
			Outcome:  OutcomeFailure,
			Detail:   ErrNoExecutor.Error(),
			Duration: time.Since(started),
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.Timeout)
	defer cancel()

	type attempt struct {
		result *Result
		err    error
	}
	resultCh := make(chan attempt, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				resultCh <- attempt{err: fmt.Errorf("executor panic: %v", r)}
			}
		}()
		result, err := executor.Execute(ctx, t)
		resultCh <- attempt{result: result, err: err}
	}()

	select {
	case <-ctx.Done():
		// The executor is presumed hung; its goroutine is abandoned.
		return &Result{
			Outcome:  OutcomeFailure,
			Detail:   ErrExecutionTimeout.Error(),
			Duration: time.Since(started),
		}
	case outcome := <-resultCh:
		duration := time.Since(started)
		if outcome.err != nil {
			return &Result{Outcome: OutcomeFailure, Detail: outcome.err.Error(), Duration: duration}
		}
		result := outcome.result
		if result == nil {
			result = &Result{Outcome: OutcomeSuccess}
		}
		result.Duration = duration
		return result
	}
}

// Func adapts a plain function to the Executor interface.
type Func struct {
	TaskType string
	Fn       func(ctx context.Context, t *task.Task) (*Result, error)
}

func (f Func) Name() string { return f.TaskType }

func (f Func) Execute(ctx context.Context, t *task.Task) (*Result, error) {
	return f.Fn(ctx, t)
}
