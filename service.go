package warden

import (
	"fmt"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/url"
	"go.uber.org/zap"

	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/approval"
	apfs "github.com/wardenflow/warden/service/approval/fs"
	apmemory "github.com/wardenflow/warden/service/approval/memory"
	"github.com/wardenflow/warden/service/audit"
	"github.com/wardenflow/warden/service/classifier"
	"github.com/wardenflow/warden/service/dao"
	tfs "github.com/wardenflow/warden/service/dao/task/fs"
	tmemory "github.com/wardenflow/warden/service/dao/task/memory"
	"github.com/wardenflow/warden/service/dispatcher"
	"github.com/wardenflow/warden/service/escalation"
	"github.com/wardenflow/warden/service/messaging"
	mfs "github.com/wardenflow/warden/service/messaging/fs"
	mmemory "github.com/wardenflow/warden/service/messaging/memory"
	"github.com/wardenflow/warden/service/orchestrator"
	"github.com/wardenflow/warden/service/processor"
)

// memBaseURL roots the in-memory substrate used when no BaseURL is supplied.
const memBaseURL = "mem://localhost/warden"

// Service is the engine façade: it assembles the task store, inbox, risk
// classifier, approval workflow, dispatcher, escalation surface and audit
// stream into a runnable orchestrator.
type Service struct {
	runtime *Runtime

	config            *Config
	logger            *zap.Logger
	taskDAO           dao.Service[string, task.Task]
	inbox             messaging.Queue[orchestrator.InboxTask]
	auditQueue        messaging.Queue[audit.Record]
	auditSink         *zap.Logger
	approvalService   approval.Service
	escalationService *escalation.Service
	classifierOptions []classifier.Option
	dispatcher        *dispatcher.Service
	executors         []dispatcher.Executor
	lockDir           string
	watchDir          string
}

func (s *Service) init(options []Option) error {
	for _, option := range options {
		option(s)
	}
	if s.config == nil {
		s.config = DefaultConfig()
	}
	if err := s.config.Validate(); err != nil {
		return err
	}
	if err := s.ensureBaseSetup(); err != nil {
		return err
	}

	auditService := audit.New(s.auditQueue,
		audit.WithAttempts(s.config.Audit.Attempts),
		audit.WithFallback(s.logger))

	riskClassifier := classifier.New(s.classifierOptions...)

	if s.dispatcher == nil {
		s.dispatcher = dispatcher.New(dispatcher.Config{Timeout: time.Duration(s.config.Dispatcher.Timeout)})
	}
	for _, executor := range s.executors {
		s.dispatcher.Register(executor)
	}

	proc, err := processor.New(
		processor.WithConfig(processor.Config{
			MaxRetries:  s.config.Retry.MaxRetries,
			BackoffBase: time.Duration(s.config.Retry.BackoffBase),
			BackoffCap:  time.Duration(s.config.Retry.BackoffCap),
		}),
		processor.WithTaskDAO(s.taskDAO),
		processor.WithClassifier(riskClassifier),
		processor.WithApprovalService(s.approvalService),
		processor.WithDispatcher(s.dispatcher),
		processor.WithEscalationService(s.escalationService),
		processor.WithAuditService(auditService))
	if err != nil {
		return err
	}

	scheduler, err := orchestrator.New(s.taskDAO, s.inbox, proc, auditService,
		orchestrator.WithConfig(orchestrator.Config{
			PollInterval: time.Duration(s.config.Orchestrator.PollInterval),
			Workers:      s.config.Orchestrator.Workers,
			MaxRetries:   s.config.Retry.MaxRetries,
			LockDir:      s.lockDir,
			WatchDir:     s.watchDir,
		}),
		orchestrator.WithLogger(s.logger))
	if err != nil {
		return err
	}

	s.runtime = &Runtime{
		orchestrator:      scheduler,
		taskDAO:           s.taskDAO,
		inbox:             s.inbox,
		approvalService:   s.approvalService,
		escalationService: s.escalationService,
		auditService:      auditService,
		auditSink:         s.auditSink,
		logger:            s.logger,
	}
	return nil
}

// ensureBaseSetup fills every substrate dependency the caller did not supply.
// With a BaseURL everything durable lives under one directory tree; without
// one the engine runs on in-memory equivalents.
func (s *Service) ensureBaseSetup() error {
	if s.logger == nil {
		s.logger = zap.NewNop()
	}
	baseURL := s.config.BaseURL
	durable := baseURL != ""

	if s.taskDAO == nil {
		if durable {
			taskDAO, err := tfs.New(url.Join(baseURL, "tasks"))
			if err != nil {
				return fmt.Errorf("failed to initialise task store: %w", err)
			}
			s.taskDAO = taskDAO
		} else {
			s.taskDAO = tmemory.New()
		}
	}
	if s.inbox == nil {
		if durable {
			inbox, err := mfs.NewQueue[orchestrator.InboxTask](afs.New(), mfs.Config{
				BasePath:   url.Join(baseURL, "inbox"),
				MaxRetries: s.config.Retry.MaxRetries,
			})
			if err != nil {
				return fmt.Errorf("failed to initialise inbox queue: %w", err)
			}
			s.inbox = inbox
			if s.watchDir == "" {
				s.watchDir = inbox.PendingDir()
			}
		} else {
			s.inbox = mmemory.NewQueue[orchestrator.InboxTask](mmemory.DefaultConfig())
		}
	}
	if s.auditQueue == nil {
		if durable {
			queue, err := mfs.NewQueue[audit.Record](afs.New(), mfs.Config{
				BasePath:   url.Join(baseURL, "audit", "stream"),
				MaxRetries: s.config.Audit.Attempts,
			})
			if err != nil {
				return fmt.Errorf("failed to initialise audit stream: %w", err)
			}
			s.auditQueue = queue
		} else {
			s.auditQueue = mmemory.NewQueue[audit.Record](mmemory.DefaultConfig())
		}
	}
	if s.auditSink == nil {
		if durable {
			s.auditSink = audit.NewSinkLogger(url.Join(baseURL, "audit", "audit.log"))
		} else {
			s.auditSink = s.logger
		}
	}
	if s.approvalService == nil {
		if durable {
			approvalService, err := apfs.New(url.Join(baseURL, "approvals"),
				apfs.WithTTL(time.Duration(s.config.Approval.TTL)))
			if err != nil {
				return fmt.Errorf("failed to initialise approval store: %w", err)
			}
			s.approvalService = approvalService
		} else {
			s.approvalService = apmemory.New()
		}
	}
	if s.escalationService == nil {
		escalationPath := url.Join(memBaseURL, "escalations")
		if durable {
			escalationPath = url.Join(baseURL, "escalations")
		}
		escalationService, err := escalation.New(escalationPath)
		if err != nil {
			return fmt.Errorf("failed to initialise escalation store: %w", err)
		}
		s.escalationService = escalationService
	}
	if durable && s.lockDir == "" {
		s.lockDir = url.Join(baseURL, "locks")
	}
	return nil
}

// Runtime returns the assembled runtime.
func (s *Service) Runtime() *Runtime {
	return s.runtime
}

// ApprovalService exposes the approval workflow, e.g. for auto-deciders or a
// host application's own review surface.
func (s *Service) ApprovalService() approval.Service {
	return s.approvalService
}

// RegisterExecutors adds task executors after construction.
func (s *Service) RegisterExecutors(executors ...dispatcher.Executor) {
	for _, executor := range executors {
		s.dispatcher.Register(executor)
	}
}

// New creates an engine service.
func New(options ...Option) (*Service, error) {
	ret := &Service{}
	if err := ret.init(options); err != nil {
		return nil, err
	}
	return ret, nil
}
