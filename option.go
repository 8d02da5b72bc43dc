package warden

import (
	"go.uber.org/zap"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/approval"
	"github.com/wardenflow/warden/service/audit"
	"github.com/wardenflow/warden/service/classifier"
	"github.com/wardenflow/warden/service/dao"
	"github.com/wardenflow/warden/service/dispatcher"
	"github.com/wardenflow/warden/service/escalation"
	"github.com/wardenflow/warden/service/messaging"
	"github.com/wardenflow/warden/service/orchestrator"
	"github.com/wardenflow/warden/tracing"
)

// Option customises the engine service.
type Option func(s *Service)

// WithConfig sets the engine configuration.
func WithConfig(config *Config) Option {
	return func(s *Service) { s.config = config }
}

// WithBaseURL roots the durable substrate (tasks, inbox, approvals,
// escalations, audit, locks) under the supplied directory.
func WithBaseURL(baseURL string) Option {
	return func(s *Service) {
		if s.config == nil {
			s.config = DefaultConfig()
		}
		s.config.BaseURL = baseURL
	}
}

// WithTaskDAO sets the task store.
func WithTaskDAO(taskDAO dao.Service[string, task.Task]) Option {
	return func(s *Service) { s.taskDAO = taskDAO }
}

// WithInboxQueue sets the task inbox queue.
func WithInboxQueue(queue messaging.Queue[orchestrator.InboxTask]) Option {
	return func(s *Service) { s.inbox = queue }
}

// WithAuditQueue sets the audit stream queue.
func WithAuditQueue(queue messaging.Queue[audit.Record]) Option {
	return func(s *Service) { s.auditQueue = queue }
}

// WithAuditSink sets the logger the audit drain writes delivered records to.
func WithAuditSink(sink *zap.Logger) Option {
	return func(s *Service) { s.auditSink = sink }
}

// WithApprovalService sets the approval workflow implementation.
func WithApprovalService(svc approval.Service) Option {
	return func(s *Service) { s.approvalService = svc }
}

// WithEscalationService sets the escalation notice writer.
func WithEscalationService(svc *escalation.Service) Option {
	return func(s *Service) { s.escalationService = svc }
}

// WithClassifierOptions customises the risk classifier rule sets.
func WithClassifierOptions(options ...classifier.Option) Option {
	return func(s *Service) {
		s.classifierOptions = append(s.classifierOptions, options...)
	}
}

// WithExecutors registers task executors with the dispatcher.
func WithExecutors(executors ...dispatcher.Executor) Option {
	return func(s *Service) {
		s.executors = append(s.executors, executors...)
	}
}

// WithDispatcher sets a pre-built dispatcher; executors supplied via
// WithExecutors are still registered on it.
func WithDispatcher(svc *dispatcher.Service) Option {
	return func(s *Service) { s.dispatcher = svc }
}

// WithLogger sets the operational logger (distinct from the audit sink).
func WithLogger(logger *zap.Logger) Option {
	return func(s *Service) { s.logger = logger }
}

// WithLockDir enables cross-process advisory task locks in the supplied
// directory.
func WithLockDir(dir string) Option {
	return func(s *Service) { s.lockDir = dir }
}

// WithTracing configures OpenTelemetry tracing for the service. If outputFile
// is empty the stdout exporter is used; otherwise traces are written to the
// supplied file path. The function is safe to call multiple times – the first
// successful initialisation wins.
func WithTracing(serviceName, serviceVersion, outputFile string) Option {
	return func(s *Service) {
		_ = tracing.Init(serviceName, serviceVersion, outputFile)
	}
}

// WithTracingExporter configures OpenTelemetry tracing using a custom
// SpanExporter, enabling integrations with exporters other than the built-in
// stdout exporter, for example OTLP, Jaeger or Zipkin.
func WithTracingExporter(serviceName, serviceVersion string, exporter sdktrace.SpanExporter) Option {
	return func(s *Service) {
		_ = tracing.InitWithExporter(serviceName, serviceVersion, exporter)
	}
}
