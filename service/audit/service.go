// Package audit emits structured records for every state transition the
// engine applies. Emission is fire-and-forget from the orchestrator's
// perspective: delivery is attempted a bounded number of times, after which
// the record goes to a fallback logger and the pipeline proceeds. Emission
// never blocks the task pipeline indefinitely.
package audit

import (
	"context"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/wardenflow/warden/service/messaging"
)

// Service delivers audit records to the audit stream.
type Service struct {
	queue    messaging.Queue[Record]
	fallback *zap.Logger
	attempts int
}

// Option customises the audit service.
type Option func(*Service)

// WithAttempts caps delivery attempts per record (default 3).
func WithAttempts(attempts int) Option {
	return func(s *Service) {
		if attempts > 0 {
			s.attempts = attempts
		}
	}
}

// WithFallback sets the logger used when delivery attempts are exhausted.
func WithFallback(logger *zap.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.fallback = logger
		}
	}
}

// New creates an audit service publishing to the supplied queue.
func New(queue messaging.Queue[Record], options ...Option) *Service {
	s := &Service{
		queue:    queue,
		fallback: zap.NewNop(),
		attempts: 3,
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Emit delivers a record with at-least-one attempt. On repeated failure the
// record is written to the fallback channel; Emit never returns an error to
// its caller and never stalls the pipeline.
func (s *Service) Emit(ctx context.Context, record *Record) {
	if record == nil {
		return
	}
	var err error
	for i := 0; i < s.attempts; i++ {
		if err = s.queue.Publish(ctx, record); err == nil {
			return
		}
	}
	fields := append([]zap.Field{zap.Error(err)}, recordFields(record)...)
	s.fallback.Warn("audit delivery failed, using fallback channel", fields...)
}

// Drain consumes the audit stream into the supplied sink logger until the
// context is cancelled. It is meant to run as a background goroutine owned by
// the runtime.
func (s *Service) Drain(ctx context.Context, sink *zap.Logger) error {
	const idleDelay = 50 * time.Millisecond
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := s.queue.Consume(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			time.Sleep(idleDelay)
			continue
		}
		if msg == nil {
			time.Sleep(idleDelay)
			continue
		}
		record := msg.T()
		sink.Info("audit", recordFields(record)...)
		_ = msg.Ack()
	}
}

func recordFields(record *Record) []zap.Field {
	fields := []zap.Field{
		zap.Time("timestamp", record.Timestamp),
		zap.String("component", record.Component),
		zap.String("action", record.Action),
		zap.String("actor", record.Actor),
		zap.String("target", record.Target),
		zap.String("status", string(record.Status)),
	}
	if len(record.Details) > 0 {
		fields = append(fields, zap.Any("details", record.Details))
	}
	return fields
}

// NewSinkLogger builds a JSON logger writing to a size-rotated file, suitable
// as the durable audit sink passed to Drain.
func NewSinkLogger(path string) *zap.Logger {
	writer := zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    50, // MB
		MaxBackups: 5,
		MaxAge:     30, // days
	})
	encoder := zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	core := zapcore.NewCore(encoder, writer, zapcore.InfoLevel)
	return zap.New(core)
}
