// Package memory provides an in-memory approval.Service used by tests and
// embedded setups that do not need durable artifacts.
package memory

import (
	"context"

	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/internal/idgen"
	"github.com/wardenflow/warden/service/approval"
	"github.com/wardenflow/warden/service/audit"
	"github.com/wardenflow/warden/service/dao/store"
)

type service struct {
	requests *store.MemoryStore[string, approval.Request]
	audit    *audit.Service
}

func requestKey(r *approval.Request) string { return r.TaskID }

// Option customises the service.
type Option func(*service)

// WithAuditService attaches an audit emitter for timeout events.
func WithAuditService(svc *audit.Service) Option {
	return func(s *service) { s.audit = svc }
}

// New creates an in-memory approval service.
func New(options ...Option) approval.Service {
	ret := &service{
		requests: store.NewMemoryStore[string, approval.Request](requestKey),
	}
	for _, option := range options {
		option(ret)
	}
	return ret
}

func (s *service) RequestApproval(ctx context.Context, r *approval.Request) (*approval.Request, error) {
	if r == nil || r.TaskID == "" {
		return nil, approval.ErrStorage
	}
	if existing, _ := s.requests.Load(ctx, r.TaskID); existing != nil && existing.Decision == approval.DecisionPending {
		return existing, nil
	}
	now := clock.Now()
	if r.ID == "" {
		r.ID = idgen.New()
	}
	r.CreatedAt = now
	r.ExpiresAt = now.Add(approval.DefaultTTL)
	r.Decision = approval.DecisionPending
	_ = s.requests.Save(ctx, r)
	return r, nil
}

func (s *service) CheckStatus(ctx context.Context, taskID string) (approval.Decision, error) {
	request, _ := s.requests.Load(ctx, taskID)
	if request == nil {
		return approval.DecisionPending, approval.ErrNotFound
	}
	if request.Decision.Terminal() {
		return request.Decision, nil
	}
	if request.Expired(clock.Now()) {
		now := clock.Now()
		request.Decision = approval.DecisionTimeout
		request.DecidedAt = &now
		request.Reason = "expired without a decision"
		_ = s.requests.Save(ctx, request)
		if s.audit != nil {
			s.audit.Emit(ctx, audit.NewRecord("approval", "request.timeout", request.TaskID).
				WithStatus(audit.StatusWarning).
				WithDetail("expiresAt", request.ExpiresAt))
		}
		return approval.DecisionTimeout, nil
	}
	return approval.DecisionPending, nil
}

func (s *service) Decide(ctx context.Context, taskID, decidedBy string, approved bool, reason string) (*approval.Request, error) {
	request, _ := s.requests.Load(ctx, taskID)
	if request == nil {
		return nil, approval.ErrNotFound
	}
	if request.Decision.Terminal() {
		return request, approval.ErrAlreadyDecided
	}
	decision := approval.DecisionRejected
	if approved {
		decision = approval.DecisionApproved
	}
	now := clock.Now()
	request.Decision = decision
	request.DecidedBy = decidedBy
	request.DecidedAt = &now
	request.Reason = reason
	_ = s.requests.Save(ctx, request)
	return request, nil
}

func (s *service) ListPending(ctx context.Context) ([]*approval.Request, error) {
	all, err := s.requests.List(ctx)
	if err != nil {
		return nil, err
	}
	pending := make([]*approval.Request, 0, len(all))
	for _, r := range all {
		if r.Decision == approval.DecisionPending {
			pending = append(pending, r)
		}
	}
	return pending, nil
}

var _ approval.Service = (*service)(nil)
