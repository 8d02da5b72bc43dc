// Package fs implements the approval workflow over a directory-like store.
// Every request is a human-readable YAML artifact. A pending artifact lives
// under pending/; a human decides either by editing its decision field in
// place or by relocating the file into the approved/ or rejected/ bucket —
// CheckStatus observes both representations, and file content wins when the
// two disagree.
package fs

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/internal/idgen"
	"github.com/wardenflow/warden/service/approval"
	"github.com/wardenflow/warden/service/audit"
)

// Service implements approval.Service on a filesystem substrate.
type Service struct {
	fs       afs.Service
	basePath string
	ttl      time.Duration
	audit    *audit.Service
	mu       sync.Mutex
}

var _ approval.Service = (*Service)(nil)

// Option customises the service.
type Option func(*Service)

// WithTTL overrides the default request lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

// WithAuditService attaches an audit emitter for timeout and warning events.
func WithAuditService(svc *audit.Service) Option {
	return func(s *Service) { s.audit = svc }
}

// New creates a filesystem approval service rooted at basePath.
func New(basePath string, options ...Option) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	s := &Service{
		fs:       afs.New(),
		basePath: basePath,
		ttl:      approval.DefaultTTL,
	}
	for _, opt := range options {
		opt(s)
	}
	ctx := context.Background()
	for _, decision := range []approval.Decision{approval.DecisionPending, approval.DecisionApproved, approval.DecisionRejected, approval.DecisionTimeout} {
		dir := s.bucket(decision)
		if exists, _ := s.fs.Exists(ctx, dir); !exists {
			if err := s.fs.Create(ctx, dir, file.DefaultDirOsMode, true); err != nil {
				return nil, fmt.Errorf("failed to create approval bucket %s: %w", dir, err)
			}
		}
	}
	return s, nil
}

// RequestApproval creates exactly one pending artifact per task. A prior
// pending artifact is returned unchanged so repeated requests stay idempotent.
func (s *Service) RequestApproval(ctx context.Context, r *approval.Request) (*approval.Request, error) {
	if r == nil || r.TaskID == "" {
		return nil, fmt.Errorf("%w: missing task id", approval.ErrStorage)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, err := s.read(ctx, approval.DecisionPending, r.TaskID); err == nil && existing != nil {
		return existing, nil
	}

	now := clock.Now()
	if r.ID == "" {
		r.ID = idgen.New()
	}
	r.CreatedAt = now
	r.ExpiresAt = now.Add(s.ttl)
	r.Decision = approval.DecisionPending

	if err := s.write(ctx, approval.DecisionPending, r); err != nil {
		return nil, fmt.Errorf("%w: %v", approval.ErrStorage, err)
	}
	return r, nil
}

// CheckStatus reads the decision for a task, applying the lazy timeout sweep.
func (s *Service) CheckStatus(ctx context.Context, taskID string) (approval.Decision, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pendingPath := s.artifactPath(approval.DecisionPending, taskID)
	exists, err := s.fs.Exists(ctx, pendingPath)
	if err != nil {
		return approval.DecisionPending, fmt.Errorf("%w: %v", approval.ErrStorage, err)
	}
	if exists {
		request, err := s.read(ctx, approval.DecisionPending, taskID)
		if err != nil {
			if errors.Is(err, approval.ErrMalformedArtifact) {
				s.warn(ctx, taskID, err)
				return approval.DecisionPending, approval.ErrMalformedArtifact
			}
			return approval.DecisionPending, fmt.Errorf("%w: %v", approval.ErrStorage, err)
		}

		// A human may have edited the decision field in place.
		if request.Decision.Terminal() {
			if err := s.relocate(ctx, request, approval.DecisionPending, request.Decision); err != nil {
				return approval.DecisionPending, fmt.Errorf("%w: %v", approval.ErrStorage, err)
			}
			return request.Decision, nil
		}

		if request.Expired(clock.Now()) {
			return s.timeout(ctx, request)
		}
		return approval.DecisionPending, nil
	}

	// Not pending: look through the decided buckets; presence in a bucket is
	// itself a decision when the content was never edited.
	for _, decision := range []approval.Decision{approval.DecisionApproved, approval.DecisionRejected, approval.DecisionTimeout} {
		request, err := s.read(ctx, decision, taskID)
		if err != nil {
			if errors.Is(err, approval.ErrMalformedArtifact) {
				s.warn(ctx, taskID, err)
				return approval.DecisionPending, approval.ErrMalformedArtifact
			}
			continue
		}
		if request == nil {
			continue
		}
		if request.Decision.Terminal() {
			return request.Decision, nil
		}
		return decision, nil
	}
	return approval.DecisionPending, approval.ErrNotFound
}

// Decide records a human decision on the pending artifact.
func (s *Service) Decide(ctx context.Context, taskID, decidedBy string, approved bool, reason string) (*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	request, err := s.read(ctx, approval.DecisionPending, taskID)
	if err != nil || request == nil {
		for _, decision := range []approval.Decision{approval.DecisionApproved, approval.DecisionRejected, approval.DecisionTimeout} {
			if decided, dErr := s.read(ctx, decision, taskID); dErr == nil && decided != nil {
				return decided, approval.ErrAlreadyDecided
			}
		}
		return nil, approval.ErrNotFound
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

	if err := s.relocate(ctx, request, approval.DecisionPending, decision); err != nil {
		return nil, fmt.Errorf("%w: %v", approval.ErrStorage, err)
	}
	return request, nil
}

// ListPending returns all open requests, oldest first.
func (s *Service) ListPending(ctx context.Context) ([]*approval.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	objects, err := s.fs.List(ctx, s.bucket(approval.DecisionPending), option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", approval.ErrStorage, err)
	}
	var pending []*approval.Request
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".yaml") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		var request approval.Request
		if err := yaml.Unmarshal(data, &request); err != nil {
			continue
		}
		pending = append(pending, &request)
	}
	return pending, nil
}

// timeout atomically rewrites an expired pending request as timed out and
// raises an audit event before reporting the decision.
func (s *Service) timeout(ctx context.Context, request *approval.Request) (approval.Decision, error) {
	now := clock.Now()
	request.Decision = approval.DecisionTimeout
	request.DecidedAt = &now
	request.Reason = "expired without a decision"

	if err := s.relocate(ctx, request, approval.DecisionPending, approval.DecisionTimeout); err != nil {
		return approval.DecisionPending, fmt.Errorf("%w: %v", approval.ErrStorage, err)
	}
	if s.audit != nil {
		s.audit.Emit(ctx, audit.NewRecord("approval", "request.timeout", request.TaskID).
			WithStatus(audit.StatusWarning).
			WithDetail("expiresAt", request.ExpiresAt))
	}
	return approval.DecisionTimeout, nil
}

func (s *Service) warn(ctx context.Context, taskID string, err error) {
	if s.audit == nil {
		return
	}
	s.audit.Emit(ctx, audit.NewRecord("approval", "artifact.malformed", taskID).
		WithStatus(audit.StatusWarning).
		WithDetail("error", err.Error()))
}

// write persists the artifact atomically: temp upload, then move into place.
func (s *Service) write(ctx context.Context, decision approval.Decision, r *approval.Request) error {
	data, err := yaml.Marshal(r)
	if err != nil {
		return fmt.Errorf("failed to marshal approval request: %w", err)
	}
	dest := s.artifactPath(decision, r.TaskID)
	tmp := dest + ".tmp"
	if err := s.fs.Upload(ctx, tmp, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write approval artifact: %w", err)
	}
	return s.fs.Move(ctx, tmp, dest)
}

// relocate writes the artifact to its new bucket first, then removes the old
// one, so a crash in between never loses the request.
func (s *Service) relocate(ctx context.Context, r *approval.Request, from, to approval.Decision) error {
	if err := s.write(ctx, to, r); err != nil {
		return err
	}
	source := s.artifactPath(from, r.TaskID)
	if exists, _ := s.fs.Exists(ctx, source); exists {
		return s.fs.Delete(ctx, source)
	}
	return nil
}

func (s *Service) read(ctx context.Context, decision approval.Decision, taskID string) (*approval.Request, error) {
	artifactPath := s.artifactPath(decision, taskID)
	exists, err := s.fs.Exists(ctx, artifactPath)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, nil
	}
	data, err := s.fs.DownloadWithURL(ctx, artifactPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read approval artifact: %w", err)
	}
	var request approval.Request
	if err := yaml.Unmarshal(data, &request); err != nil {
		return nil, fmt.Errorf("%w: artifact %s: %v", approval.ErrMalformedArtifact, artifactPath, err)
	}
	return &request, nil
}

func (s *Service) bucket(decision approval.Decision) string {
	return url.Join(s.basePath, string(decision))
}

func (s *Service) artifactPath(decision approval.Decision, taskID string) string {
	return url.Join(s.bucket(decision), fmt.Sprintf("%s.yaml", taskID))
}
