// Package escalation produces the human-facing failure surface: whenever
// automated handling cannot proceed (approval timeout, retry exhaustion) a
// YAML notice summarising cause, attempt history and required action is
// written to the escalation bucket for a human to review.
package escalation

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/url"
	"gopkg.in/yaml.v3"

	"github.com/wardenflow/warden/internal/clock"
	"github.com/wardenflow/warden/model/task"
)

// Reason identifies why a task was handed over to a human.
type Reason string

const (
	ReasonApprovalTimeout  Reason = "approvalTimeout"
	ReasonRetriesExhausted Reason = "retriesExhausted"
)

// Notice is the escalation document. Field names are chosen for readability:
// the audience is a human opening the file, not a parser.
type Notice struct {
	TaskID         string    `yaml:"task_id"`
	TaskType       string    `yaml:"task_type"`
	Reason         Reason    `yaml:"reason"`
	Attempts       int       `yaml:"attempts"`
	LastError      string    `yaml:"last_error,omitempty"`
	CreatedAt      time.Time `yaml:"created_at"`
	ActionRequired string    `yaml:"action_required"`
}

// Service writes escalation notices to a directory-like store.
type Service struct {
	fs       afs.Service
	basePath string
}

// New creates an escalation service rooted at basePath.
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}
	fs := afs.New()
	ctx := context.Background()
	if exists, _ := fs.Exists(ctx, basePath); !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create escalation directory: %w", err)
		}
	}
	return &Service{fs: fs, basePath: basePath}, nil
}

// Raise writes a notice for the supplied task. Raising twice for one task
// overwrites the previous notice; the latest state is what the human needs.
func (s *Service) Raise(ctx context.Context, t *task.Task, reason Reason) (*Notice, error) {
	notice := &Notice{
		TaskID:    t.ID,
		TaskType:  t.Type,
		Reason:    reason,
		Attempts:  t.RetryCount + 1,
		LastError: t.LastError,
		CreatedAt: clock.Now(),
	}
	switch reason {
	case ReasonApprovalTimeout:
		notice.Attempts = 0
		notice.ActionRequired = "the approval request expired without a decision; resubmit the task as a new one if the action is still wanted"
	case ReasonRetriesExhausted:
		notice.ActionRequired = "all automated attempts failed; inspect last_error, fix the underlying cause and resubmit as a new task"
	}

	data, err := yaml.Marshal(notice)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal escalation notice: %w", err)
	}
	dest := url.Join(s.basePath, fmt.Sprintf("%s.yaml", t.ID))
	if err := s.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return nil, fmt.Errorf("failed to write escalation notice %s: %w", dest, err)
	}
	return notice, nil
}

// List returns all raised notices.
func (s *Service) List(ctx context.Context) ([]*Notice, error) {
	objects, err := s.fs.List(ctx, s.basePath)
	if err != nil {
		return nil, fmt.Errorf("failed to list escalation notices: %w", err)
	}
	var notices []*Notice
	for _, object := range objects {
		if object.IsDir() {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		var notice Notice
		if err := yaml.Unmarshal(data, &notice); err != nil {
			continue
		}
		notices = append(notices, &notice)
	}
	return notices, nil
}
