// Package fs implements a filesystem-backed task store. Each task is a single
// JSON document keyed by id; writes go to a temporary file first and are then
// moved into place so readers never observe a partial document.
package fs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/viant/afs"
	"github.com/viant/afs/file"
	"github.com/viant/afs/option"
	"github.com/viant/afs/url"
	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/dao"
	"github.com/wardenflow/warden/service/dao/criteria"
)

// Service implements a filesystem-based task storage
type Service struct {
	basePath string
	fs       afs.Service
	mu       sync.RWMutex
}

// Ensure Service implements dao.Service
var _ dao.Service[string, task.Task] = (*Service)(nil)

// Save persists a task document atomically (write-to-temp, then move).
func (s *Service) Save(ctx context.Context, t *task.Task) error {
	if t == nil {
		return dao.ErrNilEntity
	}
	if t.ID == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(t, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal task %s: %w", t.ID, err)
	}

	tmpPath := s.taskPath(t.ID) + ".tmp"
	if err = s.fs.Upload(ctx, tmpPath, file.DefaultFileOsMode, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("failed to write task document %s: %w", tmpPath, err)
	}
	if err = s.fs.Move(ctx, tmpPath, s.taskPath(t.ID)); err != nil {
		return fmt.Errorf("failed to commit task document %s: %w", t.ID, err)
	}
	return nil
}

// Load retrieves a task from the filesystem
func (s *Service) Load(ctx context.Context, id string) (*task.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	filePath := s.taskPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to check if task exists: %w", err)
	}
	if !exists {
		return nil, dao.ErrNotFound
	}

	data, err := s.fs.DownloadWithURL(ctx, filePath)
	if err != nil {
		return nil, fmt.Errorf("failed to read task document: %w", err)
	}

	var t task.Task
	if err := json.Unmarshal(data, &t); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task %s: %w", id, err)
	}
	return &t, nil
}

// Delete removes a task from the filesystem
func (s *Service) Delete(ctx context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	filePath := s.taskPath(id)
	exists, err := s.fs.Exists(ctx, filePath)
	if err != nil {
		return fmt.Errorf("failed to check if task exists: %w", err)
	}
	if !exists {
		return dao.ErrNotFound
	}
	if err := s.fs.Delete(ctx, filePath); err != nil {
		return fmt.Errorf("failed to delete task document: %w", err)
	}
	return nil
}

// List returns all tasks, optionally filtered by Status parameter.
func (s *Service) List(ctx context.Context, parameters ...*dao.Parameter) ([]*task.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	objects, err := s.fs.List(ctx, s.basePath, option.NewRecursive(false))
	if err != nil {
		return nil, fmt.Errorf("failed to list task documents: %w", err)
	}

	var tasks []*task.Task
	for _, object := range objects {
		if object.IsDir() || !strings.HasSuffix(object.Name(), ".json") {
			continue
		}
		data, err := s.fs.Download(ctx, object)
		if err != nil {
			continue
		}
		var t task.Task
		if err := json.Unmarshal(data, &t); err != nil {
			continue
		}
		if !criteria.FilterByStatus(string(t.Status), parameters) {
			continue
		}
		tasks = append(tasks, &t)
	}
	return tasks, nil
}

// SyncBuckets mirrors every task document into a per-status folder tree under
// <base>/by-status so a human can browse the queue with a file manager. The
// projection is derived from Status and is best-effort: the flat documents
// remain the source of truth.
func (s *Service) SyncBuckets(ctx context.Context) error {
	tasks, err := s.List(ctx)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	bucketRoot := url.Join(s.basePath, "by-status")
	_ = s.fs.Delete(ctx, bucketRoot)
	for _, t := range tasks {
		data, err := json.MarshalIndent(t, "", "  ")
		if err != nil {
			continue
		}
		dest := url.Join(bucketRoot, string(t.Status), fmt.Sprintf("%s.json", t.ID))
		_ = s.fs.Upload(ctx, dest, file.DefaultFileOsMode, bytes.NewReader(data))
	}
	return nil
}

// taskPath returns the file path for a task
func (s *Service) taskPath(id string) string {
	return url.Join(s.basePath, fmt.Sprintf("%s.json", id))
}

// New creates a new filesystem task storage service
func New(basePath string) (*Service, error) {
	if basePath == "" {
		return nil, fmt.Errorf("base path cannot be empty")
	}

	fs := afs.New()
	ctx := context.Background()
	exists, _ := fs.Exists(ctx, basePath)
	if !exists {
		if err := fs.Create(ctx, basePath, file.DefaultDirOsMode, true); err != nil {
			return nil, fmt.Errorf("failed to create base directory: %w", err)
		}
	}
	basePath = url.Normalize(basePath, file.Scheme)

	return &Service{
		basePath: basePath,
		fs:       fs,
	}, nil
}
