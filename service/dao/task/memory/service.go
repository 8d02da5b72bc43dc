package memory

import (
	"context"
	"sync"

	"github.com/wardenflow/warden/model/task"
	"github.com/wardenflow/warden/service/dao"
	"github.com/wardenflow/warden/service/dao/criteria"
)

// Service implements an in-memory, thread-safe task store. Save keeps copies
// so callers cannot mutate stored state behind the store's back.
type Service struct {
	tasks map[string]*task.Task
	mux   sync.RWMutex
}

var _ dao.Service[string, task.Task] = (*Service)(nil)

func (s *Service) Save(_ context.Context, t *task.Task) error {
	if t == nil {
		return dao.ErrNilEntity
	}
	if t.ID == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()
	s.tasks[t.ID] = t.Clone()
	return nil
}

func (s *Service) Load(_ context.Context, id string) (*task.Task, error) {
	if id == "" {
		return nil, dao.ErrInvalidID
	}

	s.mux.RLock()
	t, ok := s.tasks[id]
	s.mux.RUnlock()

	if !ok {
		return nil, dao.ErrNotFound
	}
	return t.Clone(), nil
}

func (s *Service) Delete(_ context.Context, id string) error {
	if id == "" {
		return dao.ErrInvalidID
	}

	s.mux.Lock()
	defer s.mux.Unlock()

	if _, ok := s.tasks[id]; !ok {
		return dao.ErrNotFound
	}
	delete(s.tasks, id)
	return nil
}

func (s *Service) List(_ context.Context, parameters ...*dao.Parameter) ([]*task.Task, error) {
	s.mux.RLock()
	defer s.mux.RUnlock()

	out := make([]*task.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		if !criteria.FilterByStatus(string(t.Status), parameters) {
			continue
		}
		out = append(out, t.Clone())
	}
	return out, nil
}

func New() *Service {
	return &Service{tasks: map[string]*task.Task{}}
}
