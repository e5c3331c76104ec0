package endpointtasks

import (
	"sort"
	"sync"
	"time"

	"emperror.dev/errors"

	"github.com/mrjvadi/tentacle/schedule"
)

var (
	ErrTaskExists   = errors.NewPlain("task already exists")
	ErrTaskNotFound = errors.NewPlain("task not found")
)

// Store keeps periodic tasks by name. It is safe for concurrent use; tasks
// go in and come out as copies.
type Store struct {
	mu    sync.RWMutex
	tasks map[string]*schedule.Task
}

func NewStore() *Store {
	return &Store{tasks: make(map[string]*schedule.Task)}
}

func (s *Store) Create(t *schedule.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; ok {
		return errors.WithDetails(ErrTaskExists, "name", t.Name)
	}
	s.tasks[t.Name] = t.Clone()
	return nil
}

func (s *Store) Update(t *schedule.Task) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[t.Name]; !ok {
		return errors.WithDetails(ErrTaskNotFound, "name", t.Name)
	}
	s.tasks[t.Name] = t.Clone()
	return nil
}

func (s *Store) Delete(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; !ok {
		return errors.WithDetails(ErrTaskNotFound, "name", name)
	}
	delete(s.tasks, name)
	return nil
}

func (s *Store) Get(name string) (*schedule.Task, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[name]
	if !ok {
		return nil, errors.WithDetails(ErrTaskNotFound, "name", name)
	}
	return t.Clone(), nil
}

// List returns all tasks sorted by name.
func (s *Store) List() []*schedule.Task {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*schedule.Task, 0, len(s.tasks))
	for _, t := range s.tasks {
		out = append(out, t.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// RecordRun marks one run of the named task at now.
func (s *Store) RecordRun(name string, now time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[name]
	if !ok {
		return errors.WithDetails(ErrTaskNotFound, "name", name)
	}
	t.RecordRun(now)
	return nil
}
