package scheduler

import (
	"sort"
	"sync"
	"time"
)

// TaskStore is the authoritative in-memory set of live tasks. Removal
// is the fire-once serialization point: a task popped by one tick can
// never be popped again.
type TaskStore struct {
	mu    sync.Mutex
	tasks map[string]Task
}

// NewTaskStore creates an empty store.
func NewTaskStore() *TaskStore {
	return &TaskStore{tasks: make(map[string]Task)}
}

// Add inserts or replaces a task.
func (s *TaskStore) Add(task Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks[task.ID()] = task
}

// Get returns a task by id.
func (s *TaskStore) Get(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	return task, ok
}

// Remove atomically looks up and removes a task.
func (s *TaskStore) Remove(id string) (Task, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	task, ok := s.tasks[id]
	if ok {
		delete(s.tasks, id)
	}
	return task, ok
}

// PopExpired atomically removes and returns every task expired at now,
// ordered by fire time.
func (s *TaskStore) PopExpired(now time.Time) []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	var due []Task
	for id, task := range s.tasks {
		if task.IsExpired(now) {
			due = append(due, task)
			delete(s.tasks, id)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].FireAt().Before(due[j].FireAt()) })
	return due
}

// List returns all live tasks ordered by fire time.
func (s *TaskStore) List() []Task {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]Task, 0, len(s.tasks))
	for _, task := range s.tasks {
		out = append(out, task)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].FireAt().Before(out[j].FireAt()) })
	return out
}

// Len returns the number of live tasks.
func (s *TaskStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.tasks)
}
