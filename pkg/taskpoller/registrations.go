package taskpoller

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// RegistrationStore persists task registrations so tracking state can in
// principle survive a process restart. The poller writes registrations on
// Track and deletes them when a task reaches a terminal state or is pruned.
type RegistrationStore interface {
	Save(ctx context.Context, task *TrackedTask) error
	Delete(ctx context.Context, taskID string) error
	io.Closer
}

// MemoryRegistrationStore is a process-local RegistrationStore, primarily
// for local development and tests.
type MemoryRegistrationStore struct {
	mu    sync.RWMutex
	tasks map[string]TrackedTask
}

// NewMemoryRegistrationStore creates an in-memory registration store.
func NewMemoryRegistrationStore() *MemoryRegistrationStore {
	return &MemoryRegistrationStore{tasks: make(map[string]TrackedTask)}
}

// Save stores a copy of the registration.
func (s *MemoryRegistrationStore) Save(_ context.Context, task *TrackedTask) error {
	if task == nil || task.TaskID == "" {
		return fmt.Errorf("registration must have a task id")
	}
	s.mu.Lock()
	s.tasks[task.TaskID] = *task
	s.mu.Unlock()
	return nil
}

// Delete removes a registration.
func (s *MemoryRegistrationStore) Delete(_ context.Context, taskID string) error {
	s.mu.Lock()
	delete(s.tasks, taskID)
	s.mu.Unlock()
	return nil
}

// Get returns a stored registration, for inspection in tests.
func (s *MemoryRegistrationStore) Get(taskID string) (TrackedTask, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	task, ok := s.tasks[taskID]
	return task, ok
}

// Close is a no-op for the in-memory implementation.
func (s *MemoryRegistrationStore) Close() error {
	return nil
}
