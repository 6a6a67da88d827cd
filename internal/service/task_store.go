package service

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/geovision/geovision-backend/internal/models"
)

// TaskStore owns the in-memory task table. Tasks move pending -> terminal
// exactly once; terminal tasks stay pollable for the retention window, then
// a janitor evicts them so polls report UnknownTask. The store is
// lifecycle-scoped: construct at startup, Close at shutdown.
type TaskStore struct {
	mu        sync.RWMutex
	tasks     map[string]*models.Task
	retention time.Duration

	stopOnce sync.Once
	stop     chan struct{}
}

// NewTaskStore creates the store and starts its eviction janitor.
func NewTaskStore(retention time.Duration) *TaskStore {
	s := &TaskStore{
		tasks:     make(map[string]*models.Task),
		retention: retention,
		stop:      make(chan struct{}),
	}
	go s.janitor()
	return s
}

// Close stops the janitor.
func (s *TaskStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// Create registers a new pending task and returns its id.
func (s *TaskStore) Create() string {
	t := &models.Task{
		ID:        uuid.NewString(),
		Status:    models.TaskStatusPending,
		CreatedAt: time.Now(),
	}
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return t.ID
}

// CreateCompleted registers a task that is already terminal, used on cache
// hits so the polling protocol stays uniform.
func (s *TaskStore) CreateCompleted(res *models.AnalysisResult) string {
	now := time.Now()
	t := &models.Task{
		ID:        uuid.NewString(),
		Status:    models.TaskStatusCompleted,
		Result:    res,
		CreatedAt: now,
		DoneAt:    now,
	}
	s.mu.Lock()
	s.tasks[t.ID] = t
	s.mu.Unlock()
	return t.ID
}

// Get returns a snapshot of the task. The shared Result is immutable, so
// copying the struct is enough.
func (s *TaskStore) Get(id string) (models.Task, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return models.Task{}, false
	}
	return *t, true
}

// Complete moves a pending task to completed. Terminal tasks are left alone.
func (s *TaskStore) Complete(id string, res *models.AnalysisResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Terminal() {
		return
	}
	t.Status = models.TaskStatusCompleted
	t.Result = res
	t.DoneAt = time.Now()
}

// Fail moves a pending task to failed with a descriptive message.
func (s *TaskStore) Fail(id string, msg string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tasks[id]
	if !ok || t.Terminal() {
		return
	}
	t.Status = models.TaskStatusFailed
	t.Error = msg
	t.DoneAt = time.Now()
}

func (s *TaskStore) janitor() {
	interval := s.retention / 4
	if interval < time.Second {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case <-ticker.C:
			s.evictExpired()
		}
	}
}

func (s *TaskStore) evictExpired() {
	cutoff := time.Now().Add(-s.retention)
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, t := range s.tasks {
		if t.Terminal() && t.DoneAt.Before(cutoff) {
			delete(s.tasks, id)
		}
	}
}
