package models

import "time"

// TaskStatus constants
const (
	TaskStatusPending   = "pending"
	TaskStatusCompleted = "completed"
	TaskStatusFailed    = "failed"
)

// Task tracks one submitted analysis through the polling protocol. A task is
// created pending and moves exactly once to completed or failed; after that
// it is read-only until the store evicts it.
type Task struct {
	ID        string          `json:"task_id"`
	Status    string          `json:"status"`
	Result    *AnalysisResult `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
	CreatedAt time.Time       `json:"-"`
	DoneAt    time.Time       `json:"-"`
}

// Terminal reports whether the task has reached its final state.
func (t *Task) Terminal() bool {
	return t.Status == TaskStatusCompleted || t.Status == TaskStatusFailed
}
