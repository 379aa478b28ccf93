package models

import (
	"time"
)

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

const (
	TaskStatusTodo       TaskStatus = "TODO"
	TaskStatusInProgress TaskStatus = "IN_PROGRESS"
	TaskStatusDone       TaskStatus = "DONE"
)

// Task is a user-owned unit of work.
type Task struct {
	ID          string     `db:"id" json:"id"`
	UserID      string     `db:"user_id" json:"-"`
	Title       string     `db:"title" json:"title"`
	Description *string    `db:"description" json:"description,omitempty"`
	Status      TaskStatus `db:"status" json:"status"`
	DueDate     *time.Time `db:"due_date" json:"dueDate,omitempty"`
	CreatedAt   time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt   time.Time  `db:"updated_at" json:"updatedAt"`
}

// TaskResponse adds the legacy completed flag derived from status.
type TaskResponse struct {
	Task
	Completed bool `json:"completed"`
}

// NewTaskResponse maps a task for API output.
func NewTaskResponse(t Task) TaskResponse {
	return TaskResponse{Task: t, Completed: t.Status == TaskStatusDone}
}

// TaskFilter narrows task listings.
type TaskFilter struct {
	Status *TaskStatus
}

// CreateTaskRequest is the payload for creating a task.
type CreateTaskRequest struct {
	Title       string      `json:"title" validate:"required,max=200"`
	Description *string     `json:"description"`
	DueDate     *time.Time  `json:"dueDate"`
	Status      *TaskStatus `json:"status" validate:"omitempty,oneof=TODO IN_PROGRESS DONE"`
	Completed   *bool       `json:"completed"`
}

// UpdateTaskRequest updates only the provided fields.
type UpdateTaskRequest struct {
	Title       *string     `json:"title" validate:"omitempty,min=1,max=200"`
	Description *string     `json:"description"`
	DueDate     *time.Time  `json:"dueDate"`
	Status      *TaskStatus `json:"status" validate:"omitempty,oneof=TODO IN_PROGRESS DONE"`
	Completed   *bool       `json:"completed"`
}
