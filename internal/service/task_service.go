package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/smarttask-api/internal/models"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
)

type taskRepository interface {
	List(ctx context.Context, ownerID string, filter models.TaskFilter) ([]models.Task, error)
	FindByID(ctx context.Context, ownerID, id string) (*models.Task, error)
	Create(ctx context.Context, task *models.Task) error
	Update(ctx context.Context, task *models.Task) error
	Delete(ctx context.Context, ownerID, id string) error
}

// TaskService implements owner-scoped task management. Tasks of other
// owners are reported as not found.
type TaskService struct {
	repo      taskRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewTaskService constructs a TaskService.
func NewTaskService(repo taskRepository, validate *validator.Validate, logger *zap.Logger) *TaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &TaskService{repo: repo, validator: validate, logger: logger}
}

// List returns the owner's tasks, optionally filtered by status.
func (s *TaskService) List(ctx context.Context, ownerID, status string) ([]models.TaskResponse, error) {
	var filter models.TaskFilter
	if status != "" {
		parsed, err := parseTaskStatus(status)
		if err != nil {
			return nil, err
		}
		filter.Status = &parsed
	}

	tasks, err := s.repo.List(ctx, ownerID, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list tasks")
	}
	out := make([]models.TaskResponse, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, models.NewTaskResponse(t))
	}
	return out, nil
}

// Create adds a task for ownerID.
func (s *TaskService) Create(ctx context.Context, ownerID string, req models.CreateTaskRequest) (*models.TaskResponse, error) {
	req.Title = strings.TrimSpace(req.Title)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	task := &models.Task{
		UserID:      ownerID,
		Title:       req.Title,
		Description: req.Description,
		DueDate:     req.DueDate,
		Status:      resolveStatus(models.TaskStatusTodo, req.Status, req.Completed),
	}
	if err := s.repo.Create(ctx, task); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create task")
	}
	resp := models.NewTaskResponse(*task)
	return &resp, nil
}

// Update applies the provided fields to an owned task.
func (s *TaskService) Update(ctx context.Context, ownerID, id string, req models.UpdateTaskRequest) (*models.TaskResponse, error) {
	if req.Title != nil {
		trimmed := strings.TrimSpace(*req.Title)
		req.Title = &trimmed
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid task payload")
	}

	task, err := s.repo.FindByID(ctx, ownerID, id)
	if err != nil {
		return nil, taskLookupError(err)
	}

	if req.Title != nil {
		task.Title = *req.Title
	}
	if req.Description != nil {
		task.Description = req.Description
	}
	if req.DueDate != nil {
		task.DueDate = req.DueDate
	}
	task.Status = resolveStatus(task.Status, req.Status, req.Completed)

	if err := s.repo.Update(ctx, task); err != nil {
		return nil, taskLookupError(err)
	}
	resp := models.NewTaskResponse(*task)
	return &resp, nil
}

// Delete removes an owned task.
func (s *TaskService) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.repo.Delete(ctx, ownerID, id); err != nil {
		return taskLookupError(err)
	}
	return nil
}

// resolveStatus prefers an explicit status over the legacy completed flag.
func resolveStatus(current models.TaskStatus, status *models.TaskStatus, completed *bool) models.TaskStatus {
	switch {
	case status != nil:
		return *status
	case completed != nil && *completed:
		return models.TaskStatusDone
	case completed != nil && current == models.TaskStatusDone:
		return models.TaskStatusTodo
	default:
		return current
	}
}

func parseTaskStatus(raw string) (models.TaskStatus, error) {
	switch s := models.TaskStatus(strings.ToUpper(strings.TrimSpace(raw))); s {
	case models.TaskStatusTodo, models.TaskStatusInProgress, models.TaskStatusDone:
		return s, nil
	default:
		return "", appErrors.Clone(appErrors.ErrValidation, "unknown task status")
	}
}

func taskLookupError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "task not found")
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to access task")
}
