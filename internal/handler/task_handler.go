package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smarttask-api/internal/models"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
	"github.com/noah-isme/smarttask-api/pkg/response"
)

type taskService interface {
	List(ctx context.Context, ownerID, status string) ([]models.TaskResponse, error)
	Create(ctx context.Context, ownerID string, req models.CreateTaskRequest) (*models.TaskResponse, error)
	Update(ctx context.Context, ownerID, id string, req models.UpdateTaskRequest) (*models.TaskResponse, error)
	Delete(ctx context.Context, ownerID, id string) error
}

// TaskHandler serves the caller's own tasks.
type TaskHandler struct {
	service taskService
}

// NewTaskHandler constructs the handler.
func NewTaskHandler(svc taskService) *TaskHandler {
	return &TaskHandler{service: svc}
}

// List godoc
// @Summary List tasks
// @Tags Tasks
// @Produce json
// @Security BearerAuth
// @Param status query string false "TODO, IN_PROGRESS or DONE"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tasks [get]
func (h *TaskHandler) List(c *gin.Context) {
	owner, ok := taskOwner(c)
	if !ok {
		return
	}

	tasks, err := h.service.List(c.Request.Context(), owner, c.Query("status"))
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, tasks, map[string]interface{}{"total": len(tasks)})
}

// Create godoc
// @Summary Create task
// @Tags Tasks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body models.CreateTaskRequest true "Task payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /tasks [post]
func (h *TaskHandler) Create(c *gin.Context) {
	owner, ok := taskOwner(c)
	if !ok {
		return
	}

	var req models.CreateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid task payload"))
		return
	}

	task, err := h.service.Create(c.Request.Context(), owner, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, task)
}

// Update godoc
// @Summary Update task
// @Tags Tasks
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Param payload body models.UpdateTaskRequest true "Task changes"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /tasks/{id} [put]
func (h *TaskHandler) Update(c *gin.Context) {
	owner, ok := taskOwner(c)
	if !ok {
		return
	}

	var req models.UpdateTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid task payload"))
		return
	}

	task, err := h.service.Update(c.Request.Context(), owner, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, task)
}

// Delete godoc
// @Summary Delete task
// @Tags Tasks
// @Security BearerAuth
// @Param id path string true "Task ID"
// @Success 204
// @Failure 404 {object} response.Envelope
// @Router /tasks/{id} [delete]
func (h *TaskHandler) Delete(c *gin.Context) {
	owner, ok := taskOwner(c)
	if !ok {
		return
	}

	if err := h.service.Delete(c.Request.Context(), owner, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// taskOwner resolves the owning account. Service principals own no tasks.
func taskOwner(c *gin.Context) (string, bool) {
	principal := principalFromContext(c)
	if principal == nil || principal.AccountID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return "", false
	}
	return principal.AccountID, true
}
