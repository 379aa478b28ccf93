package handler

import (
	"context"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smarttask-api/internal/models"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
	"github.com/noah-isme/smarttask-api/pkg/response"
)

const defaultActivityLimit = 20

type accountService interface {
	DeleteAccount(ctx context.Context, accountID string, meta models.RequestMeta) error
	DisableAccount(ctx context.Context, accountID string, meta models.RequestMeta) error
}

type activitySource interface {
	Recent(ctx context.Context, accountID string, limit int) ([]models.AuditLog, error)
}

// AccountHandler exposes account lifecycle endpoints.
type AccountHandler struct {
	service  accountService
	activity activitySource
}

// NewAccountHandler constructs the handler.
func NewAccountHandler(svc accountService, activity activitySource) *AccountHandler {
	return &AccountHandler{service: svc, activity: activity}
}

// Activity godoc
// @Summary Recent account activity
// @Description Newest audit entries recorded for the caller's account
// @Tags Accounts
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Maximum entries, up to 100"
// @Success 200 {object} response.Envelope
// @Failure 401 {object} response.Envelope
// @Router /account/activity [get]
func (h *AccountHandler) Activity(c *gin.Context) {
	principal := principalFromContext(c)
	if principal == nil || principal.AccountID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	limit := defaultActivityLimit
	if raw := c.Query("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	logs, err := h.activity.Recent(c.Request.Context(), principal.AccountID, limit)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, logs)
}

// Delete godoc
// @Summary Delete own account
// @Description Soft-delete the caller's account and revoke all of its sessions
// @Tags Accounts
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} response.Envelope
// @Router /account [delete]
func (h *AccountHandler) Delete(c *gin.Context) {
	principal := principalFromContext(c)
	if principal == nil || principal.AccountID == "" {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.DeleteAccount(c.Request.Context(), principal.AccountID, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}

// Disable godoc
// @Summary Disable an account
// @Description Disable an account and revoke its sessions. Service principals only.
// @Tags Accounts
// @Security BearerAuth
// @Param id path string true "Account ID"
// @Success 204
// @Failure 401 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /admin/accounts/{id}/disable [post]
func (h *AccountHandler) Disable(c *gin.Context) {
	id := strings.TrimSpace(c.Param("id"))
	if id == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "account id is required"))
		return
	}

	if err := h.service.DisableAccount(c.Request.Context(), id, requestMeta(c)); err != nil {
		response.Error(c, err)
		return
	}

	response.NoContent(c)
}
