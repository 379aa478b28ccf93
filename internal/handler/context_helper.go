package handler

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smarttask-api/internal/middleware"
	"github.com/noah-isme/smarttask-api/internal/models"
	"github.com/noah-isme/smarttask-api/pkg/middleware/requestid"
)

func principalFromContext(c *gin.Context) *models.Principal {
	return middleware.PrincipalFromContext(c.Request.Context())
}

func requestMeta(c *gin.Context) models.RequestMeta {
	return models.RequestMeta{
		IP:        c.ClientIP(),
		UserAgent: c.GetHeader("User-Agent"),
		RequestID: requestid.Value(c),
	}
}
