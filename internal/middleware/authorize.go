package middleware

import (
	"github.com/gin-gonic/gin"

	"github.com/noah-isme/smarttask-api/internal/models"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
	"github.com/noah-isme/smarttask-api/pkg/response"
)

// RequireAuth rejects requests that reached it without a principal.
func RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if PrincipalFromContext(c.Request.Context()) == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		c.Next()
	}
}

// RequireRoles admits only principals holding one of the listed roles.
func RequireRoles(roles ...models.Role) gin.HandlerFunc {
	allowed := make(map[models.Role]struct{}, len(roles))
	for _, r := range roles {
		allowed[r] = struct{}{}
	}

	return func(c *gin.Context) {
		principal := PrincipalFromContext(c.Request.Context())
		if principal == nil {
			response.Error(c, appErrors.ErrUnauthorized)
			c.Abort()
			return
		}
		if _, ok := allowed[principal.Role]; !ok {
			response.Error(c, appErrors.ErrForbidden)
			c.Abort()
			return
		}
		c.Next()
	}
}
