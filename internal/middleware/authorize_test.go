package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smarttask-api/internal/models"
)

func gatedRouter(principal *models.Principal, gate gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(func(c *gin.Context) {
		if principal != nil {
			c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))
		}
		c.Next()
	})
	router.GET("/guarded", gate, func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return router
}

func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Error.Code
}

func TestRequireAuth(t *testing.T) {
	rec := httptest.NewRecorder()
	gatedRouter(nil, RequireAuth()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", errorCode(t, rec))
	assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))

	rec = httptest.NewRecorder()
	user := &models.Principal{Subject: "alice", AccountID: "acc-alice", Role: models.RoleUser}
	gatedRouter(user, RequireAuth()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestRequireRoles(t *testing.T) {
	user := &models.Principal{Subject: "alice", AccountID: "acc-alice", Role: models.RoleUser}
	svc := &models.Principal{Subject: "swagger", Role: models.RoleService}

	rec := httptest.NewRecorder()
	gatedRouter(user, RequireRoles(models.RoleService)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, "FORBIDDEN", errorCode(t, rec))

	rec = httptest.NewRecorder()
	gatedRouter(svc, RequireRoles(models.RoleService)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	gatedRouter(nil, RequireRoles(models.RoleUser)).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/guarded", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPrincipalFromEmptyContext(t *testing.T) {
	assert.Nil(t, PrincipalFromContext(httptest.NewRequest(http.MethodGet, "/", nil).Context()))
}
