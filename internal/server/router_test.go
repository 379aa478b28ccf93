package server

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smarttask-api/internal/handler"
	"github.com/noah-isme/smarttask-api/internal/middleware"
	"github.com/noah-isme/smarttask-api/internal/repository"
	"github.com/noah-isme/smarttask-api/internal/security"
	"github.com/noah-isme/smarttask-api/internal/service"
	"github.com/noah-isme/smarttask-api/pkg/config"
	"github.com/noah-isme/smarttask-api/pkg/database"
)

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "router.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	cfg := &config.Config{
		Env:       config.EnvDevelopment,
		APIPrefix: "/api",
		Auth: config.AuthConfig{
			PublicPaths:     []string{"/health", "/ready", "/metrics", "/docs", "/api/auth/register", "/api/auth/login", "/api/auth/refresh", "/api/auth/service-login"},
			ServiceUsername: "swagger",
			ServicePassword: "docs-only",
		},
		Telemetry: config.TelemetryConfig{ServiceName: "smarttask-api"},
	}

	codec, err := security.NewTokenCodec(security.TokenConfig{
		Secret:    base64.StdEncoding.EncodeToString([]byte("router-test-secret-0123456789abcdef")),
		Issuer:    "smarttask-api",
		AccessTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	users := repository.NewUserRepository(db)
	metrics := service.NewMetricsService()
	audit := service.NewAuditService(repository.NewAuditRepository(db), nil, metrics)
	authSvc := service.NewAuthService(users, repository.NewRefreshTokenRepository(db), codec, nil, nil,
		service.AuthConfig{RefreshTokenExpiry: 24 * time.Hour, ServiceUsername: cfg.Auth.ServiceUsername, ServicePassword: cfg.Auth.ServicePassword},
		service.WithMetrics(metrics),
		service.WithAuditRecorder(audit),
	)
	taskSvc := service.NewTaskService(repository.NewTaskRepository(db), nil, nil)

	return NewRouter(cfg, Dependencies{
		Metrics:       metrics,
		Authenticator: middleware.Authenticate(codec, users, cfg.Auth.PublicPaths, nil),
		Auth:          handler.NewAuthHandler(authSvc),
		Accounts:      handler.NewAccountHandler(authSvc, audit),
		Tasks:         handler.NewTaskHandler(taskSvc),
		Observability: handler.NewMetricsHandler(metrics, db, nil),
	})
}

func call(t *testing.T, r *gin.Engine, method, path, token string, body interface{}) (*httptest.ResponseRecorder, map[string]interface{}) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	var envelope map[string]interface{}
	if rec.Body.Len() > 0 && rec.Header().Get("Content-Type") != "" {
		_ = json.Unmarshal(rec.Body.Bytes(), &envelope)
	}
	return rec, envelope
}

func data(t *testing.T, envelope map[string]interface{}) map[string]interface{} {
	t.Helper()
	d, ok := envelope["data"].(map[string]interface{})
	require.True(t, ok, "response has no data object: %v", envelope)
	return d
}

func TestProtectedRouteWithoutTokenIsUnauthorized(t *testing.T) {
	r := newTestRouter(t)

	rec, envelope := call(t, r, http.MethodGet, "/api/tasks", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "UNAUTHORIZED", envelope["error"].(map[string]interface{})["code"])

	rec, _ = call(t, r, http.MethodGet, "/api/auth/me", "not-a-token", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestPublicRoutesNeedNoToken(t *testing.T) {
	r := newTestRouter(t)

	rec, _ := call(t, r, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = call(t, r, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, _ = call(t, r, http.MethodPost, "/api/auth/register", "garbage-token", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "secret123",
	})
	assert.Equal(t, http.StatusCreated, rec.Code)
}

func TestTaskAppFlowOverHTTP(t *testing.T) {
	r := newTestRouter(t)

	rec, _ := call(t, r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "alice", "email": "alice@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec, envelope := call(t, r, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "alice", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	pair := data(t, envelope)
	access := pair["accessToken"].(string)
	refresh := pair["refreshToken"].(string)
	assert.Equal(t, "Bearer", pair["tokenType"])

	rec, envelope = call(t, r, http.MethodGet, "/api/auth/me", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "alice", data(t, envelope)["subject"])

	rec, envelope = call(t, r, http.MethodPost, "/api/tasks", access, map[string]interface{}{"title": "write report", "completed": true})
	require.Equal(t, http.StatusCreated, rec.Code)
	task := data(t, envelope)
	assert.Equal(t, "DONE", task["status"])
	taskID := task["id"].(string)

	rec, _ = call(t, r, http.MethodPut, "/api/tasks/"+taskID, access, map[string]string{"status": "IN_PROGRESS"})
	assert.Equal(t, http.StatusOK, rec.Code)

	rec, envelope = call(t, r, http.MethodGet, "/api/tasks?status=IN_PROGRESS", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, envelope["data"], 1)

	rec, envelope = call(t, r, http.MethodPost, "/api/auth/refresh?refreshToken="+refresh, "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	rotated := data(t, envelope)["refreshToken"].(string)
	assert.NotEqual(t, refresh, rotated)

	rec, _ = call(t, r, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": refresh})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, envelope = call(t, r, http.MethodGet, "/api/account/activity", access, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, envelope["data"])

	rec, _ = call(t, r, http.MethodPost, "/api/auth/logout", access, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = call(t, r, http.MethodPost, "/api/auth/refresh", "", map[string]string{"refreshToken": rotated})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec, _ = call(t, r, http.MethodDelete, "/api/tasks/"+taskID, access, nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
}

func TestServiceTokenIsLimitedToServiceRoutes(t *testing.T) {
	r := newTestRouter(t)

	rec, envelope := call(t, r, http.MethodPost, "/api/auth/service-login", "", map[string]string{"username": "swagger", "password": "docs-only"})
	require.Equal(t, http.StatusOK, rec.Code)
	token := data(t, envelope)["accessToken"].(string)

	rec, envelope = call(t, r, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "SWAGGER_ADMIN", data(t, envelope)["role"])

	rec, _ = call(t, r, http.MethodGet, "/api/tasks", token, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec, _ = call(t, r, http.MethodPost, "/api/admin/accounts/missing/disable", token, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestDeletedAccountTokenStopsWorking(t *testing.T) {
	r := newTestRouter(t)

	rec, _ := call(t, r, http.MethodPost, "/api/auth/register", "", map[string]string{
		"username": "bob", "email": "bob@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	rec, envelope := call(t, r, http.MethodPost, "/api/auth/login", "", map[string]string{"username": "bob", "password": "secret123"})
	require.Equal(t, http.StatusOK, rec.Code)
	access := data(t, envelope)["accessToken"].(string)

	rec, _ = call(t, r, http.MethodDelete, "/api/account", access, nil)
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec, _ = call(t, r, http.MethodGet, "/api/auth/me", access, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}
