package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smarttask-api/internal/middleware"
	"github.com/noah-isme/smarttask-api/internal/models"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
)

type authServiceMock struct {
	registerErr  error
	loginErr     error
	lastLogin    models.LoginRequest
	lastRefresh  models.RefreshRequest
	logoutCalled *models.Principal
}

func (m *authServiceMock) Register(ctx context.Context, req models.RegisterRequest) (*models.AccountInfo, error) {
	if m.registerErr != nil {
		return nil, m.registerErr
	}
	return &models.AccountInfo{ID: "acc-1", Username: req.Username, Email: req.Email, Role: models.RoleUser}, nil
}

func (m *authServiceMock) Login(ctx context.Context, req models.LoginRequest) (*models.TokenPair, error) {
	m.lastLogin = req
	if m.loginErr != nil {
		return nil, m.loginErr
	}
	return &models.TokenPair{AccessToken: "access", RefreshToken: "refresh", TokenType: models.TokenTypeBearer, ExpiresIn: 900}, nil
}

func (m *authServiceMock) Refresh(ctx context.Context, req models.RefreshRequest) (*models.TokenPair, error) {
	m.lastRefresh = req
	if req.RefreshToken == "" {
		return nil, appErrors.ErrInvalidRefreshToken
	}
	return &models.TokenPair{AccessToken: "access-2", RefreshToken: "refresh-2", TokenType: models.TokenTypeBearer, ExpiresIn: 900}, nil
}

func (m *authServiceMock) ServiceLogin(ctx context.Context, req models.ServiceLoginRequest) (*models.TokenPair, error) {
	return &models.TokenPair{AccessToken: "svc", TokenType: models.TokenTypeBearer, ExpiresIn: 900}, nil
}

func (m *authServiceMock) Logout(ctx context.Context, principal *models.Principal, meta models.RequestMeta) error {
	m.logoutCalled = principal
	return nil
}

func newContext(method, target string, body []byte, contentType string) (*gin.Context, *httptest.ResponseRecorder) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	req.Header.Set("User-Agent", "handler-test")
	c.Request = req
	return c, w
}

func withPrincipal(c *gin.Context, p *models.Principal) {
	c.Request = c.Request.WithContext(middleware.WithPrincipal(c.Request.Context(), p))
}

func decodeEnvelope(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func TestAuthHandlerRegisterCreated(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	payload, _ := json.Marshal(map[string]string{"username": "alice", "email": "alice@example.com", "password": "s3cret!"})
	c, w := newContext(http.MethodPost, "/api/auth/register", payload, "application/json")

	h.Register(c)

	assert.Equal(t, http.StatusCreated, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "alice", data["username"])
	assert.Equal(t, "USER", data["role"])
	assert.NotContains(t, w.Body.String(), "s3cret!")
}

func TestAuthHandlerRegisterConflict(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{registerErr: appErrors.Clone(appErrors.ErrConflict, "username is already taken")})
	payload, _ := json.Marshal(map[string]string{"username": "alice", "email": "alice@example.com", "password": "s3cret!"})
	c, w := newContext(http.MethodPost, "/api/auth/register", payload, "application/json")

	h.Register(c)

	assert.Equal(t, http.StatusConflict, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "CONFLICT", errBody["code"])
}

func TestAuthHandlerLoginMalformedBody(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	c, w := newContext(http.MethodPost, "/api/auth/login", []byte("{"), "application/json")

	h.Login(c)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "no-store", w.Header().Get("Cache-Control"))
}

func TestAuthHandlerLoginCarriesRequestMeta(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)
	payload, _ := json.Marshal(map[string]string{"username": "alice", "password": "s3cret!"})
	c, w := newContext(http.MethodPost, "/api/auth/login", payload, "application/json")

	h.Login(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "handler-test", svc.lastLogin.UserAgent)
	assert.NotEmpty(t, svc.lastLogin.IP)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "Bearer", data["tokenType"])
	assert.Equal(t, "refresh", data["refreshToken"])
}

func TestAuthHandlerLoginUnauthorized(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{loginErr: appErrors.ErrInvalidCredentials})
	payload, _ := json.Marshal(map[string]string{"username": "alice", "password": "wrong"})
	c, w := newContext(http.MethodPost, "/api/auth/login", payload, "application/json")

	h.Login(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, w.Header().Get("WWW-Authenticate"), "Bearer")
}

func TestAuthHandlerRefreshSources(t *testing.T) {
	form := url.Values{"refreshToken": {"from-form"}}.Encode()
	cases := []struct {
		name        string
		target      string
		body        string
		contentType string
		want        string
	}{
		{name: "query", target: "/api/auth/refresh?refreshToken=from-query", want: "from-query"},
		{name: "query wins over body", target: "/api/auth/refresh?refreshToken=from-query", body: `{"refreshToken":"from-json"}`, contentType: "application/json", want: "from-query"},
		{name: "form", target: "/api/auth/refresh", body: form, contentType: "application/x-www-form-urlencoded", want: "from-form"},
		{name: "json", target: "/api/auth/refresh", body: `{"refreshToken":"from-json"}`, contentType: "application/json", want: "from-json"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			svc := &authServiceMock{}
			h := NewAuthHandler(svc)
			c, w := newContext(http.MethodPost, tc.target, []byte(tc.body), tc.contentType)

			h.Refresh(c)

			assert.Equal(t, http.StatusOK, w.Code)
			assert.Equal(t, tc.want, svc.lastRefresh.RefreshToken)
		})
	}
}

func TestAuthHandlerRefreshMissingToken(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	c, w := newContext(http.MethodPost, "/api/auth/refresh", nil, "application/json")

	h.Refresh(c)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	errBody := decodeEnvelope(t, w)["error"].(map[string]interface{})
	assert.Equal(t, "INVALID_REFRESH_TOKEN", errBody["code"])
}

func TestAuthHandlerServiceLoginOmitsRefreshToken(t *testing.T) {
	h := NewAuthHandler(&authServiceMock{})
	payload, _ := json.Marshal(map[string]string{"username": "swagger", "password": "docs"})
	c, w := newContext(http.MethodPost, "/api/auth/service-login", payload, "application/json")

	h.ServiceLogin(c)

	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, strings.Contains(w.Body.String(), "refreshToken"))
}

func TestAuthHandlerLogoutAndMe(t *testing.T) {
	svc := &authServiceMock{}
	h := NewAuthHandler(svc)
	principal := &models.Principal{
		Subject:   "alice",
		AccountID: "acc-1",
		Role:      models.RoleUser,
		Account:   &models.Account{ID: "acc-1", Username: "alice", Email: "alice@example.com"},
	}

	c, w := newContext(http.MethodPost, "/api/auth/logout", nil, "")
	withPrincipal(c, principal)
	h.Logout(c)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Same(t, principal, svc.logoutCalled)

	c, w = newContext(http.MethodGet, "/api/auth/me", nil, "")
	withPrincipal(c, principal)
	h.Me(c)
	require.Equal(t, http.StatusOK, w.Code)
	data := decodeEnvelope(t, w)["data"].(map[string]interface{})
	assert.Equal(t, "alice", data["subject"])
	assert.Equal(t, "alice@example.com", data["email"])

	c, w = newContext(http.MethodGet, "/api/auth/me", nil, "")
	h.Me(c)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}
