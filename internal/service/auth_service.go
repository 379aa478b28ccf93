package service

import (
	"context"
	"crypto/subtle"
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/noah-isme/smarttask-api/internal/models"
	"github.com/noah-isme/smarttask-api/internal/repository"
	"github.com/noah-isme/smarttask-api/internal/security"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
	"github.com/noah-isme/smarttask-api/pkg/ratelimit"
)

const (
	eventRegister     = "register"
	eventLogin        = "login"
	eventRefresh      = "refresh"
	eventLogout       = "logout"
	eventServiceLogin = "service_login"

	auditResourceAuth    = "auth"
	auditResourceAccount = "account"
)

type authAccountRepository interface {
	FindByUsername(ctx context.Context, username string) (*models.Account, error)
	FindByID(ctx context.Context, id string) (*models.Account, error)
	ExistsByUsername(ctx context.Context, username string) (bool, error)
	ExistsByEmail(ctx context.Context, email string) (bool, error)
	Create(ctx context.Context, account *models.Account) error
	SoftDelete(ctx context.Context, id string, at time.Time) (int64, error)
	Disable(ctx context.Context, id string, at time.Time) (int64, error)
}

type sessionRepository interface {
	Save(ctx context.Context, token *models.RefreshToken) error
	FindActiveByToken(ctx context.Context, token string) (*models.RefreshToken, error)
	Revoke(ctx context.Context, id string, at time.Time) error
	Rotate(ctx context.Context, oldID string, next *models.RefreshToken, at time.Time) error
	RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) (int64, error)
}

type loginThrottle interface {
	Check(ctx context.Context, username, ip string) error
	RecordFailure(ctx context.Context, username, ip string) (int64, error)
	Reset(ctx context.Context, username, ip string) error
}

type auditRecorder interface {
	Record(ctx context.Context, entry *models.AuditLog)
}

// AuthConfig defines configuration for authentication flows.
type AuthConfig struct {
	RefreshTokenExpiry time.Duration
	ServiceUsername    string
	ServicePassword    string
}

// AuthService owns the session lifecycle: registration, login, refresh
// rotation, logout and account deactivation.
type AuthService struct {
	accounts  authAccountRepository
	sessions  sessionRepository
	codec     *security.TokenCodec
	validator *validator.Validate
	logger    *zap.Logger
	config    AuthConfig

	throttle loginThrottle
	audit    auditRecorder
	metrics  *MetricsService
	tracer   trace.Tracer

	now             func() time.Time
	newRefreshToken func() (string, error)

	dummyOnce sync.Once
	dummyHash string
}

// AuthOption customises optional collaborators of AuthService.
type AuthOption func(*AuthService)

// WithLoginThrottle enables failed-login throttling.
func WithLoginThrottle(t loginThrottle) AuthOption {
	return func(s *AuthService) { s.throttle = t }
}

// WithAuditRecorder sets the audit sink.
func WithAuditRecorder(a auditRecorder) AuthOption {
	return func(s *AuthService) { s.audit = a }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *MetricsService) AuthOption {
	return func(s *AuthService) { s.metrics = m }
}

// WithAuthClock overrides the time source used for refresh expiry.
func WithAuthClock(now func() time.Time) AuthOption {
	return func(s *AuthService) {
		if now != nil {
			s.now = now
		}
	}
}

// NewAuthService constructs an AuthService instance.
func NewAuthService(accounts authAccountRepository, sessions sessionRepository, codec *security.TokenCodec, validate *validator.Validate, logger *zap.Logger, config AuthConfig, opts ...AuthOption) *AuthService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if config.RefreshTokenExpiry <= 0 {
		config.RefreshTokenExpiry = 7 * 24 * time.Hour
	}
	s := &AuthService{
		accounts:        accounts,
		sessions:        sessions,
		codec:           codec,
		validator:       validate,
		logger:          logger,
		config:          config,
		tracer:          otel.Tracer("github.com/noah-isme/smarttask-api/internal/service"),
		now:             func() time.Time { return time.Now().UTC() },
		newRefreshToken: security.NewRefreshToken,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account after normalising and validating the payload.
func (s *AuthService) Register(ctx context.Context, req models.RegisterRequest) (info *models.AccountInfo, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Register")
	defer func() { s.finish(span, eventRegister, err) }()

	req.Username = strings.TrimSpace(req.Username)
	req.Email = strings.ToLower(strings.TrimSpace(req.Email))
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid registration payload")
	}

	taken, err := s.accounts.ExistsByUsername(ctx, req.Username)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check username")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "username is already taken")
	}
	taken, err = s.accounts.ExistsByEmail(ctx, req.Email)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check email")
	}
	if taken {
		return nil, appErrors.Clone(appErrors.ErrConflict, "email is already registered")
	}

	hash, err := security.HashPassword(req.Password)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to hash password")
	}

	account := &models.Account{
		ID:           uuid.NewString(),
		Username:     req.Username,
		Email:        req.Email,
		PasswordHash: hash,
		Role:         models.RoleUser,
		Enabled:      true,
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "username or email is already registered")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create account")
	}

	s.record(ctx, auditEntry(models.AuditActionRegister, auditResourceAccount, account.ID, req.RequestMeta, nil))
	result := account.Info()
	return &result, nil
}

// Login authenticates a user and returns a fresh token pair. Unknown users,
// inactive accounts and wrong passwords are indistinguishable to the caller.
func (s *AuthService) Login(ctx context.Context, req models.LoginRequest) (pair *models.TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Login")
	defer func() { s.finish(span, eventLogin, err) }()

	req.Username = strings.TrimSpace(req.Username)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid login payload")
	}

	if err := s.checkThrottle(ctx, req.Username, req.IP); err != nil {
		return nil, err
	}

	account, err := s.accounts.FindByUsername(ctx, req.Username)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch account")
	}

	if account == nil {
		// Keep the response time of unknown usernames in line with real ones.
		security.VerifyPassword(req.Password, s.fallbackHash())
		return nil, s.rejectLogin(ctx, req, "")
	}
	if !security.VerifyPassword(req.Password, account.PasswordHash) || !account.Active() {
		return nil, s.rejectLogin(ctx, req, account.ID)
	}

	pair, err = s.issueSession(ctx, account, req.RequestMeta)
	if err != nil {
		return nil, err
	}

	if s.throttle != nil {
		if err := s.throttle.Reset(ctx, req.Username, req.IP); err != nil {
			s.logger.Warn("failed to reset login throttle", zap.Error(err))
		}
	}
	s.record(ctx, auditEntry(models.AuditActionLogin, auditResourceAuth, account.ID, req.RequestMeta, map[string]interface{}{"status": "success"}))
	return pair, nil
}

// Refresh redeems an active refresh token exactly once and rotates it.
func (s *AuthService) Refresh(ctx context.Context, req models.RefreshRequest) (pair *models.TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Refresh")
	defer func() { s.finish(span, eventRefresh, err) }()

	presented := strings.TrimSpace(req.RefreshToken)
	if presented == "" {
		return nil, invalidRefreshToken()
	}

	stored, err := s.sessions.FindActiveByToken(ctx, presented)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, invalidRefreshToken()
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to fetch refresh token")
	}

	now := s.now()
	if stored.Expired(now) {
		if err := s.sessions.Revoke(ctx, stored.ID, now); err != nil && !errors.Is(err, repository.ErrNotActive) {
			s.logger.Warn("failed to burn expired refresh token", zap.String("token_id", stored.ID), zap.Error(err))
		}
		s.record(ctx, auditEntry(models.AuditActionRefreshRejected, auditResourceAuth, stored.UserID, req.RequestMeta, map[string]interface{}{"reason": "expired"}))
		return nil, invalidRefreshToken()
	}

	account, err := s.accounts.FindByID(ctx, stored.UserID)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load account")
	}
	if !account.Active() {
		if _, err := s.sessions.RevokeAllForAccount(ctx, stored.UserID, now); err != nil {
			s.logger.Warn("failed to revoke tokens of inactive account", zap.String("account_id", stored.UserID), zap.Error(err))
		}
		s.record(ctx, auditEntry(models.AuditActionRefreshRejected, auditResourceAuth, stored.UserID, req.RequestMeta, map[string]interface{}{"reason": "account_inactive"}))
		return nil, invalidRefreshToken()
	}

	next, err := s.buildRefreshToken(account.ID, now, req.RequestMeta)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Rotate(ctx, stored.ID, next, now); err != nil {
		switch {
		case errors.Is(err, repository.ErrNotActive):
			s.metrics.RecordRefreshReuse()
			s.logger.Warn("refresh token reused after rotation", zap.String("token_id", stored.ID), zap.String("account_id", account.ID))
			s.record(ctx, auditEntry(models.AuditActionRefreshRejected, auditResourceAuth, account.ID, req.RequestMeta, map[string]interface{}{"reason": "reused"}))
			return nil, invalidRefreshToken()
		case errors.Is(err, repository.ErrDuplicate):
			s.logger.Error("refresh token collision on rotate", zap.String("account_id", account.ID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to rotate refresh token")
	}

	access, err := s.issueAccessToken(account)
	if err != nil {
		return nil, err
	}
	access.RefreshToken = next.Token

	s.record(ctx, auditEntry(models.AuditActionRefresh, auditResourceAuth, account.ID, req.RequestMeta, nil))
	return access, nil
}

// Logout revokes every refresh token of the principal's account. Service
// principals own no refresh tokens.
func (s *AuthService) Logout(ctx context.Context, principal *models.Principal, meta models.RequestMeta) (err error) {
	ctx, span := s.tracer.Start(ctx, "auth.Logout")
	defer func() { s.finish(span, eventLogout, err) }()

	if principal == nil {
		return appErrors.ErrUnauthorized
	}
	if principal.IsService() {
		return nil
	}

	revoked, err := s.sessions.RevokeAllForAccount(ctx, principal.AccountID, s.now())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to revoke refresh tokens")
	}

	s.record(ctx, auditEntry(models.AuditActionLogout, auditResourceAuth, principal.AccountID, meta, map[string]interface{}{"revoked": revoked}))
	return nil
}

// ServiceLogin issues an access token carrying only the service role for the
// configured tooling credentials.
func (s *AuthService) ServiceLogin(ctx context.Context, req models.ServiceLoginRequest) (pair *models.TokenPair, err error) {
	ctx, span := s.tracer.Start(ctx, "auth.ServiceLogin")
	defer func() { s.finish(span, eventServiceLogin, err) }()

	if s.config.ServiceUsername == "" || s.config.ServicePassword == "" {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "service login is disabled")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid service login payload")
	}

	userOK := subtle.ConstantTimeCompare([]byte(req.Username), []byte(s.config.ServiceUsername)) == 1
	passOK := subtle.ConstantTimeCompare([]byte(req.Password), []byte(s.config.ServicePassword)) == 1
	if !userOK || !passOK {
		s.record(ctx, auditEntry(models.AuditActionLoginFailed, auditResourceAuth, "", req.RequestMeta, map[string]interface{}{"kind": "service"}))
		return nil, appErrors.Clone(appErrors.ErrInvalidCredentials, "")
	}

	token, expiresAt, err := s.codec.Issue(s.config.ServiceUsername, security.TokenClaims{Role: models.RoleService}, 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}

	s.record(ctx, auditEntry(models.AuditActionServiceLogin, auditResourceAuth, "", req.RequestMeta, nil))
	return &models.TokenPair{
		AccessToken: token,
		TokenType:   models.TokenTypeBearer,
		ExpiresIn:   int64(expiresAt.Sub(s.now()).Seconds()),
	}, nil
}

// DeleteAccount soft-deletes the account and revokes its sessions.
func (s *AuthService) DeleteAccount(ctx context.Context, accountID string, meta models.RequestMeta) error {
	ctx, span := s.tracer.Start(ctx, "auth.DeleteAccount")
	defer span.End()

	revoked, err := s.accounts.SoftDelete(ctx, accountID, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete account")
	}

	s.record(ctx, auditEntry(models.AuditActionAccountDelete, auditResourceAccount, accountID, meta, map[string]interface{}{"revoked": revoked}))
	return nil
}

// DisableAccount disables the account and revokes its sessions.
func (s *AuthService) DisableAccount(ctx context.Context, accountID string, meta models.RequestMeta) error {
	ctx, span := s.tracer.Start(ctx, "auth.DisableAccount")
	defer span.End()

	revoked, err := s.accounts.Disable(ctx, accountID, s.now())
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "account not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to disable account")
	}

	s.record(ctx, auditEntry(models.AuditActionAccountDisable, auditResourceAccount, accountID, meta, map[string]interface{}{"revoked": revoked}))
	return nil
}

func (s *AuthService) issueSession(ctx context.Context, account *models.Account, meta models.RequestMeta) (*models.TokenPair, error) {
	pair, err := s.issueAccessToken(account)
	if err != nil {
		return nil, err
	}

	refresh, err := s.buildRefreshToken(account.ID, s.now(), meta)
	if err != nil {
		return nil, err
	}
	if err := s.sessions.Save(ctx, refresh); err != nil {
		if errors.Is(err, repository.ErrDuplicate) {
			s.logger.Error("refresh token collision on save", zap.String("account_id", account.ID))
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist refresh token")
	}

	pair.RefreshToken = refresh.Token
	return pair, nil
}

func (s *AuthService) issueAccessToken(account *models.Account) (*models.TokenPair, error) {
	token, _, err := s.codec.Issue(account.Username, security.TokenClaims{Role: account.Role, UserID: account.ID}, 0)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create access token")
	}
	return &models.TokenPair{
		AccessToken: token,
		TokenType:   models.TokenTypeBearer,
		ExpiresIn:   int64(s.codec.AccessTTL().Seconds()),
	}, nil
}

func (s *AuthService) buildRefreshToken(accountID string, now time.Time, meta models.RequestMeta) (*models.RefreshToken, error) {
	value, err := s.newRefreshToken()
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create refresh token")
	}
	return &models.RefreshToken{
		ID:        uuid.NewString(),
		UserID:    accountID,
		Token:     value,
		ExpiresAt: now.Add(s.config.RefreshTokenExpiry),
		CreatedAt: now,
		IPAddress: meta.IP,
		UserAgent: meta.UserAgent,
	}, nil
}

func (s *AuthService) checkThrottle(ctx context.Context, username, ip string) error {
	if s.throttle == nil {
		return nil
	}
	err := s.throttle.Check(ctx, username, ip)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ratelimit.ErrRateLimited):
		s.metrics.RecordThrottled()
		return appErrors.ErrTooManyRequests
	default:
		s.logger.Warn("login throttle unavailable, allowing attempt", zap.Error(err))
		return nil
	}
}

func (s *AuthService) rejectLogin(ctx context.Context, req models.LoginRequest, accountID string) error {
	if s.throttle != nil {
		if _, err := s.throttle.RecordFailure(ctx, req.Username, req.IP); err != nil {
			s.logger.Warn("failed to record login failure", zap.Error(err))
		}
	}
	s.record(ctx, auditEntry(models.AuditActionLoginFailed, auditResourceAuth, accountID, req.RequestMeta, nil))
	return appErrors.Clone(appErrors.ErrInvalidCredentials, "")
}

func (s *AuthService) fallbackHash() string {
	s.dummyOnce.Do(func() {
		hash, err := security.HashPassword(uuid.NewString())
		if err == nil {
			s.dummyHash = hash
		}
	})
	return s.dummyHash
}

func (s *AuthService) record(ctx context.Context, entry *models.AuditLog) {
	if s.audit == nil {
		return
	}
	s.audit.Record(ctx, entry)
}

func (s *AuthService) finish(span trace.Span, event string, err error) {
	outcome := OutcomeSuccess
	if err != nil {
		appErr := appErrors.FromError(err)
		outcome = OutcomeFailure
		if appErr.Code == appErrors.ErrInvalidRefreshToken.Code {
			outcome = OutcomeRejected
		}
		span.SetAttributes(attribute.String("error.code", appErr.Code))
		span.SetStatus(codes.Error, appErr.Code)
	}
	span.SetAttributes(attribute.String("auth.outcome", outcome))
	span.End()
	s.metrics.RecordAuthEvent(event, outcome)
}

func invalidRefreshToken() error {
	return appErrors.Clone(appErrors.ErrInvalidRefreshToken, "")
}
