package middleware

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/noah-isme/smarttask-api/internal/models"
)

type principalKey struct{}

type tokenVerifier interface {
	Verify(token string) (*models.JWTClaims, error)
}

type accountLookup interface {
	FindByID(ctx context.Context, id string) (*models.Account, error)
}

// WithPrincipal returns a copy of ctx carrying p.
func WithPrincipal(ctx context.Context, p *models.Principal) context.Context {
	return context.WithValue(ctx, principalKey{}, p)
}

// PrincipalFromContext returns the authenticated principal, or nil.
func PrincipalFromContext(ctx context.Context) *models.Principal {
	p, _ := ctx.Value(principalKey{}).(*models.Principal)
	return p
}

// Authenticate resolves the bearer token of every request into a principal
// on the request context. It never rejects: requests without a usable token
// continue unauthenticated and are left to RequireAuth.
func Authenticate(verifier tokenVerifier, accounts accountLookup, publicPaths []string, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	prefixes := normalisePrefixes(publicPaths)

	return func(c *gin.Context) {
		if isPublicPath(c.Request.URL.Path, prefixes) {
			c.Next()
			return
		}

		token, ok := bearerToken(c.GetHeader("Authorization"))
		if !ok {
			c.Next()
			return
		}

		principal := resolvePrincipal(c.Request.Context(), verifier, accounts, token, logger)
		if principal != nil {
			c.Request = c.Request.WithContext(WithPrincipal(c.Request.Context(), principal))
		}
		c.Next()
	}
}

func resolvePrincipal(ctx context.Context, verifier tokenVerifier, accounts accountLookup, token string, logger *zap.Logger) *models.Principal {
	claims, err := verifier.Verify(token)
	if err != nil {
		logger.Debug("bearer token rejected", zap.Error(err))
		return nil
	}

	role, err := models.ParseRole(claims.Role)
	if err != nil {
		logger.Debug("bearer token carries unknown role", zap.String("subject", claims.Subject))
		return nil
	}

	switch role {
	case models.RoleService:
		return &models.Principal{Subject: claims.Subject, Role: role}
	case models.RoleUser:
		if claims.UserID == "" {
			logger.Debug("user token without account id", zap.String("subject", claims.Subject))
			return nil
		}
		account, err := accounts.FindByID(ctx, claims.UserID)
		if err != nil {
			if !errors.Is(err, sql.ErrNoRows) {
				logger.Warn("failed to load principal account", zap.String("account_id", claims.UserID), zap.Error(err))
			}
			return nil
		}
		if !account.Active() || account.Username != claims.Subject {
			logger.Debug("principal account is not usable", zap.String("account_id", claims.UserID), zap.Stringer("status", account.Status))
			return nil
		}
		return &models.Principal{Subject: account.Username, AccountID: account.ID, Role: account.Role, Account: account}
	default:
		return nil
	}
}

func bearerToken(header string) (string, bool) {
	parts := strings.SplitN(strings.TrimSpace(header), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", false
	}
	token := strings.TrimSpace(parts[1])
	return token, token != ""
}

func normalisePrefixes(paths []string) []string {
	out := make([]string, 0, len(paths))
	for _, p := range paths {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if p != "/" {
			p = strings.TrimRight(p, "/")
		}
		out = append(out, p)
	}
	return out
}

// isPublicPath matches whole path segments so /api/auth/login does not
// cover /api/auth/loginx.
func isPublicPath(path string, prefixes []string) bool {
	for _, p := range prefixes {
		if p == "/" || path == p || strings.HasPrefix(path, p+"/") {
			return true
		}
	}
	return false
}
