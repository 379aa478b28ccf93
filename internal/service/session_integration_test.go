package service

import (
	"context"
	"encoding/base64"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/smarttask-api/internal/models"
	"github.com/noah-isme/smarttask-api/internal/repository"
	"github.com/noah-isme/smarttask-api/internal/security"
	"github.com/noah-isme/smarttask-api/pkg/database"
	appErrors "github.com/noah-isme/smarttask-api/pkg/errors"
)

func newSQLiteAuthService(t *testing.T) *AuthService {
	t.Helper()
	db, err := database.NewSQLite(filepath.Join(t.TempDir(), "auth.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	require.NoError(t, database.Migrate(context.Background(), db))

	codec, err := security.NewTokenCodec(security.TokenConfig{
		Secret:    base64.StdEncoding.EncodeToString([]byte("integration-secret-0123456789abcdef")),
		Issuer:    "smarttask-api",
		AccessTTL: 15 * time.Minute,
	})
	require.NoError(t, err)

	audit := NewAuditService(repository.NewAuditRepository(db), nil, nil)
	return NewAuthService(
		repository.NewUserRepository(db),
		repository.NewRefreshTokenRepository(db),
		codec, nil, nil,
		AuthConfig{RefreshTokenExpiry: 7 * 24 * time.Hour},
		WithAuditRecorder(audit),
	)
}

func TestAliceSessionLifecycle(t *testing.T) {
	svc := newSQLiteAuthService(t)
	ctx := context.Background()

	info, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	assert.NotEmpty(t, info.ID)

	_, err = svc.Register(ctx, models.RegisterRequest{Username: "alice", Email: "alice2@example.com", Password: "secret123"})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	pair, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)
	require.NotEmpty(t, pair.AccessToken)
	require.NotEmpty(t, pair.RefreshToken)
	assert.NotEqual(t, pair.AccessToken, pair.RefreshToken)

	second, err := svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken})
	require.NoError(t, err)
	assert.NotEqual(t, pair.RefreshToken, second.RefreshToken)

	_, err = svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidRefreshToken)

	third, err := svc.Refresh(ctx, models.RefreshRequest{RefreshToken: second.RefreshToken})
	require.NoError(t, err)

	principal := &models.Principal{Subject: "alice", AccountID: info.ID, Role: models.RoleUser}
	require.NoError(t, svc.Logout(ctx, principal, models.RequestMeta{}))

	_, err = svc.Refresh(ctx, models.RefreshRequest{RefreshToken: third.RefreshToken})
	assert.ErrorIs(t, err, appErrors.ErrInvalidRefreshToken)
}

func TestConcurrentRefreshHasSingleWinner(t *testing.T) {
	svc := newSQLiteAuthService(t)
	ctx := context.Background()

	_, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	pair, err := svc.Login(ctx, models.LoginRequest{Username: "alice", Password: "secret123"})
	require.NoError(t, err)

	const attempts = 8
	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		successes int
		rejected  int
	)
	start := make(chan struct{})
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			_, err := svc.Refresh(ctx, models.RefreshRequest{RefreshToken: pair.RefreshToken})
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				successes++
			case appErrors.FromError(err).Code == appErrors.ErrInvalidRefreshToken.Code:
				rejected++
			}
		}()
	}
	close(start)
	wg.Wait()

	assert.Equal(t, 1, successes)
	assert.Equal(t, attempts-1, rejected)
}

func TestDeletedAccountCanReRegisterUsername(t *testing.T) {
	svc := newSQLiteAuthService(t)
	ctx := context.Background()

	info, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret123"})
	require.NoError(t, err)
	require.NoError(t, svc.DeleteAccount(ctx, info.ID, models.RequestMeta{}))

	again, err := svc.Register(ctx, models.RegisterRequest{Username: "alice", Email: "alice@example.com", Password: "secret456"})
	require.NoError(t, err)
	assert.NotEqual(t, info.ID, again.ID)
}
