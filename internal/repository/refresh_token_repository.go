package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/smarttask-api/internal/models"
)

const (
	refreshTokenColumns = `id, user_id, token, expires_at, created_at, revoked, revoked_at, ip_address, user_agent`
	insertRefreshToken  = `INSERT INTO refresh_tokens (` + refreshTokenColumns + `) VALUES (:id, :user_id, :token, :expires_at, :created_at, :revoked, :revoked_at, :ip_address, :user_agent)`
	revokeRefreshToken  = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ? WHERE id = ? AND revoked = FALSE`
)

// RefreshTokenRepository persists refresh token sessions.
type RefreshTokenRepository struct {
	db *sqlx.DB
}

// NewRefreshTokenRepository creates a new RefreshTokenRepository.
func NewRefreshTokenRepository(db *sqlx.DB) *RefreshTokenRepository {
	return &RefreshTokenRepository{db: db}
}

// Save inserts a refresh token. A token collision yields ErrDuplicate.
func (r *RefreshTokenRepository) Save(ctx context.Context, token *models.RefreshToken) error {
	prepareRefreshToken(token)
	if _, err := r.db.NamedExecContext(ctx, insertRefreshToken, token); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("save refresh token: %w", ErrDuplicate)
		}
		return fmt.Errorf("save refresh token: %w", err)
	}
	return nil
}

// FindActiveByToken returns the non-revoked row for token. Expiry is left to
// the caller.
func (r *RefreshTokenRepository) FindActiveByToken(ctx context.Context, token string) (*models.RefreshToken, error) {
	query := r.db.Rebind(`SELECT ` + refreshTokenColumns + ` FROM refresh_tokens WHERE token = ? AND revoked = FALSE LIMIT 1`)
	var rt models.RefreshToken
	if err := r.db.GetContext(ctx, &rt, query, token); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find refresh token: %w", err)
	}
	return &rt, nil
}

// Revoke marks one active row revoked. ErrNotActive when it was already
// revoked or does not exist.
func (r *RefreshTokenRepository) Revoke(ctx context.Context, id string, at time.Time) error {
	return revokeOne(ctx, r.db, id, at)
}

// Rotate revokes oldID and inserts next atomically. Only one caller can win
// the conditional revoke; the others get ErrNotActive and nothing is inserted.
func (r *RefreshTokenRepository) Rotate(ctx context.Context, oldID string, next *models.RefreshToken, at time.Time) error {
	prepareRefreshToken(next)
	return withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		if err := revokeOne(ctx, tx, oldID, at); err != nil {
			return err
		}
		if _, err := sqlx.NamedExecContext(ctx, tx, insertRefreshToken, next); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("rotate refresh token: %w", ErrDuplicate)
			}
			return fmt.Errorf("rotate refresh token: %w", err)
		}
		return nil
	})
}

// RevokeAllForAccount revokes every active row of the account.
func (r *RefreshTokenRepository) RevokeAllForAccount(ctx context.Context, accountID string, at time.Time) (int64, error) {
	return revokeAllTokens(ctx, r.db, accountID, at)
}

func prepareRefreshToken(token *models.RefreshToken) {
	if token.ID == "" {
		token.ID = uuid.NewString()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}
}

func revokeOne(ctx context.Context, ext sqlx.ExtContext, id string, at time.Time) error {
	res, err := ext.ExecContext(ctx, ext.Rebind(revokeRefreshToken), at, id)
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("revoke refresh token: %w", err)
	}
	if affected == 0 {
		return ErrNotActive
	}
	return nil
}

func revokeAllTokens(ctx context.Context, ext sqlx.ExtContext, accountID string, at time.Time) (int64, error) {
	const query = `UPDATE refresh_tokens SET revoked = TRUE, revoked_at = ? WHERE user_id = ? AND revoked = FALSE`
	res, err := ext.ExecContext(ctx, ext.Rebind(query), at, accountID)
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("revoke account refresh tokens: %w", err)
	}
	return affected, nil
}
