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

const accountColumns = `id, username, email, password_hash, role, enabled, deleted, created_at, updated_at`

// UserRepository provides database access for accounts.
type UserRepository struct {
	db *sqlx.DB
}

// NewUserRepository creates a new instance of UserRepository.
func NewUserRepository(db *sqlx.DB) *UserRepository {
	return &UserRepository{db: db}
}

// FindByUsername returns a non-deleted account by username.
func (r *UserRepository) FindByUsername(ctx context.Context, username string) (*models.Account, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM users WHERE username = ? AND deleted = FALSE LIMIT 1`)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, username); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by username: %w", err)
	}
	account.Status = models.DeriveStatus(account.Enabled, account.Deleted)
	return &account, nil
}

// FindByID returns an account by identifier, including deleted ones.
func (r *UserRepository) FindByID(ctx context.Context, id string) (*models.Account, error) {
	query := r.db.Rebind(`SELECT ` + accountColumns + ` FROM users WHERE id = ? LIMIT 1`)
	var account models.Account
	if err := r.db.GetContext(ctx, &account, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("find account by id: %w", err)
	}
	account.Status = models.DeriveStatus(account.Enabled, account.Deleted)
	return &account, nil
}

// ExistsByUsername reports whether a non-deleted account uses username.
func (r *UserRepository) ExistsByUsername(ctx context.Context, username string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(1) FROM users WHERE username = ? AND deleted = FALSE`, username)
}

// ExistsByEmail reports whether a non-deleted account uses email.
func (r *UserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	return r.exists(ctx, `SELECT COUNT(1) FROM users WHERE email = ? AND deleted = FALSE`, email)
}

func (r *UserRepository) exists(ctx context.Context, query string, arg string) (bool, error) {
	var count int
	if err := r.db.GetContext(ctx, &count, r.db.Rebind(query), arg); err != nil {
		return false, fmt.Errorf("check account exists: %w", err)
	}
	return count > 0, nil
}

// Create inserts a new account. A unique violation yields ErrDuplicate.
func (r *UserRepository) Create(ctx context.Context, account *models.Account) error {
	if account.ID == "" {
		account.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if account.CreatedAt.IsZero() {
		account.CreatedAt = now
	}
	account.UpdatedAt = now

	const query = `INSERT INTO users (id, username, email, password_hash, role, enabled, deleted, created_at, updated_at) VALUES (:id, :username, :email, :password_hash, :role, :enabled, :deleted, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, account); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("create account: %w", ErrDuplicate)
		}
		return fmt.Errorf("create account: %w", err)
	}
	account.Status = models.DeriveStatus(account.Enabled, account.Deleted)
	return nil
}

// SoftDelete marks the account deleted and revokes its refresh tokens in one
// transaction. It returns the number of revoked tokens.
func (r *UserRepository) SoftDelete(ctx context.Context, id string, at time.Time) (int64, error) {
	return r.deactivate(ctx, `UPDATE users SET deleted = TRUE, updated_at = ? WHERE id = ? AND deleted = FALSE`, id, at)
}

// Disable clears the enabled flag and revokes the account's refresh tokens in
// one transaction. It returns the number of revoked tokens.
func (r *UserRepository) Disable(ctx context.Context, id string, at time.Time) (int64, error) {
	return r.deactivate(ctx, `UPDATE users SET enabled = FALSE, updated_at = ? WHERE id = ? AND deleted = FALSE`, id, at)
}

func (r *UserRepository) deactivate(ctx context.Context, update string, id string, at time.Time) (int64, error) {
	var revoked int64
	err := withTx(ctx, r.db, func(tx *sqlx.Tx) error {
		res, err := tx.ExecContext(ctx, tx.Rebind(update), at, id)
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return fmt.Errorf("update account: %w", err)
		}
		if affected == 0 {
			return sql.ErrNoRows
		}

		revoked, err = revokeAllTokens(ctx, tx, id, at)
		return err
	})
	if err != nil {
		return 0, err
	}
	return revoked, nil
}
