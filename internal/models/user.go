package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is the closed set of principal roles carried in the access token.
type Role string

const (
	RoleUser Role = "USER"
	// RoleService marks the self-describing token issued to API exploration
	// tooling. It is never backed by an account row.
	RoleService Role = "SWAGGER_ADMIN"
)

// ParseRole decodes a role claim. Unknown values are rejected.
func ParseRole(raw string) (Role, error) {
	switch Role(strings.TrimSpace(raw)) {
	case RoleUser:
		return RoleUser, nil
	case RoleService:
		return RoleService, nil
	default:
		return "", fmt.Errorf("unknown role %q", raw)
	}
}

// AccountStatus is derived from the enabled and deleted flags when an
// account is loaded.
type AccountStatus int

const (
	AccountActive AccountStatus = iota
	AccountDisabled
	AccountDeleted
)

func (s AccountStatus) String() string {
	switch s {
	case AccountActive:
		return "ACTIVE"
	case AccountDisabled:
		return "DISABLED"
	case AccountDeleted:
		return "DELETED"
	default:
		return "UNKNOWN"
	}
}

// DeriveStatus collapses the persisted flags. Deleted wins over disabled.
func DeriveStatus(enabled, deleted bool) AccountStatus {
	switch {
	case deleted:
		return AccountDeleted
	case !enabled:
		return AccountDisabled
	default:
		return AccountActive
	}
}

// Account represents an application user stored in the users table.
type Account struct {
	ID           string        `db:"id" json:"id"`
	Username     string        `db:"username" json:"username"`
	Email        string        `db:"email" json:"email"`
	PasswordHash string        `db:"password_hash" json:"-"`
	Role         Role          `db:"role" json:"role"`
	Enabled      bool          `db:"enabled" json:"enabled"`
	Deleted      bool          `db:"deleted" json:"-"`
	Status       AccountStatus `db:"-" json:"-"`
	CreatedAt    time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time     `db:"updated_at" json:"updated_at"`
}

// Active reports whether the account may authenticate.
func (a *Account) Active() bool {
	return a != nil && a.Status == AccountActive
}

// AccountInfo is the public projection returned by registration.
type AccountInfo struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
	Role     Role   `json:"role"`
}

// Info projects the account for API responses.
func (a *Account) Info() AccountInfo {
	return AccountInfo{ID: a.ID, Username: a.Username, Email: a.Email, Role: a.Role}
}
