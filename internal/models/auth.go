package models

import (
	"github.com/golang-jwt/jwt/v5"
)

// TokenTypeBearer is the scheme advertised alongside issued tokens.
const TokenTypeBearer = "Bearer"

// RequestMeta carries caller details used for audit records.
type RequestMeta struct {
	IP        string `json:"-"`
	UserAgent string `json:"-"`
	RequestID string `json:"-"`
}

// RegisterRequest holds the fields for creating an account.
type RegisterRequest struct {
	Username string `json:"username" validate:"required,min=3,max=80"`
	Email    string `json:"email" validate:"required,email,max=150"`
	Password string `json:"password" validate:"required,min=6,max=72"`
	RequestMeta
}

// LoginRequest holds credentials for authenticating a user.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	RequestMeta
}

// RefreshRequest exchanges a refresh token for a new token pair.
type RefreshRequest struct {
	RefreshToken string `json:"refreshToken" form:"refreshToken"`
	RequestMeta
}

// ServiceLoginRequest authenticates API exploration tooling.
type ServiceLoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
	RequestMeta
}

// TokenPair is returned by login and refresh.
type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	TokenType    string `json:"tokenType"`
	ExpiresIn    int64  `json:"expiresIn"`
}

// JWTClaims represents the JWT payload for access tokens. UserID is empty for
// service tokens.
type JWTClaims struct {
	Role   string `json:"role"`
	UserID string `json:"uid,omitempty"`
	jwt.RegisteredClaims
}
