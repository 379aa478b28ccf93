package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/smarttask-api/internal/models"
)

// MinSecretBytes is the HS256 key size.
const MinSecretBytes = 32

const refreshTokenBytes = 32

var (
	ErrMalformed        = errors.New("token is malformed")
	ErrInvalidSignature = errors.New("token signature is invalid")
	ErrInvalidIssuer    = errors.New("token issuer is invalid")
	ErrExpired          = errors.New("token is expired")
)

// TokenConfig configures the access token codec.
type TokenConfig struct {
	// Secret is base64 text; whitespace is ignored.
	Secret    string
	Issuer    string
	AccessTTL time.Duration
}

// TokenClaims are the custom claims embedded in an access token.
type TokenClaims struct {
	Role   models.Role
	UserID string
}

// TokenCodec signs and verifies HS256 access tokens. It is safe for
// concurrent use and never mutated after construction.
type TokenCodec struct {
	key    []byte
	issuer string
	ttl    time.Duration
	now    func() time.Time
	parser *jwt.Parser
}

// CodecOption customises a TokenCodec.
type CodecOption func(*TokenCodec)

// WithClock overrides the time source used for issuing and expiry checks.
func WithClock(now func() time.Time) CodecOption {
	return func(c *TokenCodec) {
		if now != nil {
			c.now = now
		}
	}
}

// NewTokenCodec decodes the signing secret once and returns a codec.
func NewTokenCodec(cfg TokenConfig, opts ...CodecOption) (*TokenCodec, error) {
	key, err := decodeSecret(cfg.Secret)
	if err != nil {
		return nil, err
	}
	if len(key) < MinSecretBytes {
		return nil, fmt.Errorf("jwt secret must decode to at least %d bytes, got %d", MinSecretBytes, len(key))
	}
	if cfg.AccessTTL <= 0 {
		return nil, errors.New("access token ttl must be positive")
	}

	codec := &TokenCodec{
		key:    key,
		issuer: cfg.Issuer,
		ttl:    cfg.AccessTTL,
		now:    func() time.Time { return time.Now().UTC() },
		// Expiry is checked separately in Verify against the codec clock.
		parser: jwt.NewParser(
			jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
			jwt.WithoutClaimsValidation(),
		),
	}
	for _, opt := range opts {
		opt(codec)
	}
	return codec, nil
}

// AccessTTL returns the default access token lifetime.
func (c *TokenCodec) AccessTTL() time.Duration {
	return c.ttl
}

// Issue signs a new access token for subject. A non-positive ttl uses the
// configured access TTL.
func (c *TokenCodec) Issue(subject string, claims TokenClaims, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 {
		ttl = c.ttl
	}
	issuedAt := c.now().Truncate(time.Second)
	expiresAt := issuedAt.Add(ttl)

	payload := &models.JWTClaims{
		Role:   string(claims.Role),
		UserID: claims.UserID,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(issuedAt),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, payload)
	signed, err := token.SignedString(c.key)
	if err != nil {
		return "", time.Time{}, err
	}
	return signed, expiresAt, nil
}

// Parse checks structure, signature and issuer. It does not check expiry.
func (c *TokenCodec) Parse(tokenString string) (*models.JWTClaims, error) {
	claims := &models.JWTClaims{}
	_, err := c.parser.ParseWithClaims(tokenString, claims, func(*jwt.Token) (interface{}, error) {
		return c.key, nil
	})
	if err != nil {
		switch {
		case errors.Is(err, jwt.ErrTokenMalformed):
			return nil, ErrMalformed
		case errors.Is(err, jwt.ErrTokenSignatureInvalid), errors.Is(err, jwt.ErrTokenUnverifiable):
			return nil, ErrInvalidSignature
		default:
			return nil, ErrMalformed
		}
	}

	if claims.Issuer != c.issuer {
		return nil, ErrInvalidIssuer
	}
	if claims.ExpiresAt == nil || claims.Subject == "" {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Verify parses the token and rejects it once the codec clock reaches its
// expiry.
func (c *TokenCodec) Verify(tokenString string) (*models.JWTClaims, error) {
	claims, err := c.Parse(tokenString)
	if err != nil {
		return nil, err
	}
	if !c.now().Before(claims.ExpiresAt.Time) {
		return nil, ErrExpired
	}
	return claims, nil
}

// NewRefreshToken returns an opaque URL-safe random token.
func NewRefreshToken() (string, error) {
	buf := make([]byte, refreshTokenBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func decodeSecret(raw string) ([]byte, error) {
	cleaned := strings.Join(strings.Fields(raw), "")
	if cleaned == "" {
		return nil, errors.New("jwt secret is empty")
	}

	encodings := []*base64.Encoding{
		base64.StdEncoding,
		base64.RawStdEncoding,
		base64.URLEncoding,
		base64.RawURLEncoding,
	}
	for _, enc := range encodings {
		if key, err := enc.DecodeString(cleaned); err == nil {
			return key, nil
		}
	}
	return nil, errors.New("jwt secret is not valid base64")
}
