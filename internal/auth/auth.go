// Package auth issues and validates the bearer tokens the API accepts.
//
// Access tokens are HS256 JWTs carrying the principal's role. Machine
// callers hold argon2id-hashed service keys (hash.go) and exchange them
// for the same kind of token.
package auth

import (
	"crypto/rand"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
)

// Claims extends jwt.RegisteredClaims with MindFork-specific fields.
type Claims struct {
	jwt.RegisteredClaims
	Role         model.Role `json:"role"`
	ServiceKeyID *uuid.UUID `json:"service_key_id,omitempty"` // Set when the token was exchanged from a service key.
	ScopedBy     string     `json:"scoped_by,omitempty"`      // Set on support tokens; contains the issuing admin's user ID.
}

// SubjectID returns the subject as a UUID. ValidateToken guarantees the
// subject parses, so the zero value only appears on hand-built claims.
func (c *Claims) SubjectID() uuid.UUID {
	id, err := uuid.Parse(c.Subject)
	if err != nil {
		return uuid.Nil
	}
	return id
}

// MaxScopedTokenTTL is the maximum lifetime of a scoped support token.
const MaxScopedTokenTTL = time.Hour

// validationLeeway absorbs clock skew between the API and token issuers.
const validationLeeway = 30 * time.Second

const minSecretLen = 32

// JWTManager handles JWT creation and validation using HS256.
type JWTManager struct {
	secret     []byte
	expiration time.Duration
}

// NewJWTManager creates a JWTManager from a shared secret.
// An empty secret generates an ephemeral one (for development).
func NewJWTManager(secret string, expiration time.Duration) (*JWTManager, error) {
	if secret == "" {
		slog.Warn("auth: no JWT secret configured, generating an ephemeral one (not for production)")
		buf := make([]byte, minSecretLen)
		if _, err := rand.Read(buf); err != nil {
			return nil, fmt.Errorf("auth: generate secret: %w", err)
		}
		return &JWTManager{secret: buf, expiration: expiration}, nil
	}
	if len(secret) < minSecretLen {
		return nil, fmt.Errorf("auth: JWT secret must be at least %d bytes", minSecretLen)
	}
	return &JWTManager{secret: []byte(secret), expiration: expiration}, nil
}

// IssueToken creates a signed JWT for the given user.
func (m *JWTManager) IssueToken(user model.User) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.ID.String(),
			Issuer:    "mindfork",
			Audience:  jwt.ClaimStrings{"mindfork"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role: user.Role,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign token: %w", err)
	}
	return signed, exp, nil
}

// IssueServiceToken creates a signed JWT for a machine caller that presented
// a valid service key. The subject is the key ID and the role comes from the
// key row, so revoking the key cuts off new tokens immediately.
func (m *JWTManager) IssueServiceToken(key model.ServiceKey) (string, time.Time, error) {
	now := time.Now().UTC()
	exp := now.Add(m.expiration)

	keyID := key.ID
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   key.ID.String(),
			Issuer:    "mindfork",
			Audience:  jwt.ClaimStrings{"mindfork"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role:         key.Role,
		ServiceKeyID: &keyID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign service token: %w", err)
	}
	return signed, exp, nil
}

// IssueScopedToken issues a short-lived token that acts as the target user
// but carries the issuing admin's user ID in the ScopedBy claim. TTL is
// capped at MaxScopedTokenTTL regardless of the requested value.
func (m *JWTManager) IssueScopedToken(issuingAdminID string, target model.User, ttl time.Duration) (string, time.Time, error) {
	if ttl <= 0 || ttl > MaxScopedTokenTTL {
		ttl = MaxScopedTokenTTL
	}

	now := time.Now().UTC()
	exp := now.Add(ttl)

	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   target.ID.String(),
			Issuer:    "mindfork",
			Audience:  jwt.ClaimStrings{"mindfork"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        uuid.New().String(),
		},
		Role:     target.Role,
		ScopedBy: issuingAdminID,
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("auth: sign scoped token: %w", err)
	}
	return signed, exp, nil
}

// ValidateToken parses and validates a JWT, returning the claims.
func (m *JWTManager) ValidateToken(tokenStr string) (*Claims, error) {
	token, err := jwt.ParseWithClaims(
		tokenStr,
		&Claims{},
		func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("auth: unexpected signing method: %v", token.Header["alg"])
			}
			return m.secret, nil
		},
		jwt.WithAudience("mindfork"),
		jwt.WithLeeway(validationLeeway),
	)
	if err != nil {
		return nil, fmt.Errorf("auth: validate token: %w", err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("auth: invalid token claims")
	}

	if claims.Issuer != "mindfork" {
		return nil, fmt.Errorf("auth: invalid issuer: %s", claims.Issuer)
	}

	if _, err := uuid.Parse(claims.Subject); err != nil {
		return nil, fmt.Errorf("auth: invalid subject (expected UUID): %w", err)
	}

	return claims, nil
}
