package auth_test

import (
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/model"
)

const testSecret = "unit-test-secret-0123456789abcdef"

func TestHashAndVerifyServiceKey(t *testing.T) {
	hash, err := auth.HashServiceKey("test-key-123")
	require.NoError(t, err)
	assert.NotEmpty(t, hash)

	valid, err := auth.VerifyServiceKey("test-key-123", hash)
	require.NoError(t, err)
	assert.True(t, valid)

	valid, err = auth.VerifyServiceKey("wrong-key", hash)
	require.NoError(t, err)
	assert.False(t, valid)
}

func TestVerifyServiceKeyMalformedHash(t *testing.T) {
	_, err := auth.VerifyServiceKey("key", "no-separator")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid hash format")
}

func TestJWTIssueAndValidate(t *testing.T) {
	mgr, err := auth.NewJWTManager(testSecret, 1*time.Hour)
	require.NoError(t, err)

	user := model.User{
		ID:          uuid.New(),
		Email:       "test@example.com",
		DisplayName: "Test",
		Role:        model.RoleUser,
	}

	token, expiresAt, err := mgr.IssueToken(user)
	require.NoError(t, err)
	assert.NotEmpty(t, token)
	assert.True(t, expiresAt.After(time.Now()))

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, user.ID, claims.SubjectID())
	assert.Equal(t, model.RoleUser, claims.Role)
	assert.Nil(t, claims.ServiceKeyID)
}

func TestJWTEphemeralSecret(t *testing.T) {
	mgr, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)

	token, _, err := mgr.IssueToken(model.User{ID: uuid.New(), Role: model.RoleUser})
	require.NoError(t, err)

	_, err = mgr.ValidateToken(token)
	require.NoError(t, err)

	// A second manager has a different ephemeral secret.
	other, err := auth.NewJWTManager("", time.Hour)
	require.NoError(t, err)
	_, err = other.ValidateToken(token)
	require.Error(t, err)
}

func TestJWTSecretTooShort(t *testing.T) {
	_, err := auth.NewJWTManager("short", time.Hour)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "at least 32 bytes")
}

func TestIssueServiceToken(t *testing.T) {
	mgr, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	key := model.ServiceKey{
		ID:   uuid.New(),
		Name: "ingest-pipeline",
		Role: model.RoleAdmin,
	}

	token, _, err := mgr.IssueServiceToken(key)
	require.NoError(t, err)

	claims, err := mgr.ValidateToken(token)
	require.NoError(t, err)
	assert.Equal(t, key.ID, claims.SubjectID())
	assert.Equal(t, model.RoleAdmin, claims.Role)
	require.NotNil(t, claims.ServiceKeyID)
	assert.Equal(t, key.ID, *claims.ServiceKeyID)
}

// forgeToken signs a JWT over the given claims with an arbitrary secret.
func forgeToken(t *testing.T, secret string, claims jwt.Claims) string {
	t.Helper()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(secret))
	require.NoError(t, err)
	return signed
}

func TestValidateToken_WrongIssuer(t *testing.T) {
	mgr, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, testSecret, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "not-mindfork",
			Audience:  jwt.ClaimStrings{"mindfork"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Role: model.RoleUser,
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid issuer")
}

func TestValidateToken_WrongSecret(t *testing.T) {
	mgr, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, "attacker-chosen-secret-0123456789ab", &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   uuid.New().String(),
			Issuer:    "mindfork",
			Audience:  jwt.ClaimStrings{"mindfork"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Role: model.RoleAdmin,
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
}

func TestValidateToken_MalformedSubject(t *testing.T) {
	mgr, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()
	token := forgeToken(t, testSecret, &auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "not-a-uuid",
			Issuer:    "mindfork",
			Audience:  jwt.ClaimStrings{"mindfork"},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			ID:        uuid.New().String(),
		},
		Role: model.RoleUser,
	})

	_, err = mgr.ValidateToken(token)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid subject")
}

func TestValidateToken_ExpiryLeeway(t *testing.T) {
	mgr, err := auth.NewJWTManager(testSecret, time.Hour)
	require.NoError(t, err)

	now := time.Now().UTC()

	t.Run("just expired falls inside leeway", func(t *testing.T) {
		token := forgeToken(t, testSecret, &auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.New().String(),
				Issuer:    "mindfork",
				Audience:  jwt.ClaimStrings{"mindfork"},
				IssuedAt:  jwt.NewNumericDate(now.Add(-time.Hour)),
				ExpiresAt: jwt.NewNumericDate(now.Add(-10 * time.Second)),
				ID:        uuid.New().String(),
			},
			Role: model.RoleUser,
		})
		_, err := mgr.ValidateToken(token)
		assert.NoError(t, err, "expiry within clock-skew leeway should validate")
	})

	t.Run("well past leeway is rejected", func(t *testing.T) {
		token := forgeToken(t, testSecret, &auth.Claims{
			RegisteredClaims: jwt.RegisteredClaims{
				Subject:   uuid.New().String(),
				Issuer:    "mindfork",
				Audience:  jwt.ClaimStrings{"mindfork"},
				IssuedAt:  jwt.NewNumericDate(now.Add(-2 * time.Hour)),
				ExpiresAt: jwt.NewNumericDate(now.Add(-5 * time.Minute)),
				ID:        uuid.New().String(),
			},
			Role: model.RoleUser,
		})
		_, err := mgr.ValidateToken(token)
		require.Error(t, err)
	})
}

func TestIssueScopedToken(t *testing.T) {
	mgr, err := auth.NewJWTManager(testSecret, 24*time.Hour)
	require.NoError(t, err)

	admin := model.User{ID: uuid.New(), Role: model.RoleAdmin}
	target := model.User{ID: uuid.New(), Role: model.RoleUser}

	t.Run("claims carry target identity and scoped_by", func(t *testing.T) {
		token, expiresAt, err := mgr.IssueScopedToken(admin.ID.String(), target, 5*time.Minute)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.True(t, expiresAt.After(time.Now()))
		assert.True(t, expiresAt.Before(time.Now().Add(6*time.Minute)))

		claims, err := mgr.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, target.ID, claims.SubjectID())
		assert.Equal(t, model.RoleUser, claims.Role)
		assert.Equal(t, admin.ID.String(), claims.ScopedBy)
	})

	t.Run("TTL is capped at MaxScopedTokenTTL", func(t *testing.T) {
		token, expiresAt, err := mgr.IssueScopedToken(admin.ID.String(), target, 48*time.Hour)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		// Should expire within MaxScopedTokenTTL, not 48 hours.
		assert.True(t, expiresAt.Before(time.Now().Add(auth.MaxScopedTokenTTL+time.Minute)),
			"expiry should be capped at MaxScopedTokenTTL")
	})

	t.Run("zero TTL defaults to MaxScopedTokenTTL", func(t *testing.T) {
		token, expiresAt, err := mgr.IssueScopedToken(admin.ID.String(), target, 0)
		require.NoError(t, err)
		assert.NotEmpty(t, token)
		assert.True(t, expiresAt.After(time.Now()))
	})

	t.Run("token is valid and passes ValidateToken", func(t *testing.T) {
		token, _, err := mgr.IssueScopedToken(admin.ID.String(), target, 5*time.Minute)
		require.NoError(t, err)
		claims, err := mgr.ValidateToken(token)
		require.NoError(t, err)
		assert.Equal(t, target.ID.String(), claims.Subject)
		assert.Equal(t, "mindfork", claims.Issuer)
	})
}
