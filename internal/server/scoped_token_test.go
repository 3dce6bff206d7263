package server_test

import (
	"net/http"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
)

func TestHandleScopedToken(t *testing.T) {
	target := onboard(t, "scoped-target@test.dev", map[string]string{"diet_type": "keto"})

	t.Run("admin issues scoped token and acts as the user", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", adminToken,
			model.ScopedTokenRequest{AsUserID: target.User.ID, ExpiresIn: 300})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got model.ScopedTokenResponse
		decodeData(t, resp, &got)
		assert.NotEmpty(t, got.Token)
		assert.Equal(t, target.User.ID, got.AsUserID)
		assert.NotEmpty(t, got.ScopedBy)
		assert.False(t, got.ExpiresAt.IsZero())

		// The scoped token reads the target's own data without a grant.
		resp2, err := authedRequest("GET",
			testSrv.URL+"/v1/users/"+target.User.ID.String()+"/traits", got.Token, nil)
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		require.Equal(t, http.StatusOK, resp2.StatusCode)

		var traits []model.Trait
		decodeData(t, resp2, &traits)
		keys := make([]string, 0, len(traits))
		for _, tr := range traits {
			keys = append(keys, tr.Key)
		}
		assert.Contains(t, keys, "diet_type")
	})

	t.Run("scoped token cannot issue another scoped token", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", adminToken,
			model.ScopedTokenRequest{AsUserID: target.User.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		var got model.ScopedTokenResponse
		decodeData(t, resp, &got)
		require.NotEmpty(t, got.Token)

		// The scoped token carries the target's user role, so requireRole
		// rejects it before the delegation-chain guard even runs.
		resp2, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", got.Token,
			model.ScopedTokenRequest{AsUserID: target.User.ID})
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp2.StatusCode)
	})

	t.Run("non-admin cannot call the endpoint", func(t *testing.T) {
		caller := onboard(t, "scoped-caller@test.dev", nil)
		resp, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", caller.Token,
			model.ScopedTokenRequest{AsUserID: target.User.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	})

	t.Run("cannot scope to an equal or higher role", func(t *testing.T) {
		promoted := onboard(t, "scoped-admin@test.dev", nil)
		role := model.RoleAdmin
		resp, err := authedRequest("PATCH",
			testSrv.URL+"/v1/admin/users/"+promoted.User.ID.String(), adminToken,
			model.UpdateUserRequest{Role: &role})
		require.NoError(t, err)
		_ = resp.Body.Close()
		require.Equal(t, http.StatusOK, resp.StatusCode)

		resp2, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", adminToken,
			model.ScopedTokenRequest{AsUserID: promoted.User.ID})
		require.NoError(t, err)
		defer func() { _ = resp2.Body.Close() }()
		assert.Equal(t, http.StatusForbidden, resp2.StatusCode)
	})

	t.Run("unknown user returns 404", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", adminToken,
			model.ScopedTokenRequest{AsUserID: uuid.New()})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("missing as_user_id returns 400", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", adminToken,
			model.ScopedTokenRequest{})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("unauthenticated request returns 401", func(t *testing.T) {
		resp, err := authedRequest("POST", testSrv.URL+"/v1/auth/scoped-token", "",
			model.ScopedTokenRequest{AsUserID: target.User.ID})
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}
