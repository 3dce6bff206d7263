package mcp

import (
	"context"
	"log/slog"
	"os"
	"testing"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
)

// newTestServer builds a Server with no storage attached. Good enough for
// the argument-validation paths, which must all fail before any dependency
// is touched.
func newTestServer(t *testing.T) *Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	return New(nil, nil, nil, nil, logger, "test")
}

func toolRequest(name string, args map[string]any) mcplib.CallToolRequest {
	req := mcplib.CallToolRequest{}
	req.Params.Name = name
	req.Params.Arguments = args
	return req
}

func resultText(t *testing.T, result *mcplib.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcplib.TextContent)
	require.True(t, ok, "expected text content")
	return text.Text
}

func userClaims(userID uuid.UUID, role model.Role) *auth.Claims {
	c := &auth.Claims{Role: role}
	c.Subject = userID.String()
	return c
}

func TestResolveLayoutRejectsUnknownArea(t *testing.T) {
	s := newTestServer(t)

	result, err := s.handleResolveLayout(context.Background(), toolRequest("resolve_layout", map[string]any{
		"area": "dashboard",
	}))
	require.NoError(t, err, "tool errors are reported in-band")
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "unknown area")
}

func TestResolveLayoutRequiresUserWithoutClaims(t *testing.T) {
	s := newTestServer(t)

	// Valid area, no claims in context, no user_id argument.
	result, err := s.handleResolveLayout(context.Background(), toolRequest("resolve_layout", map[string]any{
		"area": "home",
	}))
	require.NoError(t, err)
	require.True(t, result.IsError)
	assert.Contains(t, resultText(t, result), "user_id is required")
}

func TestResolveTargetUserRejectsMalformedID(t *testing.T) {
	s := newTestServer(t)

	_, errRes := s.resolveTargetUser(context.Background(), toolRequest("get_traits", map[string]any{
		"user_id": "not-a-uuid",
	}), model.GrantScopeRead)
	require.NotNil(t, errRes)
	assert.Contains(t, resultText(t, errRes), "invalid user_id")
}

func TestResolveTargetUserDefaultsToCaller(t *testing.T) {
	s := newTestServer(t)
	me := uuid.New()
	ctx := ctxutil.WithClaims(context.Background(), userClaims(me, model.RoleUser))

	userID, errRes := s.resolveTargetUser(ctx, toolRequest("get_traits", nil), model.GrantScopeRead)
	require.Nil(t, errRes)
	assert.Equal(t, me, userID)
}

func TestResolveTargetUserAllowsExplicitSelf(t *testing.T) {
	s := newTestServer(t)
	me := uuid.New()
	ctx := ctxutil.WithClaims(context.Background(), userClaims(me, model.RoleUser))

	// Naming yourself explicitly short-circuits in CanAccessClient before
	// any grant lookup, so no storage is needed.
	userID, errRes := s.resolveTargetUser(ctx, toolRequest("get_traits", map[string]any{
		"user_id": me.String(),
	}), model.GrantScopeRead)
	require.Nil(t, errRes)
	assert.Equal(t, me, userID)
}

func TestResolveTargetUserDeniesOtherUsers(t *testing.T) {
	s := newTestServer(t)
	me := uuid.New()
	other := uuid.New()
	ctx := ctxutil.WithClaims(context.Background(), userClaims(me, model.RoleUser))

	_, errRes := s.resolveTargetUser(ctx, toolRequest("get_traits", map[string]any{
		"user_id": other.String(),
	}), model.GrantScopeRead)
	require.NotNil(t, errRes)
	assert.Contains(t, resultText(t, errRes), "not authorized")
}

func TestResolveTargetUserAdminBypassesGrants(t *testing.T) {
	s := newTestServer(t)
	other := uuid.New()
	ctx := ctxutil.WithClaims(context.Background(), userClaims(uuid.New(), model.RoleAdmin))

	userID, errRes := s.resolveTargetUser(ctx, toolRequest("get_traits", map[string]any{
		"user_id": other.String(),
	}), model.GrantScopeWriteTraits)
	require.Nil(t, errRes)
	assert.Equal(t, other, userID)
}

func TestLogMealValidatesInput(t *testing.T) {
	s := newTestServer(t)
	me := uuid.New()
	ctx := ctxutil.WithClaims(context.Background(), userClaims(me, model.RoleUser))

	t.Run("unknown meal type", func(t *testing.T) {
		result, err := s.handleLogMeal(ctx, toolRequest("log_meal", map[string]any{
			"meal_type":   "brunch",
			"description": "eggs",
		}))
		require.NoError(t, err)
		require.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "invalid meal")
	})

	t.Run("missing description", func(t *testing.T) {
		result, err := s.handleLogMeal(ctx, toolRequest("log_meal", map[string]any{
			"meal_type": "lunch",
		}))
		require.NoError(t, err)
		require.True(t, result.IsError)
		assert.Contains(t, resultText(t, result), "invalid meal")
	})
}

func TestErrorResultShape(t *testing.T) {
	res := errorResult("boom")
	assert.True(t, res.IsError)
	assert.Equal(t, "boom", resultText(t, res))
}
