package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"

	"github.com/mindfork/mindfork/internal/authz"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
)

func (s *Server) registerTools() {
	// resolve_layout — what the user's app surfaces look like right now.
	s.mcpServer.AddTool(
		mcplib.NewTool("resolve_layout",
			mcplib.WithDescription(`Resolve the personalized layout and feature flags for a user on one UI area.

WHEN TO USE: Before reasoning about what the user currently sees in the
app, or after changing a trait, to confirm how the change affects their
experience. The result reflects the active personalization rules at the
moment of the call.

Areas: home, profile, meal_detail, stats, social.`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("area",
				mcplib.Description("UI area to resolve (home, profile, meal_detail, stats, social)"),
				mcplib.Required(),
			),
			mcplib.WithString("user_id",
				mcplib.Description("User to resolve for. Defaults to the authenticated caller."),
			),
		),
		s.handleResolveLayout,
	)

	// get_traits — the fact base the rules engine evaluates against.
	s.mcpServer.AddTool(
		mcplib.NewTool("get_traits",
			mcplib.WithDescription(`Read a user's traits: the stored facts personalization rules match against.

WHEN TO USE: To understand why the user sees a particular layout or
feature, or to ground coaching advice in what is actually known about
them (diet type, goals, activity level, ...).`),
			mcplib.WithReadOnlyHintAnnotation(true),
			mcplib.WithIdempotentHintAnnotation(true),
			mcplib.WithOpenWorldHintAnnotation(false),
			mcplib.WithString("user_id",
				mcplib.Description("User whose traits to read. Defaults to the authenticated caller."),
			),
		),
		s.handleGetTraits,
	)

	// log_meal — record a meal on the user's behalf.
	s.mcpServer.AddTool(
		mcplib.NewTool("log_meal",
			mcplib.WithDescription(`Log a meal for a user, as if they had entered it in the app.

Triggers the same XP awards and streak updates as the app's own meal
logging. Quantities are per serving as eaten; omit what you don't know
rather than guessing.`),
			mcplib.WithString("meal_type",
				mcplib.Description("One of breakfast, lunch, dinner, snack"),
				mcplib.Required(),
			),
			mcplib.WithString("description",
				mcplib.Description("Free-text description of the meal"),
				mcplib.Required(),
			),
			mcplib.WithNumber("calories", mcplib.Description("Energy in kcal"), mcplib.Min(0)),
			mcplib.WithNumber("protein_g", mcplib.Description("Protein in grams"), mcplib.Min(0)),
			mcplib.WithNumber("carbs_g", mcplib.Description("Carbohydrates in grams"), mcplib.Min(0)),
			mcplib.WithNumber("fat_g", mcplib.Description("Fat in grams"), mcplib.Min(0)),
			mcplib.WithString("user_id",
				mcplib.Description("User to log for. Defaults to the authenticated caller."),
			),
		),
		s.handleLogMeal,
	)
}

// resolveTargetUser determines which user a tool call acts on and enforces
// the same access rules as the HTTP handlers: self always, coach with a
// grant at the needed scope, admin anyone. Over stdio (no claims) an
// explicit user_id is required and trusted — stdio access means operator
// access.
func (s *Server) resolveTargetUser(ctx context.Context, request mcplib.CallToolRequest, need model.GrantScope) (uuid.UUID, *mcplib.CallToolResult) {
	claims := ctxutil.ClaimsFromContext(ctx)

	raw := request.GetString("user_id", "")
	if raw == "" {
		if claims == nil {
			return uuid.Nil, errorResult("user_id is required")
		}
		return claims.SubjectID(), nil
	}

	userID, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, errorResult(fmt.Sprintf("invalid user_id: %v", err))
	}

	if claims != nil {
		ok, err := authz.CanAccessClient(ctx, s.db, claims, userID, need)
		if err != nil {
			return uuid.Nil, errorResult(fmt.Sprintf("authorization check failed: %v", err))
		}
		if !ok {
			return uuid.Nil, errorResult("not authorized for this user")
		}
	}

	return userID, nil
}

func (s *Server) handleResolveLayout(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	area := model.Area(request.GetString("area", ""))
	if !model.ValidArea(area) {
		return errorResult(fmt.Sprintf("unknown area %q (valid: %v)", area, model.Areas())), nil
	}

	userID, errRes := s.resolveTargetUser(ctx, request, model.GrantScopeRead)
	if errRes != nil {
		return errRes, nil
	}

	res, err := s.personalizeSvc.Resolve(ctx, userID, area)
	if err != nil {
		return errorResult(fmt.Sprintf("resolution failed: %v", err)), nil
	}

	data, _ := json.MarshalIndent(res, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleGetTraits(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	userID, errRes := s.resolveTargetUser(ctx, request, model.GrantScopeRead)
	if errRes != nil {
		return errRes, nil
	}

	traits, err := s.db.GetTraits(ctx, userID)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to read traits: %v", err)), nil
	}

	data, _ := json.MarshalIndent(traits, "", "  ")
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}

func (s *Server) handleLogMeal(ctx context.Context, request mcplib.CallToolRequest) (*mcplib.CallToolResult, error) {
	// Logging a meal mutates the client's record; a read-only grant is not
	// enough for a coach to do it.
	userID, errRes := s.resolveTargetUser(ctx, request, model.GrantScopeWriteTraits)
	if errRes != nil {
		return errRes, nil
	}

	in := model.MealLogInput{
		MealType:    model.MealType(request.GetString("meal_type", "")),
		Description: request.GetString("description", ""),
		Calories:    request.GetFloat("calories", 0),
		ProteinG:    request.GetFloat("protein_g", 0),
		CarbsG:      request.GetFloat("carbs_g", 0),
		FatG:        request.GetFloat("fat_g", 0),
	}
	if err := in.Validate(); err != nil {
		return errorResult(fmt.Sprintf("invalid meal: %v", err)), nil
	}

	meal, err := s.db.InsertMealLog(ctx, userID, in)
	if err != nil {
		return errorResult(fmt.Sprintf("failed to log meal: %v", err)), nil
	}

	awards, streak, err := s.progressSvc.MealLogged(ctx, userID, meal.ID, meal.LoggedAt)
	if err != nil {
		// Same as the HTTP handler: the meal is committed, report but don't undo.
		s.logger.Error("mcp: meal logged but XP award failed",
			"user_id", userID, "meal_id", meal.ID, "error", err)
	}
	if awards == nil {
		awards = []model.XPEntry{}
	}

	data, _ := json.Marshal(map[string]any{
		"meal_id":    meal.ID,
		"logged_at":  meal.LoggedAt.Format(time.RFC3339),
		"awarded_xp": awards,
		"streak":     streak,
		"status":     "logged",
	})
	return &mcplib.CallToolResult{
		Content: []mcplib.Content{
			mcplib.TextContent{Type: "text", Text: string(data)},
		},
	}, nil
}
