package mcp

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	mcplib "github.com/mark3labs/mcp-go/mcp"
)

func (s *Server) registerPrompts() {
	// coach-system — the assembled per-user coach system prompt. This is the
	// same string the HTTP API serves at /v1/coach/prompt; exposing it as an
	// MCP prompt lets a coaching agent bootstrap itself in one call.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("coach-system",
			mcplib.WithPromptDescription("Assembled coach system prompt for a user: persona, traits, goals, today's nutrition, streak"),
			mcplib.WithArgument("user_id",
				mcplib.ArgumentDescription("User the coaching session is for"),
				mcplib.RequiredArgument(),
			),
		),
		s.handleCoachSystemPrompt,
	)

	// coaching-workflow — static guidance on how to use the MindFork tools
	// during a session.
	s.mcpServer.AddPrompt(
		mcplib.NewPrompt("coaching-workflow",
			mcplib.WithPromptDescription("How to use MindFork tools during a coaching session (read traits first, log meals, re-resolve layouts)"),
		),
		s.handleCoachingWorkflowPrompt,
	)
}

func (s *Server) handleCoachSystemPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	raw := request.Params.Arguments["user_id"]
	if raw == "" {
		return nil, fmt.Errorf("user_id argument is required")
	}
	userID, err := uuid.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("invalid user_id: %w", err)
	}

	prompt, err := s.coachSvc.AssemblePrompt(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("mcp: assemble coach prompt: %w", err)
	}

	return &mcplib.GetPromptResult{
		Description: "Coach system prompt",
		Messages: []mcplib.PromptMessage{
			{
				Role:    mcplib.RoleUser,
				Content: mcplib.TextContent{Type: "text", Text: prompt},
			},
		},
	}, nil
}

func (s *Server) handleCoachingWorkflowPrompt(ctx context.Context, request mcplib.GetPromptRequest) (*mcplib.GetPromptResult, error) {
	return &mcplib.GetPromptResult{
		Description: "MindFork coaching session workflow",
		Messages: []mcplib.PromptMessage{
			{
				Role: mcplib.RoleUser,
				Content: mcplib.TextContent{
					Type: "text",
					Text: `During a MindFork coaching session, work with the user's real data:

1. START by calling get_traits to see what is known about the user
   (diet type, goals, restrictions). Ground every piece of advice in
   these facts; never contradict a recorded restriction.

2. When the user reports eating something, call log_meal so their
   nutrition history, XP, and streak stay accurate. Confirm what you
   logged.

3. After updating traits through the app, call resolve_layout to see
   how the user's surfaces changed before describing the app to them.

4. Read the coach-system prompt at the start of the session and stay in
   the persona it defines. The persona's style rules are binding.`,
				},
			},
		},
	}, nil
}
