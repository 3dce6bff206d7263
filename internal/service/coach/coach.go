// Package coach assembles the system prompt for the in-app AI coach. The
// assembly is pure mechanics: persona wording, style rules, and goals all
// come from data (seeded personas, rule effects, traits); this package only
// decides section order and formatting. Prompts are returned to callers,
// never sent anywhere.
package coach

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// Extras keys the coach consumes from rule effect passthrough.
const (
	extraRecommendedCoach = "recommended_coach"
	extraAddGoals         = "add_goals"
)

// Store is the storage surface prompt assembly reads from.
type Store interface {
	GetPersona(ctx context.Context, key string) (model.CoachPersona, error)
	DefaultPersona(ctx context.Context) (model.CoachPersona, error)
	ListPersonas(ctx context.Context) ([]model.CoachPersona, error)
	TraitMap(ctx context.Context, userID uuid.UUID) (map[string]string, error)
	DailySummaries(ctx context.Context, userID uuid.UUID, from, to time.Time) ([]model.DailySummary, error)
	GetStreak(ctx context.Context, userID uuid.UUID) (model.Streak, error)
}

// Resolver resolves personalization for a user; the coach reads its extras.
type Resolver interface {
	Resolve(ctx context.Context, userID uuid.UUID, area model.Area) (model.Resolution, error)
}

// Service assembles coach prompts.
type Service struct {
	store    Store
	resolver Resolver
	logger   *slog.Logger
}

// New creates a coach service.
func New(store Store, resolver Resolver, logger *slog.Logger) *Service {
	return &Service{store: store, resolver: resolver, logger: logger}
}

// Persona returns the persona that would coach the given user: the one named
// by the recommended_coach effect if rules set it, otherwise the default.
// Resolution failures and unknown persona keys fall back to the default.
func (s *Service) Persona(ctx context.Context, userID uuid.UUID) (model.CoachPersona, model.Resolution, error) {
	var res model.Resolution
	if s.resolver != nil {
		r, err := s.resolver.Resolve(ctx, userID, model.AreaHome)
		if err != nil {
			s.logger.Warn("coach: resolution failed, using default persona",
				"user_id", userID, "error", err)
		} else {
			res = r
		}
	}

	if key := extraString(res.Extras, extraRecommendedCoach); key != "" {
		p, err := s.store.GetPersona(ctx, key)
		switch {
		case err == nil:
			return p, res, nil
		case errors.Is(err, storage.ErrNotFound):
			s.logger.Warn("coach: recommended persona not found, using default", "key", key)
		default:
			return model.CoachPersona{}, res, fmt.Errorf("coach: persona %s: %w", key, err)
		}
	}

	p, err := s.store.DefaultPersona(ctx)
	if err != nil {
		return model.CoachPersona{}, res, fmt.Errorf("coach: default persona: %w", err)
	}
	return p, res, nil
}

// Personas lists all seeded personas.
func (s *Service) Personas(ctx context.Context) ([]model.CoachPersona, error) {
	return s.store.ListPersonas(ctx)
}

// AssemblePrompt builds the full system prompt for the user's coach: persona
// and style rules, the user's traits, rule-supplied goals, today's nutrition
// summary, and the current streak. Output is deterministic for a given state.
func (s *Service) AssemblePrompt(ctx context.Context, userID uuid.UUID) (string, error) {
	persona, res, err := s.Persona(ctx, userID)
	if err != nil {
		return "", err
	}

	traits, err := s.store.TraitMap(ctx, userID)
	if err != nil {
		return "", fmt.Errorf("coach: traits: %w", err)
	}

	now := time.Now().UTC()
	from := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	sums, err := s.store.DailySummaries(ctx, userID, from, from.AddDate(0, 0, 1))
	if err != nil {
		return "", fmt.Errorf("coach: daily summary: %w", err)
	}
	var today model.DailySummary
	if len(sums) > 0 {
		today = sums[0]
	}

	streak, err := s.store.GetStreak(ctx, userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return "", fmt.Errorf("coach: streak: %w", err)
	}

	return assemble(persona, traits, goalsFromExtras(res.Extras), today, streak, from), nil
}

// assemble renders the prompt sections in fixed order. Trait lines are sorted
// by key so the output is stable across calls.
func assemble(persona model.CoachPersona, traits map[string]string, goals []string, today model.DailySummary, streak model.Streak, day time.Time) string {
	var b strings.Builder

	fmt.Fprintf(&b, "You are %s, the user's nutrition coach.\n", persona.Name)
	if persona.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s.\n", persona.Tone)
	}
	if persona.Focus != "" {
		fmt.Fprintf(&b, "Focus: %s.\n", persona.Focus)
	}

	if len(persona.StyleRules) > 0 {
		b.WriteString("\nStyle rules:\n")
		for _, r := range persona.StyleRules {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}

	if len(traits) > 0 {
		b.WriteString("\nClient profile:\n")
		keys := make([]string, 0, len(traits))
		for k := range traits {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			fmt.Fprintf(&b, "- %s: %s\n", k, traits[k])
		}
	}

	if len(goals) > 0 {
		b.WriteString("\nCurrent goals:\n")
		for _, g := range goals {
			fmt.Fprintf(&b, "- %s\n", g)
		}
	}

	fmt.Fprintf(&b, "\nToday (%s):\n", day.Format("2006-01-02"))
	if today.MealCount == 0 {
		b.WriteString("- no meals logged yet\n")
	} else {
		fmt.Fprintf(&b, "- meals logged: %d (breakfast %d, lunch %d, dinner %d, snack %d)\n",
			today.MealCount, today.BreakfastCnt, today.LunchCnt, today.DinnerCnt, today.SnackCnt)
		fmt.Fprintf(&b, "- calories: %.0f kcal\n", today.TotalCalories)
		fmt.Fprintf(&b, "- macros: %.1f g protein, %.1f g carbs, %.1f g fat\n",
			today.TotalProteinG, today.TotalCarbsG, today.TotalFatG)
	}

	if streak.Current > 0 {
		fmt.Fprintf(&b, "\nLogging streak: %d day(s), best %d.\n", streak.Current, streak.Best)
	} else {
		b.WriteString("\nNo active logging streak.\n")
	}

	return b.String()
}

// extraString decodes a passthrough extra as a JSON string. Anything else
// (missing key, malformed value, wrong type) reads as empty.
func extraString(extras map[string]json.RawMessage, key string) string {
	raw, ok := extras[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return ""
	}
	return s
}

// goalsFromExtras decodes the add_goals passthrough as a string array.
// Malformed values read as no goals.
func goalsFromExtras(extras map[string]json.RawMessage) []string {
	raw, ok := extras[extraAddGoals]
	if !ok {
		return nil
	}
	var goals []string
	if err := json.Unmarshal(raw, &goals); err != nil {
		return nil
	}
	return goals
}
