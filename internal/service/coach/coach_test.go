package coach

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

type fakeStore struct {
	personas map[string]model.CoachPersona
	traits   map[string]string
	summary  *model.DailySummary
	streak   *model.Streak
}

func (f *fakeStore) GetPersona(_ context.Context, key string) (model.CoachPersona, error) {
	p, ok := f.personas[key]
	if !ok {
		return model.CoachPersona{}, storage.ErrNotFound
	}
	return p, nil
}

func (f *fakeStore) DefaultPersona(context.Context) (model.CoachPersona, error) {
	for _, p := range f.personas {
		if p.IsDefault {
			return p, nil
		}
	}
	return model.CoachPersona{}, storage.ErrNotFound
}

func (f *fakeStore) ListPersonas(context.Context) ([]model.CoachPersona, error) {
	out := make([]model.CoachPersona, 0, len(f.personas))
	for _, p := range f.personas {
		out = append(out, p)
	}
	return out, nil
}

func (f *fakeStore) TraitMap(context.Context, uuid.UUID) (map[string]string, error) {
	return f.traits, nil
}

func (f *fakeStore) DailySummaries(context.Context, uuid.UUID, time.Time, time.Time) ([]model.DailySummary, error) {
	if f.summary == nil {
		return nil, nil
	}
	return []model.DailySummary{*f.summary}, nil
}

func (f *fakeStore) GetStreak(context.Context, uuid.UUID) (model.Streak, error) {
	if f.streak == nil {
		return model.Streak{}, storage.ErrNotFound
	}
	return *f.streak, nil
}

type fakeResolver struct {
	res model.Resolution
	err error
}

func (f *fakeResolver) Resolve(context.Context, uuid.UUID, model.Area) (model.Resolution, error) {
	return f.res, f.err
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testStore() *fakeStore {
	return &fakeStore{
		personas: map[string]model.CoachPersona{
			"supportive": {Key: "supportive", Name: "Mira", Tone: "warm", Focus: "habit building", IsDefault: true,
				StyleRules: []string{"Celebrate small wins.", "Never shame a missed day."}},
			"strict": {Key: "strict", Name: "Kai", Tone: "direct", Focus: "accountability"},
		},
		traits: map[string]string{"diet": "vegan", "activity_level": "high"},
	}
}

func TestPersonaDefault(t *testing.T) {
	svc := New(testStore(), &fakeResolver{}, testLogger())
	p, _, err := svc.Persona(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "supportive", p.Key)
}

func TestPersonaFollowsRecommendation(t *testing.T) {
	resolver := &fakeResolver{res: model.Resolution{
		Extras: map[string]json.RawMessage{"recommended_coach": json.RawMessage(`"strict"`)},
	}}
	svc := New(testStore(), resolver, testLogger())

	p, _, err := svc.Persona(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "strict", p.Key)
}

func TestPersonaUnknownRecommendationFallsBack(t *testing.T) {
	resolver := &fakeResolver{res: model.Resolution{
		Extras: map[string]json.RawMessage{"recommended_coach": json.RawMessage(`"ghost"`)},
	}}
	svc := New(testStore(), resolver, testLogger())

	p, _, err := svc.Persona(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.Equal(t, "supportive", p.Key)
}

func TestPersonaResolverFailureFallsBack(t *testing.T) {
	resolver := &fakeResolver{err: errors.New("rules unavailable")}
	svc := New(testStore(), resolver, testLogger())

	p, _, err := svc.Persona(context.Background(), uuid.New())
	require.NoError(t, err, "prompt assembly survives a resolution outage")
	assert.Equal(t, "supportive", p.Key)
}

func TestAssembleDeterministic(t *testing.T) {
	persona := model.CoachPersona{Name: "Mira", Tone: "warm", Focus: "habits",
		StyleRules: []string{"Keep it short."}}
	traits := map[string]string{"diet": "vegan", "activity_level": "high", "goal": "maintain"}
	today := model.DailySummary{MealCount: 2, BreakfastCnt: 1, LunchCnt: 1,
		TotalCalories: 950, TotalProteinG: 41.5, TotalCarbsG: 120, TotalFatG: 30}
	streak := model.Streak{Current: 5, Best: 12}
	day := time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC)

	got := assemble(persona, traits, []string{"hit 100g protein"}, today, streak, day)
	assert.Equal(t, got, assemble(persona, traits, []string{"hit 100g protein"}, today, streak, day))

	want := `You are Mira, the user's nutrition coach.
Tone: warm.
Focus: habits.

Style rules:
- Keep it short.

Client profile:
- activity_level: high
- diet: vegan
- goal: maintain

Current goals:
- hit 100g protein

Today (2026-08-26):
- meals logged: 2 (breakfast 1, lunch 1, dinner 0, snack 0)
- calories: 950 kcal
- macros: 41.5 g protein, 120.0 g carbs, 30.0 g fat

Logging streak: 5 day(s), best 12.
`
	assert.Equal(t, want, got)
}

func TestAssembleEmptyState(t *testing.T) {
	got := assemble(model.CoachPersona{Name: "Mira"}, nil, nil,
		model.DailySummary{}, model.Streak{}, time.Date(2026, 8, 26, 0, 0, 0, 0, time.UTC))

	assert.Contains(t, got, "no meals logged yet")
	assert.Contains(t, got, "No active logging streak.")
	assert.NotContains(t, got, "Client profile")
	assert.NotContains(t, got, "Style rules")
}

func TestAssemblePromptEndToEnd(t *testing.T) {
	store := testStore()
	store.summary = &model.DailySummary{MealCount: 1, BreakfastCnt: 1, TotalCalories: 400}
	store.streak = &model.Streak{Current: 3, Best: 3}
	resolver := &fakeResolver{res: model.Resolution{
		Extras: map[string]json.RawMessage{"add_goals": json.RawMessage(`["drink more water"]`)},
	}}
	svc := New(store, resolver, testLogger())

	prompt, err := svc.AssemblePrompt(context.Background(), uuid.New())
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(prompt, "You are Mira"), "starts with the persona header")
	assert.Contains(t, prompt, "- diet: vegan")
	assert.Contains(t, prompt, "- drink more water")
	assert.Contains(t, prompt, "Logging streak: 3 day(s), best 3.")
}

func TestExtrasDecoding(t *testing.T) {
	assert.Equal(t, "", extraString(nil, "recommended_coach"))
	assert.Equal(t, "", extraString(map[string]json.RawMessage{
		"recommended_coach": json.RawMessage(`{"not":"a string"}`),
	}, "recommended_coach"))
	assert.Equal(t, "strict", extraString(map[string]json.RawMessage{
		"recommended_coach": json.RawMessage(`"strict"`),
	}, "recommended_coach"))

	assert.Nil(t, goalsFromExtras(nil))
	assert.Nil(t, goalsFromExtras(map[string]json.RawMessage{
		"add_goals": json.RawMessage(`"not an array"`),
	}))
	assert.Equal(t, []string{"a", "b"}, goalsFromExtras(map[string]json.RawMessage{
		"add_goals": json.RawMessage(`["a","b"]`),
	}))
}
