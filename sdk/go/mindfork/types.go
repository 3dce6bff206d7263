package mindfork

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// User mirrors the server's user account for API consumers.
type User struct {
	ID          uuid.UUID      `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	Role        string         `json:"role"`
	Timezone    string         `json:"timezone"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Trait is one fact the server knows about a user.
type Trait struct {
	ID         uuid.UUID `json:"id"`
	UserID     uuid.UUID `json:"user_id"`
	Key        string    `json:"trait_key"`
	Value      string    `json:"trait_value"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	Version    int       `json:"version"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// TraitInput is a single trait upsert.
type TraitInput struct {
	Key        string   `json:"trait_key"`
	Value      string   `json:"trait_value"`
	Confidence *float64 `json:"confidence,omitempty"` // defaults to 1.0 server-side
	Source     string   `json:"source,omitempty"`
}

// LayoutComponent is one UI component slot in a resolved layout.
type LayoutComponent struct {
	ComponentKey string `json:"component_key"`
	Position     int    `json:"position"`
}

// Layout is a named arrangement of UI components for one area.
type Layout struct {
	Key        string            `json:"key"`
	Area       string            `json:"area"`
	Components []LayoutComponent `json:"components"`
}

// Resolution is the personalization result for one user and area: the
// feature flags to enable and the layout to render.
type Resolution struct {
	Features []string                   `json:"features"`
	Layout   Layout                     `json:"layout"`
	Extras   map[string]json.RawMessage `json:"extras,omitempty"`
}

// MealLog is one logged meal.
type MealLog struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	MealType    string     `json:"meal_type"`
	Description string     `json:"description"`
	FoodID      *uuid.UUID `json:"food_id,omitempty"`
	Calories    float64    `json:"calories"`
	ProteinG    float64    `json:"protein_g"`
	CarbsG      float64    `json:"carbs_g"`
	FatG        float64    `json:"fat_g"`
	LoggedAt    time.Time  `json:"logged_at"`
	CreatedAt   time.Time  `json:"created_at"`
}

// MealLogInput is a meal log submission.
type MealLogInput struct {
	MealType    string     `json:"meal_type"`
	Description string     `json:"description"`
	FoodID      *uuid.UUID `json:"food_id,omitempty"`
	Calories    float64    `json:"calories"`
	ProteinG    float64    `json:"protein_g"`
	CarbsG      float64    `json:"carbs_g"`
	FatG        float64    `json:"fat_g"`
	LoggedAt    *time.Time `json:"logged_at,omitempty"` // defaults to server time
}

// XPEntry is one row in the append-only XP ledger.
type XPEntry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Amount    int        `json:"amount"`
	Reason    string     `json:"reason"`
	RefID     *uuid.UUID `json:"ref_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Streak tracks consecutive active days.
type Streak struct {
	UserID     uuid.UUID  `json:"user_id"`
	Current    int        `json:"current"`
	Best       int        `json:"best"`
	LastActive *time.Time `json:"last_active,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Progress is the aggregated gamification state.
type Progress struct {
	UserID        uuid.UUID `json:"user_id"`
	TotalXP       int       `json:"total_xp"`
	Level         int       `json:"level"`
	LevelFloorXP  int       `json:"level_floor_xp"`
	NextLevelXP   int       `json:"next_level_xp"`
	StreakCurrent int       `json:"streak_current"`
	StreakBest    int       `json:"streak_best"`
}

// DailySummary aggregates one day of meals.
type DailySummary struct {
	UserID        uuid.UUID `json:"user_id"`
	Day           time.Time `json:"day"`
	MealCount     int       `json:"meal_count"`
	BreakfastCnt  int       `json:"breakfast_count"`
	LunchCnt      int       `json:"lunch_count"`
	DinnerCnt     int       `json:"dinner_count"`
	SnackCnt      int       `json:"snack_count"`
	TotalCalories float64   `json:"total_calories"`
	TotalProteinG float64   `json:"total_protein_g"`
	TotalCarbsG   float64   `json:"total_carbs_g"`
	TotalFatG     float64   `json:"total_fat_g"`
}

// Food is an entry in the food catalog.
type Food struct {
	ID          uuid.UUID `json:"id"`
	Name        string    `json:"name"`
	Brand       *string   `json:"brand,omitempty"`
	ServingDesc string    `json:"serving_desc"`
	Calories    float64   `json:"calories"`
	ProteinG    float64   `json:"protein_g"`
	CarbsG      float64   `json:"carbs_g"`
	FatG        float64   `json:"fat_g"`
	Tags        []string  `json:"tags"`
	CreatedAt   time.Time `json:"created_at"`
}

// FoodSearchResult is one hit from food search.
type FoodSearchResult struct {
	Food  Food    `json:"food"`
	Score float32 `json:"score"`
}

// EventInput is one client telemetry event in an ingestion batch.
type EventInput struct {
	EventType  string         `json:"event_type"`
	OccurredAt *time.Time     `json:"occurred_at,omitempty"` // defaults to server time
	SessionID  *string        `json:"session_id,omitempty"`
	Payload    map[string]any `json:"payload,omitempty"`
}

// CoachPersona describes an AI-coach personality.
type CoachPersona struct {
	ID         uuid.UUID `json:"id"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Tone       string    `json:"tone"`
	Focus      string    `json:"focus"`
	StyleRules []string  `json:"style_rules"`
	IsDefault  bool      `json:"is_default"`
}

// CoachGrant lets a coach account access a client's data.
type CoachGrant struct {
	ID          uuid.UUID  `json:"id"`
	ClientID    uuid.UUID  `json:"client_id"`
	CoachID     uuid.UUID  `json:"coach_id"`
	Scope       string     `json:"scope"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	GrantedByID uuid.UUID  `json:"granted_by_id"`
}

// Grant scopes accepted by CreateGrant.
const (
	GrantScopeRead        = "read"
	GrantScopeWriteTraits = "write_traits"
)

// OnboardingRequest creates an account and seeds initial traits from
// questionnaire answers.
type OnboardingRequest struct {
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	Password    string            `json:"password"`
	Timezone    string            `json:"timezone,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
}

// OnboardingResponse is the result of a successful onboarding.
type OnboardingResponse struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TraitKeys []string  `json:"trait_keys"`
	AwardedXP int       `json:"awarded_xp"`
}

// LogMealResponse carries the meal plus its gamification side effects.
type LogMealResponse struct {
	Meal      MealLog   `json:"meal"`
	AwardedXP []XPEntry `json:"awarded_xp"`
	Streak    Streak    `json:"streak"`
}

// AppendEventsResponse reports how many events the server buffered.
type AppendEventsResponse struct {
	Accepted int `json:"accepted"`
}

// CoachPromptResponse is the assembled coach system prompt for the caller.
type CoachPromptResponse struct {
	PersonaKey string `json:"persona_key"`
	Prompt     string `json:"prompt"`
}

// CreateGrantRequest grants a coach access to the calling user's data.
type CreateGrantRequest struct {
	CoachID   uuid.UUID  `json:"coach_id"`
	Scope     string     `json:"scope"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// HealthResponse is the server health report.
type HealthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	Postgres string `json:"postgres"`
}
