package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// MealType enumerates the meal slots a log entry can belong to.
type MealType string

const (
	MealBreakfast MealType = "breakfast"
	MealLunch     MealType = "lunch"
	MealDinner    MealType = "dinner"
	MealSnack     MealType = "snack"
)

// ValidMealType reports whether t is a known meal slot.
func ValidMealType(t MealType) bool {
	switch t {
	case MealBreakfast, MealLunch, MealDinner, MealSnack:
		return true
	}
	return false
}

// MealLog is one logged meal. Macro fields are grams; calories are kcal.
// FoodID links to the food catalog when the entry came from search rather
// than free text.
type MealLog struct {
	ID          uuid.UUID  `json:"id"`
	UserID      uuid.UUID  `json:"user_id"`
	MealType    MealType   `json:"meal_type"`
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
	MealType    MealType   `json:"meal_type"`
	Description string     `json:"description"`
	FoodID      *uuid.UUID `json:"food_id,omitempty"`
	Calories    float64    `json:"calories"`
	ProteinG    float64    `json:"protein_g"`
	CarbsG      float64    `json:"carbs_g"`
	FatG        float64    `json:"fat_g"`
	LoggedAt    *time.Time `json:"logged_at,omitempty"` // defaults to now
}

// Validate checks a meal log submission. Negative quantities are always
// author error; absurdly large ones are almost certainly unit confusion.
func (in MealLogInput) Validate() error {
	if !ValidMealType(in.MealType) {
		return fmt.Errorf("unknown meal_type %q", in.MealType)
	}
	if in.Description == "" && in.FoodID == nil {
		return fmt.Errorf("description or food_id is required")
	}
	if len(in.Description) > 500 {
		return fmt.Errorf("description must be at most 500 characters")
	}
	for _, v := range []struct {
		name string
		val  float64
		max  float64
	}{
		{"calories", in.Calories, 20000},
		{"protein_g", in.ProteinG, 2000},
		{"carbs_g", in.CarbsG, 2000},
		{"fat_g", in.FatG, 2000},
	} {
		if v.val < 0 {
			return fmt.Errorf("%s must not be negative", v.name)
		}
		if v.val > v.max {
			return fmt.Errorf("%s exceeds maximum of %v", v.name, v.max)
		}
	}
	return nil
}

// DailySummary is one day's nutrition aggregate for a user.
type DailySummary struct {
	UserID        uuid.UUID `json:"user_id"`
	Day           time.Time `json:"day"` // midnight UTC
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

// Food is an entry in the food catalog. Embedding is populated by the
// embedding backfill and used for semantic search; rows without one fall
// back to name matching.
type Food struct {
	ID           uuid.UUID `json:"id"`
	Name         string    `json:"name"`
	Brand        *string   `json:"brand,omitempty"`
	ServingDesc  string    `json:"serving_desc"`
	Calories     float64   `json:"calories"`
	ProteinG     float64   `json:"protein_g"`
	CarbsG       float64   `json:"carbs_g"`
	FatG         float64   `json:"fat_g"`
	Tags         []string  `json:"tags"`
	HasEmbedding bool      `json:"-"`
	CreatedAt    time.Time `json:"created_at"`
}
