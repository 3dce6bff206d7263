package model_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
)

func TestValidateEventType(t *testing.T) {
	t.Run("valid", func(t *testing.T) {
		valid := []string{
			"app_open",
			"screen.home.viewed",
			"meal.logged",
			"streak.milestone_7",
			"a",
			strings.Repeat("a", 120),
		}
		for _, et := range valid {
			require.NoError(t, model.ValidateEventType(et), "expected valid: %q", et)
		}
	})

	t.Run("invalid", func(t *testing.T) {
		tests := []struct {
			name string
			et   string
			want string
		}{
			{"empty", "", "event_type is required"},
			{"too long", strings.Repeat("a", 121), "at most 120"},
			{"leading dot", ".app", "empty segment"},
			{"trailing dot", "app.", "must not end with a dot"},
			{"double dot", "app..open", "empty segment"},
			{"uppercase", "App.open", "invalid character"},
			{"hyphen", "app-open", "invalid character"},
			{"space", "app open", "invalid character"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				err := model.ValidateEventType(tt.et)
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.want)
			})
		}
	})
}

func TestMealLogInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      model.MealLogInput
		wantErr string
	}{
		{"minimal", model.MealLogInput{MealType: model.MealLunch, Description: "salad"}, ""},
		{"full", model.MealLogInput{MealType: model.MealDinner, Description: "tofu bowl", Calories: 520, ProteinG: 28, CarbsG: 60, FatG: 14}, ""},
		{"unknown meal type", model.MealLogInput{MealType: "brunch", Description: "eggs"}, "unknown meal_type"},
		{"no description no food", model.MealLogInput{MealType: model.MealSnack}, "description or food_id is required"},
		{"negative calories", model.MealLogInput{MealType: model.MealSnack, Description: "bar", Calories: -1}, "must not be negative"},
		{"absurd protein", model.MealLogInput{MealType: model.MealSnack, Description: "bar", ProteinG: 5000}, "exceeds maximum"},
		{"oversized description", model.MealLogInput{MealType: model.MealSnack, Description: strings.Repeat("x", 501)}, "at most 500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestLayoutInputValidate(t *testing.T) {
	tests := []struct {
		name    string
		in      model.LayoutInput
		wantErr string
	}{
		{"valid", model.LayoutInput{Key: "layout_default", Area: model.AreaHome, Components: []model.LayoutComponent{{ComponentKey: "hero", Position: 0}}}, ""},
		{"no components", model.LayoutInput{Key: "layout_bare", Area: model.AreaStats}, ""},
		{"missing key", model.LayoutInput{Area: model.AreaHome}, "key is required"},
		{"unknown area", model.LayoutInput{Key: "k", Area: "sidebar"}, "unknown area"},
		{"empty component key", model.LayoutInput{Key: "k", Area: model.AreaHome, Components: []model.LayoutComponent{{Position: 1}}}, "component_key is required"},
		{"duplicate component", model.LayoutInput{Key: "k", Area: model.AreaHome, Components: []model.LayoutComponent{
			{ComponentKey: "hero", Position: 0}, {ComponentKey: "hero", Position: 1},
		}}, "duplicated"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.in.Validate()
			if tt.wantErr == "" {
				require.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestValidArea(t *testing.T) {
	for _, a := range model.Areas() {
		assert.True(t, model.ValidArea(a), "area %q should be valid", a)
	}
	assert.False(t, model.ValidArea("sidebar"))
	assert.False(t, model.ValidArea(""))
}
