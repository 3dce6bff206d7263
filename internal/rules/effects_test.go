package rules

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseEffects(t *testing.T) {
	e := ParseEffects(json.RawMessage(`{
		"enable_features": ["carbon_metric", "streaks", 7],
		"layout": "layout_vegan_focus",
		"recommended_coach": "sage",
		"add_goals": ["log_breakfast"]
	}`))

	assert.Equal(t, []string{"carbon_metric", "streaks"}, e.Features, "non-string features are dropped")
	require.NotNil(t, e.Layout)
	assert.Equal(t, "layout_vegan_focus", *e.Layout)
	require.Len(t, e.Extra, 2)
	assert.JSONEq(t, `"sage"`, string(e.Extra["recommended_coach"]))
	assert.JSONEq(t, `["log_breakfast"]`, string(e.Extra["add_goals"]))
}

func TestParseEffects_Degraded(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"empty", ""},
		{"empty object", `{}`},
		{"not an object", `["layout"]`},
		{"garbage", `{{{`},
		{"mistyped layout", `{"layout": 42}`},
		{"mistyped features", `{"enable_features": "carbon_metric"}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := ParseEffects(json.RawMessage(tt.raw))
			assert.Empty(t, e.Features)
			assert.Nil(t, e.Layout)
		})
	}
}
