package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// Area names a UI surface that layouts are scoped to.
type Area string

const (
	AreaHome       Area = "home"
	AreaProfile    Area = "profile"
	AreaMealDetail Area = "meal_detail"
	AreaStats      Area = "stats"
	AreaSocial     Area = "social"
)

// Areas returns the closed set of valid areas.
func Areas() []Area {
	return []Area{AreaHome, AreaProfile, AreaMealDetail, AreaStats, AreaSocial}
}

// ValidArea reports whether area is one of the known UI surfaces.
func ValidArea(area Area) bool {
	switch area {
	case AreaHome, AreaProfile, AreaMealDetail, AreaStats, AreaSocial:
		return true
	}
	return false
}

// LayoutComponent is one positioned component inside a layout.
type LayoutComponent struct {
	ComponentKey string `json:"component_key"`
	Position     int    `json:"position"`
}

// Layout is a named arrangement of UI components for one area. Components are
// ordered by position ascending. An empty Key means "no layout" and the caller
// renders its hardcoded default.
type Layout struct {
	Key        string            `json:"key"`
	Area       Area              `json:"area"`
	Components []LayoutComponent `json:"components"`
	CreatedAt  time.Time         `json:"-"`
	UpdatedAt  time.Time         `json:"-"`
}

// EmptyLayout returns the explicit "no layout" descriptor for an area.
func EmptyLayout(area Area) Layout {
	return Layout{Area: area, Components: []LayoutComponent{}}
}

// LayoutInput is an admin layout create/replace request.
type LayoutInput struct {
	Key        string            `json:"key"`
	Area       Area              `json:"area"`
	Components []LayoutComponent `json:"components"`
}

// Validate checks a layout submission.
func (in LayoutInput) Validate() error {
	if in.Key == "" {
		return fmt.Errorf("key is required")
	}
	if len(in.Key) > 120 {
		return fmt.Errorf("key must be at most 120 characters")
	}
	if !ValidArea(in.Area) {
		return fmt.Errorf("unknown area %q", in.Area)
	}
	seen := make(map[string]struct{}, len(in.Components))
	for i, c := range in.Components {
		if c.ComponentKey == "" {
			return fmt.Errorf("components[%d].component_key is required", i)
		}
		if _, dup := seen[c.ComponentKey]; dup {
			return fmt.Errorf("components[%d].component_key %q is duplicated", i, c.ComponentKey)
		}
		seen[c.ComponentKey] = struct{}{}
	}
	return nil
}

// Resolution is the output of a layout resolution: the accumulated feature
// flags, the chosen layout descriptor, and any unrecognized effect keys that
// matching rules carried (first match wins per key). Extras let rules ship
// hints like add_goals or recommended_coach without the engine knowing them.
type Resolution struct {
	Features []string                   `json:"features"`
	Layout   Layout                     `json:"layout"`
	Extras   map[string]json.RawMessage `json:"extras,omitempty"`
}
