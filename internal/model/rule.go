package model

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Rule is a personalization rule as stored: a priority-ordered (predicate,
// effects) pair. Predicate and Effects are kept as raw JSON here; the engine
// parses them once at load time.
type Rule struct {
	ID        uuid.UUID       `json:"id"`
	Name      string          `json:"name"`
	Priority  int             `json:"priority"`
	Predicate json.RawMessage `json:"predicate"`
	Effects   json.RawMessage `json:"effects"`
	Active    bool            `json:"active"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// RuleInput is an admin rule create/replace request.
type RuleInput struct {
	Name      string          `json:"name"`
	Priority  int             `json:"priority"`
	Predicate json.RawMessage `json:"predicate,omitempty"` // defaults to {}
	Effects   json.RawMessage `json:"effects,omitempty"`   // defaults to {}
	Active    *bool           `json:"active,omitempty"`    // defaults to true
}

// Validate checks structural requirements on a rule submission. Predicate
// semantics are linted separately by the rules package's ValidateRule, so
// authors get warnings without being blocked.
func (in RuleInput) Validate() error {
	if in.Name == "" {
		return fmt.Errorf("name is required")
	}
	if len(in.Name) > 200 {
		return fmt.Errorf("name must be at most 200 characters")
	}
	if len(in.Predicate) > MaxPredicateLen {
		return fmt.Errorf("predicate must be at most %d bytes", MaxPredicateLen)
	}
	if len(in.Effects) > MaxEffectsLen {
		return fmt.Errorf("effects must be at most %d bytes", MaxEffectsLen)
	}
	if len(in.Predicate) > 0 && !json.Valid(in.Predicate) {
		return fmt.Errorf("predicate is not valid JSON")
	}
	if len(in.Effects) > 0 && !json.Valid(in.Effects) {
		return fmt.Errorf("effects is not valid JSON")
	}
	return nil
}

// Size caps for stored rule JSON. The engine is fail-open on malformed
// predicates, so the only hard gate at write time is bytes and JSON validity.
const (
	MaxPredicateLen = 64 * 1024
	MaxEffectsLen   = 16 * 1024
)
