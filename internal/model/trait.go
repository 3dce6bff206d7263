package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Trait source constants. Source records where a trait value came from so
// coach edits and inference updates can be told apart in the UI and in audits.
const (
	TraitSourceOnboarding = "onboarding"
	TraitSourceInference  = "inference"
	TraitSourceCoach      = "coach"
	TraitSourceUser       = "user"
	TraitSourceSystem     = "system"
)

// Trait is a stored fact about a user: the evaluator's input. One row per
// (user_id, trait_key); upserts bump version and overwrite value/confidence.
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
	Confidence *float64 `json:"confidence,omitempty"` // defaults to 1.0
	Source     string   `json:"source,omitempty"`     // defaults to "user"
}

// Validate checks a trait upsert. Confidence outside [0,1] is rejected rather
// than clamped so authoring bugs surface instead of silently skewing data.
func (in TraitInput) Validate() error {
	if err := ValidateTraitKey(in.Key); err != nil {
		return err
	}
	if len(in.Value) > MaxTraitValueLen {
		return fmt.Errorf("trait_value must be at most %d bytes", MaxTraitValueLen)
	}
	if in.Confidence != nil && (*in.Confidence < 0 || *in.Confidence > 1) {
		return fmt.Errorf("confidence must be within [0, 1], got %v", *in.Confidence)
	}
	switch in.Source {
	case "", TraitSourceOnboarding, TraitSourceInference, TraitSourceCoach, TraitSourceUser, TraitSourceSystem:
	default:
		return fmt.Errorf("unknown trait source %q", in.Source)
	}
	return nil
}

// MaxTraitValueLen caps stored trait values. Traits are short facts
// ("vegan", "high", "3"), not documents.
const MaxTraitValueLen = 1024

// ValidateTraitKey checks that a trait key conforms to the allowed format.
// Keys must start with a lowercase letter and contain only lowercase
// alphanumeric characters and underscores (snake_case).
func ValidateTraitKey(key string) error {
	if len(key) == 0 {
		return fmt.Errorf("trait_key is required")
	}
	if len(key) > 64 {
		return fmt.Errorf("trait_key must be at most 64 characters")
	}
	for i := 0; i < len(key); i++ {
		c := key[i]
		if i == 0 {
			if c < 'a' || c > 'z' {
				return fmt.Errorf("trait_key must start with a lowercase letter, got %q", c)
			}
			continue
		}
		if (c < 'a' || c > 'z') && (c < '0' || c > '9') && c != '_' {
			return fmt.Errorf("trait_key contains invalid character at position %d: %q", i, c)
		}
	}
	return nil
}
