package model

import (
	"time"

	"github.com/google/uuid"
)

// CoachPersona is a seeded AI-coach persona. StyleRules are short imperative
// sentences appended verbatim to the assembled prompt; the wording lives in
// the database, not in code.
type CoachPersona struct {
	ID         uuid.UUID `json:"id"`
	Key        string    `json:"key"`
	Name       string    `json:"name"`
	Tone       string    `json:"tone"`
	Focus      string    `json:"focus"`
	StyleRules []string  `json:"style_rules"`
	IsDefault  bool      `json:"is_default"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// CoachGrant lets a coach account read a client's traits and progress.
// Grants are created by the client and may expire.
type CoachGrant struct {
	ID          uuid.UUID  `json:"id"`
	ClientID    uuid.UUID  `json:"client_id"`
	CoachID     uuid.UUID  `json:"coach_id"`
	Scope       GrantScope `json:"scope"`
	GrantedAt   time.Time  `json:"granted_at"`
	ExpiresAt   *time.Time `json:"expires_at,omitempty"`
	RevokedAt   *time.Time `json:"revoked_at,omitempty"`
	GrantedByID uuid.UUID  `json:"granted_by_id"`
}

// GrantScope enumerates what a coach grant covers.
type GrantScope string

const (
	// GrantScopeRead covers traits, progress, and nutrition summaries.
	GrantScopeRead GrantScope = "read"
	// GrantScopeWriteTraits additionally allows coach trait edits.
	GrantScopeWriteTraits GrantScope = "write_traits"
)

// ScopeAtLeast reports whether scope s covers the capability of min.
func ScopeAtLeast(s, min GrantScope) bool {
	if s == min {
		return true
	}
	return s == GrantScopeWriteTraits && min == GrantScopeRead
}
