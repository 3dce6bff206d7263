package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// APIResponse is the standard response envelope for all HTTP API responses.
type APIResponse struct {
	Data any          `json:"data,omitempty"`
	Meta ResponseMeta `json:"meta"`
}

// ListResponse is the standard envelope for paginated list endpoints.
type ListResponse struct {
	Data    any          `json:"data"`
	Total   *int         `json:"total,omitempty"`
	HasMore bool         `json:"has_more"`
	Limit   int          `json:"limit"`
	Offset  int          `json:"offset"`
	Meta    ResponseMeta `json:"meta"`
}

// APIError is the standard error response envelope.
type APIError struct {
	Error ErrorDetail  `json:"error"`
	Meta  ResponseMeta `json:"meta"`
}

// ResponseMeta contains request metadata included in every response.
type ResponseMeta struct {
	RequestID string    `json:"request_id"`
	Timestamp time.Time `json:"timestamp"`
}

// ErrorDetail describes an API error.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// ErrorCode constants for standard API error codes.
const (
	ErrCodeInvalidInput  = "INVALID_INPUT"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeForbidden     = "FORBIDDEN"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeConflict      = "CONFLICT"
	ErrCodeInternalError = "INTERNAL_ERROR"
	ErrCodeRateLimited   = "RATE_LIMITED"
)

// AuthTokenRequest is the request body for POST /auth/token.
type AuthTokenRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// ServiceTokenRequest is the request body for POST /auth/service-token.
type ServiceTokenRequest struct {
	KeyID  uuid.UUID `json:"key_id"`
	APIKey string    `json:"api_key"`
}

// AuthTokenResponse is the response for the token endpoints.
type AuthTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
}

// ScopedTokenRequest is the request body for POST /v1/auth/scoped-token
// (admin-only). ExpiresIn is in seconds; zero means the default TTL.
type ScopedTokenRequest struct {
	AsUserID  uuid.UUID `json:"as_user_id"`
	ExpiresIn int       `json:"expires_in,omitempty"`
}

// ScopedTokenResponse returns a short-lived token acting as another user.
type ScopedTokenResponse struct {
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	AsUserID  uuid.UUID `json:"as_user_id"`
	ScopedBy  string    `json:"scoped_by"`
}

// OnboardingRequest is the request body for POST /v1/onboarding. Answers map
// questionnaire keys to chosen values; each becomes an initial trait.
type OnboardingRequest struct {
	Email       string            `json:"email"`
	DisplayName string            `json:"display_name"`
	Password    string            `json:"password"`
	Timezone    string            `json:"timezone,omitempty"`
	Answers     map[string]string `json:"answers,omitempty"`
}

// OnboardingResponse is the response for POST /v1/onboarding.
type OnboardingResponse struct {
	User      User      `json:"user"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expires_at"`
	TraitKeys []string  `json:"trait_keys"`
	AwardedXP int       `json:"awarded_xp"`
}

// PutTraitsRequest is the request body for PUT /v1/users/{user_id}/traits.
type PutTraitsRequest struct {
	Traits []TraitInput `json:"traits"`
}

// PutTraitRequest is the request body for PUT /v1/users/{user_id}/traits/{key}.
// The trait key comes from the path.
type PutTraitRequest struct {
	Value      string   `json:"trait_value"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// AppendEventsRequest is the request body for POST /v1/events.
type AppendEventsRequest struct {
	Events []EventInput `json:"events"`
}

// AppendEventsResponse reports how many events were accepted into the buffer.
type AppendEventsResponse struct {
	Accepted int `json:"accepted"`
}

// LogMealResponse is the response for POST /v1/users/{user_id}/meals. It
// carries the gamification side effects so the app can animate them without
// a second request.
type LogMealResponse struct {
	Meal      MealLog   `json:"meal"`
	AwardedXP []XPEntry `json:"awarded_xp"`
	Streak    Streak    `json:"streak"`
}

// CreateGrantRequest is the request body for POST /v1/users/{user_id}/grants.
type CreateGrantRequest struct {
	CoachID   uuid.UUID  `json:"coach_id"`
	Scope     GrantScope `json:"scope"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// UpdateRuleRequest carries a partial rule update. Nil fields keep their
// stored values.
type UpdateRuleRequest struct {
	Name      *string         `json:"name,omitempty"`
	Priority  *int            `json:"priority,omitempty"`
	Predicate json.RawMessage `json:"predicate,omitempty"`
	Effects   json.RawMessage `json:"effects,omitempty"`
	Active    *bool           `json:"active,omitempty"`
}

// ValidateRuleRequest is a lint-only rule submission for
// POST /v1/admin/rules/validate. Nothing is saved.
type ValidateRuleRequest struct {
	Predicate json.RawMessage `json:"predicate,omitempty"`
	Effects   json.RawMessage `json:"effects,omitempty"`
}

// UpdateUserRequest is the request body for PATCH /v1/admin/users/{user_id}.
type UpdateUserRequest struct {
	DisplayName *string `json:"display_name,omitempty"`
	Timezone    *string `json:"timezone,omitempty"`
	Role        *Role   `json:"role,omitempty"`
}

// AdjustXPRequest is the request body for POST /v1/admin/users/{user_id}/xp.
// Amount may be negative.
type AdjustXPRequest struct {
	Amount int `json:"amount"`
}

// RetentionSweepRequest is the request body for POST /v1/admin/retention/sweep.
type RetentionSweepRequest struct {
	Before    time.Time `json:"before"`
	BatchSize int       `json:"batch_size,omitempty"`
}

// CreateServiceKeyRequest is the request body for POST /v1/admin/service-keys.
type CreateServiceKeyRequest struct {
	Name string `json:"name"`
	Role Role   `json:"role"`
}

// CreateServiceKeyResponse returns the plaintext key exactly once.
type CreateServiceKeyResponse struct {
	Key       ServiceKey `json:"key"`
	Plaintext string     `json:"plaintext"`
}

// CoachPromptResponse is the response for GET /v1/coach/prompt.
type CoachPromptResponse struct {
	PersonaKey string `json:"persona_key"`
	Prompt     string `json:"prompt"`
}

// FoodSearchResult is one hit from GET /v1/foods/search.
type FoodSearchResult struct {
	Food  Food    `json:"food"`
	Score float32 `json:"score"`
}

// HealthResponse is the response for GET /healthz.
type HealthResponse struct {
	Status       string `json:"status"`
	Version      string `json:"version"`
	Postgres     string `json:"postgres"`
	Qdrant       string `json:"qdrant,omitempty"`
	BufferDepth  int    `json:"buffer_depth"`
	BufferStatus string `json:"buffer_status"` // "ok", "high", "critical"
	Uptime       int64  `json:"uptime_seconds"`
}
