package model

import (
	"time"

	"github.com/google/uuid"
)

// Subscription tiers as reported by the store webhook. The tier is mirrored
// into the subscription_tier trait so rules can gate premium surfaces.
const (
	TierFree    = "free"
	TierPlus    = "plus"
	TierPremium = "premium"
)

// ValidTier reports whether tier is a known subscription tier.
func ValidTier(tier string) bool {
	switch tier {
	case TierFree, TierPlus, TierPremium:
		return true
	}
	return false
}

// ValidSubscriptionStatus reports whether status is one the store sends.
func ValidSubscriptionStatus(status string) bool {
	switch status {
	case "active", "grace", "expired", "cancelled":
		return true
	}
	return false
}

// Subscription is the latest known billing state for a user, written only by
// the store webhook. The app never mutates it directly.
type Subscription struct {
	UserID    uuid.UUID  `json:"user_id"`
	Tier      string     `json:"tier"`
	Status    string     `json:"status"` // active, grace, expired, cancelled
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	UpdatedAt time.Time  `json:"updated_at"`
}

// SubscriptionEvent is the parsed body of a store webhook delivery.
type SubscriptionEvent struct {
	EventID   string     `json:"event_id"`
	UserID    uuid.UUID  `json:"user_id"`
	Tier      string     `json:"tier"`
	Status    string     `json:"status"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}
