package model

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// XP award reasons. The ref_id column pairs with reason to make awards
// idempotent (one "meal_logged" award per meal, one "onboarding" per user).
const (
	XPReasonOnboarding     = "onboarding_complete"
	XPReasonMealLogged     = "meal_logged"
	XPReasonFirstMealOfDay = "first_meal_of_day"
	XPReasonAdjustment     = "adjustment"

	// XPReasonStreakPrefix prefixes per-milestone reasons; the full reason is
	// streak_milestone_<days>, matching the xp_awards config rows.
	XPReasonStreakPrefix = "streak_milestone_"
)

// XPReasonStreakMilestone builds the award reason for an n-day streak.
func XPReasonStreakMilestone(days int) string {
	return fmt.Sprintf("%s%d", XPReasonStreakPrefix, days)
}

// XPEntry is one append-only row in a user's XP ledger.
type XPEntry struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	Amount    int        `json:"amount"`
	Reason    string     `json:"reason"`
	RefID     *uuid.UUID `json:"ref_id,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// Streak tracks consecutive active days for a user. Updated on activity
// writes: same day is a no-op, the next day increments, a gap resets to 1.
type Streak struct {
	UserID     uuid.UUID  `json:"user_id"`
	Current    int        `json:"current"`
	Best       int        `json:"best"`
	LastActive *time.Time `json:"last_active,omitempty"` // date (midnight UTC)
	UpdatedAt  time.Time  `json:"updated_at"`
}

// Progress is the aggregated gamification state served to the app.
type Progress struct {
	UserID        uuid.UUID `json:"user_id"`
	TotalXP       int       `json:"total_xp"`
	Level         int       `json:"level"`
	LevelFloorXP  int       `json:"level_floor_xp"`
	NextLevelXP   int       `json:"next_level_xp"`
	StreakCurrent int       `json:"streak_current"`
	StreakBest    int       `json:"streak_best"`
}
