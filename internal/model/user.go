package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Role represents the RBAC role assigned to a principal.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleCoach Role = "coach"
	RoleUser  Role = "user"
)

// User represents an app account. Traits, meal logs, XP entries, and client
// events all hang off a user and are removed by the deletion cascade.
type User struct {
	ID          uuid.UUID      `json:"id"`
	Email       string         `json:"email"`
	DisplayName string         `json:"display_name"`
	Role        Role           `json:"role"`
	Timezone    string         `json:"timezone"`
	Metadata    map[string]any `json:"metadata"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// RoleRank returns the numeric rank of a role (higher = more privileges).
// Only relative ordering matters; RoleAtLeast uses >= comparison.
func RoleRank(r Role) int {
	switch r {
	case RoleAdmin:
		return 3
	case RoleCoach:
		return 2
	case RoleUser:
		return 1
	default:
		return 0
	}
}

// RoleAtLeast returns true if role r has at least the privileges of minRole.
func RoleAtLeast(r, minRole Role) bool {
	return RoleRank(r) >= RoleRank(minRole)
}

// ValidateEmail performs a light structural check. Full RFC validation is a
// rabbit hole; the sign-up confirmation email is the real validator.
func ValidateEmail(email string) error {
	if email == "" {
		return fmt.Errorf("email is required")
	}
	if len(email) > 254 {
		return fmt.Errorf("email must be at most 254 characters")
	}
	at := strings.IndexByte(email, '@')
	if at <= 0 || at == len(email)-1 {
		return fmt.Errorf("email must contain a local part and a domain")
	}
	if strings.ContainsAny(email, " \t\r\n") {
		return fmt.Errorf("email must not contain whitespace")
	}
	return nil
}

// ValidateDisplayName checks display name length bounds.
func ValidateDisplayName(name string) error {
	if name == "" {
		return fmt.Errorf("display_name is required")
	}
	if len(name) > 120 {
		return fmt.Errorf("display_name must be at most 120 characters")
	}
	return nil
}
