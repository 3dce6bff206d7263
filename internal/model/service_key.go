package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ServiceKey is a machine credential for non-interactive callers (the ingest
// pipeline, admin tooling, the docs seeder). Only the argon2id hash is
// stored; the plaintext is shown once at creation.
type ServiceKey struct {
	ID         uuid.UUID  `json:"id"`
	Name       string     `json:"name"`
	Role       Role       `json:"role"`
	KeyHash    string     `json:"-"`
	CreatedAt  time.Time  `json:"created_at"`
	LastUsedAt *time.Time `json:"last_used_at,omitempty"`
	RevokedAt  *time.Time `json:"revoked_at,omitempty"`
}

const keySecretLen = 24 // bytes of entropy, 48 hex chars on the wire

// GenerateServiceKey produces a new plaintext service key in the format
// mf_<48-char-secret>. Callers authenticate with key ID plus this value, so
// the string itself carries no identity.
func GenerateServiceKey() (string, error) {
	buf := make([]byte, keySecretLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("model: generate service key: %w", err)
	}
	return "mf_" + hex.EncodeToString(buf), nil
}

// ValidateServiceKeyName bounds the admin-facing key label.
func ValidateServiceKeyName(name string) error {
	if name == "" {
		return fmt.Errorf("name is required")
	}
	if len(name) > 120 {
		return fmt.Errorf("name must be at most 120 characters")
	}
	return nil
}
