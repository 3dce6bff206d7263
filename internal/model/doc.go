package model

import (
	"time"

	"github.com/google/uuid"
)

// ProjectDoc is one internal documentation entry, keyed for upsert. Docs are
// seeded from the docs directory by scripts/seeddocs and served read-only to
// the admin console and MCP resource listing.
type ProjectDoc struct {
	ID          uuid.UUID `json:"id"`
	DocKey      string    `json:"doc_key"`
	DocName     string    `json:"doc_name"`
	DocCategory string    `json:"doc_category"`
	Content     string    `json:"content"`
	Summary     *string   `json:"summary,omitempty"`
	LastUpdated time.Time `json:"last_updated"`
}
