package server

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/storage"
)

// buildAuditEntry constructs a MutationAuditEntry from the current HTTP request.
// Used by handlers that pass the entry into transactional *WithAudit storage methods.
func (h *Handlers) buildAuditEntry(
	r *http.Request,
	operation, resourceType, resourceID string,
	beforeData, afterData any,
	metadata map[string]any,
) storage.MutationAuditEntry {
	claims := ctxutil.ClaimsFromContext(r.Context())
	actorID := "unknown"
	actorRole := "unknown"
	if claims != nil {
		actorID = claims.Subject
		actorRole = string(claims.Role)
		if claims.ScopedBy != "" {
			if metadata == nil {
				metadata = map[string]any{}
			}
			metadata["scoped_by"] = claims.ScopedBy
		}
	}

	return storage.MutationAuditEntry{
		RequestID:    ctxutil.RequestIDFromContext(r.Context()),
		ActorID:      actorID,
		ActorRole:    actorRole,
		HTTPMethod:   r.Method,
		Endpoint:     r.URL.Path,
		Operation:    operation,
		ResourceType: resourceType,
		ResourceID:   resourceID,
		BeforeData:   beforeData,
		AfterData:    afterData,
		Metadata:     metadata,
	}
}

// buildAuditMeta constructs the AuditMeta other layers need to build an audit
// entry inside their own transactions.
func (h *Handlers) buildAuditMeta(r *http.Request) *ctxutil.AuditMeta {
	claims := ctxutil.ClaimsFromContext(r.Context())
	actorID := "unknown"
	actorRole := "unknown"
	if claims != nil {
		actorID = claims.Subject
		actorRole = string(claims.Role)
	}
	return &ctxutil.AuditMeta{
		RequestID:  ctxutil.RequestIDFromContext(r.Context()),
		ActorID:    actorID,
		ActorRole:  actorRole,
		HTTPMethod: r.Method,
		Endpoint:   r.URL.Path,
	}
}

// recordMutationAuditBestEffort appends a mutation audit event outside any
// transaction. Used where the mutation has no transactional *WithAudit path,
// such as token issuance and webhook-applied subscription changes.
func (h *Handlers) recordMutationAuditBestEffort(
	r *http.Request,
	operation, resourceType, resourceID string,
	beforeData, afterData any,
	metadata map[string]any,
) error {
	entry := h.buildAuditEntry(r, operation, resourceType, resourceID, beforeData, afterData, metadata)

	writeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var lastErr error
	for attempt := 1; attempt <= 3; attempt++ {
		if err := h.db.InsertMutationAudit(writeCtx, entry); err == nil {
			return nil
		} else {
			lastErr = err
		}

		select {
		case <-time.After(time.Duration(attempt) * 50 * time.Millisecond):
		case <-writeCtx.Done():
			return fmt.Errorf("mutation audit write context expired: %w", lastErr)
		}
	}
	return fmt.Errorf("mutation audit write failed after retries: %w", lastErr)
}
