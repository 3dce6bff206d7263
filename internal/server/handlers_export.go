package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// exportRecord is one NDJSON line in a data export: a kind discriminator and
// the record itself.
type exportRecord struct {
	Kind string `json:"kind"`
	Data any    `json:"data"`
}

// HandleExportUserData handles GET /v1/users/{user_id}/export (self or
// admin). Streams the user's complete data as NDJSON: account, traits,
// subscription, grants, meals, XP ledger, then raw events. Events are pulled
// with keyset pagination so a heavy logger's export stays flat in memory.
func (h *Handlers) HandleExportUserData(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}

	user, err := h.db.GetUser(r.Context(), userID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to load user", err)
		return
	}

	filename := fmt.Sprintf("mindfork-export-%s.ndjson", time.Now().UTC().Format("20060102-150405"))
	w.Header().Set("Content-Type", "application/x-ndjson")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	w.Header().Set("Cache-Control", "no-cache")

	encoder := json.NewEncoder(w)
	flusher, _ := w.(http.Flusher)

	// After the first line the response is committed; mid-stream failures
	// can only truncate, so they are logged and the stream ends.
	if err := encoder.Encode(exportRecord{Kind: "user", Data: user}); err != nil {
		return
	}

	traits, err := h.db.GetTraits(r.Context(), userID)
	if err != nil {
		h.logger.Error("export: load traits", "user_id", userID, "error", err)
		return
	}
	for _, t := range traits {
		if err := encoder.Encode(exportRecord{Kind: "trait", Data: t}); err != nil {
			return
		}
	}

	if sub, err := h.db.GetSubscription(r.Context(), userID); err == nil {
		if err := encoder.Encode(exportRecord{Kind: "subscription", Data: sub}); err != nil {
			return
		}
	} else if !isNotFoundError(err) {
		h.logger.Error("export: load subscription", "user_id", userID, "error", err)
		return
	}

	grants, err := h.db.ListGrantsByClient(r.Context(), userID)
	if err != nil {
		h.logger.Error("export: load grants", "user_id", userID, "error", err)
		return
	}
	for _, g := range grants {
		if err := encoder.Encode(exportRecord{Kind: "grant", Data: g}); err != nil {
			return
		}
	}

	const pageSize = 500

	for offset := 0; ; offset += pageSize {
		meals, err := h.db.ListMealLogs(r.Context(), userID, time.Time{}, time.Now().UTC(), pageSize, offset)
		if err != nil {
			h.logger.Error("export: load meals", "user_id", userID, "error", err)
			return
		}
		for _, m := range meals {
			if err := encoder.Encode(exportRecord{Kind: "meal", Data: m}); err != nil {
				return
			}
		}
		if len(meals) < pageSize {
			break
		}
	}

	for offset := 0; ; offset += pageSize {
		entries, err := h.db.ListXP(r.Context(), userID, pageSize, offset)
		if err != nil {
			h.logger.Error("export: load xp ledger", "user_id", userID, "error", err)
			return
		}
		for _, e := range entries {
			if err := encoder.Encode(exportRecord{Kind: "xp_entry", Data: e}); err != nil {
				return
			}
		}
		if len(entries) < pageSize {
			break
		}
	}

	if flusher != nil {
		flusher.Flush()
	}

	var cursor *storage.EventCursor
	for {
		events, err := h.db.ExportEvents(r.Context(), userID, cursor, pageSize)
		if err != nil {
			h.logger.Error("export: load events", "user_id", userID, "error", err)
			return
		}
		for _, e := range events {
			if err := encoder.Encode(exportRecord{Kind: "event", Data: e}); err != nil {
				return // Client disconnected.
			}
		}
		if flusher != nil {
			flusher.Flush()
		}
		if len(events) < pageSize {
			break
		}
		last := events[len(events)-1]
		cursor = &storage.EventCursor{OccurredAt: last.OccurredAt, ID: last.ID}
	}
}

// HandleDeleteUser handles DELETE /v1/users/{user_id} (self or admin).
// Erases the account and everything keyed to it; the response reports row
// counts per table. There is no undo.
func (h *Handlers) HandleDeleteUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}

	audit := h.buildAuditEntry(r, "delete_user", "user", userID.String(), nil, nil, nil)
	result, err := h.db.DeleteUserData(r.Context(), userID, audit)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete user data", err)
		return
	}

	if h.grantCache != nil {
		h.grantCache.Invalidate(userID.String())
	}

	h.logger.Info("user account deleted", "user_id", userID)
	writeJSON(w, r, http.StatusOK, map[string]any{
		"user_id": userID,
		"deleted": result,
	})
}
