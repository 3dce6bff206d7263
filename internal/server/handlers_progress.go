package server

import (
	"net/http"

	"github.com/mindfork/mindfork/internal/model"
)

// HandleGetProgress handles GET /v1/users/{user_id}/progress.
func (h *Handlers) HandleGetProgress(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	prog, err := h.progressSvc.Progress(r.Context(), userID)
	if err != nil {
		h.writeInternalError(w, r, "failed to load progress", err)
		return
	}

	writeJSON(w, r, http.StatusOK, prog)
}

// HandleXPHistory handles GET /v1/users/{user_id}/progress/history.
// The raw XP ledger, newest first.
func (h *Handlers) HandleXPHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	limit := queryLimit(r, 50)
	offset := queryOffset(r)

	entries, err := h.progressSvc.History(r.Context(), userID, limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to load XP history", err)
		return
	}
	if entries == nil {
		entries = []model.XPEntry{}
	}

	writeList(w, r, entries, nil, limit, offset, len(entries))
}
