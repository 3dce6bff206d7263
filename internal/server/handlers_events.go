package server

import (
	"net/http"
	"time"

	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
)

// HandleAppendEvents handles POST /v1/events. Events are attributed to the
// authenticated user and land in the write buffer, not directly in Postgres,
// so the endpoint stays fast under bursts. Honors Idempotency-Key so mobile
// clients can retry a batch without double-counting.
func (h *Handlers) HandleAppendEvents(w http.ResponseWriter, r *http.Request) {
	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims.ServiceKeyID != nil {
		// Service tokens have no user identity to attribute events to.
		// Machine callers act as a user via a scoped token instead.
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"events require a user token")
		return
	}
	userID := claims.SubjectID()

	var req model.AppendEventsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if len(req.Events) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "events must not be empty")
		return
	}
	if len(req.Events) > model.MaxEventsPerBatch {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"too many events in one batch")
		return
	}
	for i := range req.Events {
		if err := req.Events[i].Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	idem, proceed := h.beginIdempotentWrite(w, r, userID, appendEventsEndpoint, req)
	if !proceed {
		return
	}

	events, err := h.buffer.Append(r.Context(), userID, req.Events)
	if err != nil {
		h.clearIdempotentWrite(r, idem)
		// Backpressure: the buffer is full. Clients should back off.
		w.Header().Set("Retry-After", "5")
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError,
			"ingestion temporarily unavailable, retry later")
		return
	}

	resp := model.AppendEventsResponse{Accepted: len(events)}
	writeJSON(w, r, http.StatusAccepted, resp)
	h.completeIdempotentWriteBestEffort(r, idem, http.StatusAccepted, resp)
}

// HandleListEvents handles GET /v1/users/{user_id}/events. Raw event listing
// for support and debugging; defaults to the last 7 days.
func (h *Handlers) HandleListEvents(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	fromPtr, err := queryTime(r, "from")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	toPtr, err := queryTime(r, "to")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	to := time.Now().UTC()
	if toPtr != nil {
		to = *toPtr
	}
	from := to.AddDate(0, 0, -7)
	if fromPtr != nil {
		from = *fromPtr
	}
	if !from.Before(to) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "from must precede to")
		return
	}

	limit := queryLimit(r, 100)
	events, err := h.db.ListEvents(r.Context(), userID, from, to, limit)
	if err != nil {
		h.writeInternalError(w, r, "failed to list events", err)
		return
	}
	if events == nil {
		events = []model.ClientEvent{}
	}

	writeJSON(w, r, http.StatusOK, events)
}
