package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/authz"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// HandleCoachPrompt handles GET /v1/coach/prompt?user_id=. Returns the
// assembled system prompt for the user's AI coach. With no user_id the
// caller gets their own prompt.
func (h *Handlers) HandleCoachPrompt(w http.ResponseWriter, r *http.Request) {
	claims := ctxutil.ClaimsFromContext(r.Context())

	userID := claims.SubjectID()
	if v := r.URL.Query().Get("user_id"); v != "" {
		id, err := uuid.Parse(v)
		if err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid user_id")
			return
		}
		userID = id
	}

	allowed, err := authz.CanAccessClient(r.Context(), h.db, claims, userID, model.GrantScopeRead)
	if err != nil {
		h.writeInternalError(w, r, "failed to check access", err)
		return
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "access denied")
		return
	}

	persona, _, err := h.coachSvc.Persona(r.Context(), userID)
	if err != nil {
		h.writeInternalError(w, r, "failed to resolve persona", err)
		return
	}
	prompt, err := h.coachSvc.AssemblePrompt(r.Context(), userID)
	if err != nil {
		h.writeInternalError(w, r, "failed to assemble prompt", err)
		return
	}

	writeJSON(w, r, http.StatusOK, model.CoachPromptResponse{
		PersonaKey: persona.Key,
		Prompt:     prompt,
	})
}

// HandleListPersonas handles GET /v1/coach/personas.
func (h *Handlers) HandleListPersonas(w http.ResponseWriter, r *http.Request) {
	personas, err := h.coachSvc.Personas(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list personas", err)
		return
	}
	if personas == nil {
		personas = []model.CoachPersona{}
	}

	writeJSON(w, r, http.StatusOK, personas)
}

// HandleCreateGrant handles POST /v1/users/{user_id}/grants. Only the client
// themselves (or an admin) can grant a coach access to their data.
func (h *Handlers) HandleCreateGrant(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}

	var req model.CreateGrantRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.CoachID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "coach_id is required")
		return
	}
	if req.CoachID == clientID {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "cannot grant access to yourself")
		return
	}
	switch req.Scope {
	case model.GrantScopeRead, model.GrantScopeWriteTraits:
	default:
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "scope must be read or write_traits")
		return
	}
	if req.ExpiresAt != nil && req.ExpiresAt.Before(time.Now()) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "expires_at must be in the future")
		return
	}

	coach, err := h.db.GetUser(r.Context(), req.CoachID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "coach not found")
			return
		}
		h.writeInternalError(w, r, "failed to load coach", err)
		return
	}
	if coach.Role != model.RoleCoach {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "target user is not a coach")
		return
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	grant, err := h.db.CreateCoachGrant(r.Context(), clientID, req.CoachID, req.Scope, req.ExpiresAt, claims.SubjectID())
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "an active grant for this coach and scope already exists")
			return
		}
		h.writeInternalError(w, r, "failed to create grant", err)
		return
	}

	if h.grantCache != nil {
		h.grantCache.Invalidate(req.CoachID.String())
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"create_grant", "coach_grant", grant.ID.String(), nil, grant,
		map[string]any{"coach_id": req.CoachID.String(), "scope": string(req.Scope)},
	); auditErr != nil {
		h.logger.Error("failed to audit grant creation", "grant_id", grant.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusCreated, grant)
}

// HandleListGrants handles GET /v1/users/{user_id}/grants.
func (h *Handlers) HandleListGrants(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}

	grants, err := h.db.ListGrantsByClient(r.Context(), clientID)
	if err != nil {
		h.writeInternalError(w, r, "failed to list grants", err)
		return
	}
	if grants == nil {
		grants = []model.CoachGrant{}
	}

	writeJSON(w, r, http.StatusOK, grants)
}

// HandleRevokeGrant handles DELETE /v1/users/{user_id}/grants/{grant_id}.
func (h *Handlers) HandleRevokeGrant(w http.ResponseWriter, r *http.Request) {
	clientID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}
	grantID, err := uuid.Parse(r.PathValue("grant_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid grant_id")
		return
	}

	// Look the grant up first so the coach's cached scopes can be dropped.
	var coachID uuid.UUID
	if grants, lookupErr := h.db.ListGrantsByClient(r.Context(), clientID); lookupErr == nil {
		for _, g := range grants {
			if g.ID == grantID {
				coachID = g.CoachID
				break
			}
		}
	}

	if err := h.db.RevokeCoachGrant(r.Context(), clientID, grantID); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "grant not found")
			return
		}
		h.writeInternalError(w, r, "failed to revoke grant", err)
		return
	}

	if h.grantCache != nil && coachID != uuid.Nil {
		h.grantCache.Invalidate(coachID.String())
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"revoke_grant", "coach_grant", grantID.String(), nil, nil, nil,
	); auditErr != nil {
		h.logger.Error("failed to audit grant revocation", "grant_id", grantID, "error", auditErr)
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleCoachClients handles GET /v1/coach/clients (coach+). The roster:
// every unrevoked grant naming the caller, with each client's progress.
func (h *Handlers) HandleCoachClients(w http.ResponseWriter, r *http.Request) {
	claims := ctxutil.ClaimsFromContext(r.Context())
	coachID := claims.SubjectID()

	grants, err := h.db.ListGrantsByCoach(r.Context(), coachID)
	if err != nil {
		h.writeInternalError(w, r, "failed to list clients", err)
		return
	}

	type clientEntry struct {
		Grant    model.CoachGrant `json:"grant"`
		Progress *model.Progress  `json:"progress,omitempty"`
	}
	clients := make([]clientEntry, 0, len(grants))
	for _, g := range grants {
		entry := clientEntry{Grant: g}
		if prog, perr := h.progressSvc.Progress(r.Context(), g.ClientID); perr == nil {
			entry.Progress = &prog
		}
		clients = append(clients, entry)
	}

	writeJSON(w, r, http.StatusOK, clients)
}
