package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/authz"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
)

// authorizeUserAccess parses the {user_id} path value and checks that the
// caller may act on that user's data at the given scope. On failure the error
// response has already been written and ok is false.
func (h *Handlers) authorizeUserAccess(w http.ResponseWriter, r *http.Request, need model.GrantScope) (uuid.UUID, bool) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return uuid.Nil, false
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return uuid.Nil, false
	}

	allowed, err := authz.CanAccessClient(r.Context(), h.db, claims, userID, need)
	if err != nil {
		h.writeInternalError(w, r, "failed to check access", err)
		return uuid.Nil, false
	}
	if !allowed {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "access denied")
		return uuid.Nil, false
	}
	return userID, true
}

// requireSelfOrAdmin parses {user_id} and allows only the user themselves or
// an admin. Coach grants do not extend to these routes (account deletion,
// data export, grant management).
func (h *Handlers) requireSelfOrAdmin(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return uuid.Nil, false
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	if claims == nil {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "no claims in context")
		return uuid.Nil, false
	}
	if model.RoleAtLeast(claims.Role, model.RoleAdmin) || claims.SubjectID() == userID {
		return userID, true
	}
	writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "access denied")
	return uuid.Nil, false
}
