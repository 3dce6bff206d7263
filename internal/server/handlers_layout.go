package server

import (
	"net/http"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
)

// HandleResolveLayout handles GET /v1/users/{user_id}/layout?area=.
// Returns the personalized resolution for one surface area: enabled feature
// flags, the chosen layout descriptor, and passthrough extras.
func (h *Handlers) HandleResolveLayout(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	area := model.Area(r.URL.Query().Get("area"))
	if area == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "area is required")
		return
	}
	// The resolver itself accepts any area string (an unknown area just
	// resolves to an empty descriptor); the closed set is enforced here so
	// client typos fail loudly instead of rendering blank screens.
	if !model.ValidArea(area) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"unknown area: "+string(area))
		return
	}

	res, err := h.personalizeSvc.Resolve(r.Context(), userID, area)
	if err != nil {
		h.writeInternalError(w, r, "failed to resolve layout", err)
		return
	}

	writeJSON(w, r, http.StatusOK, res)
}

// HandleGetTraits handles GET /v1/users/{user_id}/traits.
func (h *Handlers) HandleGetTraits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeRead)
	if !ok {
		return
	}

	traits, err := h.db.GetTraits(r.Context(), userID)
	if err != nil {
		h.writeInternalError(w, r, "failed to load traits", err)
		return
	}
	if traits == nil {
		traits = []model.Trait{}
	}

	writeJSON(w, r, http.StatusOK, traits)
}

// HandlePutTraits handles PUT /v1/users/{user_id}/traits (batch upsert).
func (h *Handlers) HandlePutTraits(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeWriteTraits)
	if !ok {
		return
	}

	var req model.PutTraitsRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if len(req.Traits) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "traits must not be empty")
		return
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	for i := range req.Traits {
		h.stampTraitProvenance(claims, &req.Traits[i])
		if err := req.Traits[i].Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}

	audit := h.buildAuditEntry(r, "upsert_traits", "trait", userID.String(), nil, nil,
		map[string]any{"count": len(req.Traits)})
	traits, err := h.db.UpsertTraitsWithAudit(r.Context(), userID, req.Traits, audit)
	if err != nil {
		h.writeInternalError(w, r, "failed to upsert traits", err)
		return
	}

	writeJSON(w, r, http.StatusOK, traits)
}

// HandlePutTrait handles PUT /v1/users/{user_id}/traits/{key} (single upsert).
func (h *Handlers) HandlePutTrait(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeWriteTraits)
	if !ok {
		return
	}

	key := r.PathValue("key")
	var req model.PutTraitRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	claims := ctxutil.ClaimsFromContext(r.Context())
	input := model.TraitInput{Key: key, Value: req.Value, Confidence: req.Confidence}
	h.stampTraitProvenance(claims, &input)
	if err := input.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	audit := h.buildAuditEntry(r, "upsert_trait", "trait", userID.String(), nil, nil,
		map[string]any{"trait_key": key})
	traits, err := h.db.UpsertTraitsWithAudit(r.Context(), userID, []model.TraitInput{input}, audit)
	if err != nil {
		h.writeInternalError(w, r, "failed to upsert trait", err)
		return
	}

	writeJSON(w, r, http.StatusOK, traits[0])
}

// HandleDeleteTrait handles DELETE /v1/users/{user_id}/traits/{key}.
func (h *Handlers) HandleDeleteTrait(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.authorizeUserAccess(w, r, model.GrantScopeWriteTraits)
	if !ok {
		return
	}

	key := r.PathValue("key")
	if err := model.ValidateTraitKey(key); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	if err := h.db.DeleteTrait(r.Context(), userID, key); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "trait not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete trait", err)
		return
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"delete_trait", "trait", userID.String(), nil, nil,
		map[string]any{"trait_key": key},
	); auditErr != nil {
		h.logger.Error("failed to audit trait deletion", "user_id", userID, "error", auditErr)
	}

	w.WriteHeader(http.StatusNoContent)
}

// stampTraitProvenance forces source and confidence to match the caller.
// Users and coaches assert facts directly, so their writes carry full
// confidence; only admin callers (inference backfills) may set their own
// source and sub-1.0 confidence.
func (h *Handlers) stampTraitProvenance(claims *auth.Claims, in *model.TraitInput) {
	if claims == nil {
		return
	}
	one := 1.0
	switch {
	case model.RoleAtLeast(claims.Role, model.RoleAdmin):
		if in.Source == "" {
			in.Source = model.TraitSourceSystem
		}
	case claims.Role == model.RoleCoach:
		in.Source = model.TraitSourceCoach
		in.Confidence = &one
	default:
		in.Source = model.TraitSourceUser
		in.Confidence = &one
	}
}
