package server

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/model"
)

// HandleCreateServiceKey handles POST /v1/admin/service-keys (admin-only).
// Mints a machine credential and returns the plaintext exactly once. After
// this response, only the argon2id hash exists.
func (h *Handlers) HandleCreateServiceKey(w http.ResponseWriter, r *http.Request) {
	var req model.CreateServiceKeyRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateServiceKeyName(req.Name); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if req.Role == "" {
		req.Role = model.RoleUser
	}
	if model.RoleRank(req.Role) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"invalid role: must be one of user, coach, admin")
		return
	}

	plaintext, err := model.GenerateServiceKey()
	if err != nil {
		h.writeInternalError(w, r, "failed to generate service key", err)
		return
	}
	hash, err := auth.HashServiceKey(plaintext)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash service key", err)
		return
	}

	audit := h.buildAuditEntry(r, "create_service_key", "service_key", "", nil, nil,
		map[string]any{"name": req.Name, "role": string(req.Role)})
	key, err := h.db.CreateServiceKeyWithAudit(r.Context(), req.Name, req.Role, hash, audit)
	if err != nil {
		h.writeInternalError(w, r, "failed to create service key", err)
		return
	}

	writeJSON(w, r, http.StatusCreated, model.CreateServiceKeyResponse{
		Key:       key,
		Plaintext: plaintext,
	})
}

// HandleListServiceKeys handles GET /v1/admin/service-keys (admin-only).
// Hashes are never exposed; revoked keys stay listed for audit trails.
func (h *Handlers) HandleListServiceKeys(w http.ResponseWriter, r *http.Request) {
	keys, err := h.db.ListServiceKeys(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list service keys", err)
		return
	}
	if keys == nil {
		keys = []model.ServiceKey{}
	}

	writeJSON(w, r, http.StatusOK, keys)
}

// HandleRevokeServiceKey handles DELETE /v1/admin/service-keys/{key_id}
// (admin-only). Sets revoked_at; the key stops authenticating immediately,
// though already-issued tokens live out their TTL.
func (h *Handlers) HandleRevokeServiceKey(w http.ResponseWriter, r *http.Request) {
	keyIDStr := r.PathValue("key_id")
	keyID, err := uuid.Parse(keyIDStr)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid key_id")
		return
	}

	audit := h.buildAuditEntry(r, "revoke_service_key", "service_key", keyIDStr, nil, nil, nil)
	if err := h.db.RevokeServiceKeyWithAudit(r.Context(), keyID, audit); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "service key not found")
			return
		}
		h.writeInternalError(w, r, "failed to revoke service key", err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}
