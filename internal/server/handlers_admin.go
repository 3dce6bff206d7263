package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/rules"
	"github.com/mindfork/mindfork/internal/storage"
)

// HandleListRules handles GET /v1/admin/rules.
func (h *Handlers) HandleListRules(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 200)
	offset := queryOffset(r)

	list, total, err := h.db.ListRules(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list rules", err)
		return
	}
	if list == nil {
		list = []model.Rule{}
	}
	writeList(w, r, list, &total, limit, offset, len(list))
}

// HandleGetRule handles GET /v1/admin/rules/{rule_id}.
func (h *Handlers) HandleGetRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	rule, err := h.db.GetRule(r.Context(), id)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "rule not found")
			return
		}
		h.writeInternalError(w, r, "failed to load rule", err)
		return
	}
	writeJSON(w, r, http.StatusOK, rule)
}

// HandleCreateRule handles POST /v1/admin/rules. The predicate and effects
// are always linted; findings come back in the response. With ?validate=strict
// any finding blocks the save.
func (h *Handlers) HandleCreateRule(w http.ResponseWriter, r *http.Request) {
	var req model.RuleInput
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	problems := rules.ValidateRule(req.Predicate, req.Effects)
	if problems == nil {
		problems = []rules.Problem{}
	}
	if strictValidation(r) && len(problems) > 0 {
		writeRuleLintRejection(w, r, problems)
		return
	}

	audit := h.buildAuditEntry(r, "create_rule", "rule", "", nil, nil, nil)
	rule, err := h.db.CreateRuleWithAudit(r.Context(), req, audit)
	if err != nil {
		h.writeInternalError(w, r, "failed to create rule", err)
		return
	}

	h.personalizeSvc.Invalidate()
	writeJSON(w, r, http.StatusCreated, map[string]any{
		"rule":     rule,
		"problems": problems,
	})
}

// HandleUpdateRule handles PUT /v1/admin/rules/{rule_id}. Absent fields keep
// their stored values; provided predicate/effects fragments are linted.
func (h *Handlers) HandleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	var req model.UpdateRuleRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Name == nil && req.Priority == nil && req.Predicate == nil && req.Effects == nil && req.Active == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "nothing to update")
		return
	}
	if req.Name != nil && (*req.Name == "" || len(*req.Name) > 200) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "name must be 1-200 characters")
		return
	}
	if len(req.Predicate) > model.MaxPredicateLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "predicate too large")
		return
	}
	if len(req.Effects) > model.MaxEffectsLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "effects too large")
		return
	}

	problems := rules.ValidateRule(req.Predicate, req.Effects)
	if problems == nil {
		problems = []rules.Problem{}
	}
	if strictValidation(r) && len(problems) > 0 {
		writeRuleLintRejection(w, r, problems)
		return
	}

	audit := h.buildAuditEntry(r, "update_rule", "rule", "", nil, nil, nil)
	rule, err := h.db.UpdateRuleWithAudit(r.Context(), id, req.Name, req.Priority, req.Predicate, req.Effects, req.Active, audit)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "rule not found")
			return
		}
		h.writeInternalError(w, r, "failed to update rule", err)
		return
	}

	h.personalizeSvc.Invalidate()
	writeJSON(w, r, http.StatusOK, map[string]any{
		"rule":     rule,
		"problems": problems,
	})
}

// HandleDeleteRule handles DELETE /v1/admin/rules/{rule_id}.
func (h *Handlers) HandleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	audit := h.buildAuditEntry(r, "delete_rule", "rule", id.String(), nil, nil, nil)
	if err := h.db.DeleteRuleWithAudit(r.Context(), id, audit); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "rule not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete rule", err)
		return
	}

	h.personalizeSvc.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// HandleActivateRule handles POST /v1/admin/rules/{rule_id}/activate.
func (h *Handlers) HandleActivateRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleActive(w, r, true)
}

// HandleDeactivateRule handles POST /v1/admin/rules/{rule_id}/deactivate.
// Deactivation is the reversible way to pull a rule out of evaluation.
func (h *Handlers) HandleDeactivateRule(w http.ResponseWriter, r *http.Request) {
	h.setRuleActive(w, r, false)
}

func (h *Handlers) setRuleActive(w http.ResponseWriter, r *http.Request, active bool) {
	id, ok := parseRuleID(w, r)
	if !ok {
		return
	}

	op := "deactivate_rule"
	if active {
		op = "activate_rule"
	}
	audit := h.buildAuditEntry(r, op, "rule", "", nil, nil, nil)
	rule, err := h.db.UpdateRuleWithAudit(r.Context(), id, nil, nil, nil, nil, &active, audit)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "rule not found")
			return
		}
		h.writeInternalError(w, r, "failed to update rule", err)
		return
	}

	h.personalizeSvc.Invalidate()
	writeJSON(w, r, http.StatusOK, rule)
}

// HandleValidateRule handles POST /v1/admin/rules/validate: lint without
// saving, for editor integrations.
func (h *Handlers) HandleValidateRule(w http.ResponseWriter, r *http.Request) {
	var req model.ValidateRuleRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	problems := rules.ValidateRule(req.Predicate, req.Effects)
	if problems == nil {
		problems = []rules.Problem{}
	}
	writeJSON(w, r, http.StatusOK, map[string]any{
		"valid":    len(problems) == 0,
		"problems": problems,
	})
}

// HandleListLayouts handles GET /v1/admin/layouts. An area query param
// narrows the listing.
func (h *Handlers) HandleListLayouts(w http.ResponseWriter, r *http.Request) {
	var area *model.Area
	if v := r.URL.Query().Get("area"); v != "" {
		a := model.Area(v)
		if !model.ValidArea(a) {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown area")
			return
		}
		area = &a
	}

	layouts, err := h.db.ListLayouts(r.Context(), area)
	if err != nil {
		h.writeInternalError(w, r, "failed to list layouts", err)
		return
	}
	if layouts == nil {
		layouts = []model.Layout{}
	}
	writeJSON(w, r, http.StatusOK, layouts)
}

// HandleGetLayout handles GET /v1/admin/layouts/{key}.
func (h *Handlers) HandleGetLayout(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	layout, err := h.db.GetLayout(r.Context(), key)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "layout not found")
			return
		}
		h.writeInternalError(w, r, "failed to load layout", err)
		return
	}
	writeJSON(w, r, http.StatusOK, layout)
}

// HandleUpsertLayout handles PUT /v1/admin/layouts/{key}. The path key is
// authoritative; a body key must match it.
func (h *Handlers) HandleUpsertLayout(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")

	var req model.LayoutInput
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Key == "" {
		req.Key = key
	} else if req.Key != key {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "key in body does not match path")
		return
	}
	if err := req.Validate(); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	audit := h.buildAuditEntry(r, "upsert_layout", "layout", req.Key, nil, nil, nil)
	layout, err := h.db.UpsertLayoutWithAudit(r.Context(), req, audit)
	if err != nil {
		h.writeInternalError(w, r, "failed to upsert layout", err)
		return
	}

	h.personalizeSvc.Invalidate()
	writeJSON(w, r, http.StatusOK, layout)
}

// HandleDeleteLayout handles DELETE /v1/admin/layouts/{key}. Rules whose
// effects still name the key keep evaluating; resolution falls back to the
// area's lowest remaining layout.
func (h *Handlers) HandleDeleteLayout(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "key is required")
		return
	}

	audit := h.buildAuditEntry(r, "delete_layout", "layout", key, nil, nil, nil)
	if err := h.db.DeleteLayoutWithAudit(r.Context(), key, audit); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "layout not found")
			return
		}
		h.writeInternalError(w, r, "failed to delete layout", err)
		return
	}

	h.personalizeSvc.Invalidate()
	w.WriteHeader(http.StatusNoContent)
}

// HandleListDocs handles GET /v1/admin/docs.
func (h *Handlers) HandleListDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.db.ListProjectDocs(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to list docs", err)
		return
	}
	if docs == nil {
		docs = []model.ProjectDoc{}
	}
	writeJSON(w, r, http.StatusOK, docs)
}

// HandleGetDoc handles GET /v1/admin/docs/{doc_key}.
func (h *Handlers) HandleGetDoc(w http.ResponseWriter, r *http.Request) {
	docKey := r.PathValue("doc_key")

	doc, err := h.db.GetProjectDoc(r.Context(), docKey)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "doc not found")
			return
		}
		h.writeInternalError(w, r, "failed to load doc", err)
		return
	}
	writeJSON(w, r, http.StatusOK, doc)
}

// HandleListUsers handles GET /v1/admin/users.
func (h *Handlers) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	limit := queryLimit(r, 100)
	offset := queryOffset(r)

	users, total, err := h.db.ListUsers(r.Context(), limit, offset)
	if err != nil {
		h.writeInternalError(w, r, "failed to list users", err)
		return
	}
	if users == nil {
		users = []model.User{}
	}
	writeList(w, r, users, &total, limit, offset, len(users))
}

// HandleUpdateUser handles PATCH /v1/admin/users/{user_id}. Role changes drop
// the target's cached grant set so a demoted coach loses access promptly.
func (h *Handlers) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.UpdateUserRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.DisplayName == nil && req.Timezone == nil && req.Role == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "nothing to update")
		return
	}
	if req.DisplayName != nil {
		if err := model.ValidateDisplayName(*req.DisplayName); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
			return
		}
	}
	if req.Timezone != nil {
		if _, err := time.LoadLocation(*req.Timezone); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown timezone")
			return
		}
	}
	if req.Role != nil && model.RoleRank(*req.Role) == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid role: must be one of user, coach, admin")
		return
	}

	before, err := h.db.GetUser(r.Context(), userID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to load user", err)
		return
	}

	user, err := h.db.UpdateUser(r.Context(), userID, req.DisplayName, req.Timezone, req.Role)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to update user", err)
		return
	}

	if req.Role != nil && *req.Role != before.Role && h.grantCache != nil {
		h.grantCache.Invalidate(userID.String())
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"update_user", "user", userID.String(), before, user, nil,
	); auditErr != nil {
		h.logger.Error("failed to audit user update", "user_id", userID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, user)
}

// HandleAdjustXP handles POST /v1/admin/users/{user_id}/xp. Support and abuse
// corrections go through the same append-only ledger as organic awards.
func (h *Handlers) HandleAdjustXP(w http.ResponseWriter, r *http.Request) {
	userID, err := parseUserID(r)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}

	var req model.AdjustXPRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Amount == 0 {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "amount must be non-zero")
		return
	}

	if _, err := h.db.GetUser(r.Context(), userID); err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to load user", err)
		return
	}

	entry, err := h.progressSvc.Adjust(r.Context(), userID, req.Amount)
	if err != nil {
		h.writeInternalError(w, r, "failed to adjust xp", err)
		return
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"adjust_xp", "xp_entry", entry.ID.String(), nil, entry,
		map[string]any{"amount": req.Amount},
	); auditErr != nil {
		h.logger.Error("failed to audit xp adjustment", "user_id", userID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, entry)
}

// HandleRetentionPreview handles GET /v1/admin/retention/preview?before=.
// Counts what a sweep with the same cutoff would remove.
func (h *Handlers) HandleRetentionPreview(w http.ResponseWriter, r *http.Request) {
	before, err := queryTime(r, "before")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if before == nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "before is required")
		return
	}

	count, err := h.db.CountEventsBefore(r.Context(), *before)
	if err != nil {
		h.writeInternalError(w, r, "failed to count events", err)
		return
	}

	timescale, err := h.db.TimescaleEnabled(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to check timescale", err)
		return
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"before":    before,
		"events":    count,
		"timescale": timescale,
	})
}

// HandleRetentionSweep handles POST /v1/admin/retention/sweep. Drops events
// older than the cutoff (whole chunks when TimescaleDB is active, batched
// deletes otherwise) and cleans up expired idempotency keys.
func (h *Handlers) HandleRetentionSweep(w http.ResponseWriter, r *http.Request) {
	var req model.RetentionSweepRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Before.IsZero() {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "before is required")
		return
	}
	if !req.Before.Before(time.Now()) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "before must be in the past")
		return
	}
	batchSize := req.BatchSize
	if batchSize <= 0 {
		batchSize = 10_000
	}

	timescale, err := h.db.TimescaleEnabled(r.Context())
	if err != nil {
		h.writeInternalError(w, r, "failed to check timescale", err)
		return
	}

	var eventsDeleted, chunksDropped int64
	if timescale {
		chunksDropped, err = h.db.DropEventChunks(r.Context(), req.Before)
		if err != nil {
			h.writeInternalError(w, r, "failed to drop event chunks", err)
			return
		}
	} else {
		eventsDeleted, err = h.db.DeleteEventsBefore(r.Context(), req.Before, batchSize)
		if err != nil {
			h.writeInternalError(w, r, "failed to delete events", err)
			return
		}
	}

	keysDeleted, err := h.db.CleanupIdempotencyKeys(r.Context(), h.idempotencyInProgressTTL)
	if err != nil {
		h.writeInternalError(w, r, "failed to clean up idempotency keys", err)
		return
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"retention_sweep", "client_events", "", nil, nil,
		map[string]any{
			"before":         req.Before,
			"events_deleted": eventsDeleted,
			"chunks_dropped": chunksDropped,
			"keys_deleted":   keysDeleted,
		},
	); auditErr != nil {
		h.logger.Error("failed to audit retention sweep", "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"timescale":                timescale,
		"events_deleted":           eventsDeleted,
		"chunks_dropped":           chunksDropped,
		"idempotency_keys_deleted": keysDeleted,
	})
}

func parseRuleID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("rule_id"))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid rule_id")
		return uuid.Nil, false
	}
	return id, true
}

func strictValidation(r *http.Request) bool {
	return r.URL.Query().Get("validate") == "strict"
}

func writeRuleLintRejection(w http.ResponseWriter, r *http.Request, problems []rules.Problem) {
	writeErrorDetails(w, r, http.StatusUnprocessableEntity, model.ErrCodeInvalidInput,
		"rule failed strict validation", map[string]any{"problems": problems})
}

// isDuplicateKeyError checks if a Postgres error is a unique_violation (23505).
func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}

// isNotFoundError checks if the error indicates a missing resource.
// Uses sentinel error matching instead of fragile string comparison.
func isNotFoundError(err error) bool {
	return errors.Is(err, storage.ErrNotFound) || errors.Is(err, pgx.ErrNoRows)
}
