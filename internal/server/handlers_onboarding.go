package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/storage"
)

// minPasswordLen is deliberately modest; the argon2id hash does the heavy
// lifting and long-password UX is the client's problem.
const minPasswordLen = 8

// HandleOnboarding handles POST /v1/onboarding: account creation plus the
// questionnaire in one call. Each answer becomes an initial trait with
// source "onboarding", so the first layout resolution is already
// personalized.
func (h *Handlers) HandleOnboarding(w http.ResponseWriter, r *http.Request) {
	var req model.OnboardingRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}

	if err := model.ValidateEmail(req.Email); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if err := model.ValidateDisplayName(req.DisplayName); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, err.Error())
		return
	}
	if len(req.Password) < minPasswordLen {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
			"password must be at least 8 characters")
		return
	}
	if req.Timezone != "" {
		if _, err := time.LoadLocation(req.Timezone); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"invalid timezone: "+req.Timezone)
			return
		}
	}

	// Validate all answers before creating anything, so a bad questionnaire
	// payload never leaves a half-onboarded account behind.
	inputs := make([]model.TraitInput, 0, len(req.Answers))
	for key, value := range req.Answers {
		in := model.TraitInput{Key: key, Value: value, Source: model.TraitSourceOnboarding}
		if err := in.Validate(); err != nil {
			writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput,
				"invalid answer "+key+": "+err.Error())
			return
		}
		inputs = append(inputs, in)
	}

	passwordHash, err := auth.HashPassword(req.Password)
	if err != nil {
		h.writeInternalError(w, r, "failed to hash password", err)
		return
	}

	user, err := h.db.CreateUser(r.Context(), model.User{
		Email:       req.Email,
		DisplayName: req.DisplayName,
		Role:        model.RoleUser,
		Timezone:    req.Timezone,
	}, passwordHash)
	if err != nil {
		if errors.Is(err, storage.ErrConflict) {
			writeError(w, r, http.StatusConflict, model.ErrCodeConflict, "email already registered")
			return
		}
		h.writeInternalError(w, r, "failed to create user", err)
		return
	}

	traitKeys := make([]string, 0, len(inputs))
	if len(inputs) > 0 {
		audit := h.buildAuditEntry(r, "onboarding_traits", "trait", user.ID.String(), nil, nil,
			map[string]any{"count": len(inputs)})
		audit.ActorID = user.ID.String()
		audit.ActorRole = string(model.RoleUser)
		traits, err := h.db.UpsertTraitsWithAudit(r.Context(), user.ID, inputs, audit)
		if err != nil {
			// The account exists; losing the questionnaire is recoverable via
			// the traits endpoint. Report it rather than failing signup.
			h.logger.Error("onboarding: trait upsert failed", "user_id", user.ID, "error", err)
		} else {
			for _, tr := range traits {
				traitKeys = append(traitKeys, tr.Key)
			}
		}
	}

	awardedXP := 0
	if entry, err := h.progressSvc.OnboardingComplete(r.Context(), user.ID); err != nil {
		h.logger.Error("onboarding: XP award failed", "user_id", user.ID, "error", err)
	} else if entry != nil {
		awardedXP = entry.Amount
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"user_created", "user", user.ID.String(), nil, nil,
		map[string]any{"email": user.Email, "trait_count": len(traitKeys)},
	); auditErr != nil {
		h.logger.Error("failed to audit onboarding", "user_id", user.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusCreated, model.OnboardingResponse{
		User:      user,
		Token:     token,
		ExpiresAt: expiresAt,
		TraitKeys: traitKeys,
		AwardedXP: awardedXP,
	})
}
