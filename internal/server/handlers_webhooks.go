package server

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
)

// webhookSignatureHeader carries the hex-encoded HMAC-SHA256 of the raw
// request body, keyed with the shared webhook secret.
const webhookSignatureHeader = "X-Webhook-Signature"

// HandleSubscriptionWebhook handles POST /v1/webhooks/subscription. The store
// backend calls this on purchase, renewal, and expiry. Deliveries are
// verified against the shared secret and deduplicated by event_id, so the
// store can retry as aggressively as it likes.
func (h *Handlers) HandleSubscriptionWebhook(w http.ResponseWriter, r *http.Request) {
	if h.webhookSecret == "" {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden, "webhook verification is not configured")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, h.maxRequestBodyBytes))
	if err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "failed to read request body")
		return
	}

	if !verifyWebhookSignature(body, r.Header.Get(webhookSignatureHeader), h.webhookSecret) {
		h.logger.Warn("webhook signature verification failed",
			"request_id", ctxutil.RequestIDFromContext(r.Context()), "remote_addr", r.RemoteAddr)
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid webhook signature")
		return
	}

	var ev model.SubscriptionEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "invalid webhook payload")
		return
	}
	if ev.EventID == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "event_id is required")
		return
	}
	if ev.UserID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "user_id is required")
		return
	}
	if !model.ValidTier(ev.Tier) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown tier")
		return
	}
	if !model.ValidSubscriptionStatus(ev.Status) {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "unknown status")
		return
	}

	applied, err := h.db.ApplySubscriptionEvent(r.Context(), ev, body)
	if err != nil {
		h.writeInternalError(w, r, "failed to apply subscription event", err)
		return
	}

	if applied {
		h.logger.Info("subscription event applied",
			"event_id", ev.EventID, "user_id", ev.UserID, "tier", ev.Tier, "status", ev.Status)
		if auditErr := h.recordMutationAuditBestEffort(r,
			"apply_subscription_event", "subscription", ev.UserID.String(), nil, ev,
			map[string]any{"event_id": ev.EventID},
		); auditErr != nil {
			h.logger.Error("failed to audit subscription event", "event_id", ev.EventID, "error", auditErr)
		}
	}

	writeJSON(w, r, http.StatusOK, map[string]any{
		"event_id": ev.EventID,
		"applied":  applied,
	})
}

// HandleGetSubscription handles GET /v1/users/{user_id}/subscription. Users
// with no webhook history are on the free tier.
func (h *Handlers) HandleGetSubscription(w http.ResponseWriter, r *http.Request) {
	userID, ok := h.requireSelfOrAdmin(w, r)
	if !ok {
		return
	}

	sub, err := h.db.GetSubscription(r.Context(), userID)
	if err != nil {
		if isNotFoundError(err) {
			writeJSON(w, r, http.StatusOK, model.Subscription{
				UserID: userID,
				Tier:   model.TierFree,
				Status: "active",
			})
			return
		}
		h.writeInternalError(w, r, "failed to load subscription", err)
		return
	}
	writeJSON(w, r, http.StatusOK, sub)
}

func verifyWebhookSignature(body []byte, signature, secret string) bool {
	if signature == "" {
		return false
	}
	provided, err := hex.DecodeString(signature)
	if err != nil {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(body)
	return hmac.Equal(provided, mac.Sum(nil))
}
