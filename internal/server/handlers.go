package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/authz"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/search"
	"github.com/mindfork/mindfork/internal/service/coach"
	"github.com/mindfork/mindfork/internal/service/ingest"
	"github.com/mindfork/mindfork/internal/service/insights"
	"github.com/mindfork/mindfork/internal/service/personalize"
	"github.com/mindfork/mindfork/internal/service/progress"
	"github.com/mindfork/mindfork/internal/storage"
)

// Handlers holds HTTP handler dependencies.
type Handlers struct {
	db                       *storage.DB
	jwtMgr                   *auth.JWTManager
	personalizeSvc           *personalize.Service
	progressSvc              *progress.Service
	insightsSvc              *insights.Service
	coachSvc                 *coach.Service
	searchSvc                *search.Service
	buffer                   *ingest.Buffer
	searcher                 search.Searcher
	grantCache               *authz.GrantCache
	logger                   *slog.Logger
	startedAt                time.Time
	version                  string
	maxRequestBodyBytes      int64
	openapiSpec              []byte
	webhookSecret            string
	idempotencyInProgressTTL time.Duration
}

// HandlersDeps holds all dependencies for constructing Handlers.
// Optional (nil-safe): SearchSvc, Searcher, GrantCache, OpenAPISpec.
type HandlersDeps struct {
	DB                       *storage.DB
	JWTMgr                   *auth.JWTManager
	PersonalizeSvc           *personalize.Service
	ProgressSvc              *progress.Service
	InsightsSvc              *insights.Service
	CoachSvc                 *coach.Service
	SearchSvc                *search.Service
	Buffer                   *ingest.Buffer
	Searcher                 search.Searcher
	GrantCache               *authz.GrantCache
	Logger                   *slog.Logger
	Version                  string
	MaxRequestBodyBytes      int64
	OpenAPISpec              []byte
	WebhookSecret            string
	IdempotencyInProgressTTL time.Duration
}

// NewHandlers creates a new Handlers with all dependencies.
func NewHandlers(d HandlersDeps) *Handlers {
	return &Handlers{
		db:                       d.DB,
		jwtMgr:                   d.JWTMgr,
		personalizeSvc:           d.PersonalizeSvc,
		progressSvc:              d.ProgressSvc,
		insightsSvc:              d.InsightsSvc,
		coachSvc:                 d.CoachSvc,
		searchSvc:                d.SearchSvc,
		buffer:                   d.Buffer,
		searcher:                 d.Searcher,
		grantCache:               d.GrantCache,
		logger:                   d.Logger,
		startedAt:                time.Now(),
		version:                  d.Version,
		maxRequestBodyBytes:      d.MaxRequestBodyBytes,
		openapiSpec:              d.OpenAPISpec,
		webhookSecret:            d.WebhookSecret,
		idempotencyInProgressTTL: d.IdempotencyInProgressTTL,
	}
}

// HandleAuthToken handles POST /v1/auth/token (email + password login).
func (h *Handlers) HandleAuthToken(w http.ResponseWriter, r *http.Request) {
	var req model.AuthTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.Email == "" || req.Password == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "email and password are required")
		return
	}

	user, passwordHash, err := h.db.GetUserByEmail(r.Context(), req.Email)
	if err != nil {
		// Hash anyway so a missing account takes as long as a wrong password.
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyPassword(req.Password, passwordHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueToken(user)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue token", err)
		return
	}

	// Audit: record successful token issuance. Best-effort, failure to
	// audit must not block the token response.
	if auditErr := h.recordMutationAuditBestEffort(r,
		"token_issued", "auth_token", user.ID.String(), nil, nil,
		map[string]any{
			"ip":         r.RemoteAddr,
			"user_agent": r.UserAgent(),
			"token_exp":  expiresAt,
		},
	); auditErr != nil {
		slog.Error("failed to audit token issuance",
			"user_id", user.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleServiceToken handles POST /v1/auth/service-token. Machine callers
// exchange a service key for a bearer token carrying the key's role.
func (h *Handlers) HandleServiceToken(w http.ResponseWriter, r *http.Request) {
	var req model.ServiceTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.KeyID == uuid.Nil || req.APIKey == "" {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "key_id and api_key are required")
		return
	}

	key, err := h.db.GetServiceKey(r.Context(), req.KeyID)
	if err != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}
	if key.RevokedAt != nil {
		auth.DummyVerify()
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	valid, err := auth.VerifyServiceKey(req.APIKey, key.KeyHash)
	if err != nil || !valid {
		writeError(w, r, http.StatusUnauthorized, model.ErrCodeUnauthorized, "invalid credentials")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueServiceToken(key)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue service token", err)
		return
	}

	if touchErr := h.db.TouchServiceKeyLastUsed(r.Context(), key.ID); touchErr != nil {
		h.logger.Warn("failed to touch service key last_used", "key_id", key.ID, "error", touchErr)
	}

	if auditErr := h.recordMutationAuditBestEffort(r,
		"service_token_issued", "auth_token", key.ID.String(), nil, nil,
		map[string]any{
			"key_name":  key.Name,
			"role":      string(key.Role),
			"ip":        r.RemoteAddr,
			"token_exp": expiresAt,
		},
	); auditErr != nil {
		slog.Error("failed to audit service token issuance",
			"key_id", key.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.AuthTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
	})
}

// HandleScopedToken handles POST /v1/auth/scoped-token (admin-only).
// Issues a short-lived JWT that acts as the target user, with the issuing
// admin's ID recorded in the ScopedBy claim. Useful for support debugging of
// what a specific user sees without needing their password.
func (h *Handlers) HandleScopedToken(w http.ResponseWriter, r *http.Request) {
	claims := ctxutil.ClaimsFromContext(r.Context())

	// Scoped tokens cannot issue further scoped tokens: no delegation chains.
	if claims.ScopedBy != "" {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"scoped tokens cannot issue further scoped tokens")
		return
	}

	var req model.ScopedTokenRequest
	if err := decodeJSON(w, r, &req, h.maxRequestBodyBytes); err != nil {
		handleDecodeError(w, r, err)
		return
	}
	if req.AsUserID == uuid.Nil {
		writeError(w, r, http.StatusBadRequest, model.ErrCodeInvalidInput, "as_user_id is required")
		return
	}

	ttl := 5 * time.Minute
	if req.ExpiresIn > 0 {
		ttl = time.Duration(req.ExpiresIn) * time.Second
	}
	// Cap is enforced inside IssueScopedToken, but clamp the value used for
	// the audit log so it reflects what was actually issued.
	if ttl > auth.MaxScopedTokenTTL {
		ttl = auth.MaxScopedTokenTTL
	}

	target, err := h.db.GetUser(r.Context(), req.AsUserID)
	if err != nil {
		if isNotFoundError(err) {
			writeError(w, r, http.StatusNotFound, model.ErrCodeNotFound, "user not found")
			return
		}
		h.writeInternalError(w, r, "failed to load user", err)
		return
	}

	// Privilege escalation guard: callers can only act as users whose role is
	// strictly below their own.
	if model.RoleRank(claims.Role) <= model.RoleRank(target.Role) {
		writeError(w, r, http.StatusForbidden, model.ErrCodeForbidden,
			"cannot issue scoped token for a user with role equal to or higher than your own")
		return
	}

	token, expiresAt, err := h.jwtMgr.IssueScopedToken(claims.Subject, target, ttl)
	if err != nil {
		h.writeInternalError(w, r, "failed to issue scoped token", err)
		return
	}

	slog.Info("scoped token issued",
		"issuer", claims.Subject,
		"as_user_id", target.ID,
		"as_role", target.Role,
		"ttl_seconds", int(ttl.Seconds()),
		"request_id", ctxutil.RequestIDFromContext(r.Context()),
	)

	if auditErr := h.recordMutationAuditBestEffort(r,
		"scoped_token_issued", "auth_token", target.ID.String(), nil, nil,
		map[string]any{
			"issuer":      claims.Subject,
			"as_role":     string(target.Role),
			"ttl_seconds": int(ttl.Seconds()),
			"token_exp":   expiresAt,
		},
	); auditErr != nil {
		slog.Error("failed to audit scoped token issuance",
			"issuer", claims.Subject, "as_user_id", target.ID, "error", auditErr)
	}

	writeJSON(w, r, http.StatusOK, model.ScopedTokenResponse{
		Token:     token,
		ExpiresAt: expiresAt,
		AsUserID:  target.ID,
		ScopedBy:  claims.Subject,
	})
}

// HandleHealth handles GET /healthz.
func (h *Handlers) HandleHealth(w http.ResponseWriter, r *http.Request) {
	pgStatus := "connected"
	status := "healthy"
	httpStatus := http.StatusOK

	if err := h.db.Ping(r.Context()); err != nil {
		pgStatus = "disconnected"
		status = "unhealthy"
		httpStatus = http.StatusServiceUnavailable
	}

	// Buffer health: >50% capacity = high, >75% capacity = critical.
	bufDepth := 0
	bufStatus := "ok"
	if h.buffer != nil {
		bufDepth = h.buffer.Len()
		capacity := h.buffer.Capacity()
		if bufDepth > capacity*3/4 {
			bufStatus = "critical"
			if status == "healthy" {
				status = "degraded"
			}
		} else if bufDepth > capacity/2 {
			bufStatus = "high"
		}
	}

	resp := model.HealthResponse{
		Status:       status,
		Version:      h.version,
		Postgres:     pgStatus,
		BufferDepth:  bufDepth,
		BufferStatus: bufStatus,
		Uptime:       int64(time.Since(h.startedAt).Seconds()),
	}

	if h.searcher != nil {
		if err := h.searcher.Healthy(r.Context()); err == nil {
			resp.Qdrant = "connected"
		} else {
			resp.Qdrant = "disconnected"
		}
	}

	writeJSON(w, r, httpStatus, resp)
}

// HandleReady handles GET /readyz. Readiness is Postgres reachability; a
// degraded search index does not take the instance out of rotation.
func (h *Handlers) HandleReady(w http.ResponseWriter, r *http.Request) {
	if err := h.db.Ping(r.Context()); err != nil {
		writeError(w, r, http.StatusServiceUnavailable, model.ErrCodeInternalError, "database unavailable")
		return
	}
	writeJSON(w, r, http.StatusOK, map[string]string{"status": "ready"})
}

// HandleOpenAPISpec serves the embedded OpenAPI specification.
func (h *Handlers) HandleOpenAPISpec(w http.ResponseWriter, r *http.Request) {
	if len(h.openapiSpec) == 0 {
		http.NotFound(w, r)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(h.openapiSpec)
}

// SeedAdmin registers the bootstrap admin service key if none exists yet.
// The key plaintext comes from configuration; only its hash is stored.
func (h *Handlers) SeedAdmin(ctx context.Context, adminAPIKey string) error {
	keys, err := h.db.ListServiceKeys(ctx)
	if err != nil {
		return fmt.Errorf("seed admin: list service keys: %w", err)
	}
	for _, k := range keys {
		if k.Name == bootstrapKeyName && k.RevokedAt == nil {
			h.logger.Info("bootstrap admin key already registered", "key_id", k.ID)
			return nil
		}
	}

	if adminAPIKey == "" {
		h.logger.Warn("no admin API key configured and no bootstrap key registered; admin endpoints need a service key or an admin user")
		return nil
	}

	hash, err := auth.HashServiceKey(adminAPIKey)
	if err != nil {
		return fmt.Errorf("seed admin: hash key: %w", err)
	}

	audit := storage.MutationAuditEntry{
		RequestID:    "bootstrap",
		ActorID:      "system",
		ActorRole:    "system",
		HTTPMethod:   "",
		Endpoint:     "",
		Operation:    "seed_admin_key",
		ResourceType: "service_key",
	}
	key, err := h.db.CreateServiceKeyWithAudit(ctx, bootstrapKeyName, model.RoleAdmin, hash, audit)
	if err != nil {
		return fmt.Errorf("seed admin: create service key: %w", err)
	}

	h.logger.Info("seeded bootstrap admin service key", "key_id", key.ID)
	return nil
}

const bootstrapKeyName = "bootstrap-admin"

// writeInternalError logs the underlying error and responds with a generic
// 500 so internals never leak to clients.
func (h *Handlers) writeInternalError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	h.logger.Error(msg,
		"error", err,
		"method", r.Method,
		"path", r.URL.Path,
		"request_id", ctxutil.RequestIDFromContext(r.Context()),
	)
	writeError(w, r, http.StatusInternalServerError, model.ErrCodeInternalError, msg)
}

// --- Shared helpers ---

func parseUserID(r *http.Request) (uuid.UUID, error) {
	idStr := r.PathValue("user_id")
	if idStr == "" {
		return uuid.Nil, fmt.Errorf("user_id is required")
	}
	id, err := uuid.Parse(idStr)
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid user_id: %s", idStr)
	}
	return id, nil
}

// maxQueryLimit is the maximum allowed value for limit query parameters.
const maxQueryLimit = 1000

func queryInt(r *http.Request, key string, defaultVal int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

// maxQueryOffset prevents absurdly large offset values that cause expensive sequential scans.
const maxQueryOffset = 100_000

// queryOffset returns a bounded, non-negative offset from query params.
func queryOffset(r *http.Request) int {
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		return 0
	}
	if offset > maxQueryOffset {
		return maxQueryOffset
	}
	return offset
}

// queryLimit returns a bounded limit value from query params.
// Values are clamped to [1, maxQueryLimit].
func queryLimit(r *http.Request, defaultVal int) int {
	limit := queryInt(r, "limit", defaultVal)
	if limit < 1 {
		return 1
	}
	if limit > maxQueryLimit {
		return maxQueryLimit
	}
	return limit
}

func queryTime(r *http.Request, key string) (*time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return nil, fmt.Errorf("invalid %s: expected RFC3339 format (e.g. 2024-01-01T00:00:00Z)", key)
	}
	return &t, nil
}

// queryDay parses a YYYY-MM-DD query parameter, defaulting to today (UTC).
func queryDay(r *http.Request, key string) (time.Time, error) {
	v := r.URL.Query().Get(key)
	if v == "" {
		now := time.Now().UTC()
		return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC), nil
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid %s: expected YYYY-MM-DD", key)
	}
	return t, nil
}
