package server

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"net/http"
	"time"

	mcpserver "github.com/mark3labs/mcp-go/server"

	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/authz"
	"github.com/mindfork/mindfork/internal/ctxutil"
	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/ratelimit"
	"github.com/mindfork/mindfork/internal/search"
	"github.com/mindfork/mindfork/internal/service/coach"
	"github.com/mindfork/mindfork/internal/service/ingest"
	"github.com/mindfork/mindfork/internal/service/insights"
	"github.com/mindfork/mindfork/internal/service/personalize"
	"github.com/mindfork/mindfork/internal/service/progress"
	"github.com/mindfork/mindfork/internal/storage"
)

// Server is the MindFork HTTP server.
type Server struct {
	httpServer *http.Server
	handler    http.Handler
	handlers   *Handlers
	logger     *slog.Logger
}

// Handler returns the root HTTP handler for use in tests.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// ServerConfig holds all dependencies and configuration for creating a Server.
// Optional fields (nil-safe): SearchSvc, Searcher, Limiter, MCPServer,
// GrantCache, UIFS, OpenAPISpec.
type ServerConfig struct {
	// Required dependencies.
	DB             *storage.DB
	JWTMgr         *auth.JWTManager
	PersonalizeSvc *personalize.Service
	ProgressSvc    *progress.Service
	InsightsSvc    *insights.Service
	CoachSvc       *coach.Service
	Buffer         *ingest.Buffer
	Logger         *slog.Logger

	// Optional dependencies (nil = disabled).
	SearchSvc  *search.Service
	Searcher   search.Searcher
	Limiter    ratelimit.Limiter
	MCPServer  *mcpserver.MCPServer
	GrantCache *authz.GrantCache

	// HTTP server settings.
	Port                int
	ReadTimeout         time.Duration
	WriteTimeout        time.Duration
	Version             string
	MaxRequestBodyBytes int64

	// Webhook verification.
	WebhookSecret string

	// Idempotency reservation cutoff for in-progress writes.
	IdempotencyInProgressTTL time.Duration

	// Optional embedded assets.
	UIFS        fs.FS  // Embedded admin console (SPA).
	OpenAPISpec []byte // Embedded OpenAPI YAML.
}

// New creates a new HTTP server with all routes configured.
func New(cfg ServerConfig) *Server {
	h := NewHandlers(HandlersDeps{
		DB:                       cfg.DB,
		JWTMgr:                   cfg.JWTMgr,
		PersonalizeSvc:           cfg.PersonalizeSvc,
		ProgressSvc:              cfg.ProgressSvc,
		InsightsSvc:              cfg.InsightsSvc,
		CoachSvc:                 cfg.CoachSvc,
		SearchSvc:                cfg.SearchSvc,
		Buffer:                   cfg.Buffer,
		Searcher:                 cfg.Searcher,
		GrantCache:               cfg.GrantCache,
		Logger:                   cfg.Logger,
		Version:                  cfg.Version,
		MaxRequestBodyBytes:      cfg.MaxRequestBodyBytes,
		OpenAPISpec:              cfg.OpenAPISpec,
		WebhookSecret:            cfg.WebhookSecret,
		IdempotencyInProgressTTL: cfg.IdempotencyInProgressTTL,
	})

	// Rate limit classes. Buckets are keyed per class so a burst of event
	// ingestion cannot starve a user's layout resolutions. Unauthenticated
	// endpoints key by client IP; everything else by principal.
	authRL := ratelimit.Middleware(cfg.Limiter, cfg.Logger, classKey("auth", ratelimit.IPKeyFunc))
	readRL := ratelimit.Middleware(cfg.Limiter, cfg.Logger, principalKey("read"))
	writeRL := ratelimit.Middleware(cfg.Limiter, cfg.Logger, principalKey("write"))
	searchRL := ratelimit.Middleware(cfg.Limiter, cfg.Logger, principalKey("search"))

	mux := http.NewServeMux()

	// Auth and onboarding (no token required, rate limited by IP).
	mux.Handle("POST /v1/auth/token", authRL(http.HandlerFunc(h.HandleAuthToken)))
	mux.Handle("POST /v1/auth/service-token", authRL(http.HandlerFunc(h.HandleServiceToken)))
	mux.Handle("POST /v1/onboarding", authRL(http.HandlerFunc(h.HandleOnboarding)))

	// Scoped support tokens (admin-only).
	adminOnly := requireRole(model.RoleAdmin)
	mux.Handle("POST /v1/auth/scoped-token", adminOnly(http.HandlerFunc(h.HandleScopedToken)))

	// Layout resolution and traits (self, granted coach, or admin — enforced
	// in the handlers via authorizeUserAccess).
	userRead := requireRole(model.RoleUser)
	mux.Handle("GET /v1/users/{user_id}/layout", readRL(userRead(http.HandlerFunc(h.HandleResolveLayout))))
	mux.Handle("GET /v1/users/{user_id}/traits", readRL(userRead(http.HandlerFunc(h.HandleGetTraits))))
	mux.Handle("PUT /v1/users/{user_id}/traits", writeRL(userRead(http.HandlerFunc(h.HandlePutTraits))))
	mux.Handle("PUT /v1/users/{user_id}/traits/{key}", writeRL(userRead(http.HandlerFunc(h.HandlePutTrait))))
	mux.Handle("DELETE /v1/users/{user_id}/traits/{key}", writeRL(userRead(http.HandlerFunc(h.HandleDeleteTrait))))

	// Meals and nutrition insights.
	mux.Handle("POST /v1/users/{user_id}/meals", writeRL(userRead(http.HandlerFunc(h.HandleLogMeal))))
	mux.Handle("GET /v1/users/{user_id}/meals", readRL(userRead(http.HandlerFunc(h.HandleListMeals))))
	mux.Handle("GET /v1/users/{user_id}/meals/{meal_id}", readRL(userRead(http.HandlerFunc(h.HandleGetMeal))))
	mux.Handle("DELETE /v1/users/{user_id}/meals/{meal_id}", writeRL(userRead(http.HandlerFunc(h.HandleDeleteMeal))))
	mux.Handle("GET /v1/users/{user_id}/insights/daily", readRL(userRead(http.HandlerFunc(h.HandleDailyInsights))))
	mux.Handle("GET /v1/users/{user_id}/insights/range", readRL(userRead(http.HandlerFunc(h.HandleInsightsRange))))
	mux.Handle("GET /v1/users/{user_id}/insights/stats", readRL(userRead(http.HandlerFunc(h.HandleInsightsStats))))

	// Gamification.
	mux.Handle("GET /v1/users/{user_id}/progress", readRL(userRead(http.HandlerFunc(h.HandleGetProgress))))
	mux.Handle("GET /v1/users/{user_id}/progress/history", readRL(userRead(http.HandlerFunc(h.HandleXPHistory))))

	// Client telemetry ingestion (buffered, idempotent).
	mux.Handle("POST /v1/events", writeRL(userRead(http.HandlerFunc(h.HandleAppendEvents))))
	mux.Handle("GET /v1/users/{user_id}/events", readRL(userRead(http.HandlerFunc(h.HandleListEvents))))

	// Food catalog search (tighter limit — each query may hit the embedder).
	mux.Handle("GET /v1/foods/search", searchRL(userRead(http.HandlerFunc(h.HandleSearchFoods))))
	mux.Handle("GET /v1/foods/{food_id}", readRL(userRead(http.HandlerFunc(h.HandleGetFood))))

	// Coach personas, prompt assembly, and access grants.
	coachPlus := requireRole(model.RoleCoach)
	mux.Handle("GET /v1/coach/prompt", readRL(userRead(http.HandlerFunc(h.HandleCoachPrompt))))
	mux.Handle("GET /v1/coach/personas", readRL(userRead(http.HandlerFunc(h.HandleListPersonas))))
	mux.Handle("GET /v1/coach/clients", readRL(coachPlus(http.HandlerFunc(h.HandleCoachClients))))
	mux.Handle("POST /v1/users/{user_id}/grants", writeRL(userRead(http.HandlerFunc(h.HandleCreateGrant))))
	mux.Handle("GET /v1/users/{user_id}/grants", readRL(userRead(http.HandlerFunc(h.HandleListGrants))))
	mux.Handle("DELETE /v1/users/{user_id}/grants/{grant_id}", writeRL(userRead(http.HandlerFunc(h.HandleRevokeGrant))))

	// Subscriptions. The webhook authenticates by HMAC signature, not token.
	mux.Handle("POST /v1/webhooks/subscription", http.HandlerFunc(h.HandleSubscriptionWebhook))
	mux.Handle("GET /v1/users/{user_id}/subscription", readRL(userRead(http.HandlerFunc(h.HandleGetSubscription))))

	// Data export and account deletion (self or admin).
	mux.Handle("GET /v1/users/{user_id}/export", readRL(userRead(http.HandlerFunc(h.HandleExportUserData))))
	mux.Handle("DELETE /v1/users/{user_id}", writeRL(userRead(http.HandlerFunc(h.HandleDeleteUser))))

	// Rule administration (admin-only, no rate limit — admin is exempt).
	mux.Handle("GET /v1/admin/rules", adminOnly(http.HandlerFunc(h.HandleListRules)))
	mux.Handle("POST /v1/admin/rules", adminOnly(http.HandlerFunc(h.HandleCreateRule)))
	mux.Handle("POST /v1/admin/rules/validate", adminOnly(http.HandlerFunc(h.HandleValidateRule)))
	mux.Handle("GET /v1/admin/rules/{rule_id}", adminOnly(http.HandlerFunc(h.HandleGetRule)))
	mux.Handle("PUT /v1/admin/rules/{rule_id}", adminOnly(http.HandlerFunc(h.HandleUpdateRule)))
	mux.Handle("DELETE /v1/admin/rules/{rule_id}", adminOnly(http.HandlerFunc(h.HandleDeleteRule)))
	mux.Handle("POST /v1/admin/rules/{rule_id}/activate", adminOnly(http.HandlerFunc(h.HandleActivateRule)))
	mux.Handle("POST /v1/admin/rules/{rule_id}/deactivate", adminOnly(http.HandlerFunc(h.HandleDeactivateRule)))

	// Layout administration.
	mux.Handle("GET /v1/admin/layouts", adminOnly(http.HandlerFunc(h.HandleListLayouts)))
	mux.Handle("GET /v1/admin/layouts/{key}", adminOnly(http.HandlerFunc(h.HandleGetLayout)))
	mux.Handle("PUT /v1/admin/layouts/{key}", adminOnly(http.HandlerFunc(h.HandleUpsertLayout)))
	mux.Handle("DELETE /v1/admin/layouts/{key}", adminOnly(http.HandlerFunc(h.HandleDeleteLayout)))

	// Internal documentation store.
	mux.Handle("GET /v1/admin/docs", adminOnly(http.HandlerFunc(h.HandleListDocs)))
	mux.Handle("GET /v1/admin/docs/{doc_key}", adminOnly(http.HandlerFunc(h.HandleGetDoc)))

	// User administration and support tooling.
	mux.Handle("GET /v1/admin/users", adminOnly(http.HandlerFunc(h.HandleListUsers)))
	mux.Handle("PATCH /v1/admin/users/{user_id}", adminOnly(http.HandlerFunc(h.HandleUpdateUser)))
	mux.Handle("POST /v1/admin/users/{user_id}/xp", adminOnly(http.HandlerFunc(h.HandleAdjustXP)))
	mux.Handle("POST /v1/admin/foods", adminOnly(http.HandlerFunc(h.HandleCreateFood)))

	// Retention.
	mux.Handle("GET /v1/admin/retention/preview", adminOnly(http.HandlerFunc(h.HandleRetentionPreview)))
	mux.Handle("POST /v1/admin/retention/sweep", adminOnly(http.HandlerFunc(h.HandleRetentionSweep)))

	// Service keys.
	mux.Handle("POST /v1/admin/service-keys", adminOnly(http.HandlerFunc(h.HandleCreateServiceKey)))
	mux.Handle("GET /v1/admin/service-keys", adminOnly(http.HandlerFunc(h.HandleListServiceKeys)))
	mux.Handle("DELETE /v1/admin/service-keys/{key_id}", adminOnly(http.HandlerFunc(h.HandleRevokeServiceKey)))

	// MCP StreamableHTTP transport (auth required, user+).
	if cfg.MCPServer != nil {
		mcpHTTP := mcpserver.NewStreamableHTTPServer(cfg.MCPServer)
		mux.Handle("/mcp", userRead(mcpHTTP))
	}

	// OpenAPI spec (no auth, no rate limit).
	mux.HandleFunc("GET /openapi.yaml", h.HandleOpenAPISpec)

	// Health probes (no auth, no rate limit).
	mux.HandleFunc("GET /healthz", h.HandleHealth)
	mux.HandleFunc("GET /readyz", h.HandleReady)

	// Admin console SPA at the root path. Registered last so API routes win
	// via the mux's longest-match rule.
	if cfg.UIFS != nil {
		mux.Handle("/", newSPAHandler(cfg.UIFS))
		cfg.Logger.Info("ui enabled, serving admin console at /")
	}

	// Middleware chain (outermost executes first):
	// request ID → security headers → tracing → logging → auth → recovery → handler.
	var handler http.Handler = mux
	handler = recoveryMiddleware(cfg.Logger, handler)
	handler = authMiddleware(cfg.JWTMgr, handler)
	handler = loggingMiddleware(cfg.Logger, handler)
	handler = tracingMiddleware(handler)
	handler = securityHeadersMiddleware(handler)
	handler = requestIDMiddleware(handler)

	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      handler,
			ReadTimeout:  cfg.ReadTimeout,
			WriteTimeout: cfg.WriteTimeout,
		},
		handler:  handler,
		handlers: h,
		logger:   cfg.Logger,
	}
}

// principalKey builds a rate-limit key from the authenticated principal.
// Admins are exempt; unauthenticated requests to protected routes are
// rejected by authMiddleware before the limiter sees them.
func principalKey(class string) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		claims := ctxutil.ClaimsFromContext(r.Context())
		if claims == nil {
			return ""
		}
		if model.RoleAtLeast(claims.Role, model.RoleAdmin) {
			return ""
		}
		return class + ":" + claims.Subject
	}
}

// classKey prefixes another key func so each rate-limit class gets its own
// buckets.
func classKey(class string, inner ratelimit.KeyFunc) ratelimit.KeyFunc {
	return func(r *http.Request) string {
		key := inner(r)
		if key == "" {
			return ""
		}
		return class + ":" + key
	}
}

// Handlers returns the underlying Handlers for access to SeedAdmin etc.
func (s *Server) Handlers() *Handlers {
	return s.handlers
}

// Start begins serving HTTP requests.
func (s *Server) Start() error {
	s.logger.Info("http server starting", "addr", s.httpServer.Addr)
	return s.httpServer.ListenAndServe()
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")
	return s.httpServer.Shutdown(ctx)
}
