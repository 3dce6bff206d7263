// Package mindfork is the public API for embedding the MindFork
// personalization and coaching server.
//
// White-label and plugin consumers import this package to construct and run
// the server without forking it:
//
//	app, err := mindfork.New(
//	    mindfork.WithVersion(version),
//	    mindfork.WithLogger(logger),
//	    mindfork.WithEmbeddingProvider(myProvider),
//	)
//	if err != nil { ... }
//	if err := app.Run(ctx); err != nil { ... }
//
// The import graph enforces a strict no-cycle rule: mindfork (root) imports
// internal/*, but internal/* never imports mindfork (root). Public interfaces
// (EmbeddingProvider) use plain Go types; adapters to internal types live
// here because this is the only file that sees both sides of the boundary.
package mindfork

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/joho/godotenv"
	"github.com/pgvector/pgvector-go"

	"github.com/mindfork/mindfork/api"
	"github.com/mindfork/mindfork/internal/auth"
	"github.com/mindfork/mindfork/internal/authz"
	"github.com/mindfork/mindfork/internal/config"
	"github.com/mindfork/mindfork/internal/mcp"
	"github.com/mindfork/mindfork/internal/ratelimit"
	"github.com/mindfork/mindfork/internal/search"
	"github.com/mindfork/mindfork/internal/server"
	"github.com/mindfork/mindfork/internal/service/coach"
	"github.com/mindfork/mindfork/internal/service/embedding"
	"github.com/mindfork/mindfork/internal/service/ingest"
	"github.com/mindfork/mindfork/internal/service/insights"
	"github.com/mindfork/mindfork/internal/service/personalize"
	"github.com/mindfork/mindfork/internal/service/progress"
	"github.com/mindfork/mindfork/internal/storage"
	"github.com/mindfork/mindfork/internal/telemetry"
	"github.com/mindfork/mindfork/migrations"
	"github.com/mindfork/mindfork/ui"

	mcpserver "github.com/mark3labs/mcp-go/server"
)

// App is the MindFork server lifecycle. Construct with New(), run with Run().
// App has no public fields — use New() options to configure it.
type App struct {
	cfg            config.Config
	db             *storage.DB
	srv            *server.Server
	buf            *ingest.Buffer
	backfill       *search.Backfill    // nil when no embedding provider
	qdrantIndex    *search.QdrantIndex // nil when Qdrant is not configured
	grantCache     *authz.GrantCache
	personalizeSvc *personalize.Service
	mcpSrv         *mcp.Server // nil when MCP is off
	limiter        ratelimit.Limiter
	otelShutdown   telemetry.Shutdown
	logger         *slog.Logger
	version        string
}

// New initialises the MindFork server. It connects to the database, runs
// migrations, wires all subsystems, and returns a ready-to-run App.
// It does NOT start any goroutines or accept HTTP connections — call Run().
func New(opts ...Option) (*App, error) {
	// Apply options.
	o := resolvedOptions{}
	for _, fn := range opts {
		fn(&o)
	}

	logger := o.logger
	if logger == nil {
		logger = slog.Default()
	}

	// Load .env file if present (non-fatal; production won't have one).
	_ = godotenv.Load()

	// Load configuration (env vars), then apply option overrides.
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.port != 0 {
		cfg.Port = o.port
	}
	if o.databaseURL != "" {
		cfg.DatabaseURL = o.databaseURL
	}
	if o.notifyURL != "" {
		cfg.NotifyURL = o.notifyURL
	}
	version := o.version
	if version == "" {
		version = "dev"
	}

	logger.Info("mindfork starting", "version", version, "port", cfg.Port)

	// Initialize OpenTelemetry.
	otelShutdown, err := telemetry.Init(context.Background(), cfg.OTELEndpoint, cfg.ServiceName, version, cfg.OTELInsecure)
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	// Connect to database.
	db, err := storage.New(context.Background(), cfg.DatabaseURL, cfg.NotifyURL, logger)
	if err != nil {
		_ = otelShutdown(context.Background())
		return nil, fmt.Errorf("storage: %w", err)
	}

	fail := func(err error) (*App, error) {
		db.Close(context.Background())
		_ = otelShutdown(context.Background())
		return nil, err
	}

	// Run embedded migrations.
	if cfg.SkipEmbeddedMigrations {
		logger.Info("embedded migrations skipped by config")
	} else if err := db.RunMigrations(context.Background(), migrations.FS); err != nil {
		return fail(fmt.Errorf("migrations: %w", err))
	}

	// Run extra (white-label) migrations after the embedded ones.
	for i, extraFS := range o.extraMigrations {
		if err := db.RunMigrations(context.Background(), extraFS); err != nil {
			return fail(fmt.Errorf("extra migrations[%d]: %w", i, err))
		}
	}

	// Verify critical tables exist after migration.
	var schemaOK bool
	if err := db.Pool().QueryRow(context.Background(),
		`SELECT EXISTS (SELECT FROM information_schema.tables WHERE table_schema = 'public' AND table_name = 'personalization_rules')`,
	).Scan(&schemaOK); err != nil {
		return fail(fmt.Errorf("schema verification: %w", err))
	}
	if !schemaOK {
		return fail(fmt.Errorf("critical table 'personalization_rules' does not exist after migration — check that the pgvector extension is created (see docker/init.sql)"))
	}

	// Create JWT manager.
	jwtMgr, err := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTExpiration)
	if err != nil {
		return fail(fmt.Errorf("auth: %w", err))
	}

	// Create embedding provider — external override takes priority over auto-detect.
	var embedder embedding.Provider
	if o.embeddingProvider != nil {
		embedder = embedding.Dedupe(&providerAdapter{p: o.embeddingProvider})
	} else {
		embedder = newEmbeddingProvider(cfg, logger)
	}

	// Initialize Qdrant food index.
	var qdrantIndex *search.QdrantIndex
	var searcher search.Searcher
	var indexer search.Indexer
	if cfg.QdrantURL != "" {
		qdrantIndex, err = search.NewQdrantIndex(search.QdrantConfig{
			URL:        cfg.QdrantURL,
			APIKey:     cfg.QdrantAPIKey,
			Collection: cfg.QdrantCollection,
			Dims:       uint64(cfg.EmbeddingDimensions), //nolint:gosec // validated positive in config.Validate
		}, logger)
		if err != nil {
			return fail(fmt.Errorf("qdrant: %w", err))
		}
		searcher = qdrantIndex
		indexer = qdrantIndex
		logger.Info("qdrant: enabled", "collection", cfg.QdrantCollection)
	} else {
		logger.Info("qdrant: disabled (no QDRANT_URL)")
	}

	// Food search service and the embedding backfill worker that feeds it.
	searchSvc := search.NewService(db, embedder, searcher, logger)
	var backfill *search.Backfill
	if embedder != nil {
		backfill = search.NewBackfill(db, embedder, indexer, logger, cfg.BackfillPollInterval, cfg.BackfillBatchSize)
	} else {
		logger.Info("embedding backfill: disabled (no embedding provider)")
	}

	// Domain services. The coach reads resolved rule effects, so it shares
	// the personalization service's rule cache.
	personalizeSvc := personalize.New(db, logger)
	progressSvc := progress.New(db, logger)
	insightsSvc := insights.New(db)
	coachSvc := coach.New(db, personalizeSvc, logger)

	// Client event buffer.
	buf := ingest.NewBuffer(db, logger, cfg.EventBufferSize, cfg.EventFlushTimeout)

	// Grant cache (30s TTL — short enough to pick up revoked coach grants
	// quickly, long enough to skip 2-3 DB queries per request).
	grantCache := authz.NewGrantCache(30 * time.Second)

	// MCP server.
	var mcpSrv *mcp.Server
	if cfg.MCPTransport != "off" {
		mcpSrv = mcp.New(db, personalizeSvc, progressSvc, coachSvc, logger, version)
	} else {
		logger.Info("mcp: disabled")
	}

	// UI filesystem (non-nil only when built with -tags ui).
	uiFS, err := ui.DistFS()
	if err != nil {
		return fail(fmt.Errorf("ui: %w", err))
	}
	if uiFS != nil {
		logger.Info("ui: embedded admin console loaded")
	}

	// Rate limiter.
	var limiter ratelimit.Limiter
	if cfg.RateLimitEnabled {
		limiter = ratelimit.NewMemoryLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst)
		logger.Info("rate limiting: memory (in-process token bucket)",
			"rps", cfg.RateLimitRPS, "burst", cfg.RateLimitBurst)
	} else {
		limiter = ratelimit.NoopLimiter{}
		logger.Info("rate limiting: disabled")
	}

	// Create HTTP server. MCP mounts at /mcp only for the http transport;
	// stdio serves over the process's stdin/stdout in Run().
	var httpMCP *mcpserver.MCPServer
	if mcpSrv != nil && cfg.MCPTransport == "http" {
		httpMCP = mcpSrv.MCPServer()
	}
	srv := server.New(server.ServerConfig{
		DB:                       db,
		JWTMgr:                   jwtMgr,
		PersonalizeSvc:           personalizeSvc,
		ProgressSvc:              progressSvc,
		InsightsSvc:              insightsSvc,
		CoachSvc:                 coachSvc,
		Buffer:                   buf,
		SearchSvc:                searchSvc,
		Searcher:                 searcher,
		Limiter:                  limiter,
		MCPServer:                httpMCP,
		GrantCache:               grantCache,
		Logger:                   logger,
		Port:                     cfg.Port,
		ReadTimeout:              cfg.ReadTimeout,
		WriteTimeout:             cfg.WriteTimeout,
		Version:                  version,
		MaxRequestBodyBytes:      cfg.MaxRequestBodyBytes,
		WebhookSecret:            cfg.SubscriptionWebhookSecret,
		IdempotencyInProgressTTL: cfg.IdempotencyInProgressTTL,
		UIFS:                     uiFS,
		OpenAPISpec:              api.OpenAPISpec,
	})

	// Seed the bootstrap admin service key.
	if err := srv.Handlers().SeedAdmin(context.Background(), cfg.AdminAPIKey); err != nil {
		return fail(fmt.Errorf("admin seed: %w", err))
	}

	return &App{
		cfg:            cfg,
		db:             db,
		srv:            srv,
		buf:            buf,
		backfill:       backfill,
		qdrantIndex:    qdrantIndex,
		grantCache:     grantCache,
		personalizeSvc: personalizeSvc,
		mcpSrv:         mcpSrv,
		limiter:        limiter,
		otelShutdown:   otelShutdown,
		logger:         logger,
		version:        version,
	}, nil
}

// Run starts all background goroutines and the HTTP server, then blocks until
// ctx is cancelled or a fatal server error occurs. On return, Shutdown is
// called automatically — callers should not call Shutdown separately.
func (a *App) Run(ctx context.Context) error {
	// Start background services.
	a.buf.Start(ctx)
	if a.backfill != nil {
		a.backfill.Start(ctx)
	}

	// Rule cache invalidation: push via LISTEN/NOTIFY when a notify
	// connection exists, periodic reload as the backstop either way.
	if a.db.NotifyConn() != nil {
		go a.personalizeSvc.Watch(ctx, a.db, storage.ChannelRulesChanged)
	} else {
		a.logger.Info("rule invalidation: polling only (no notify connection)")
	}
	go a.ruleRefreshLoop(ctx)
	go a.retentionSweepLoop(ctx)
	go a.idempotencyCleanupLoop(ctx)

	// Stdio MCP transport (for local agent hosts that spawn the process).
	if a.mcpSrv != nil && a.cfg.MCPTransport == "stdio" {
		go func() {
			if err := mcpserver.ServeStdio(a.mcpSrv.MCPServer()); err != nil && ctx.Err() == nil {
				a.logger.Error("mcp stdio transport failed", "error", err)
			}
		}()
	}

	// Start HTTP server.
	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// Block until signal or server error.
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return err
	}

	return a.Shutdown(context.Background())
}

// Shutdown performs a three-phase graceful shutdown:
// (1) stop accepting HTTP requests and drain in-flight,
// (2) flush the client event buffer to Postgres,
// (3) finish the in-flight embedding backfill batch.
// It then closes the grant cache, Qdrant connection, OTEL provider, and
// database pool.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("mindfork shutting down")

	// Phase 1: HTTP drain.
	httpCtx, httpCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownHTTPTimeout)
	if err := a.srv.Shutdown(httpCtx); err != nil {
		a.logger.Error("http shutdown error", "error", err)
	}
	httpCancel()

	// Phase 2: buffer drain.
	bufCtx, bufCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownBufferDrainTimeout)
	a.buf.Drain(bufCtx)
	if err := bufCtx.Err(); err != nil {
		a.logger.Error("event buffer drain incomplete — unflushed events will be lost",
			"error", err,
			"remaining_events", a.buf.Len(),
			"configured_timeout", a.cfg.ShutdownBufferDrainTimeout,
		)
		bufCancel()
		return fmt.Errorf("buffer drain failed: %w", err)
	}
	bufCancel()

	// Phase 3: backfill drain.
	if a.backfill != nil {
		bkCtx, bkCancel := contextWithOptionalTimeout(ctx, a.cfg.ShutdownBackfillTimeout)
		a.backfill.Drain(bkCtx)
		bkCancel()
	}

	// Cleanup.
	a.grantCache.Close()
	_ = a.limiter.Close()
	if a.qdrantIndex != nil {
		_ = a.qdrantIndex.Close()
	}
	_ = a.otelShutdown(context.Background())
	a.db.Close(context.Background())

	a.logger.Info("mindfork stopped")
	return nil
}

// ── Background loops ───────────────────────────────────────────────────────────

// ruleRefreshLoop periodically drops the prepared rule cache. This is the
// backstop for missed NOTIFY delivery (connection blips, pooler restarts);
// with push invalidation working it only bounds staleness.
func (a *App) ruleRefreshLoop(ctx context.Context) {
	if a.cfg.RuleRefreshInterval <= 0 {
		return
	}
	ticker := time.NewTicker(a.cfg.RuleRefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.personalizeSvc.Invalidate()
		}
	}
}

// retentionSweepLoop deletes client events older than the retention window.
// Uses Timescale chunk drops when the extension is installed, batched row
// deletes otherwise.
func (a *App) retentionSweepLoop(ctx context.Context) {
	if a.cfg.EventRetentionDays == 0 {
		a.logger.Info("event retention: disabled (events kept forever)")
		return
	}
	ticker := time.NewTicker(a.cfg.RetentionSweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 5*time.Minute)
			cutoff := time.Now().UTC().AddDate(0, 0, -a.cfg.EventRetentionDays)

			var deleted int64
			var err error
			if ts, tsErr := a.db.TimescaleEnabled(opCtx); tsErr == nil && ts {
				deleted, err = a.db.DropEventChunks(opCtx, cutoff)
			} else {
				deleted, err = a.db.DeleteEventsBefore(opCtx, cutoff, 5000)
			}
			cancel()

			if err != nil {
				a.logger.Warn("retention sweep failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("retention sweep removed events", "deleted", deleted, "cutoff", cutoff)
			}
		}
	}
}

func (a *App) idempotencyCleanupLoop(ctx context.Context) {
	ticker := time.NewTicker(a.cfg.IdempotencyCleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			opCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			deleted, err := a.db.CleanupIdempotencyKeys(opCtx, a.cfg.IdempotencyInProgressTTL)
			cancel()
			if err != nil {
				a.logger.Warn("idempotency cleanup failed", "error", err)
				continue
			}
			if deleted > 0 {
				a.logger.Info("idempotency cleanup deleted rows", "deleted", deleted)
			}
		}
	}
}

// ── Helpers ────────────────────────────────────────────────────────────────────

// newEmbeddingProvider creates an embedding provider based on configuration.
// Provider selection: "ollama", "hash", "none", or "auto" (default). Auto
// mode uses Ollama if reachable, else the deterministic hash provider so
// food search still has a vector path without external services.
func newEmbeddingProvider(cfg config.Config, logger *slog.Logger) embedding.Provider {
	dims := cfg.EmbeddingDimensions

	switch cfg.EmbeddingProvider {
	case "ollama":
		logger.Info("embedding provider: ollama", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
		return embedding.Dedupe(embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims))

	case "hash":
		logger.Info("embedding provider: hash (deterministic, dev/test quality)", "dimensions", dims)
		return embedding.Dedupe(embedding.NewHashProvider(dims))

	case "none":
		logger.Info("embedding provider: none (semantic food search disabled)")
		return nil

	case "auto":
		fallthrough
	default:
		if ollamaReachable(cfg.OllamaURL) {
			logger.Info("embedding provider: ollama (auto-detected)", "url", cfg.OllamaURL, "model", cfg.OllamaModel, "dimensions", dims)
			return embedding.Dedupe(embedding.NewOllamaProvider(cfg.OllamaURL, cfg.OllamaModel, dims))
		}
		logger.Warn("ollama not reachable, falling back to hash embeddings", "url", cfg.OllamaURL)
		return embedding.Dedupe(embedding.NewHashProvider(dims))
	}
}

// ollamaReachable checks if an Ollama server is responding.
func ollamaReachable(baseURL string) bool {
	c, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(c, http.MethodGet, baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return false
	}
	_ = resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// contextWithOptionalTimeout wraps ctx with a timeout when d > 0.
func contextWithOptionalTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// ── Adapters (defined here because this file imports both sides) ───────────────

// providerAdapter wraps a public EmbeddingProvider so internal packages can
// use it. Converts []float32 to pgvector.Vector at the boundary.
type providerAdapter struct {
	p EmbeddingProvider
}

func (a *providerAdapter) Dimensions() int {
	return a.p.Dimensions()
}

func (a *providerAdapter) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	vec, err := a.p.Embed(ctx, text)
	if err != nil {
		return pgvector.Vector{}, err
	}
	return pgvector.NewVector(vec), nil
}

func (a *providerAdapter) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs, err := a.p.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, err
	}
	out := make([]pgvector.Vector, len(vecs))
	for i, v := range vecs {
		out[i] = pgvector.NewVector(v)
	}
	return out, nil
}
