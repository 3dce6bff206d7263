package search

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"go.opentelemetry.io/otel/metric"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/service/embedding"
	"github.com/mindfork/mindfork/internal/telemetry"
)

// BackfillStore is the Postgres surface the backfill worker needs. Foods with
// a NULL embedding column are the work queue; writing the embedding dequeues
// the row.
type BackfillStore interface {
	FoodsMissingEmbedding(ctx context.Context, limit int) ([]model.Food, error)
	CountFoodsMissingEmbedding(ctx context.Context) (int64, error)
	SetFoodEmbedding(ctx context.Context, id uuid.UUID, embedding pgvector.Vector) error
}

// Indexer receives points for foods the backfill has embedded.
type Indexer interface {
	Upsert(ctx context.Context, points []FoodPoint) error
}

// Backfill polls for catalog foods without embeddings, embeds them, and
// pushes them into the external index. New foods land in Postgres without an
// embedding and become searchable on the next poll.
type Backfill struct {
	store        BackfillStore
	provider     embedding.Provider
	index        Indexer // nil skips the external index
	logger       *slog.Logger
	pollInterval time.Duration
	batchSize    int

	started    atomic.Bool
	cancelLoop context.CancelFunc
	done       chan struct{}
	once       sync.Once
	drainCh    chan context.Context // carries the drain context to pollLoop for the final poll
}

// NewBackfill creates a backfill worker.
func NewBackfill(store BackfillStore, provider embedding.Provider, index Indexer, logger *slog.Logger, pollInterval time.Duration, batchSize int) *Backfill {
	return &Backfill{
		store:        store,
		provider:     provider,
		index:        index,
		logger:       logger,
		pollInterval: pollInterval,
		batchSize:    batchSize,
		done:         make(chan struct{}),
		drainCh:      make(chan context.Context, 1),
	}
}

// Start begins the background poll loop. It is safe to call only once;
// subsequent calls are no-ops and log a warning.
func (b *Backfill) Start(ctx context.Context) {
	if !b.started.CompareAndSwap(false, true) {
		b.logger.Warn("search backfill: Start called more than once, ignoring")
		return
	}
	b.registerMetrics()
	loopCtx, cancel := context.WithCancel(ctx)
	b.cancelLoop = cancel
	go b.pollLoop(loopCtx)
}

// Drain signals the poll loop to stop, runs one final batch, and blocks until
// done or the context expires. The ctx parameter is passed to the final batch
// so it respects the caller's deadline.
func (b *Backfill) Drain(ctx context.Context) {
	// Send the drain context to pollLoop via channel (race-free).
	// Must be sent before cancelLoop so pollLoop can receive it on ctx.Done().
	select {
	case b.drainCh <- ctx:
	default:
	}
	if b.cancelLoop != nil {
		b.cancelLoop()
	}
	select {
	case <-b.done:
	case <-ctx.Done():
		b.logger.Warn("search backfill: drain timed out")
	}
}

func (b *Backfill) pollLoop(ctx context.Context) {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			// Final batch: prefer the drain context (sent by Drain via
			// channel) so it respects the caller's deadline.
			var drainCtx context.Context
			select {
			case drainCtx = <-b.drainCh:
			default:
			}
			if drainCtx != nil {
				b.processBatch(drainCtx)
			} else {
				// Fallback for direct cancellation without Drain (e.g., tests).
				fallbackCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				b.processBatch(fallbackCtx)
				cancel()
			}
			b.once.Do(func() { close(b.done) })
			return
		case <-ticker.C:
			batchCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
			b.processBatch(batchCtx)
			cancel()
		}
	}
}

func (b *Backfill) processBatch(ctx context.Context) {
	foods, err := b.store.FoodsMissingEmbedding(ctx, b.batchSize)
	if err != nil {
		b.logger.Error("search backfill: fetch pending foods", "error", err)
		return
	}
	if len(foods) == 0 {
		return
	}

	texts := make([]string, len(foods))
	for i, f := range foods {
		texts[i] = FoodText(f)
	}
	vecs, err := b.provider.EmbedBatch(ctx, texts)
	if err != nil {
		b.logger.Error("search backfill: embed batch", "error", err, "count", len(texts))
		return
	}

	// The index write happens before the embedding write: a failed upsert
	// leaves every row queued for the next poll, and the upsert is
	// idempotent on retry.
	if b.index != nil {
		points := make([]FoodPoint, len(foods))
		for i, f := range foods {
			points[i] = FoodPointFrom(f, vecs[i].Slice())
		}
		if err := b.index.Upsert(ctx, points); err != nil {
			b.logger.Error("search backfill: index upsert", "error", err, "count", len(points))
			return
		}
	}

	stored := 0
	for i, f := range foods {
		if err := b.store.SetFoodEmbedding(ctx, f.ID, vecs[i]); err != nil {
			b.logger.Error("search backfill: store embedding", "error", err, "food_id", f.ID)
			continue
		}
		stored++
	}
	b.logger.Info("search backfill: embedded foods", "count", stored)
}

// registerMetrics registers an OTEL gauge observing the backfill backlog.
func (b *Backfill) registerMetrics() {
	meter := telemetry.Meter("mindfork/search")

	_, _ = meter.Int64ObservableGauge("mindfork.search.backfill_backlog",
		metric.WithDescription("Number of catalog foods awaiting an embedding"),
		metric.WithInt64Callback(func(ctx context.Context, o metric.Int64Observer) error {
			n, err := b.store.CountFoodsMissingEmbedding(ctx)
			if err != nil {
				return nil // Non-fatal: just skip this observation.
			}
			o.Observe(n)
			return nil
		}),
	)
}
