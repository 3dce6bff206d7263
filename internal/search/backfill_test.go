package search

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mindfork/mindfork/internal/model"
	"github.com/mindfork/mindfork/internal/service/embedding"
)

// fakeBackfillStore serves pending foods and dequeues them when their
// embedding is written, like the NULL-embedding queue in Postgres.
type fakeBackfillStore struct {
	mu      sync.Mutex
	pending []model.Food
	stored  map[uuid.UUID]pgvector.Vector
	setErr  error
}

func newFakeBackfillStore(foods ...model.Food) *fakeBackfillStore {
	return &fakeBackfillStore{pending: foods, stored: make(map[uuid.UUID]pgvector.Vector)}
}

func (f *fakeBackfillStore) FoodsMissingEmbedding(_ context.Context, limit int) ([]model.Food, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.pending) < limit {
		limit = len(f.pending)
	}
	out := make([]model.Food, limit)
	copy(out, f.pending[:limit])
	return out, nil
}

func (f *fakeBackfillStore) CountFoodsMissingEmbedding(context.Context) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return int64(len(f.pending)), nil
}

func (f *fakeBackfillStore) SetFoodEmbedding(_ context.Context, id uuid.UUID, emb pgvector.Vector) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.setErr != nil {
		return f.setErr
	}
	f.stored[id] = emb
	for i, fd := range f.pending {
		if fd.ID == id {
			f.pending = append(f.pending[:i], f.pending[i+1:]...)
			break
		}
	}
	return nil
}

func (f *fakeBackfillStore) pendingCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.pending)
}

func (f *fakeBackfillStore) storedCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.stored)
}

type fakeIndexer struct {
	mu      sync.Mutex
	batches [][]FoodPoint
	failN   int // fail the first N calls
	calls   int
}

func (f *fakeIndexer) Upsert(_ context.Context, points []FoodPoint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.calls <= f.failN {
		return errors.New("qdrant unavailable")
	}
	f.batches = append(f.batches, points)
	return nil
}

func (f *fakeIndexer) indexed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, b := range f.batches {
		n += len(b)
	}
	return n
}

func TestBackfillEmbedsPendingFoods(t *testing.T) {
	store := newFakeBackfillStore(food("Apple"), food("Banana"), food("Tofu", "vegan"))
	index := &fakeIndexer{}
	bf := NewBackfill(store, embedding.NewHashProvider(64), index, testLogger(), 10*time.Millisecond, 10)

	bf.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bf.Drain(ctx)
	}()

	assert.Eventually(t, func() bool {
		return store.pendingCount() == 0
	}, 2*time.Second, 10*time.Millisecond, "all pending foods should drain")

	assert.Equal(t, 3, store.storedCount())
	assert.Equal(t, 3, index.indexed())
	for _, v := range store.stored {
		assert.Len(t, v.Slice(), 64)
	}
}

func TestBackfillIndexFailureKeepsRowsQueued(t *testing.T) {
	store := newFakeBackfillStore(food("Apple"), food("Banana"))
	index := &fakeIndexer{failN: 1}
	bf := NewBackfill(store, embedding.NewHashProvider(64), index, testLogger(), 10*time.Millisecond, 10)

	bf.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bf.Drain(ctx)
	}()

	// First poll fails at the index; nothing is dequeued. The next poll
	// retries the same rows and succeeds.
	assert.Eventually(t, func() bool {
		return store.pendingCount() == 0
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 2, store.storedCount())
	assert.Equal(t, 2, index.indexed(), "retried rows are upserted exactly once")
}

func TestBackfillNilIndexStoresEmbeddingsOnly(t *testing.T) {
	store := newFakeBackfillStore(food("Apple"))
	bf := NewBackfill(store, embedding.NewHashProvider(64), nil, testLogger(), 10*time.Millisecond, 10)

	bf.Start(context.Background())
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		bf.Drain(ctx)
	}()

	assert.Eventually(t, func() bool {
		return store.storedCount() == 1
	}, 2*time.Second, 10*time.Millisecond)
}

func TestBackfillDrainRunsFinalBatch(t *testing.T) {
	store := newFakeBackfillStore(food("Apple"))
	index := &fakeIndexer{}
	// Poll interval far beyond the test duration: only the drain path can
	// process the batch.
	bf := NewBackfill(store, embedding.NewHashProvider(64), index, testLogger(), time.Hour, 10)

	bf.Start(context.Background())

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	bf.Drain(ctx)

	assert.Equal(t, 0, store.pendingCount())
	assert.Equal(t, 1, store.storedCount())
}

func TestBackfillDrainWithoutStart(t *testing.T) {
	// Drain without Start: cancelLoop is nil and done is never closed, so
	// Drain returns via the context deadline without panicking.
	bf := NewBackfill(newFakeBackfillStore(), embedding.NewHashProvider(64), nil, testLogger(), time.Second, 10)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	bf.Drain(ctx)
	assert.ErrorIs(t, ctx.Err(), context.DeadlineExceeded)
}

func TestBackfillDoubleStartIsNoop(t *testing.T) {
	store := newFakeBackfillStore()
	bf := NewBackfill(store, embedding.NewHashProvider(64), nil, testLogger(), time.Hour, 10)

	bf.Start(context.Background())
	bf.Start(context.Background())
	require.True(t, bf.started.Load())

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	bf.Drain(ctx)
}
