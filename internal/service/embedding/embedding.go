// Package embedding provides vector embedding generation for semantic food
// search.
//
// Defines a Provider interface with an Ollama-backed implementation and a
// deterministic hashing fallback. The fallback keeps search exercisable in
// tests and development environments where no model server is running.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"math"

	"github.com/pgvector/pgvector-go"
	"golang.org/x/sync/singleflight"
)

// Provider generates vector embeddings from text.
type Provider interface {
	// Embed generates a single embedding vector from text.
	Embed(ctx context.Context, text string) (pgvector.Vector, error)

	// EmbedBatch generates embeddings for multiple texts.
	EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error)

	// Dimensions returns the embedding vector dimensionality.
	Dimensions() int
}

// HashProvider derives embeddings from a hash of the text. The output is
// deterministic and L2-normalized: identical text always lands on the same
// unit vector, so similarity ranking is stable without a model server.
// Semantically it is nonsense; it exists so the search path can run end to
// end in tests and dev setups.
type HashProvider struct {
	dims int
}

// NewHashProvider creates a deterministic hashing provider.
func NewHashProvider(dims int) *HashProvider {
	return &HashProvider{dims: dims}
}

// Dimensions returns the embedding vector size.
func (p *HashProvider) Dimensions() int {
	return p.dims
}

// Embed maps text onto a deterministic unit vector.
func (p *HashProvider) Embed(_ context.Context, text string) (pgvector.Vector, error) {
	vec := make([]float32, p.dims)

	// Each hash block yields eight float32 components in [-1, 1].
	var counter [4]byte
	for i := 0; i < p.dims; i += 8 {
		h := sha256.New()
		h.Write([]byte(text))
		binary.BigEndian.PutUint32(counter[:], uint32(i/8))
		h.Write(counter[:])
		block := h.Sum(nil)
		for j := 0; j < 8 && i+j < p.dims; j++ {
			u := binary.BigEndian.Uint32(block[j*4 : j*4+4])
			vec[i+j] = float32(u)/float32(math.MaxUint32)*2 - 1
		}
	}

	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	if norm > 0 {
		inv := float32(1 / math.Sqrt(norm))
		for i := range vec {
			vec[i] *= inv
		}
	}
	return pgvector.NewVector(vec), nil
}

// EmbedBatch maps each text onto its deterministic unit vector.
func (p *HashProvider) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	vecs := make([]pgvector.Vector, len(texts))
	for i, t := range texts {
		v, err := p.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		vecs[i] = v
	}
	return vecs, nil
}

// deduped collapses concurrent Embed calls for the same text into one
// upstream request. Search traffic is bursty and repetitive (everyone types
// "chicken"), so this takes real load off a single local model server.
type deduped struct {
	provider Provider
	group    singleflight.Group
}

// Dedupe wraps a provider so concurrent embeddings of identical text share
// one upstream call. Batch calls pass through; the backfill already dedups
// its own work via the queue.
func Dedupe(p Provider) Provider {
	return &deduped{provider: p}
}

func (d *deduped) Dimensions() int {
	return d.provider.Dimensions()
}

func (d *deduped) Embed(ctx context.Context, text string) (pgvector.Vector, error) {
	v, err, _ := d.group.Do(text, func() (any, error) {
		return d.provider.Embed(ctx, text)
	})
	if err != nil {
		return pgvector.Vector{}, err
	}
	return v.(pgvector.Vector), nil
}

func (d *deduped) EmbedBatch(ctx context.Context, texts []string) ([]pgvector.Vector, error) {
	return d.provider.EmbedBatch(ctx, texts)
}
