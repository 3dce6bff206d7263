package embedding

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
)

// fakeOllama returns a test server that answers /api/embeddings with a
// deterministic vector derived from the prompt length.
func fakeOllama(t *testing.T, dims int, calls *atomic.Int32) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/embeddings" {
			t.Errorf("unexpected path %s", r.URL.Path)
			http.NotFound(w, r)
			return
		}
		if calls != nil {
			calls.Add(1)
		}

		var req struct {
			Model  string `json:"model"`
			Prompt string `json:"prompt"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.Model == "" {
			http.Error(w, "model required", http.StatusBadRequest)
			return
		}

		vec := make([]float32, dims)
		for i := range vec {
			vec[i] = float32(len(req.Prompt))
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"embedding": vec})
	}))
}

func TestOllamaProviderEmbed(t *testing.T) {
	srv := fakeOllama(t, 8, nil)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "mxbai-embed-large", 8)
	if p.Dimensions() != 8 {
		t.Fatalf("Dimensions() = %d, want 8", p.Dimensions())
	}

	vec, err := p.Embed(context.Background(), "tofu")
	if err != nil {
		t.Fatal(err)
	}
	if got := len(vec.Slice()); got != 8 {
		t.Fatalf("vector length = %d, want 8", got)
	}
	if vec.Slice()[0] != 4 { // len("tofu")
		t.Errorf("unexpected vector value %v", vec.Slice()[0])
	}
}

func TestOllamaProviderEmbedBatchPreservesOrder(t *testing.T) {
	var calls atomic.Int32
	srv := fakeOllama(t, 4, &calls)
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "mxbai-embed-large", 4)

	texts := make([]string, 20)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}

	vecs, err := p.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatal(err)
	}
	if len(vecs) != len(texts) {
		t.Fatalf("got %d vectors, want %d", len(vecs), len(texts))
	}
	// The fake encodes the prompt length, so order survives concurrency.
	for i, v := range vecs {
		if v.Slice()[0] != float32(i+1) {
			t.Errorf("vector %d carries value %v, want %d", i, v.Slice()[0], i+1)
		}
	}
	if int(calls.Load()) != len(texts) {
		t.Errorf("server saw %d calls, want %d", calls.Load(), len(texts))
	}
}

func TestOllamaProviderEmbedBatchEmpty(t *testing.T) {
	p := NewOllamaProvider("http://localhost:0", "m", 4)
	vecs, err := p.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatal(err)
	}
	if vecs != nil {
		t.Errorf("expected nil result for empty input, got %v", vecs)
	}
}

func TestOllamaProviderServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "nope", 4)
	if _, err := p.Embed(context.Background(), "tofu"); err == nil {
		t.Fatal("expected error for non-200 response")
	} else if !strings.Contains(err.Error(), "status 404") {
		t.Errorf("error should carry the status code, got: %v", err)
	}
}

func TestOllamaProviderEmptyEmbedding(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprint(w, `{"embedding": []}`)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "m", 4)
	if _, err := p.Embed(context.Background(), "tofu"); err == nil {
		t.Fatal("expected error for empty embedding")
	}
}
