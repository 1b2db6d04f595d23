// Package index implements the semantic candidate index: one embedding
// per catalog item, built once at startup, with top-k retrieval by
// free-text query. The index is immutable after build, so the request
// path reads it without locking.
package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sort"

	"golang.org/x/sync/errgroup"

	"github.com/Veraticus/flowmatch/internal/common"
	"github.com/Veraticus/flowmatch/internal/model"
)

const (
	// MaxTopK bounds k to keep downstream adjudication prompts small.
	MaxTopK = 10

	// embedBatchSize is how many catalog texts go into one embedding call.
	embedBatchSize = 64

	// embedConcurrency bounds parallel embedding calls during build.
	embedConcurrency = 4
)

// Embedder computes one embedding vector per input text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float64, error)
}

// Result is one search hit.
type Result struct {
	Item  model.CandidateItem
	Score float64
}

// Index holds the embedded catalog. Safe for concurrent reads.
type Index struct {
	embedder   Embedder
	candidates []model.IndexedCandidate
}

// Build embeds the whole catalog and returns a ready index. A failure to
// reach the embedding backend is fatal: there is no useful degraded mode
// for an empty index, so the caller must not start serving.
func Build(ctx context.Context, embedder Embedder, catalog []model.CandidateItem) (*Index, error) {
	for i := range catalog {
		if err := catalog[i].Validate(); err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrIndexBuild, err)
		}
	}

	candidates := make([]model.IndexedCandidate, len(catalog))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(embedConcurrency)

	for start := 0; start < len(catalog); start += embedBatchSize {
		end := start + embedBatchSize
		if end > len(catalog) {
			end = len(catalog)
		}
		batch := catalog[start:end]
		offset := start

		g.Go(func() error {
			texts := make([]string, len(batch))
			for i := range batch {
				texts[i] = batch[i].EmbeddingText()
			}

			embeddings, err := embedder.Embed(gctx, texts)
			if err != nil {
				return fmt.Errorf("embedding batch at offset %d: %w", offset, err)
			}
			if len(embeddings) != len(batch) {
				return fmt.Errorf("embedding batch at offset %d: expected %d vectors, got %d", offset, len(batch), len(embeddings))
			}

			for i := range batch {
				candidates[offset+i] = model.IndexedCandidate{
					Item:      batch[i],
					Embedding: embeddings[i],
				}
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrIndexBuild, err)
	}

	slog.Info("candidate index built", "candidates", len(candidates))

	return &Index{embedder: embedder, candidates: candidates}, nil
}

// Len returns the number of indexed candidates.
func (idx *Index) Len() int {
	return len(idx.candidates)
}

// Search returns up to k candidates ordered by similarity descending,
// ties broken by catalog insertion order. An empty index yields an empty
// result, never an error: "no semantic matches" is a normal outcome.
func (idx *Index) Search(ctx context.Context, query string, k int) ([]Result, error) {
	if len(idx.candidates) == 0 || k <= 0 {
		return []Result{}, nil
	}
	if k > MaxTopK {
		k = MaxTopK
	}

	vectors, err := idx.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embedding query: %w", err)
	}
	if len(vectors) != 1 {
		return nil, fmt.Errorf("expected 1 query vector, got %d", len(vectors))
	}
	queryVec := vectors[0]

	results := make([]Result, 0, len(idx.candidates))
	for i := range idx.candidates {
		results = append(results, Result{
			Item:  idx.candidates[i].Item,
			Score: cosineSimilarity(queryVec, idx.candidates[i].Embedding),
		})
	}

	// Stable sort keeps insertion order for equal scores.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})

	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

// cosineSimilarity returns 0 for mismatched or zero-magnitude vectors.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}

	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
