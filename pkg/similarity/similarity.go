// Package similarity ranks stored mentions against a query vector by brute
// force and projects the ranking onto entities and facts.
package similarity

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"slices"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/logger"
)

const (
	// DefaultSearchLimit is used when SearchByVector is given no limit.
	DefaultSearchLimit = 10

	// DefaultSimilarLimit is used when FindSimilarEntities is given no limit.
	DefaultSimilarLimit = 5

	// candidateFactor bounds the distinct entities considered per search.
	candidateFactor = 3

	// factFactor bounds the facts collected before the final sort.
	factFactor = 2
)

// Engine searches a graph.VectorSource. It holds no state between calls.
type Engine struct {
	source graph.VectorSource
	logger *slog.Logger
}

// NewEngine creates an engine over source.
func NewEngine(source graph.VectorSource, log *slog.Logger) *Engine {
	return &Engine{
		source: source,
		logger: logger.OrNop(log),
	}
}

// CosineSimilarity is the dot product divided by the product of magnitudes.
// Vectors of different length, empty vectors and zero vectors score -1.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return -1
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}

	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return -1
	}

	sim := dot / denom
	if math.IsNaN(sim) {
		return -1
	}
	return sim
}

type entityScore struct {
	entityID   int64
	similarity float64
}

// score rates every mention against query, best first.
func (e *Engine) score(ctx context.Context, query []float32) ([]entityScore, error) {
	vectors, err := e.source.AllMentionVectors(ctx)
	if err != nil {
		return nil, fmt.Errorf("loading mention vectors: %w", err)
	}

	mismatched := 0
	scored := make([]entityScore, 0, len(vectors))
	for _, v := range vectors {
		if len(v.Embedding) != len(query) {
			mismatched++
		}
		scored = append(scored, entityScore{
			entityID:   v.EntityID,
			similarity: CosineSimilarity(query, v.Embedding),
		})
	}

	if mismatched > 0 {
		e.logger.Debug("mentions with mismatched embedding dimensions",
			"count", mismatched,
			"query_dimensions", len(query),
		)
	}

	slices.SortStableFunc(scored, byScoreDesc)
	return scored, nil
}

func byScoreDesc(a, b entityScore) int {
	switch {
	case a.similarity > b.similarity:
		return -1
	case a.similarity < b.similarity:
		return 1
	default:
		return 0
	}
}

// SearchByVector returns at most limit facts ranked by the best mention
// similarity of the entity that led to them. No relation appears twice.
func (e *Engine) SearchByVector(ctx context.Context, query []float32, limit int) ([]graph.Fact, error) {
	if limit <= 0 {
		limit = DefaultSearchLimit
	}

	scored, err := e.score(ctx, query)
	if err != nil {
		return nil, err
	}
	if len(scored) == 0 {
		return []graph.Fact{}, nil
	}

	// Best score per entity, in descending order, until the pool is full.
	seen := make(map[int64]bool)
	var candidates []entityScore
	for _, s := range scored {
		if seen[s.entityID] {
			continue
		}
		seen[s.entityID] = true
		candidates = append(candidates, s)
		if len(candidates) >= limit*candidateFactor {
			break
		}
	}

	emitted := make(map[int64]bool)
	facts := []graph.Fact{}
	for _, c := range candidates {
		entityFacts, err := e.source.FactsForEntity(ctx, c.entityID)
		if err != nil {
			return nil, fmt.Errorf("loading facts for entity %d: %w", c.entityID, err)
		}

		for _, f := range entityFacts {
			if emitted[f.RelationID] {
				continue
			}
			emitted[f.RelationID] = true

			sim := c.similarity
			f.Similarity = &sim
			facts = append(facts, f)
		}

		if len(facts) >= limit*factFactor {
			break
		}
	}

	slices.SortStableFunc(facts, func(a, b graph.Fact) int {
		return byScoreDesc(entityScore{similarity: *a.Similarity}, entityScore{similarity: *b.Similarity})
	})
	if len(facts) > limit {
		facts = facts[:limit]
	}

	e.logger.Debug("vector search",
		"mentions", len(scored),
		"candidates", len(candidates),
		"facts", len(facts),
	)

	return facts, nil
}

// FindSimilarEntities ranks entities by their best mention similarity.
// Every mention is scored; there is no candidate cap.
func (e *Engine) FindSimilarEntities(ctx context.Context, query []float32, limit int) ([]graph.ScoredEntity, error) {
	if limit <= 0 {
		limit = DefaultSimilarLimit
	}

	scored, err := e.score(ctx, query)
	if err != nil {
		return nil, err
	}

	seen := make(map[int64]bool)
	results := []graph.ScoredEntity{}
	for _, s := range scored {
		if seen[s.entityID] {
			continue
		}
		seen[s.entityID] = true

		entity, err := e.source.GetEntity(ctx, s.entityID)
		if graph.IsNotFound(err) {
			// Merged away between the two reads.
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("loading entity %d: %w", s.entityID, err)
		}

		results = append(results, graph.ScoredEntity{Entity: *entity, Similarity: s.similarity})
		if len(results) >= limit {
			break
		}
	}

	return results, nil
}
