// Package query provides the knowledge graph query surface shared by the
// REST API, the MCP server and the CLI.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/papercomputeco/recall/pkg/buffer"
	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/ingest"
	"github.com/papercomputeco/recall/pkg/logger"
	"github.com/papercomputeco/recall/pkg/similarity"
)

// DefaultLimit applies to every query given a non-positive limit.
const DefaultLimit = 10

// Config wires the service to its collaborators. Only Store is required.
type Config struct {
	Store graph.Driver

	// Embedder vectorizes queries for Search and Similar.
	Embedder embeddings.Embedder

	// Pipeline stores manual facts and reports ingestion counters.
	Pipeline *ingest.Pipeline

	// Buffer reports per-conversation window stats.
	Buffer *buffer.Buffer

	Logger *slog.Logger
}

// Service answers knowledge graph queries.
type Service struct {
	store    graph.Driver
	engine   *similarity.Engine
	embedder embeddings.Embedder
	pipeline *ingest.Pipeline
	buffer   *buffer.Buffer
	logger   *slog.Logger
}

// NewService creates a query service.
func NewService(c Config) (*Service, error) {
	if c.Store == nil {
		return nil, errors.New("graph store is required")
	}

	log := logger.OrNop(c.Logger)
	return &Service{
		store:    c.Store,
		engine:   similarity.NewEngine(c.Store, log),
		embedder: c.Embedder,
		pipeline: c.Pipeline,
		buffer:   c.Buffer,
		logger:   log,
	}, nil
}

// SearchOutput is the result of a semantic search.
type SearchOutput struct {
	Query   string       `json:"query"`
	Results []graph.Fact `json:"results"`
	Count   int          `json:"count"`
}

// FactsOutput lists facts matching an entity or relation, or the most recent.
type FactsOutput struct {
	Entity   string       `json:"entity,omitempty"`
	Relation string       `json:"relation,omitempty"`
	Facts    []graph.Fact `json:"facts"`
	Count    int          `json:"count"`
}

// SimilarOutput lists entities ranked by similarity to a name.
type SimilarOutput struct {
	Entity  string               `json:"entity"`
	Similar []graph.ScoredEntity `json:"similar"`
	Count   int                  `json:"count"`
}

// MergeOutput reports a completed merge.
type MergeOutput struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// AddOutput reports a manually added fact.
type AddOutput struct {
	Success    bool   `json:"success"`
	Fact       string `json:"fact"`
	RelationID int64  `json:"relation_id"`
}

// MentionsOutput lists an entity's mentions.
type MentionsOutput struct {
	Entity   string          `json:"entity"`
	EntityID int64           `json:"entity_id"`
	Mentions []graph.Mention `json:"mentions"`
	Count    int             `json:"count"`
}

// StatsOutput combines store counts with ingestion and buffer state.
type StatsOutput struct {
	Entities       int64                               `json:"entities"`
	Relations      int64                               `json:"relations"`
	Mentions       int64                               `json:"mentions"`
	TotalExtracted int64                               `json:"total_extracted"`
	TotalStored    int64                               `json:"total_stored"`
	Pipeline       *ingest.Stats                       `json:"pipeline,omitempty"`
	ActiveBuffers  int                                 `json:"active_buffers"`
	Buffers        map[string]buffer.ConversationStats `json:"buffers,omitempty"`
}

func limitOr(limit int) int {
	if limit <= 0 {
		return DefaultLimit
	}
	return limit
}

func required(value, name string) error {
	if strings.TrimSpace(value) == "" {
		return fmt.Errorf("%w: %s is required", graph.ErrInvalidInput, name)
	}
	return nil
}

func (s *Service) embed(ctx context.Context, text string) ([]float32, error) {
	if s.embedder == nil {
		return nil, embeddings.ErrNotConfigured
	}

	vec, err := s.embedder.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	return vec, nil
}

// Search ranks facts by semantic similarity to the query text.
func (s *Service) Search(ctx context.Context, query string, limit int) (*SearchOutput, error) {
	if err := required(query, "query"); err != nil {
		return nil, err
	}

	s.logger.Debug("search request", "query", query, "limit", limit)

	vec, err := s.embed(ctx, query)
	if err != nil {
		return nil, err
	}

	facts, err := s.engine.SearchByVector(ctx, vec, limitOr(limit))
	if err != nil {
		return nil, err
	}

	return &SearchOutput{Query: query, Results: facts, Count: len(facts)}, nil
}

// Entity lists facts whose subject or object name contains name.
func (s *Service) Entity(ctx context.Context, name string, limit int) (*FactsOutput, error) {
	if err := required(name, "entity"); err != nil {
		return nil, err
	}

	facts, err := s.store.SearchByEntity(ctx, name, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return &FactsOutput{Entity: name, Facts: facts, Count: len(facts)}, nil
}

// Relation lists facts with the given relation label.
func (s *Service) Relation(ctx context.Context, label string, limit int) (*FactsOutput, error) {
	if err := required(label, "relation"); err != nil {
		return nil, err
	}

	facts, err := s.store.SearchByRelation(ctx, label, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return &FactsOutput{Relation: label, Facts: facts, Count: len(facts)}, nil
}

// Recent lists the newest facts.
func (s *Service) Recent(ctx context.Context, limit int) (*FactsOutput, error) {
	facts, err := s.store.GetAllFacts(ctx, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return &FactsOutput{Facts: facts, Count: len(facts)}, nil
}

// Similar ranks entities by how close their mentions are to name.
func (s *Service) Similar(ctx context.Context, name string, limit int) (*SimilarOutput, error) {
	if err := required(name, "entity"); err != nil {
		return nil, err
	}

	vec, err := s.embed(ctx, name)
	if err != nil {
		return nil, err
	}

	similar, err := s.engine.FindSimilarEntities(ctx, vec, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return &SimilarOutput{Entity: name, Similar: similar, Count: len(similar)}, nil
}

// Merge folds the entity named from into the entity named into.
func (s *Service) Merge(ctx context.Context, from, into string) (*MergeOutput, error) {
	if err := required(from, "merge_from"); err != nil {
		return nil, err
	}
	if err := required(into, "merge_into"); err != nil {
		return nil, err
	}

	if err := s.store.DeduplicateEntities(ctx, into, from); err != nil {
		return nil, err
	}

	return &MergeOutput{
		Success: true,
		Message: fmt.Sprintf("Merged %q into %q", from, into),
	}, nil
}

// Add stores a manual fact.
func (s *Service) Add(ctx context.Context, fact ingest.ManualFact) (*AddOutput, error) {
	if s.pipeline == nil {
		return nil, errors.New("ingest pipeline is not configured")
	}

	stored, err := s.pipeline.AddFact(ctx, fact)
	if err != nil {
		return nil, err
	}
	return &AddOutput{Success: true, Fact: stored.Statement, RelationID: stored.RelationID}, nil
}

// Mentions lists the mentions of the entity best matching name.
func (s *Service) Mentions(ctx context.Context, name string, limit int) (*MentionsOutput, error) {
	if err := required(name, "entity"); err != nil {
		return nil, err
	}

	id, err := s.store.GetEntityID(ctx, name)
	if err != nil {
		return nil, err
	}

	mentions, err := s.store.GetMentions(ctx, id, limitOr(limit))
	if err != nil {
		return nil, err
	}
	return &MentionsOutput{Entity: name, EntityID: id, Mentions: mentions, Count: len(mentions)}, nil
}

// Stats reports graph counts plus ingestion and buffer state when available.
func (s *Service) Stats(ctx context.Context) (*StatsOutput, error) {
	counts, err := s.store.GetStats(ctx)
	if err != nil {
		return nil, err
	}

	out := &StatsOutput{
		Entities:  counts.Entities,
		Relations: counts.Relations,
		Mentions:  counts.Mentions,
	}

	if s.pipeline != nil {
		ps := s.pipeline.Stats()
		out.Pipeline = &ps
		out.TotalExtracted = ps.Extracted
		out.TotalStored = ps.Stored
	}

	if s.buffer != nil {
		out.Buffers = s.buffer.Stats()
		out.ActiveBuffers = len(out.Buffers)
	}

	return out, nil
}
