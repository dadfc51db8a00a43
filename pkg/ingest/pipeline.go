// Package ingest turns flushed conversation blocks into graph state: it runs
// extraction, filters by confidence, upserts entities and relations, and
// stores embedded mentions.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/papercomputeco/recall/pkg/embeddings"
	"github.com/papercomputeco/recall/pkg/eventstream"
	"github.com/papercomputeco/recall/pkg/extraction"
	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/logger"
)

const (
	DefaultMinConfidence = 0.6
	DefaultContextChars  = 500

	// DefaultChannel is the source of facts from conversations whose id has
	// no "channel:" prefix.
	DefaultChannel = "chat"

	// ManualSource and ManualContext mark facts added through AddFact.
	ManualSource  = "manual"
	ManualContext = "Manually added via agent tool"
)

// Config configures a Pipeline.
type Config struct {
	// Store receives every write. Required.
	Store graph.Driver

	// Extractor turns blocks into candidate facts. Required by Process.
	Extractor extraction.Extractor

	// Embedder is optional. Without it no mentions are stored.
	Embedder embeddings.Embedder

	// Publisher is optional. It receives an event for every stored fact.
	Publisher eventstream.Publisher

	// MinConfidence drops extracted facts below it. Nil means
	// DefaultMinConfidence; 0 keeps every fact.
	MinConfidence *float64

	// ContextChars bounds the block excerpt stored on each relation.
	ContextChars int

	Logger *slog.Logger
}

// Stats is a snapshot of the pipeline's counters.
type Stats struct {
	Extracted         int64 `json:"extracted"`
	Stored            int64 `json:"stored"`
	Skipped           int64 `json:"skipped"`
	Failed            int64 `json:"failed"`
	MentionsStored    int64 `json:"mentions_stored"`
	EmbeddingFailures int64 `json:"embedding_failures"`
}

// Result summarizes one Process call.
type Result struct {
	Extracted int
	Stored    int
	Skipped   int
	Failed    int
}

// ManualFact is a fact supplied directly by a user or agent.
type ManualFact struct {
	Subject     string `json:"subject"`
	SubjectType string `json:"subject_type,omitempty"`
	Relation    string `json:"relation"`
	Object      string `json:"object"`
	ObjectType  string `json:"object_type,omitempty"`
}

// StoredFact identifies the rows written for one fact.
type StoredFact struct {
	RelationID int64  `json:"relation_id"`
	SubjectID  int64  `json:"subject_id"`
	ObjectID   int64  `json:"object_id"`
	Statement  string `json:"fact"`
}

// Pipeline is the ingestion orchestrator.
type Pipeline struct {
	cfg           Config
	minConfidence float64
	logger        *slog.Logger

	extracted         atomic.Int64
	stored            atomic.Int64
	skipped           atomic.Int64
	failed            atomic.Int64
	mentionsStored    atomic.Int64
	embeddingFailures atomic.Int64
}

// provenance is where a fact came from.
type provenance struct {
	source   string
	sourceID string
	context  string
}

// NewPipeline validates the config and applies defaults.
func NewPipeline(cfg Config) (*Pipeline, error) {
	if cfg.Store == nil {
		return nil, errors.New("ingest pipeline requires a graph store")
	}
	if cfg.ContextChars <= 0 {
		cfg.ContextChars = DefaultContextChars
	}

	minConfidence := DefaultMinConfidence
	if cfg.MinConfidence != nil {
		minConfidence = *cfg.MinConfidence
	}

	return &Pipeline{cfg: cfg, minConfidence: minConfidence, logger: logger.OrNop(cfg.Logger)}, nil
}

// Channel returns the source channel encoded in a conversation id, the part
// before the first ":".
func Channel(conversationID string) string {
	channel, _, _ := strings.Cut(conversationID, ":")
	if channel == "" {
		return DefaultChannel
	}
	return channel
}

// Process extracts facts from block and stores the confident ones. Failures
// on one fact never stop the rest of the block.
func (p *Pipeline) Process(ctx context.Context, conversationID, block string) (Result, error) {
	if p.cfg.Extractor == nil {
		return Result{}, errors.New("ingest pipeline has no extractor")
	}

	p.logger.Debug("processing block",
		"conversation_id", conversationID,
		"chars", len(block),
	)

	facts := p.cfg.Extractor.Extract(ctx, block)
	res := Result{Extracted: len(facts)}
	p.extracted.Add(int64(len(facts)))

	if len(facts) == 0 {
		p.logger.Debug("no facts extracted from block", "conversation_id", conversationID)
		return res, nil
	}

	src := provenance{
		source:   Channel(conversationID),
		sourceID: conversationID,
		context:  graph.Truncate(block, p.cfg.ContextChars),
	}

	for _, f := range facts {
		if f.Confidence < p.minConfidence {
			res.Skipped++
			p.skipped.Add(1)
			p.logger.Debug("skipping low-confidence fact",
				"subject", f.Subject,
				"relation", f.Relation,
				"object", f.Object,
				"confidence", f.Confidence,
			)
			continue
		}

		stored, err := p.storeFact(ctx, f, src)
		if err != nil {
			res.Failed++
			p.failed.Add(1)
			p.logger.Error("failed to store fact",
				"conversation_id", conversationID,
				"subject", f.Subject,
				"relation", f.Relation,
				"object", f.Object,
				"error", err,
			)
			continue
		}

		res.Stored++
		p.logger.Info("stored fact",
			"fact", stored.Statement,
			"relation_id", stored.RelationID,
			"confidence", f.Confidence,
		)
	}

	return res, nil
}

// AddFact stores a fact with full confidence and manual provenance.
func (p *Pipeline) AddFact(ctx context.Context, mf ManualFact) (StoredFact, error) {
	if strings.TrimSpace(mf.Subject) == "" || strings.TrimSpace(mf.Relation) == "" || strings.TrimSpace(mf.Object) == "" {
		return StoredFact{}, fmt.Errorf("%w: subject, relation, and object are required", graph.ErrInvalidInput)
	}

	return p.storeFact(ctx, graph.CandidateFact{
		Subject:     mf.Subject,
		SubjectType: mf.SubjectType,
		Relation:    mf.Relation,
		Object:      mf.Object,
		ObjectType:  mf.ObjectType,
		Confidence:  1.0,
	}, provenance{source: ManualSource, context: ManualContext})
}

func (p *Pipeline) storeFact(ctx context.Context, f graph.CandidateFact, src provenance) (StoredFact, error) {
	subjectID, err := p.cfg.Store.GetOrCreateEntity(ctx, f.Subject, graph.NormalizeType(f.SubjectType), nil)
	if err != nil {
		return StoredFact{}, fmt.Errorf("resolving subject: %w", err)
	}

	objectID, err := p.cfg.Store.GetOrCreateEntity(ctx, f.Object, graph.NormalizeType(f.ObjectType), nil)
	if err != nil {
		return StoredFact{}, fmt.Errorf("resolving object: %w", err)
	}

	label := graph.NormalizeRelation(f.Relation)
	relationID, err := p.cfg.Store.StoreRelation(ctx, &graph.Relation{
		SubjectID:  subjectID,
		Relation:   label,
		ObjectID:   objectID,
		Confidence: f.Confidence,
		Source:     src.source,
		SourceID:   src.sourceID,
		Context:    src.context,
	})
	if err != nil {
		return StoredFact{}, fmt.Errorf("storing relation: %w", err)
	}
	p.stored.Add(1)

	stored := StoredFact{
		RelationID: relationID,
		SubjectID:  subjectID,
		ObjectID:   objectID,
		Statement:  fmt.Sprintf("%s --[%s]--> %s", f.Subject, label, f.Object),
	}

	p.storeMentions(ctx, graph.MentionText(f.Subject, label, f.Object), stored, src)
	p.publish(ctx, f, label, stored, src)

	return stored, nil
}

// storeMentions embeds the fact once and anchors it to both entities. The
// relation is already durable, so failures here are only logged.
func (p *Pipeline) storeMentions(ctx context.Context, text string, stored StoredFact, src provenance) {
	if p.cfg.Embedder == nil {
		return
	}

	embedding, err := p.cfg.Embedder.Embed(ctx, text)
	if err != nil {
		p.embeddingFailures.Add(1)
		p.logger.Warn("failed to embed mention",
			"relation_id", stored.RelationID,
			"error", err,
		)
		return
	}

	for _, entityID := range []int64{stored.SubjectID, stored.ObjectID} {
		_, err := p.cfg.Store.StoreMention(ctx, &graph.Mention{
			EntityID:    entityID,
			MentionText: text,
			Embedding:   embedding,
			Source:      src.source,
			SourceID:    src.sourceID,
		})
		if err != nil {
			p.logger.Warn("failed to store mention",
				"entity_id", entityID,
				"error", err,
			)
			continue
		}
		p.mentionsStored.Add(1)
	}
}

func (p *Pipeline) publish(ctx context.Context, f graph.CandidateFact, label string, stored StoredFact, src provenance) {
	if p.cfg.Publisher == nil {
		return
	}

	event := eventstream.NewFactStoredEvent(
		eventstream.EventSource{Channel: src.source, ConversationID: src.sourceID},
		eventstream.FactPayload{
			RelationID: stored.RelationID,
			SubjectID:  stored.SubjectID,
			ObjectID:   stored.ObjectID,
			Subject:    f.Subject,
			Relation:   label,
			Object:     f.Object,
			Confidence: f.Confidence,
		},
	)

	if err := p.cfg.Publisher.PublishFact(ctx, event); err != nil {
		p.logger.Warn("failed to publish fact event",
			"relation_id", stored.RelationID,
			"error", err,
		)
	}
}

// Stats snapshots the pipeline counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		Extracted:         p.extracted.Load(),
		Stored:            p.stored.Load(),
		Skipped:           p.skipped.Load(),
		Failed:            p.failed.Load(),
		MentionsStored:    p.mentionsStored.Load(),
		EmbeddingFailures: p.embeddingFailures.Load(),
	}
}
