package graph

import "time"

// DefaultEntityType is assigned to entities whose type is not yet known.
const DefaultEntityType = "unknown"

// Entity is a deduplicated node in the graph, keyed by its canonical name.
type Entity struct {
	ID            int64          `json:"id"`
	Name          string         `json:"name"`
	CanonicalName string         `json:"canonical_name"`
	Type          string         `json:"type"`
	Properties    map[string]any `json:"properties,omitempty"`
	CreatedAt     time.Time      `json:"created_at"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Relation is a directed, labeled edge between two entities.
type Relation struct {
	ID         int64     `json:"id"`
	SubjectID  int64     `json:"subject_id"`
	Relation   string    `json:"relation"`
	ObjectID   int64     `json:"object_id"`
	Confidence float64   `json:"confidence"`
	Source     string    `json:"source"`
	SourceID   string    `json:"source_id"`
	Context    string    `json:"context"`
	CreatedAt  time.Time `json:"created_at"`

	// SupersededBy is kept for relation versioning. Nothing sets it yet, but
	// every read filters on it being nil.
	SupersededBy *int64 `json:"superseded_by,omitempty"`
}

// Mention records that an entity appeared in a passage of text. Mentions carry
// the embeddings that semantic search ranks.
type Mention struct {
	ID          int64     `json:"id"`
	EntityID    int64     `json:"entity_id"`
	MentionText string    `json:"mention_text"`
	Embedding   []float32 `json:"embedding,omitempty"`
	Source      string    `json:"source"`
	SourceID    string    `json:"source_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// MentionVector is the slice of a mention needed for similarity scoring.
type MentionVector struct {
	EntityID  int64
	Embedding []float32
}

// Fact is a live relation with both endpoint entities inlined.
type Fact struct {
	RelationID  int64     `json:"relation_id"`
	Subject     string    `json:"subject"`
	SubjectType string    `json:"subject_type"`
	Relation    string    `json:"relation"`
	Object      string    `json:"object"`
	ObjectType  string    `json:"object_type"`
	Confidence  float64   `json:"confidence"`
	Source      string    `json:"source"`
	Context     string    `json:"context"`
	CreatedAt   time.Time `json:"created_at"`

	// Similarity is set only on results of a vector search.
	Similarity *float64 `json:"similarity,omitempty"`
}

// ScoredEntity is an entity ranked by its best mention similarity.
type ScoredEntity struct {
	Entity
	Similarity float64 `json:"similarity"`
}

// Stats are row counts for observability.
type Stats struct {
	Entities  int64 `json:"entities"`
	Relations int64 `json:"relations"`
	Mentions  int64 `json:"mentions"`
}

// CandidateFact is a fact proposed by an extractor, before it is stored.
type CandidateFact struct {
	Subject     string  `json:"subject"`
	SubjectType string  `json:"subject_type"`
	Relation    string  `json:"relation"`
	Object      string  `json:"object"`
	ObjectType  string  `json:"object_type"`
	Confidence  float64 `json:"confidence"`
}
