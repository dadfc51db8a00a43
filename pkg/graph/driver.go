// Package graph defines the knowledge graph data model and the storage
// interface every backend implements.
package graph

import "context"

// Driver persists entities, relations and mentions. It is the sole writer of
// graph state: ingestion and query callers only go through these operations.
type Driver interface {
	VectorSource

	// GetOrCreateEntity returns the id of the live entity whose canonical name
	// matches name, creating it when absent. A "unknown" type on an existing
	// entity is upgraded to a more specific type; a specific type is never
	// downgraded.
	GetOrCreateEntity(ctx context.Context, name, entityType string, properties map[string]any) (int64, error)

	// StoreRelation upserts the live (subject, relation, object) triple. A
	// repeated triple keeps the higher confidence and takes the new provenance.
	StoreRelation(ctx context.Context, rel *Relation) (int64, error)

	// StoreMention inserts a mention. Mentions are never deduplicated.
	StoreMention(ctx context.Context, mention *Mention) (int64, error)

	// SearchByEntity returns facts whose subject or object canonical name
	// contains pattern, newest first.
	SearchByEntity(ctx context.Context, pattern string, limit int) ([]Fact, error)

	// SearchByRelation returns facts with the given relation label, newest first.
	SearchByRelation(ctx context.Context, relation string, limit int) ([]Fact, error)

	// GetAllFacts returns the most recent facts.
	GetAllFacts(ctx context.Context, limit int) ([]Fact, error)

	// GetMentions lists an entity's mentions newest first. Returns ErrNotFound
	// when the entity does not exist.
	GetMentions(ctx context.Context, entityID int64, limit int) ([]Mention, error)

	// GetEntityID finds an entity whose canonical name contains name.
	GetEntityID(ctx context.Context, name string) (int64, error)

	// DeduplicateEntities merges the entity named mergeName into keepName,
	// repointing its relations and mentions before deleting it.
	DeduplicateEntities(ctx context.Context, keepName, mergeName string) error

	// GetStats counts entities, live relations and mentions.
	GetStats(ctx context.Context) (Stats, error)

	// Close releases any resources held by the driver.
	Close() error
}

// VectorSource is the read side the similarity engine needs.
type VectorSource interface {
	// AllMentionVectors returns the entity id and embedding of every mention
	// that has one.
	AllMentionVectors(ctx context.Context) ([]MentionVector, error)

	// FactsForEntity returns every live relation touching the entity as
	// subject or object.
	FactsForEntity(ctx context.Context, entityID int64) ([]Fact, error)

	// GetEntity retrieves an entity by id.
	GetEntity(ctx context.Context, id int64) (*Entity, error)
}
