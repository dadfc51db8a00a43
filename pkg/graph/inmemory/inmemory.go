// Package inmemory provides a map-backed graph driver for tests and
// throwaway servers.
package inmemory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/papercomputeco/recall/pkg/graph"
)

// Driver implements graph.Driver using in-memory maps.
type Driver struct {
	// mu guards every map and counter below
	mu sync.RWMutex

	entities  map[int64]*graph.Entity
	byName    map[string]int64
	relations map[int64]*graph.Relation
	mentions  map[int64]*graph.Mention

	nextEntityID   int64
	nextRelationID int64
	nextMentionID  int64

	now func() time.Time
}

// NewDriver creates a new in-memory graph store.
func NewDriver() *Driver {
	return &Driver{
		entities:  make(map[int64]*graph.Entity),
		byName:    make(map[string]int64),
		relations: make(map[int64]*graph.Relation),
		mentions:  make(map[int64]*graph.Mention),
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// GetOrCreateEntity returns the entity id for name, creating it if absent.
func (s *Driver) GetOrCreateEntity(_ context.Context, name, entityType string, properties map[string]any) (int64, error) {
	canonical := graph.Canonicalize(name)
	if canonical == "" {
		return 0, fmt.Errorf("%w: entity name is empty", graph.ErrInvalidInput)
	}
	entityType = graph.NormalizeType(entityType)

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	if id, ok := s.byName[canonical]; ok {
		if entityType != graph.DefaultEntityType {
			e := s.entities[id]
			e.Type = entityType
			e.UpdatedAt = now
		}
		return id, nil
	}

	props := map[string]any{}
	maps.Copy(props, properties)

	s.nextEntityID++
	id := s.nextEntityID
	s.entities[id] = &graph.Entity{
		ID:            id,
		Name:          strings.TrimSpace(name),
		CanonicalName: canonical,
		Type:          entityType,
		Properties:    props,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	s.byName[canonical] = id
	return id, nil
}

// StoreRelation upserts the live triple.
func (s *Driver) StoreRelation(_ context.Context, rel *graph.Relation) (int64, error) {
	if rel == nil {
		return 0, fmt.Errorf("%w: cannot store nil relation", graph.ErrInvalidInput)
	}
	label := graph.NormalizeRelation(rel.Relation)
	if label == "" {
		return 0, fmt.Errorf("%w: relation label is empty", graph.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[rel.SubjectID]; !ok {
		return 0, graph.ErrNotFound{Kind: "entity", Key: fmt.Sprintf("id %d", rel.SubjectID)}
	}
	if _, ok := s.entities[rel.ObjectID]; !ok {
		return 0, graph.ErrNotFound{Kind: "entity", Key: fmt.Sprintf("id %d", rel.ObjectID)}
	}

	if existing := s.liveTriple(rel.SubjectID, label, rel.ObjectID, 0); existing != nil {
		existing.Confidence = max(existing.Confidence, rel.Confidence)
		existing.Context = rel.Context
		existing.Source = rel.Source
		existing.SourceID = rel.SourceID
		return existing.ID, nil
	}

	s.nextRelationID++
	id := s.nextRelationID
	s.relations[id] = &graph.Relation{
		ID:         id,
		SubjectID:  rel.SubjectID,
		Relation:   label,
		ObjectID:   rel.ObjectID,
		Confidence: rel.Confidence,
		Source:     rel.Source,
		SourceID:   rel.SourceID,
		Context:    rel.Context,
		CreatedAt:  s.now(),
	}
	return id, nil
}

// liveTriple finds a live relation for the triple, ignoring the relation with
// id skip. Callers hold mu.
func (s *Driver) liveTriple(subjectID int64, label string, objectID, skip int64) *graph.Relation {
	for _, r := range s.relations {
		if r.ID != skip && r.SupersededBy == nil &&
			r.SubjectID == subjectID && r.Relation == label && r.ObjectID == objectID {
			return r
		}
	}
	return nil
}

// StoreMention inserts a mention.
func (s *Driver) StoreMention(_ context.Context, mention *graph.Mention) (int64, error) {
	if mention == nil {
		return 0, fmt.Errorf("%w: cannot store nil mention", graph.ErrInvalidInput)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entities[mention.EntityID]; !ok {
		return 0, graph.ErrNotFound{Kind: "entity", Key: fmt.Sprintf("id %d", mention.EntityID)}
	}

	s.nextMentionID++
	id := s.nextMentionID
	s.mentions[id] = &graph.Mention{
		ID:          id,
		EntityID:    mention.EntityID,
		MentionText: mention.MentionText,
		Embedding:   slices.Clone(mention.Embedding),
		Source:      mention.Source,
		SourceID:    mention.SourceID,
		CreatedAt:   s.now(),
	}
	return id, nil
}

// SearchByEntity matches pattern as a substring of either canonical name.
func (s *Driver) SearchByEntity(_ context.Context, pattern string, limit int) ([]graph.Fact, error) {
	canonical := graph.Canonicalize(pattern)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.facts(limit, 20, func(r *graph.Relation) bool {
		return strings.Contains(s.entities[r.SubjectID].CanonicalName, canonical) ||
			strings.Contains(s.entities[r.ObjectID].CanonicalName, canonical)
	}), nil
}

// SearchByRelation returns facts with exactly this relation label.
func (s *Driver) SearchByRelation(_ context.Context, relation string, limit int) ([]graph.Fact, error) {
	label := graph.NormalizeRelation(relation)

	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.facts(limit, 20, func(r *graph.Relation) bool {
		return r.Relation == label
	}), nil
}

// GetAllFacts returns the most recent live facts.
func (s *Driver) GetAllFacts(_ context.Context, limit int) ([]graph.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.facts(limit, 50, func(*graph.Relation) bool { return true }), nil
}

// FactsForEntity returns every live relation touching the entity.
func (s *Driver) FactsForEntity(_ context.Context, entityID int64) ([]graph.Fact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.facts(-1, 0, func(r *graph.Relation) bool {
		return r.SubjectID == entityID || r.ObjectID == entityID
	}), nil
}

// facts renders matching live relations newest first. A negative limit means
// no limit; zero falls back to def. Callers hold mu.
func (s *Driver) facts(limit, def int, match func(*graph.Relation) bool) []graph.Fact {
	if limit == 0 {
		limit = def
	}

	var rels []*graph.Relation
	for _, r := range s.relations {
		if r.SupersededBy == nil && match(r) {
			rels = append(rels, r)
		}
	}
	slices.SortFunc(rels, func(a, b *graph.Relation) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if limit > 0 && len(rels) > limit {
		rels = rels[:limit]
	}

	facts := make([]graph.Fact, 0, len(rels))
	for _, r := range rels {
		subj, obj := s.entities[r.SubjectID], s.entities[r.ObjectID]
		facts = append(facts, graph.Fact{
			RelationID:  r.ID,
			Subject:     subj.Name,
			SubjectType: subj.Type,
			Relation:    r.Relation,
			Object:      obj.Name,
			ObjectType:  obj.Type,
			Confidence:  r.Confidence,
			Source:      r.Source,
			Context:     r.Context,
			CreatedAt:   r.CreatedAt,
		})
	}
	return facts
}

// GetMentions lists an entity's mentions, newest first.
func (s *Driver) GetMentions(_ context.Context, entityID int64, limit int) ([]graph.Mention, error) {
	if limit <= 0 {
		limit = 10
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if _, ok := s.entities[entityID]; !ok {
		return nil, graph.ErrNotFound{Kind: "entity", Key: fmt.Sprintf("id %d", entityID)}
	}

	mentions := []graph.Mention{}
	for _, m := range s.mentions {
		if m.EntityID == entityID {
			out := *m
			out.Embedding = nil
			mentions = append(mentions, out)
		}
	}
	slices.SortFunc(mentions, func(a, b graph.Mention) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return int(b.ID - a.ID)
	})
	if len(mentions) > limit {
		mentions = mentions[:limit]
	}
	return mentions, nil
}

// AllMentionVectors returns every mention that carries an embedding.
func (s *Driver) AllMentionVectors(_ context.Context) ([]graph.MentionVector, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	vectors := make([]graph.MentionVector, 0, len(s.mentions))
	for _, id := range slices.Sorted(maps.Keys(s.mentions)) {
		m := s.mentions[id]
		if len(m.Embedding) == 0 {
			continue
		}
		vectors = append(vectors, graph.MentionVector{EntityID: m.EntityID, Embedding: m.Embedding})
	}
	return vectors, nil
}

// GetEntity retrieves an entity by id.
func (s *Driver) GetEntity(_ context.Context, id int64) (*graph.Entity, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entities[id]
	if !ok {
		return nil, graph.ErrNotFound{Kind: "entity", Key: fmt.Sprintf("id %d", id)}
	}
	out := *e
	out.Properties = maps.Clone(e.Properties)
	return &out, nil
}

// GetEntityID finds an entity whose canonical name contains name, preferring
// an exact match and then the oldest entity.
func (s *Driver) GetEntityID(_ context.Context, name string) (int64, error) {
	canonical := graph.Canonicalize(name)
	if canonical == "" {
		return 0, fmt.Errorf("%w: entity name is empty", graph.ErrInvalidInput)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if id, ok := s.byName[canonical]; ok {
		return id, nil
	}
	for _, id := range slices.Sorted(maps.Keys(s.entities)) {
		if strings.Contains(s.entities[id].CanonicalName, canonical) {
			return id, nil
		}
	}
	return 0, graph.ErrNotFound{Kind: "entity", Key: name}
}

// DeduplicateEntities merges mergeName into keepName.
func (s *Driver) DeduplicateEntities(_ context.Context, keepName, mergeName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	keepID, ok := s.byName[graph.Canonicalize(keepName)]
	if !ok {
		return graph.ErrNotFound{Kind: "entity", Key: keepName}
	}
	mergeID, ok := s.byName[graph.Canonicalize(mergeName)]
	if !ok {
		return graph.ErrNotFound{Kind: "entity", Key: mergeName}
	}
	if keepID == mergeID {
		return fmt.Errorf("%w: cannot merge %q into itself", graph.ErrInvalidInput, keepName)
	}

	for _, id := range slices.Sorted(maps.Keys(s.relations)) {
		r := s.relations[id]
		if r.SubjectID != mergeID && r.ObjectID != mergeID {
			continue
		}

		subjectID, objectID := r.SubjectID, r.ObjectID
		if subjectID == mergeID {
			subjectID = keepID
		}
		if objectID == mergeID {
			objectID = keepID
		}

		if r.SupersededBy == nil {
			if existing := s.liveTriple(subjectID, r.Relation, objectID, r.ID); existing != nil {
				existing.Confidence = max(existing.Confidence, r.Confidence)
				delete(s.relations, id)
				continue
			}
		}
		r.SubjectID, r.ObjectID = subjectID, objectID
	}

	for _, m := range s.mentions {
		if m.EntityID == mergeID {
			m.EntityID = keepID
		}
	}

	canonical := s.entities[mergeID].CanonicalName
	delete(s.entities, mergeID)
	delete(s.byName, canonical)
	return nil
}

// GetStats counts entities, live relations and mentions.
func (s *Driver) GetStats(_ context.Context) (graph.Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	live := 0
	for _, r := range s.relations {
		if r.SupersededBy == nil {
			live++
		}
	}
	return graph.Stats{
		Entities:  int64(len(s.entities)),
		Relations: int64(live),
		Mentions:  int64(len(s.mentions)),
	}, nil
}

// Close is a no-op for the in-memory driver.
func (s *Driver) Close() error {
	return nil
}

var _ graph.Driver = (*Driver)(nil)
