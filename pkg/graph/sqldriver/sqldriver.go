// Package sqldriver implements graph.Driver on database/sql. The sqlite and
// postgres packages wrap it with their connection setup.
package sqldriver

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/papercomputeco/recall/pkg/graph"
	"github.com/papercomputeco/recall/pkg/logger"
)

const (
	defaultSearchLimit   = 20
	defaultFactsLimit    = 50
	defaultMentionsLimit = 10
)

// factColumns selects the denormalized Fact view of a relation.
const factColumns = `
	r.id,
	e1.name, e1.type,
	r.relation,
	e2.name, e2.type,
	r.confidence, r.source, r.context, r.created_at
	FROM relations r
	JOIN entities e1 ON e1.id = r.subject_id
	JOIN entities e2 ON e2.id = r.object_id`

// Driver implements graph.Driver over a *sql.DB.
type Driver struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger

	// now stamps created_at and updated_at. Always UTC.
	now func() time.Time
}

// New wraps db and creates the schema if it does not exist.
func New(ctx context.Context, db *sql.DB, dialect Dialect, log *slog.Logger) (*Driver, error) {
	d := &Driver{
		db:      db,
		dialect: dialect,
		logger:  logger.OrNop(log),
		now:     func() time.Time { return time.Now().UTC() },
	}

	if err := d.migrate(ctx); err != nil {
		return nil, err
	}

	return d, nil
}

// DB exposes the underlying handle, mainly for tests that need to reset state.
func (d *Driver) DB() *sql.DB {
	return d.db
}

func (d *Driver) migrate(ctx context.Context) error {
	stmts := make([]string, 0, len(d.dialect.Schema)+len(indexes))
	stmts = append(stmts, d.dialect.Schema...)
	stmts = append(stmts, indexes...)

	for _, stmt := range stmts {
		if _, err := d.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}

	return nil
}

func (d *Driver) q(query string) string {
	return d.dialect.Rebind(query)
}

// GetOrCreateEntity upserts on canonical_name in a single statement.
func (d *Driver) GetOrCreateEntity(ctx context.Context, name, entityType string, properties map[string]any) (int64, error) {
	canonical := graph.Canonicalize(name)
	if canonical == "" {
		return 0, fmt.Errorf("%w: entity name is empty", graph.ErrInvalidInput)
	}

	entityType = graph.NormalizeType(entityType)
	if properties == nil {
		properties = map[string]any{}
	}
	props, err := json.Marshal(properties)
	if err != nil {
		return 0, fmt.Errorf("marshaling properties for %q: %w", canonical, err)
	}

	now := d.now()
	var id int64
	err = d.db.QueryRowContext(ctx, d.q(`
		INSERT INTO entities (name, canonical_name, type, properties, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT (canonical_name) DO UPDATE SET
			type = CASE WHEN excluded.type <> 'unknown' THEN excluded.type ELSE entities.type END,
			updated_at = CASE WHEN excluded.type <> 'unknown' THEN excluded.updated_at ELSE entities.updated_at END
		RETURNING id
	`), strings.TrimSpace(name), canonical, entityType, string(props), now, now).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting entity %q: %w", canonical, err)
	}

	return id, nil
}

// StoreRelation upserts the live triple in a single statement backed by the
// partial unique index on (subject_id, relation, object_id).
func (d *Driver) StoreRelation(ctx context.Context, rel *graph.Relation) (int64, error) {
	if rel == nil {
		return 0, fmt.Errorf("%w: cannot store nil relation", graph.ErrInvalidInput)
	}

	label := graph.NormalizeRelation(rel.Relation)
	if label == "" {
		return 0, fmt.Errorf("%w: relation label is empty", graph.ErrInvalidInput)
	}

	query := fmt.Sprintf(`
		INSERT INTO relations (subject_id, relation, object_id, confidence, source, source_id, context, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (subject_id, relation, object_id) WHERE superseded_by IS NULL DO UPDATE SET
			confidence = %s(relations.confidence, excluded.confidence),
			context = excluded.context,
			source = excluded.source,
			source_id = excluded.source_id
		RETURNING id
	`, d.dialect.Greatest)

	var id int64
	err := d.db.QueryRowContext(ctx, d.q(query),
		rel.SubjectID, label, rel.ObjectID, rel.Confidence,
		rel.Source, rel.SourceID, rel.Context, d.now(),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("upserting relation %d-%s->%d: %w", rel.SubjectID, label, rel.ObjectID, err)
	}

	return id, nil
}

// StoreMention inserts a mention row.
func (d *Driver) StoreMention(ctx context.Context, mention *graph.Mention) (int64, error) {
	if mention == nil {
		return 0, fmt.Errorf("%w: cannot store nil mention", graph.ErrInvalidInput)
	}

	embedding := mention.Embedding
	if embedding == nil {
		embedding = []float32{}
	}
	raw, err := json.Marshal(embedding)
	if err != nil {
		return 0, fmt.Errorf("marshaling embedding: %w", err)
	}

	var id int64
	err = d.db.QueryRowContext(ctx, d.q(`
		INSERT INTO mentions (entity_id, mention_text, source, source_id, embedding, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id
	`), mention.EntityID, mention.MentionText, mention.Source, mention.SourceID, string(raw), d.now()).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting mention for entity %d: %w", mention.EntityID, err)
	}

	return id, nil
}

// SearchByEntity matches the pattern as a substring of either endpoint's
// canonical name.
func (d *Driver) SearchByEntity(ctx context.Context, pattern string, limit int) ([]graph.Fact, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	like := "%" + escapeLike(graph.Canonicalize(pattern)) + "%"
	return d.queryFacts(ctx, `
		SELECT `+factColumns+`
		WHERE (e1.canonical_name LIKE ? ESCAPE '\' OR e2.canonical_name LIKE ? ESCAPE '\')
			AND r.superseded_by IS NULL
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`, like, like, limit)
}

// SearchByRelation returns facts with exactly this relation label.
func (d *Driver) SearchByRelation(ctx context.Context, relation string, limit int) ([]graph.Fact, error) {
	if limit <= 0 {
		limit = defaultSearchLimit
	}

	return d.queryFacts(ctx, `
		SELECT `+factColumns+`
		WHERE r.relation = ?
			AND r.superseded_by IS NULL
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`, graph.NormalizeRelation(relation), limit)
}

// GetAllFacts returns the most recent live facts.
func (d *Driver) GetAllFacts(ctx context.Context, limit int) ([]graph.Fact, error) {
	if limit <= 0 {
		limit = defaultFactsLimit
	}

	return d.queryFacts(ctx, `
		SELECT `+factColumns+`
		WHERE r.superseded_by IS NULL
		ORDER BY r.created_at DESC, r.id DESC
		LIMIT ?
	`, limit)
}

// FactsForEntity returns every live relation with the entity on either end.
func (d *Driver) FactsForEntity(ctx context.Context, entityID int64) ([]graph.Fact, error) {
	return d.queryFacts(ctx, `
		SELECT `+factColumns+`
		WHERE (r.subject_id = ? OR r.object_id = ?)
			AND r.superseded_by IS NULL
		ORDER BY r.created_at DESC, r.id DESC
	`, entityID, entityID)
}

func (d *Driver) queryFacts(ctx context.Context, query string, args ...any) ([]graph.Fact, error) {
	rows, err := d.db.QueryContext(ctx, d.q(query), args...)
	if err != nil {
		return nil, fmt.Errorf("querying facts: %w", err)
	}
	defer rows.Close()

	facts := []graph.Fact{}
	for rows.Next() {
		var f graph.Fact
		if err := rows.Scan(
			&f.RelationID,
			&f.Subject, &f.SubjectType,
			&f.Relation,
			&f.Object, &f.ObjectType,
			&f.Confidence, &f.Source, &f.Context, &f.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("scanning fact: %w", err)
		}
		facts = append(facts, f)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating facts: %w", err)
	}

	return facts, nil
}

// GetMentions lists an entity's mentions, newest first.
func (d *Driver) GetMentions(ctx context.Context, entityID int64, limit int) ([]graph.Mention, error) {
	if limit <= 0 {
		limit = defaultMentionsLimit
	}

	if _, err := d.GetEntity(ctx, entityID); err != nil {
		return nil, err
	}

	rows, err := d.db.QueryContext(ctx, d.q(`
		SELECT id, entity_id, mention_text, source, source_id, created_at
		FROM mentions
		WHERE entity_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`), entityID, limit)
	if err != nil {
		return nil, fmt.Errorf("querying mentions: %w", err)
	}
	defer rows.Close()

	mentions := []graph.Mention{}
	for rows.Next() {
		var m graph.Mention
		if err := rows.Scan(&m.ID, &m.EntityID, &m.MentionText, &m.Source, &m.SourceID, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning mention: %w", err)
		}
		mentions = append(mentions, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mentions: %w", err)
	}

	return mentions, nil
}

// AllMentionVectors loads every stored embedding. Mentions stored without an
// embedding are skipped.
func (d *Driver) AllMentionVectors(ctx context.Context) ([]graph.MentionVector, error) {
	rows, err := d.db.QueryContext(ctx, `SELECT entity_id, embedding FROM mentions`)
	if err != nil {
		return nil, fmt.Errorf("querying mention vectors: %w", err)
	}
	defer rows.Close()

	var vectors []graph.MentionVector
	for rows.Next() {
		var (
			entityID int64
			raw      string
		)
		if err := rows.Scan(&entityID, &raw); err != nil {
			return nil, fmt.Errorf("scanning mention vector: %w", err)
		}

		var embedding []float32
		if err := json.Unmarshal([]byte(raw), &embedding); err != nil {
			d.logger.Warn("skipping mention with malformed embedding",
				"entity_id", entityID,
				"error", err,
			)
			continue
		}
		if len(embedding) == 0 {
			continue
		}

		vectors = append(vectors, graph.MentionVector{EntityID: entityID, Embedding: embedding})
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating mention vectors: %w", err)
	}

	return vectors, nil
}

// GetEntity retrieves an entity by id.
func (d *Driver) GetEntity(ctx context.Context, id int64) (*graph.Entity, error) {
	var (
		e     graph.Entity
		props string
	)
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT id, name, canonical_name, type, properties, created_at, updated_at
		FROM entities
		WHERE id = ?
	`), id).Scan(&e.ID, &e.Name, &e.CanonicalName, &e.Type, &props, &e.CreatedAt, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, graph.ErrNotFound{Kind: "entity", Key: fmt.Sprintf("id %d", id)}
	}
	if err != nil {
		return nil, fmt.Errorf("querying entity %d: %w", id, err)
	}

	if props != "" {
		if err := json.Unmarshal([]byte(props), &e.Properties); err != nil {
			return nil, fmt.Errorf("unmarshaling properties for entity %d: %w", id, err)
		}
	}

	return &e, nil
}

// GetEntityID finds an entity whose canonical name contains name, preferring
// an exact match.
func (d *Driver) GetEntityID(ctx context.Context, name string) (int64, error) {
	canonical := graph.Canonicalize(name)
	if canonical == "" {
		return 0, fmt.Errorf("%w: entity name is empty", graph.ErrInvalidInput)
	}

	var id int64
	err := d.db.QueryRowContext(ctx, d.q(`
		SELECT id FROM entities
		WHERE canonical_name LIKE ? ESCAPE '\'
		ORDER BY CASE WHEN canonical_name = ? THEN 0 ELSE 1 END, id
		LIMIT 1
	`), "%"+escapeLike(canonical)+"%", canonical).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, graph.ErrNotFound{Kind: "entity", Key: name}
	}
	if err != nil {
		return 0, fmt.Errorf("looking up entity %q: %w", canonical, err)
	}

	return id, nil
}

// DeduplicateEntities merges mergeName into keepName inside one transaction.
// A live relation that would collide with one the keeper already has is
// folded into it (max confidence) instead of repointed.
func (d *Driver) DeduplicateEntities(ctx context.Context, keepName, mergeName string) error {
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	keepID, err := d.entityIDByCanonical(ctx, tx, keepName)
	if err != nil {
		return err
	}
	mergeID, err := d.entityIDByCanonical(ctx, tx, mergeName)
	if err != nil {
		return err
	}
	if keepID == mergeID {
		return fmt.Errorf("%w: cannot merge %q into itself", graph.ErrInvalidInput, keepName)
	}

	type liveRelation struct {
		id         int64
		subjectID  int64
		relation   string
		objectID   int64
		confidence float64
	}

	// Collect first: the transaction holds a single connection.
	rows, err := tx.QueryContext(ctx, d.q(`
		SELECT id, subject_id, relation, object_id, confidence
		FROM relations
		WHERE (subject_id = ? OR object_id = ?) AND superseded_by IS NULL
		ORDER BY id
	`), mergeID, mergeID)
	if err != nil {
		return fmt.Errorf("querying relations of %q: %w", mergeName, err)
	}
	var live []liveRelation
	for rows.Next() {
		var r liveRelation
		if err := rows.Scan(&r.id, &r.subjectID, &r.relation, &r.objectID, &r.confidence); err != nil {
			rows.Close()
			return fmt.Errorf("scanning relation: %w", err)
		}
		live = append(live, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterating relations: %w", err)
	}

	folded := 0
	for _, r := range live {
		subjectID, objectID := r.subjectID, r.objectID
		if subjectID == mergeID {
			subjectID = keepID
		}
		if objectID == mergeID {
			objectID = keepID
		}

		var existingID int64
		err := tx.QueryRowContext(ctx, d.q(`
			SELECT id FROM relations
			WHERE subject_id = ? AND relation = ? AND object_id = ?
				AND superseded_by IS NULL AND id <> ?
		`), subjectID, r.relation, objectID, r.id).Scan(&existingID)

		switch {
		case err == nil:
			if _, err := tx.ExecContext(ctx, d.q(fmt.Sprintf(
				`UPDATE relations SET confidence = %s(confidence, ?) WHERE id = ?`, d.dialect.Greatest,
			)), r.confidence, existingID); err != nil {
				return fmt.Errorf("folding relation %d into %d: %w", r.id, existingID, err)
			}
			if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM relations WHERE id = ?`), r.id); err != nil {
				return fmt.Errorf("deleting folded relation %d: %w", r.id, err)
			}
			folded++
		case errors.Is(err, sql.ErrNoRows):
			if _, err := tx.ExecContext(ctx, d.q(
				`UPDATE relations SET subject_id = ?, object_id = ? WHERE id = ?`,
			), subjectID, objectID, r.id); err != nil {
				return fmt.Errorf("repointing relation %d: %w", r.id, err)
			}
		default:
			return fmt.Errorf("checking for duplicate of relation %d: %w", r.id, err)
		}
	}

	// Superseded rows are outside the live index and can be moved in bulk.
	for _, stmt := range []string{
		`UPDATE relations SET subject_id = ? WHERE subject_id = ?`,
		`UPDATE relations SET object_id = ? WHERE object_id = ?`,
		`UPDATE mentions SET entity_id = ? WHERE entity_id = ?`,
	} {
		if _, err := tx.ExecContext(ctx, d.q(stmt), keepID, mergeID); err != nil {
			return fmt.Errorf("repointing references to %q: %w", mergeName, err)
		}
	}

	if _, err := tx.ExecContext(ctx, d.q(`DELETE FROM entities WHERE id = ?`), mergeID); err != nil {
		return fmt.Errorf("deleting entity %q: %w", mergeName, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}

	d.logger.Info("merged entities",
		"keep", graph.Canonicalize(keepName),
		"merge", graph.Canonicalize(mergeName),
		"relations", len(live),
		"folded", folded,
	)

	return nil
}

func (d *Driver) entityIDByCanonical(ctx context.Context, tx *sql.Tx, name string) (int64, error) {
	var id int64
	err := tx.QueryRowContext(ctx, d.q(`SELECT id FROM entities WHERE canonical_name = ?`),
		graph.Canonicalize(name)).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, graph.ErrNotFound{Kind: "entity", Key: name}
	}
	if err != nil {
		return 0, fmt.Errorf("looking up entity %q: %w", name, err)
	}
	return id, nil
}

// GetStats counts entities, live relations and mentions.
func (d *Driver) GetStats(ctx context.Context) (graph.Stats, error) {
	var s graph.Stats
	err := d.db.QueryRowContext(ctx, `
		SELECT
			(SELECT COUNT(*) FROM entities),
			(SELECT COUNT(*) FROM relations WHERE superseded_by IS NULL),
			(SELECT COUNT(*) FROM mentions)
	`).Scan(&s.Entities, &s.Relations, &s.Mentions)
	if err != nil {
		return graph.Stats{}, fmt.Errorf("counting rows: %w", err)
	}
	return s, nil
}

// Close closes the database handle.
func (d *Driver) Close() error {
	return d.db.Close()
}

// escapeLike escapes LIKE metacharacters so user input matches literally.
func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

var _ graph.Driver = (*Driver)(nil)
