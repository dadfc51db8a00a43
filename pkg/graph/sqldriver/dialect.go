package sqldriver

import (
	"strconv"
	"strings"
)

// Dialect captures the SQL differences between the supported backends.
type Dialect struct {
	// Name is used in log output.
	Name string

	// Numbered rewrites "?" placeholders to "$1", "$2", ...
	Numbered bool

	// Greatest is the two-argument scalar maximum function.
	Greatest string

	// Schema is executed statement by statement when the driver opens.
	Schema []string
}

// Rebind rewrites a query written with "?" placeholders for the dialect.
func (d Dialect) Rebind(query string) string {
	if !d.Numbered {
		return query
	}

	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

// SQLite is the dialect for github.com/mattn/go-sqlite3.
var SQLite = Dialect{
	Name:     "sqlite",
	Greatest: "MAX",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			canonical_name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL DEFAULT 'unknown',
			properties TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			subject_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			relation TEXT NOT NULL,
			object_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			confidence REAL NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMP NOT NULL,
			superseded_by INTEGER REFERENCES relations(id)
		)`,
		`CREATE TABLE IF NOT EXISTS mentions (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			entity_id INTEGER NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			mention_text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			embedding TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMP NOT NULL
		)`,
	},
}

// Postgres is the dialect for github.com/jackc/pgx/v5/stdlib.
var Postgres = Dialect{
	Name:     "postgres",
	Numbered: true,
	Greatest: "GREATEST",
	Schema: []string{
		`CREATE TABLE IF NOT EXISTS entities (
			id BIGSERIAL PRIMARY KEY,
			name TEXT NOT NULL,
			canonical_name TEXT NOT NULL UNIQUE,
			type TEXT NOT NULL DEFAULT 'unknown',
			properties TEXT NOT NULL DEFAULT '{}',
			created_at TIMESTAMPTZ NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS relations (
			id BIGSERIAL PRIMARY KEY,
			subject_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			relation TEXT NOT NULL,
			object_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			confidence DOUBLE PRECISION NOT NULL DEFAULT 1.0,
			source TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			context TEXT NOT NULL DEFAULT '',
			created_at TIMESTAMPTZ NOT NULL,
			superseded_by BIGINT REFERENCES relations(id)
		)`,
		`CREATE TABLE IF NOT EXISTS mentions (
			id BIGSERIAL PRIMARY KEY,
			entity_id BIGINT NOT NULL REFERENCES entities(id) ON DELETE CASCADE,
			mention_text TEXT NOT NULL,
			source TEXT NOT NULL DEFAULT '',
			source_id TEXT NOT NULL DEFAULT '',
			embedding TEXT NOT NULL DEFAULT '[]',
			created_at TIMESTAMPTZ NOT NULL
		)`,
	},
}

// indexes are shared by both dialects.
var indexes = []string{
	`CREATE INDEX IF NOT EXISTS idx_entity_type ON entities(type)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_relation_live_triple
		ON relations(subject_id, relation, object_id) WHERE superseded_by IS NULL`,
	`CREATE INDEX IF NOT EXISTS idx_relation_type ON relations(relation)`,
	`CREATE INDEX IF NOT EXISTS idx_relation_subject ON relations(subject_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relation_object ON relations(object_id)`,
	`CREATE INDEX IF NOT EXISTS idx_relation_created ON relations(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_mention_entity ON mentions(entity_id)`,
	`CREATE INDEX IF NOT EXISTS idx_mention_created ON mentions(created_at)`,
}
