package graph

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// SQLiteStore implements Store on an embedded SQLite database. It applies
// each upsert template natively, with the same merge semantics, so it serves
// both as a local backend and as the store under test.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens (or creates) the database at dbPath. ":memory:" gives a
// private in-memory graph.
func NewSQLite(ctx context.Context, dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database: %w", err)
	}
	// A single connection keeps an in-memory database shared and serializes
	// write transactions.
	db.SetMaxOpenConns(1)

	// Verify connectivity
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("connecting to sqlite: %w", err)
	}

	// Apply pragmas for optimal performance
	for _, pragma := range allPragmas() {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("setting pragma: %w", err)
		}
	}

	// Create schema
	for _, stmt := range allSchemaStatements() {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("creating schema: %w", err)
		}
	}

	return &SQLiteStore{db: db}, nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the SQLite connection
func (s *SQLiteStore) Close(ctx context.Context) error {
	return s.db.Close()
}

// EnsureSchema creates an expression index per declaration.
func (s *SQLiteStore) EnsureSchema(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}
	for _, c := range schema.Constraints {
		ddl, ok := constraintDDL(c)
		if !ok {
			continue
		}
		if _, err := s.db.ExecContext(ctx, ddl); err != nil {
			return fmt.Errorf("creating constraint %s: %w", c.Name, err)
		}
	}
	for _, i := range schema.Indexes {
		if _, err := s.db.ExecContext(ctx, indexDDL(i)); err != nil {
			return fmt.Errorf("creating index %s: %w", i.Name, err)
		}
	}
	return nil
}

// Execute applies the statement to every row inside one transaction. Any
// failure rolls the whole batch back.
func (s *SQLiteStore) Execute(ctx context.Context, id StatementID, rows []map[string]any) (Counters, error) {
	apply, ok := sqliteStatements[id]
	if !ok {
		return Counters{}, fmt.Errorf("unknown statement %d", int(id))
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Counters{}, fmt.Errorf("beginning transaction: %w", err)
	}

	w := &sqliteWriter{ctx: ctx, tx: tx, now: time.Now().UTC()}
	for _, row := range rows {
		if err := apply(w, row); err != nil {
			tx.Rollback()
			return Counters{}, err
		}
	}

	if err := tx.Commit(); err != nil {
		return Counters{}, fmt.Errorf("committing transaction: %w", err)
	}
	return w.counters, nil
}

// Counts returns node counts per label and relationship counts per type.
func (s *SQLiteStore) Counts(ctx context.Context) (GraphCounts, error) {
	tally := func(query string) (map[string]int, error) {
		rows, err := s.db.QueryContext(ctx, query)
		if err != nil {
			return nil, err
		}
		defer rows.Close()

		counts := make(map[string]int)
		for rows.Next() {
			var name string
			var total int
			if err := rows.Scan(&name, &total); err != nil {
				return nil, err
			}
			counts[name] = total
		}
		return counts, rows.Err()
	}

	nodes, err := tally(`SELECT label, COUNT(*) FROM nodes GROUP BY label`)
	if err != nil {
		return GraphCounts{}, fmt.Errorf("counting nodes: %w", err)
	}
	rels, err := tally(`SELECT type, COUNT(*) FROM relationships GROUP BY type`)
	if err != nil {
		return GraphCounts{}, fmt.Errorf("counting relationships: %w", err)
	}
	return GraphCounts{Nodes: nodes, Relationships: rels}, nil
}

// Relationships lists up to limit relationships of relType in insertion order.
func (s *SQLiteStore) Relationships(ctx context.Context, relType string, limit int) ([]Relationship, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_label, source_key, target_label, target_key, properties
		FROM relationships
		WHERE type = ?
		ORDER BY rowid
		LIMIT ?
	`, relType, limit)
	if err != nil {
		return nil, fmt.Errorf("querying relationships: %w", err)
	}
	defer rows.Close()

	var rels []Relationship
	for rows.Next() {
		rel := Relationship{Type: relType}
		var props string
		if err := rows.Scan(&rel.SourceLabel, &rel.SourceKey, &rel.TargetLabel, &rel.TargetKey, &props); err != nil {
			return nil, fmt.Errorf("scanning relationship: %w", err)
		}
		if rel.Props, err = decodeProps(props); err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	return rels, rows.Err()
}

// NodeProperties returns the stored properties of one node, or nil when the
// node does not exist.
func (s *SQLiteStore) NodeProperties(ctx context.Context, label, key string) (map[string]any, error) {
	var props string
	err := s.db.QueryRowContext(ctx,
		`SELECT properties FROM nodes WHERE label = ? AND node_key = ?`, label, key,
	).Scan(&props)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying node: %w", err)
	}
	return decodeProps(props)
}

// decodeProps unmarshals a properties column, keeping integers as int64 the
// way the Neo4j driver returns them.
func decodeProps(raw string) (map[string]any, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(raw)))
	dec.UseNumber()

	var props map[string]any
	if err := dec.Decode(&props); err != nil {
		return nil, fmt.Errorf("unmarshaling properties: %w", err)
	}
	for k, v := range props {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if i, err := n.Int64(); err == nil {
			props[k] = i
		} else if f, err := n.Float64(); err == nil {
			props[k] = f
		}
	}
	return props, nil
}
