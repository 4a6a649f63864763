package graph

import "fmt"

// SQLite schema DDL constants

// Nodes are identified by label and merge key; every other property lives in
// the JSON properties column.
const schemaNodes = `
CREATE TABLE IF NOT EXISTS nodes (
    label TEXT NOT NULL,
    node_key TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL,
    modified_at DATETIME NOT NULL,
    PRIMARY KEY (label, node_key)
)`

// A relationship of a given type exists at most once between two nodes, the
// same guarantee MERGE gives on a pattern.
const schemaRelationships = `
CREATE TABLE IF NOT EXISTS relationships (
    type TEXT NOT NULL,
    source_label TEXT NOT NULL,
    source_key TEXT NOT NULL,
    target_label TEXT NOT NULL,
    target_key TEXT NOT NULL,
    properties TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL,
    modified_at DATETIME NOT NULL,
    PRIMARY KEY (type, source_label, source_key, target_label, target_key)
)`

// Index definitions
const indexNodesLabel = `CREATE INDEX IF NOT EXISTS idx_nodes_label ON nodes(label)`
const indexRelationshipsSource = `CREATE INDEX IF NOT EXISTS idx_relationships_source ON relationships(source_label, source_key)`
const indexRelationshipsTarget = `CREATE INDEX IF NOT EXISTS idx_relationships_target ON relationships(target_label, target_key)`
const indexRelationshipsType = `CREATE INDEX IF NOT EXISTS idx_relationships_type ON relationships(type)`

// SQLite pragmas for optimal performance
const pragmaWAL = `PRAGMA journal_mode=WAL`
const pragmaBusyTimeout = `PRAGMA busy_timeout=5000`
const pragmaSynchronous = `PRAGMA synchronous=NORMAL`

// allSchemaStatements returns all schema DDL in order
func allSchemaStatements() []string {
	return []string{
		schemaNodes,
		schemaRelationships,
		indexNodesLabel,
		indexRelationshipsSource,
		indexRelationshipsTarget,
		indexRelationshipsType,
	}
}

// allPragmas returns all pragma statements
func allPragmas() []string {
	return []string{
		pragmaWAL,
		pragmaBusyTimeout,
		pragmaSynchronous,
	}
}

// constraintDDL renders a uniqueness constraint as a partial expression
// index. A constraint on the merge key is already the primary key.
func constraintDDL(c Constraint) (string, bool) {
	if KeyProperty(c.Label) == c.Property {
		return "", false
	}
	return fmt.Sprintf(
		"CREATE UNIQUE INDEX IF NOT EXISTS %s ON nodes (json_extract(properties, '$.%s')) WHERE label = '%s'",
		c.Name, c.Property, c.Label,
	), true
}

func indexDDL(i Index) string {
	return fmt.Sprintf(
		"CREATE INDEX IF NOT EXISTS %s ON nodes (json_extract(properties, '$.%s')) WHERE label = '%s'",
		i.Name, i.Property, i.Label,
	)
}
