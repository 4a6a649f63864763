package graph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j/config"
)

// Config holds Neo4j connection configuration
type Config struct {
	Scheme   string
	Host     string
	Port     int
	Username string
	Password string
	Database string

	MaxConnectionPoolSize int
	ConnectionTimeout     time.Duration
	// MaxTransactionRetryTime bounds the driver's own retry of transient
	// failures inside a managed transaction. Zero keeps the driver default.
	MaxTransactionRetryTime time.Duration
}

// URI assembles the connection URI from scheme, host and port.
func (c Config) URI() string {
	return fmt.Sprintf("%s://%s:%d", c.Scheme, c.Host, c.Port)
}

// Neo4jStore runs the upsert templates against a Neo4j database.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4j creates a driver and verifies the database is reachable.
func NewNeo4j(ctx context.Context, cfg Config) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(
		cfg.URI(),
		neo4j.BasicAuth(cfg.Username, cfg.Password, ""),
		func(c *config.Config) {
			if cfg.MaxConnectionPoolSize > 0 {
				c.MaxConnectionPoolSize = cfg.MaxConnectionPoolSize
			}
			if cfg.ConnectionTimeout > 0 {
				c.ConnectionAcquisitionTimeout = cfg.ConnectionTimeout
				c.SocketConnectTimeout = cfg.ConnectionTimeout
			}
			if cfg.MaxTransactionRetryTime > 0 {
				c.MaxTransactionRetryTime = cfg.MaxTransactionRetryTime
			}
		},
	)
	if err != nil {
		return nil, fmt.Errorf("creating neo4j driver: %w", err)
	}

	// Verify connectivity
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("connecting to neo4j at %s: %w", cfg.URI(), err)
	}

	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

func (s *Neo4jStore) session(ctx context.Context, mode neo4j.AccessMode) neo4j.SessionWithContext {
	return s.driver.NewSession(ctx, neo4j.SessionConfig{
		DatabaseName: s.database,
		AccessMode:   mode,
	})
}

// Ping verifies the database is reachable.
func (s *Neo4jStore) Ping(ctx context.Context) error {
	return s.driver.VerifyConnectivity(ctx)
}

// Close closes the Neo4j connection
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// EnsureSchema issues one auto-commit statement per declaration. Schema
// changes cannot share a transaction with data writes.
func (s *Neo4jStore) EnsureSchema(ctx context.Context, schema Schema) error {
	if err := schema.Validate(); err != nil {
		return err
	}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	run := func(query string) error {
		result, err := session.Run(ctx, query, nil)
		if err != nil {
			return err
		}
		_, err = result.Consume(ctx)
		return err
	}

	for _, c := range schema.Constraints {
		query := fmt.Sprintf(
			"CREATE CONSTRAINT %s IF NOT EXISTS FOR (n:%s) REQUIRE n.%s IS UNIQUE",
			c.Name, c.Label, c.Property,
		)
		if err := run(query); err != nil {
			return fmt.Errorf("creating constraint %s: %w", c.Name, err)
		}
	}
	for _, i := range schema.Indexes {
		query := fmt.Sprintf(
			"CREATE INDEX %s IF NOT EXISTS FOR (n:%s) ON (n.%s)",
			i.Name, i.Label, i.Property,
		)
		if err := run(query); err != nil {
			return fmt.Errorf("creating index %s: %w", i.Name, err)
		}
	}
	return nil
}

// Execute runs the template for id inside a managed write transaction.
func (s *Neo4jStore) Execute(ctx context.Context, id StatementID, rows []map[string]any) (Counters, error) {
	query, ok := Cypher(id)
	if !ok {
		return Counters{}, fmt.Errorf("unknown statement %d", int(id))
	}

	// The driver packs []any natively; typed slices go through reflection.
	list := make([]any, len(rows))
	for i, row := range rows {
		list[i] = row
	}
	params := map[string]any{"rows": list}

	session := s.session(ctx, neo4j.AccessModeWrite)
	defer session.Close(ctx)

	out, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, params)
		if err != nil {
			return nil, err
		}

		var upserted int64
		if result.Next(ctx) {
			if v, ok := result.Record().Get("upserted"); ok {
				upserted, _ = v.(int64)
			}
		}
		summary, err := result.Consume(ctx)
		if err != nil {
			return nil, err
		}

		sc := summary.Counters()
		return Counters{
			NodesCreated:         sc.NodesCreated(),
			RelationshipsCreated: sc.RelationshipsCreated(),
			PropertiesSet:        sc.PropertiesSet(),
			Upserted:             int(upserted),
		}, nil
	})
	if err != nil {
		return Counters{}, err
	}

	counters, ok := out.(Counters)
	if !ok {
		return Counters{}, errors.New("unexpected transaction result")
	}
	return counters, nil
}

// Counts returns node counts per label and relationship counts per type.
func (s *Neo4jStore) Counts(ctx context.Context) (GraphCounts, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	tally := func(query string) (map[string]int, error) {
		out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
			result, err := tx.Run(ctx, query, nil)
			if err != nil {
				return nil, err
			}
			records, err := result.Collect(ctx)
			if err != nil {
				return nil, err
			}

			counts := make(map[string]int, len(records))
			for _, record := range records {
				name, _, err := neo4j.GetRecordValue[string](record, "name")
				if err != nil {
					return nil, err
				}
				total, _, err := neo4j.GetRecordValue[int64](record, "total")
				if err != nil {
					return nil, err
				}
				counts[name] = int(total)
			}
			return counts, nil
		})
		if err != nil {
			return nil, err
		}
		return out.(map[string]int), nil
	}

	nodes, err := tally(`MATCH (n) UNWIND labels(n) AS name RETURN name, count(*) AS total`)
	if err != nil {
		return GraphCounts{}, fmt.Errorf("counting nodes: %w", err)
	}
	rels, err := tally(`MATCH ()-[r]->() RETURN type(r) AS name, count(*) AS total`)
	if err != nil {
		return GraphCounts{}, fmt.Errorf("counting relationships: %w", err)
	}
	return GraphCounts{Nodes: nodes, Relationships: rels}, nil
}

// Relationships lists up to limit relationships of relType.
func (s *Neo4jStore) Relationships(ctx context.Context, relType string, limit int) ([]Relationship, error) {
	session := s.session(ctx, neo4j.AccessModeRead)
	defer session.Close(ctx)

	query := `
		MATCH (a)-[r]->(b)
		WHERE type(r) = $type
		RETURN labels(a)[0] AS sourceLabel, properties(a) AS source,
		       labels(b)[0] AS targetLabel, properties(b) AS target,
		       properties(r) AS props
		LIMIT $limit
	`

	out, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		result, err := tx.Run(ctx, query, map[string]any{"type": relType, "limit": int64(limit)})
		if err != nil {
			return nil, err
		}
		records, err := result.Collect(ctx)
		if err != nil {
			return nil, err
		}

		rels := make([]Relationship, 0, len(records))
		for _, record := range records {
			sourceLabel, _, _ := neo4j.GetRecordValue[string](record, "sourceLabel")
			targetLabel, _, _ := neo4j.GetRecordValue[string](record, "targetLabel")
			source, _, _ := neo4j.GetRecordValue[map[string]any](record, "source")
			target, _, _ := neo4j.GetRecordValue[map[string]any](record, "target")
			props, _, _ := neo4j.GetRecordValue[map[string]any](record, "props")

			rels = append(rels, Relationship{
				Type:        relType,
				SourceLabel: sourceLabel,
				SourceKey:   fmt.Sprint(source[KeyProperty(sourceLabel)]),
				TargetLabel: targetLabel,
				TargetKey:   fmt.Sprint(target[KeyProperty(targetLabel)]),
				Props:       props,
			})
		}
		return rels, nil
	})
	if err != nil {
		return nil, err
	}
	return out.([]Relationship), nil
}
