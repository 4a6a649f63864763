//go:build neo4j

package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/flightgraph/internal/graph"
)

// Run with: NEO4J_TEST_HOST=localhost go test -tags neo4j ./internal/ingest/
// The target database is wiped.
type neo4jTestEnv struct {
	Scheme   string `env:"NEO4J_TEST_SCHEME" envDefault:"neo4j"`
	Host     string `env:"NEO4J_TEST_HOST"`
	Port     int    `env:"NEO4J_TEST_PORT" envDefault:"7687"`
	User     string `env:"NEO4J_TEST_USER" envDefault:"neo4j"`
	Password string `env:"NEO4J_TEST_PASSWORD" envDefault:"password"`
	Database string `env:"NEO4J_TEST_DATABASE" envDefault:"neo4j"`
}

func newNeo4jStore(t *testing.T) (*graph.Neo4jStore, neo4j.DriverWithContext, string) {
	t.Helper()
	var cfg neo4jTestEnv
	require.NoError(t, env.Parse(&cfg))
	if cfg.Host == "" {
		t.Skip("NEO4J_TEST_HOST not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	gcfg := graph.Config{
		Scheme: cfg.Scheme, Host: cfg.Host, Port: cfg.Port,
		Username: cfg.User, Password: cfg.Password, Database: cfg.Database,
	}
	driver, err := neo4j.NewDriverWithContext(gcfg.URI(), neo4j.BasicAuth(cfg.User, cfg.Password, ""))
	require.NoError(t, err)
	t.Cleanup(func() { driver.Close(context.Background()) })

	_, err = neo4j.ExecuteQuery(ctx, driver, "MATCH (n) DETACH DELETE n", nil,
		neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(cfg.Database))
	require.NoError(t, err)

	store, err := graph.NewNeo4j(ctx, gcfg)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(context.Background()) })
	return store, driver, cfg.Database
}

func TestNeo4jEndToEndScenario(t *testing.T) {
	ctx := context.Background()
	store, driver, database := newNeo4jStore(t)

	src := writeSources(t, []string{
		aa100,
		"2015,1,3,6,AA,,AA300,LAX,JFK,,,,,B,,,,,",
		"2015,1,3,6,AA,N9,AA400,LAX,SFO,,,,,,,,,,",
	})
	p := newTestPipeline(store, testOptions(src))

	report, err := p.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, report.Totals.Skipped, "SFO is not a known airport")

	c := counts(t, store)
	assert.Equal(t, 5, c.Nodes[graph.LabelReason])
	assert.Equal(t, 2, c.Nodes[graph.LabelAirport])
	assert.Equal(t, 2, c.Nodes[graph.LabelFlight])
	assert.Equal(t, 1, c.Relationships[graph.RelCancelledBy])

	single := func(relType string) graph.Relationship {
		rels, err := store.Relationships(ctx, relType, 10)
		require.NoError(t, err)
		require.Len(t, rels, 1, relType)
		return rels[0]
	}

	key := "AA|AA100|2015-01-02|JFK|LAX"
	origin, err := store.Relationships(ctx, graph.RelOrigin, 10)
	require.NoError(t, err)
	require.Len(t, origin, 2)

	// The delay subquery keeps flights without delays and links the one with.
	delayed := single(graph.RelDelayedBy)
	assert.Equal(t, key, delayed.SourceKey)
	assert.Equal(t, "A", delayed.TargetKey)
	assert.Equal(t, int64(20), delayed.Props["duration"])

	res, err := neo4j.ExecuteQuery(ctx, driver,
		"MATCH (f:Flight {flightKey: $key}) RETURN f.flightNumber AS number, f.year AS year",
		map[string]any{"key": key}, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(database))
	require.NoError(t, err)
	require.Len(t, res.Records, 1)
	number, _ := res.Records[0].Get("number")
	year, _ := res.Records[0].Get("year")
	assert.Equal(t, "AA100", number)
	assert.Equal(t, int64(2015), year)

	// The state branch links each city to its state.
	res, err = neo4j.ExecuteQuery(ctx, driver,
		"MATCH (:City)-[:IN_STATE]->(:State) RETURN count(*) AS n",
		nil, neo4j.EagerResultTransformer, neo4j.ExecuteQueryWithDatabase(database))
	require.NoError(t, err)
	n, _ := res.Records[0].Get("n")
	assert.Equal(t, int64(2), n)

	again, err := newTestPipeline(store, testOptions(src)).Run(ctx)
	require.NoError(t, err)
	assert.Zero(t, again.Totals.NodesCreated)
	assert.Equal(t, c, counts(t, store))
}
