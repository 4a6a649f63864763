package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/records"
)

const carriersCSV = `"Code","Description"
"AA","American Airlines Inc."
`

const airportsCSV = `AIRPORT_ID,AIRPORT,DISPLAY_AIRPORT_NAME,DISPLAY_AIRPORT_CITY_NAME_FULL,AIRPORT_WAC,AIRPORT_COUNTRY_NAME,AIRPORT_COUNTRY_CODE_ISO,AIRPORT_STATE_NAME,AIRPORT_STATE_CODE,AIRPORT_IS_LATEST
JFK,JFK,John F. Kennedy International,"New York, NY",22,United States,US,New York,NY,1
LAX,LAX,Los Angeles International,"Los Angeles, CA",91,United States,US,California,CA,1
`

const flightsHeader = "YEAR,MONTH,DAY_OF_MONTH,DAY_OF_WEEK,OP_UNIQUE_CARRIER,TAIL_NUM,OP_CARRIER_FL_NUM,ORIGIN,DEST,DEP_DELAY,ARR_DELAY,TAXI_OUT,TAXI_IN,CANCELLATION_CODE,CARRIER_DELAY,WEATHER_DELAY,NAS_DELAY,SECURITY_DELAY,LATE_AIRCRAFT_DELAY"

// aa100 is the JFK to LAX flight delayed 20 minutes by the carrier.
const aa100 = "2015,1,2,5,AA,N787AA,AA100,JFK,LAX,20,35,14,7,,20,0,,,"

func nullLogger() logrus.FieldLogger {
	log, _ := test.NewNullLogger()
	return log
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// writeSources writes the reference fixtures and one flight file per entry
// of flightFiles, each a list of data rows.
func writeSources(t *testing.T, flightFiles ...[]string) Sources {
	t.Helper()
	dir := t.TempDir()
	src := Sources{
		Carriers: writeFile(t, dir, "carriers.csv", carriersCSV),
		Airports: writeFile(t, dir, "airports.csv", airportsCSV),
	}
	for i, rows := range flightFiles {
		content := flightsHeader + "\n" + strings.Join(rows, "\n") + "\n"
		src.Flights = append(src.Flights, writeFile(t, dir, "flights_"+string(rune('a'+i))+".csv", content))
	}
	return src
}

func newStore(t *testing.T) *graph.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := graph.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(ctx) })
	return store
}

func testOptions(src Sources) Options {
	return Options{
		Sources:    src,
		BatchSizes: BatchSizes{Reasons: 200, Carriers: 200, Airports: 200, Flights: 1000},
		Retry:      RetryPolicy{MaxAttempts: 3},
	}
}

func newTestPipeline(store graph.Store, opts Options, popts ...PipelineOption) *Pipeline {
	log := nullLogger()
	exec := NewExecutor(store, log)
	return NewPipeline(store, records.NewSource(log), exec, opts, log, popts...)
}

func counts(t *testing.T, store graph.Store) graph.GraphCounts {
	t.Helper()
	c, err := store.Counts(context.Background())
	require.NoError(t, err)
	return c
}

var errInjected = errors.New("injected failure")

// flakyStore fails Execute calls of one statement whose 1-based call number
// satisfies fail.
type flakyStore struct {
	graph.Store
	statement graph.StatementID
	fail      func(call int) bool

	mu    sync.Mutex
	calls int
}

func (s *flakyStore) Execute(ctx context.Context, id graph.StatementID, rows []map[string]any) (graph.Counters, error) {
	if id == s.statement {
		s.mu.Lock()
		s.calls++
		call := s.calls
		s.mu.Unlock()
		if s.fail(call) {
			return graph.Counters{}, errInjected
		}
	}
	return s.Store.Execute(ctx, id, rows)
}

func (s *flakyStore) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
