package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/ingest"
	"github.com/systemshift/flightgraph/internal/ledger"
	"github.com/systemshift/flightgraph/internal/logging"
	"github.com/systemshift/flightgraph/internal/metrics"
	"github.com/systemshift/flightgraph/internal/records"
	"github.com/systemshift/flightgraph/internal/server/stream"
)

type fakeImports struct {
	err     error
	started int
}

func (f *fakeImports) Start(ctx context.Context, done func(ingest.Report, error)) error {
	if f.err != nil {
		return f.err
	}
	f.started++
	done(ingest.Report{RunID: "run-1"}, nil)
	return nil
}

func (f *fakeImports) Status() ingest.Status {
	return ingest.Status{RunID: "run-1", State: ingest.StateLoadingFlights}
}

type fakeSubmitter struct {
	err  error
	recs []records.FlightRecord
}

func (f *fakeSubmitter) Submit(ctx context.Context, recs []records.FlightRecord) error {
	if f.err != nil {
		return f.err
	}
	f.recs = append(f.recs, recs...)
	return nil
}

func (f *fakeSubmitter) Stats() stream.Stats {
	return stream.Stats{Received: int64(len(f.recs))}
}

type fakeHistory struct {
	runs    []ledger.Run
	batches map[string]ledger.Batch
}

func (f fakeHistory) Runs(ctx context.Context, limit int) ([]ledger.Run, error) {
	if limit < len(f.runs) {
		return f.runs[:limit], nil
	}
	return f.runs, nil
}

func (f fakeHistory) LastBatch(ctx context.Context, runID string) (ledger.Batch, error) {
	b, ok := f.batches[runID]
	if !ok {
		return ledger.Batch{}, ledger.ErrRunNotFound
	}
	return b, nil
}

type downStore struct{ graph.Store }

func (downStore) Ping(context.Context) error { return errors.New("connection refused") }

func newStore(t *testing.T) *graph.SQLiteStore {
	t.Helper()
	ctx := context.Background()
	store, err := graph.NewSQLite(ctx, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { store.Close(ctx) })
	return store
}

func do(t *testing.T, s *Server, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	rr := httptest.NewRecorder()
	s.Router().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v))
	return v
}

func TestHealthCheck(t *testing.T) {
	s := New(newStore(t), logging.Discard())

	rr := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "application/json", rr.Header().Get("Content-Type"))
	assert.Equal(t, "ok", decode[map[string]string](t, rr)["status"])
}

func TestHealthCheckStoreDown(t *testing.T) {
	s := New(downStore{}, logging.Discard())

	rr := do(t, s, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Contains(t, decode[map[string]string](t, rr)["error"], "connection refused")
}

func TestCountsAndRelationships(t *testing.T) {
	store := newStore(t)
	exec := ingest.NewExecutor(store, logging.Discard())
	ctx := context.Background()
	_, err := exec.UpsertAirports(ctx, 0, []flights.AirportInformation{
		flights.MapAirport(records.AirportRecord{AirportID: "JFK", CityName: "New York, NY", CountryName: "United States", IsLatest: true}),
		flights.MapAirport(records.AirportRecord{AirportID: "YYZ", CityName: "Toronto, Canada", CountryName: "Canada", IsLatest: true}),
	})
	require.NoError(t, err)

	s := New(store, logging.Discard())

	rr := do(t, s, http.MethodGet, "/api/counts", "")
	require.Equal(t, http.StatusOK, rr.Code)
	counts := decode[graph.GraphCounts](t, rr)
	assert.Equal(t, 2, counts.Nodes[graph.LabelAirport])
	assert.Equal(t, 2, counts.Nodes[graph.LabelCountry])

	rr = do(t, s, http.MethodGet, "/api/relationships/"+graph.RelInCountry+"?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	rels := decode[[]graph.Relationship](t, rr)
	assert.Len(t, rels, 1)

	rr = do(t, s, http.MethodGet, "/api/relationships/"+graph.RelDelayedBy, "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, "[]", rr.Body.String())

	rr = do(t, s, http.MethodGet, "/api/relationships/"+graph.RelInCountry+"?limit=zero", "")
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestStatus(t *testing.T) {
	s := New(newStore(t), logging.Discard(),
		WithImports(&fakeImports{}),
		WithStream(&fakeSubmitter{}))

	rr := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[StatusResponse](t, rr)
	assert.Equal(t, "dev", resp.Version.Version)
	require.NotNil(t, resp.Import)
	assert.Equal(t, ingest.StateLoadingFlights, resp.Import.State)
	require.NotNil(t, resp.Stream)
}

func TestStatusWithoutRunners(t *testing.T) {
	s := New(newStore(t), logging.Discard())

	rr := do(t, s, http.MethodGet, "/api/status", "")
	require.Equal(t, http.StatusOK, rr.Code)
	resp := decode[StatusResponse](t, rr)
	assert.Nil(t, resp.Import)
	assert.Nil(t, resp.Stream)
}

func TestRuns(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	history := fakeHistory{runs: []ledger.Run{
		{ID: "b", StartedAt: started.Add(time.Hour), State: string(ingest.StateDone)},
		{ID: "a", StartedAt: started, State: string(ingest.StateFailed), Error: "boom"},
	}}

	s := New(newStore(t), logging.Discard(), WithHistory(history))
	rr := do(t, s, http.MethodGet, "/api/runs?limit=1", "")
	require.Equal(t, http.StatusOK, rr.Code)
	runs := decode[[]RunResponse](t, rr)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)
	assert.Nil(t, runs[0].LastBatch)

	rr = do(t, New(newStore(t), logging.Discard()), http.MethodGet, "/api/runs", "")
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestRunsIncludeLastBatchOfFailedRuns(t *testing.T) {
	started := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	history := fakeHistory{
		runs: []ledger.Run{
			{ID: "c", StartedAt: started.Add(2 * time.Hour), State: string(ingest.StateFailed), Error: "schema"},
			{ID: "b", StartedAt: started.Add(time.Hour), State: string(ingest.StateDone)},
			{ID: "a", StartedAt: started, State: string(ingest.StateFailed), Error: "boom"},
		},
		batches: map[string]ledger.Batch{
			"a": {RunID: "a", Phase: "flights", Source: "jan.csv", Index: 4, Counters: graph.Counters{Upserted: 1000}},
			"b": {RunID: "b", Phase: "flights", Source: "jan.csv", Index: 9},
		},
	}

	rr := do(t, New(newStore(t), logging.Discard(), WithHistory(history)), http.MethodGet, "/api/runs", "")
	require.Equal(t, http.StatusOK, rr.Code)
	runs := decode[[]RunResponse](t, rr)
	require.Len(t, runs, 3)

	assert.Nil(t, runs[0].LastBatch, "no batch committed before the failure")
	assert.Nil(t, runs[1].LastBatch, "only failed runs report a resume point")
	require.NotNil(t, runs[2].LastBatch)
	assert.Equal(t, 4, runs[2].LastBatch.Index)
	assert.Equal(t, 1000, runs[2].LastBatch.Counters.Upserted)
	assert.Equal(t, "boom", runs[2].Error)
}

func TestSubmitFlights(t *testing.T) {
	sub := &fakeSubmitter{}
	s := New(newStore(t), logging.Discard(), WithStream(sub))

	body := `[{"year":2015,"month":1,"day_of_month":2,"carrier":"AA","flight_number":"AA100","origin":"JFK","destination":"LAX"}]`
	rr := do(t, s, http.MethodPost, "/api/flights", body)
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, decode[map[string]int](t, rr)["accepted"])
	require.Len(t, sub.recs, 1)
	assert.Equal(t, "AA100", sub.recs[0].FlightNumber)

	rr = do(t, s, http.MethodPost, "/api/flights", `{"not":"an array"}`)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestSubmitFlightsErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"invalid record", &records.SourceDataError{File: "submission", Line: 1, Err: errors.New("origin is required")}, http.StatusBadRequest},
		{"stopped", stream.ErrStopped, http.StatusServiceUnavailable},
		{"cancelled", context.Canceled, http.StatusServiceUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := New(newStore(t), logging.Discard(), WithStream(&fakeSubmitter{err: tt.err}))
			rr := do(t, s, http.MethodPost, "/api/flights", `[]`)
			assert.Equal(t, tt.want, rr.Code)
		})
	}

	rr := do(t, New(newStore(t), logging.Discard()), http.MethodPost, "/api/flights", `[]`)
	assert.Equal(t, http.StatusNotImplemented, rr.Code)
}

func TestStartImport(t *testing.T) {
	imports := &fakeImports{}
	s := New(newStore(t), logging.Discard(), WithImports(imports))

	rr := do(t, s, http.MethodPost, "/api/imports", "")
	require.Equal(t, http.StatusAccepted, rr.Code)
	assert.Equal(t, 1, imports.started)
	assert.Equal(t, "run-1", decode[ingest.Status](t, rr).RunID)

	busy := New(newStore(t), logging.Discard(), WithImports(&fakeImports{err: ingest.ErrAlreadyRunning}))
	rr = do(t, busy, http.MethodPost, "/api/imports", "")
	assert.Equal(t, http.StatusConflict, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	c := metrics.New()
	c.SetStreamQueued(3)
	s := New(newStore(t), logging.Discard(), WithMetrics(c))

	rr := do(t, s, http.MethodGet, "/metrics", "")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "flightgraph_stream_queued_records 3")

	rr = do(t, New(newStore(t), logging.Discard()), http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusNotFound, rr.Code)
}
