package ingest

import (
	"context"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/metrics"
	"github.com/systemshift/flightgraph/internal/records"
)

func intp(v int) *int { return &v }

func jfkLax() []flights.AirportInformation {
	return []flights.AirportInformation{
		flights.MapAirport(records.AirportRecord{
			AirportID: "JFK", Abbreviation: "JFK", CityName: "New York, NY",
			StateCode: "NY", StateName: "New York", CountryName: "United States", CountryISO: "US", IsLatest: true,
		}),
		flights.MapAirport(records.AirportRecord{
			AirportID: "LAX", Abbreviation: "LAX", CityName: "Los Angeles, CA",
			StateCode: "CA", StateName: "California", CountryName: "United States", CountryISO: "US", IsLatest: true,
		}),
	}
}

func aa100Flight() flights.Flight {
	return flights.MapFlight(records.FlightRecord{
		Year: 2015, Month: 1, DayOfMonth: 2, DayOfWeek: 5,
		Carrier: "AA", FlightNumber: "AA100", Origin: "JFK", Destination: "LAX",
		CarrierDelay: intp(20),
	}, flights.FlightKeyComposite)
}

func TestFlightBeforeAirportIsSkipped(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)
	log, hook := test.NewNullLogger()
	exec := NewExecutor(store, log)

	counters, err := exec.UpsertFlights(ctx, 0, []flights.Flight{aa100Flight()})
	require.NoError(t, err)
	assert.Zero(t, counters.Upserted)
	assert.Equal(t, 1, counters.Skipped)

	c := counts(t, store)
	assert.Zero(t, c.Relationships[graph.RelOrigin], "no edge may point at a missing airport")
	assert.Zero(t, c.Nodes[graph.LabelFlight])

	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, logrus.WarnLevel, hook.LastEntry().Level)
	assert.Equal(t, 0, hook.LastEntry().Data["batch"])
	assert.Equal(t, 1, hook.LastEntry().Data["skipped"])
}

func TestExecutorObserversAndMetrics(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	var events []BatchEvent
	exec := NewExecutor(store, nullLogger(),
		WithMetrics(metrics.New()),
		WithObserver(func(ev BatchEvent) { events = append(events, ev) }),
	)

	_, err := exec.UpsertReasons(ctx, 0, flights.DefaultReasons())
	require.NoError(t, err)
	_, err = exec.UpsertCarriers(ctx, 1, []flights.Carrier{{Code: "AA", Description: "American Airlines"}})
	require.NoError(t, err)
	_, err = exec.UpsertAirports(ctx, 2, jfkLax())
	require.NoError(t, err)
	counters, err := exec.UpsertFlights(ctx, 3, []flights.Flight{aa100Flight()})
	require.NoError(t, err)
	assert.Equal(t, 1, counters.Upserted)

	require.Len(t, events, 4)
	assert.Equal(t, graph.StatementUpsertReasons, events[0].Statement)
	assert.Equal(t, 5, events[0].Rows)
	assert.Equal(t, 5, events[0].Counters.NodesCreated)
	assert.Equal(t, graph.StatementUpsertFlights, events[3].Statement)
	assert.Equal(t, 3, events[3].Batch)
	assert.NoError(t, events[3].Err)
}

func TestExecutorWrapsStoreFailure(t *testing.T) {
	store := &flakyStore{
		Store:     newStore(t),
		statement: graph.StatementUpsertReasons,
		fail:      func(int) bool { return true },
	}

	var got BatchEvent
	exec := NewExecutor(store, nullLogger(), WithObserver(func(ev BatchEvent) { got = ev }))

	_, err := exec.UpsertReasons(context.Background(), 4, flights.DefaultReasons())
	require.Error(t, err)

	var txErr *TransactionError
	require.ErrorAs(t, err, &txErr)
	assert.Equal(t, graph.StatementUpsertReasons, txErr.Statement)
	assert.Equal(t, 4, txErr.Batch)
	assert.ErrorIs(t, err, errInjected)
	assert.Equal(t, 1, store.Calls(), "the executor never retries")
	assert.Equal(t, err, got.Err)
}

func TestFlightRowsRenderNulls(t *testing.T) {
	f := aa100Flight()
	f.TaxiOut = intp(9)
	rows := flightRows([]flights.Flight{f})
	require.Len(t, rows, 1)

	row := rows[0]
	assert.Nil(t, row["departureDelay"])
	assert.Nil(t, row["cancellationCode"])
	assert.Equal(t, int64(9), row["taxiOut"])
	assert.Equal(t, []any{map[string]any{"reasonCode": "A", "duration": int64(20)}}, row["delays"])

	empty := flightRows([]flights.Flight{{Key: "k"}})
	assert.Equal(t, []any{}, empty[0]["delays"], "no delays renders an empty list, not null")
}

func TestSchemaFor(t *testing.T) {
	has := func(schema graph.Schema, name string) bool {
		for _, c := range schema.Constraints {
			if c.Name == name {
				return true
			}
		}
		for _, i := range schema.Indexes {
			if i.Name == name {
				return true
			}
		}
		return false
	}

	composite := SchemaFor(flights.FlightKeyComposite)
	require.NoError(t, composite.Validate())
	assert.True(t, has(composite, "flight_key"))
	assert.True(t, has(composite, "airport_abbreviation"))
	assert.Len(t, composite.Constraints, 8)
	assert.Len(t, composite.Indexes, 2)

	number := SchemaFor(flights.FlightKeyNumber)
	assert.Len(t, number.Constraints, 9)
	assert.Len(t, number.Indexes, 1)
	assert.True(t, has(number, "flight_number"))

	store := newStore(t)
	require.NoError(t, Bootstrap(context.Background(), store, number))
	require.NoError(t, Bootstrap(context.Background(), store, number))
}
