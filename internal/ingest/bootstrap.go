package ingest

import (
	"context"

	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/graph"
)

// SchemaFor returns the constraints and indexes for the given flight key
// mode. In number mode the flight number itself is unique.
func SchemaFor(mode flights.FlightKeyMode) graph.Schema {
	schema := graph.Schema{
		Constraints: []graph.Constraint{
			{Name: "flight_key", Label: graph.LabelFlight, Property: "flightKey"},
			{Name: "airport_id", Label: graph.LabelAirport, Property: "airportId"},
			{Name: "reason_code", Label: graph.LabelReason, Property: "code"},
			{Name: "carrier_code", Label: graph.LabelCarrier, Property: "code"},
			{Name: "city_name", Label: graph.LabelCity, Property: "name"},
			{Name: "country_name", Label: graph.LabelCountry, Property: "name"},
			{Name: "state_name", Label: graph.LabelState, Property: "name"},
			{Name: "aircraft_tail_number", Label: graph.LabelAircraft, Property: "tailNumber"},
		},
		Indexes: []graph.Index{
			{Name: "airport_abbreviation", Label: graph.LabelAirport, Property: "abbreviation"},
		},
	}

	if mode == flights.FlightKeyNumber {
		schema.Constraints = append(schema.Constraints,
			graph.Constraint{Name: "flight_number", Label: graph.LabelFlight, Property: "flightNumber"})
	} else {
		// Neo4j refuses an index on a property that already has a constraint.
		schema.Indexes = append(schema.Indexes,
			graph.Index{Name: "flight_number", Label: graph.LabelFlight, Property: "flightNumber"})
	}
	return schema
}

// Bootstrap declares schema on store. Declarations are idempotent, so it is
// safe to run before every import.
func Bootstrap(ctx context.Context, store graph.Store, schema graph.Schema) error {
	if err := store.EnsureSchema(ctx, schema); err != nil {
		return &SchemaBootstrapError{Err: err}
	}
	return nil
}
