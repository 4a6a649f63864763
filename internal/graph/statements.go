package graph

// StatementID identifies one of the fixed upsert templates.
type StatementID int

const (
	StatementUpsertReasons StatementID = iota + 1
	StatementUpsertCarriers
	StatementUpsertLocations
	StatementUpsertFlights
)

func (id StatementID) String() string {
	switch id {
	case StatementUpsertReasons:
		return "upsert_reasons"
	case StatementUpsertCarriers:
		return "upsert_carriers"
	case StatementUpsertLocations:
		return "upsert_locations"
	case StatementUpsertFlights:
		return "upsert_flights"
	default:
		return "unknown"
	}
}

// Every template takes the batch as $rows and returns the number of rows it
// processed as "upserted".
//
// Row shapes:
//
//	reasons, carriers: {code, description}
//	locations:         {country: {name, isoCode}, city: {name}, state: {code, name},
//	                    airport: {airportId, abbreviation, name, city, state, country,
//	                              wac, isoCountryCode, isLatest}}
//	flights:           {flightKey, flightNumber, carrier, tailNumber, origin, destination,
//	                    year, month, dayOfMonth, dayOfWeek, departureDelay, arrivalDelay,
//	                    taxiOut, taxiIn, cancellationCode, delays: [{reasonCode, duration}]}

const cypherUpsertReasons = `
UNWIND $rows AS row
MERGE (r:Reason {code: row.code})
SET r = row
RETURN count(row) AS upserted
`

const cypherUpsertCarriers = `
UNWIND $rows AS row
MERGE (c:Carrier {code: row.code})
SET c = row
RETURN count(row) AS upserted
`

// Locations are merged country, city, state, airport so every node exists
// before the relationship that points at it.
const cypherUpsertLocations = `
UNWIND $rows AS row
MERGE (country:Country {name: row.country.name})
SET country = row.country

WITH country, row
MERGE (city:City {name: row.city.name})
SET city = row.city
MERGE (city)-[:IN_COUNTRY]->(country)

WITH city, country, row
FOREACH (s IN CASE row.state.name WHEN '' THEN [] ELSE [row.state] END |
    MERGE (state:State {name: s.name})
    SET state = s
    MERGE (state)-[:IN_COUNTRY]->(country)
    MERGE (city)-[:IN_STATE]->(state)
)

WITH city, row
MERGE (airport:Airport {airportId: row.airport.airportId})
SET airport = row.airport
MERGE (airport)-[:IN_CITY]->(city)
RETURN count(row) AS upserted
`

// Both airports are matched, not merged: a flight whose airports are missing
// produces no node and is reported through the upserted count. Carrier,
// cancellation, delay and aircraft links are optional.
const cypherUpsertFlights = `
UNWIND $rows AS row
MATCH (origin:Airport {airportId: row.origin})
MATCH (destination:Airport {airportId: row.destination})
MERGE (f:Flight {flightKey: row.flightKey})
SET f.flightNumber = row.flightNumber,
    f.carrier = row.carrier,
    f.year = row.year,
    f.month = row.month,
    f.day = row.dayOfMonth,
    f.weekday = row.dayOfWeek,
    f.cancellationCode = row.cancellationCode

MERGE (f)-[o:ORIGIN]->(origin)
SET o.taxiTime = row.taxiOut,
    o.departureDelay = row.departureDelay

MERGE (f)-[d:DESTINATION]->(destination)
SET d.taxiTime = row.taxiIn,
    d.arrivalDelay = row.arrivalDelay

WITH f, row
OPTIONAL MATCH (carrier:Carrier {code: row.carrier})
FOREACH (c IN CASE WHEN carrier IS NULL THEN [] ELSE [carrier] END |
    MERGE (f)-[:CARRIER]->(c)
)

WITH f, row
OPTIONAL MATCH (cancel:Reason {code: row.cancellationCode})
FOREACH (r IN CASE WHEN cancel IS NULL THEN [] ELSE [cancel] END |
    MERGE (f)-[:CANCELLED_BY]->(r)
)

WITH f, row
CALL {
    WITH f, row
    UNWIND row.delays AS delay
    MATCH (reason:Reason {code: delay.reasonCode})
    MERGE (f)-[fd:DELAYED_BY]->(reason)
    SET fd.duration = delay.duration
    RETURN count(delay) AS delayed
}

WITH f, row
FOREACH (t IN CASE row.tailNumber WHEN '' THEN [] ELSE [row.tailNumber] END |
    MERGE (craft:Aircraft {tailNumber: t})
    MERGE (f)-[:AIRCRAFT]->(craft)
)
RETURN count(row) AS upserted
`

var cypherStatements = map[StatementID]string{
	StatementUpsertReasons:   cypherUpsertReasons,
	StatementUpsertCarriers:  cypherUpsertCarriers,
	StatementUpsertLocations: cypherUpsertLocations,
	StatementUpsertFlights:   cypherUpsertFlights,
}

// Cypher returns the template for id.
func Cypher(id StatementID) (string, bool) {
	c, ok := cypherStatements[id]
	return c, ok
}
