package ingest

import (
	"github.com/systemshift/flightgraph/internal/flights"
)

// Entities are rendered to plain maps, lists and scalars so any store can
// bind them as the $rows parameter.

func reasonRows(reasons []flights.Reason) []map[string]any {
	rows := make([]map[string]any, len(reasons))
	for i, r := range reasons {
		rows[i] = map[string]any{
			"code":        r.Code,
			"description": r.Description,
		}
	}
	return rows
}

func carrierRows(carriers []flights.Carrier) []map[string]any {
	rows := make([]map[string]any, len(carriers))
	for i, c := range carriers {
		rows[i] = map[string]any{
			"code":        c.Code,
			"description": c.Description,
		}
	}
	return rows
}

func locationRows(airports []flights.AirportInformation) []map[string]any {
	rows := make([]map[string]any, len(airports))
	for i, info := range airports {
		a := info.Airport
		rows[i] = map[string]any{
			"country": map[string]any{
				"name":    info.Country.Name,
				"isoCode": info.Country.IsoCode,
			},
			"city": map[string]any{
				"name": info.City.Name,
			},
			"state": map[string]any{
				"code": info.State.Code,
				"name": info.State.Name,
			},
			"airport": map[string]any{
				"airportId":      a.AirportID,
				"abbreviation":   a.Abbreviation,
				"name":           a.Name,
				"city":           a.City,
				"state":          a.State,
				"country":        a.Country,
				"wac":            a.Wac,
				"isoCountryCode": a.IsoCountryCode,
				"isLatest":       a.IsLatest,
			},
		}
	}
	return rows
}

func flightRows(batch []flights.Flight) []map[string]any {
	rows := make([]map[string]any, len(batch))
	for i, f := range batch {
		delays := make([]any, len(f.Delays))
		for j, d := range f.Delays {
			delays[j] = map[string]any{
				"reasonCode": d.ReasonCode,
				"duration":   int64(d.Duration),
			}
		}

		rows[i] = map[string]any{
			"flightKey":        f.Key,
			"flightNumber":     f.FlightNumber,
			"carrier":          f.Carrier,
			"tailNumber":       f.TailNumber,
			"origin":           f.Origin,
			"destination":      f.Destination,
			"year":             int64(f.Year),
			"month":            int64(f.Month),
			"dayOfMonth":       int64(f.DayOfMonth),
			"dayOfWeek":        int64(f.DayOfWeek),
			"departureDelay":   optionalInt(f.DepartureDelay),
			"arrivalDelay":     optionalInt(f.ArrivalDelay),
			"taxiOut":          optionalInt(f.TaxiOut),
			"taxiIn":           optionalInt(f.TaxiIn),
			"cancellationCode": optionalString(f.CancellationCode),
			"delays":           delays,
		}
	}
	return rows
}

// optionalInt returns an untyped nil for a missing value so the store sees
// null rather than a typed nil pointer.
func optionalInt(v *int) any {
	if v == nil {
		return nil
	}
	return int64(*v)
}

func optionalString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
