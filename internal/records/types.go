// Package records reads the flat-file flight datasets into typed rows.
//
// Rows that fail to parse are skipped before they leave this package, so
// consumers only ever see records that passed validation.
package records

import "fmt"

// CarrierRecord is one row of the unique carriers lookup table.
type CarrierRecord struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

// AirportRecord is one row of the airport master coordinate table.
type AirportRecord struct {
	AirportID    string `json:"airport_id"`
	Abbreviation string `json:"abbreviation"`
	Name         string `json:"name"`
	CityName     string `json:"city_name"`
	StateCode    string `json:"state_code"`
	StateName    string `json:"state_name"`
	CountryName  string `json:"country_name"`
	CountryISO   string `json:"country_iso"`
	Wac          string `json:"wac"`
	IsLatest     bool   `json:"is_latest"`
}

// FlightRecord is one row of the on-time performance statistics.
// Nil numeric fields were empty in the source.
type FlightRecord struct {
	Year         int    `json:"year"`
	Month        int    `json:"month"`
	DayOfMonth   int    `json:"day_of_month"`
	DayOfWeek    int    `json:"day_of_week"`
	Carrier      string `json:"carrier"`
	TailNumber   string `json:"tail_number"`
	FlightNumber string `json:"flight_number"`
	Origin       string `json:"origin"`
	Destination  string `json:"destination"`

	DepartureDelay *int `json:"departure_delay,omitempty"`
	ArrivalDelay   *int `json:"arrival_delay,omitempty"`
	TaxiOut        *int `json:"taxi_out,omitempty"`
	TaxiIn         *int `json:"taxi_in,omitempty"`

	CancellationCode string `json:"cancellation_code,omitempty"`

	CarrierDelay      *int `json:"carrier_delay,omitempty"`
	WeatherDelay      *int `json:"weather_delay,omitempty"`
	NASDelay          *int `json:"nas_delay,omitempty"`
	SecurityDelay     *int `json:"security_delay,omitempty"`
	LateAircraftDelay *int `json:"late_aircraft_delay,omitempty"`
}

// Validate reports whether the record carries the fields needed to place it
// in the graph.
func (r FlightRecord) Validate() error {
	switch {
	case r.FlightNumber == "":
		return fmt.Errorf("flight number is required")
	case r.Origin == "":
		return fmt.Errorf("origin is required")
	case r.Destination == "":
		return fmt.Errorf("destination is required")
	case r.Month < 1 || r.Month > 12:
		return fmt.Errorf("month out of range: %d", r.Month)
	case r.DayOfMonth < 1 || r.DayOfMonth > 31:
		return fmt.Errorf("day of month out of range: %d", r.DayOfMonth)
	}
	return nil
}

// SourceDataError describes a row that failed validation or parsing.
type SourceDataError struct {
	File string
	Line int
	Err  error
}

func (e *SourceDataError) Error() string {
	return fmt.Sprintf("%s:%d: %v", e.File, e.Line, e.Err)
}

func (e *SourceDataError) Unwrap() error {
	return e.Err
}
