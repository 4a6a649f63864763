// Package flights holds the graph entities of the flights domain and the
// mapping from source records to those entities.
package flights

import "fmt"

// Reason codes shared by delays and cancellations.
const (
	ReasonCarrier           = "A"
	ReasonWeather           = "B"
	ReasonNationalAirSystem = "C"
	ReasonSecurity          = "D"
	ReasonLateAircraft      = "Z"
)

// Reason explains a delay or a cancellation.
type Reason struct {
	Code        string
	Description string
}

// DefaultReasons returns the fixed reason set, ordered by code.
func DefaultReasons() []Reason {
	return []Reason{
		{Code: ReasonCarrier, Description: "Carrier"},
		{Code: ReasonWeather, Description: "Weather"},
		{Code: ReasonNationalAirSystem, Description: "National Air System"},
		{Code: ReasonSecurity, Description: "Security"},
		{Code: ReasonLateAircraft, Description: "Late Aircraft"},
	}
}

// Carrier is an airline.
type Carrier struct {
	Code        string
	Description string
}

// Country is keyed by name.
type Country struct {
	Name    string
	IsoCode string
}

// City is keyed by name.
type City struct {
	Name string
}

// State is keyed by name. The zero State means the airport has none.
type State struct {
	Code string
	Name string
}

// Airport is keyed by AirportID.
type Airport struct {
	AirportID      string
	Abbreviation   string
	Name           string
	City           string
	State          string
	Country        string
	Wac            string
	IsoCountryCode string
	IsLatest       bool
}

// AirportInformation is everything one master coordinate row contributes to
// the graph. The location entities are merged in dependency order.
type AirportInformation struct {
	Airport Airport
	City    City
	Country Country
	State   State
}

// HasState reports whether the airport belongs to a state.
func (a AirportInformation) HasState() bool {
	return a.State.Name != ""
}

// Delay is the time attributed to one reason. It is not a node; it becomes a
// DELAYED_BY relationship.
type Delay struct {
	ReasonCode string
	Duration   int
}

// Flight is one operated flight with its delays.
type Flight struct {
	Key          string
	FlightNumber string
	Carrier      string
	TailNumber   string
	Origin       string
	Destination  string

	Year       int
	Month      int
	DayOfMonth int
	DayOfWeek  int

	DepartureDelay *int
	ArrivalDelay   *int
	TaxiOut        *int
	TaxiIn         *int

	CancellationCode string
	Delays           []Delay
}

// Cancelled reports whether the flight carries a cancellation code.
func (f Flight) Cancelled() bool {
	return f.CancellationCode != ""
}

// FlightKeyMode selects which fields identify a Flight node.
type FlightKeyMode string

const (
	// FlightKeyComposite identifies a flight by carrier, number, date and
	// route. Flight numbers repeat across days and carriers.
	FlightKeyComposite FlightKeyMode = "composite"

	// FlightKeyNumber identifies a flight by its number alone. Flights that
	// share a number merge into one node.
	FlightKeyNumber FlightKeyMode = "number"
)

// ParseFlightKeyMode parses a key mode name.
func ParseFlightKeyMode(s string) (FlightKeyMode, error) {
	switch FlightKeyMode(s) {
	case FlightKeyComposite, "":
		return FlightKeyComposite, nil
	case FlightKeyNumber:
		return FlightKeyNumber, nil
	}
	return "", fmt.Errorf("unknown flight key mode: %q", s)
}
