package flights

import (
	"fmt"
	"strings"

	"github.com/systemshift/flightgraph/internal/records"
)

// MapCarrier converts a carrier row.
func MapCarrier(rec records.CarrierRecord) Carrier {
	return Carrier{
		Code:        rec.Code,
		Description: rec.Description,
	}
}

// MapAirport converts a master coordinate row into the airport and the
// locations it sits in. Rows that are not the latest revision are filtered by
// the record source, not here.
func MapAirport(rec records.AirportRecord) AirportInformation {
	return AirportInformation{
		Airport: Airport{
			AirportID:      rec.AirportID,
			Abbreviation:   rec.Abbreviation,
			Name:           rec.Name,
			City:           rec.CityName,
			State:          rec.StateName,
			Country:        rec.CountryName,
			Wac:            rec.Wac,
			IsoCountryCode: rec.CountryISO,
			IsLatest:       rec.IsLatest,
		},
		City: City{
			Name: rec.CityName,
		},
		Country: Country{
			Name:    rec.CountryName,
			IsoCode: rec.CountryISO,
		},
		State: State{
			Code: rec.StateCode,
			Name: rec.StateName,
		},
	}
}

// MapFlight converts an on-time performance row.
func MapFlight(rec records.FlightRecord, mode FlightKeyMode) Flight {
	f := Flight{
		FlightNumber:     rec.FlightNumber,
		Carrier:          rec.Carrier,
		TailNumber:       rec.TailNumber,
		Origin:           rec.Origin,
		Destination:      rec.Destination,
		Year:             rec.Year,
		Month:            rec.Month,
		DayOfMonth:       rec.DayOfMonth,
		DayOfWeek:        rec.DayOfWeek,
		DepartureDelay:   rec.DepartureDelay,
		ArrivalDelay:     rec.ArrivalDelay,
		TaxiOut:          rec.TaxiOut,
		TaxiIn:           rec.TaxiIn,
		CancellationCode: rec.CancellationCode,
		Delays:           Delays(rec),
	}
	f.Key = FlightKey(f, mode)
	return f
}

// Delays lists the positive delay causes of a row in reason code order.
func Delays(rec records.FlightRecord) []Delay {
	causes := []struct {
		code  string
		value *int
	}{
		{ReasonCarrier, rec.CarrierDelay},
		{ReasonWeather, rec.WeatherDelay},
		{ReasonNationalAirSystem, rec.NASDelay},
		{ReasonSecurity, rec.SecurityDelay},
		{ReasonLateAircraft, rec.LateAircraftDelay},
	}

	delays := make([]Delay, 0, len(causes))
	for _, c := range causes {
		if c.value == nil || *c.value <= 0 {
			continue
		}
		delays = append(delays, Delay{ReasonCode: c.code, Duration: *c.value})
	}
	return delays
}

// FlightKey derives the merge key of a flight.
func FlightKey(f Flight, mode FlightKeyMode) string {
	if mode == FlightKeyNumber {
		return f.FlightNumber
	}
	return strings.Join([]string{
		f.Carrier,
		f.FlightNumber,
		fmt.Sprintf("%04d-%02d-%02d", f.Year, f.Month, f.DayOfMonth),
		f.Origin,
		f.Destination,
	}, "|")
}
