package records

import (
	"io"
	"iter"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSource() *Source {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return NewSource(log)
}

func collect[T any](t *testing.T, seq iter.Seq2[T, error]) []T {
	t.Helper()
	var out []T
	for rec, err := range seq {
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func TestCarriersFrom(t *testing.T) {
	src := testSource()
	input := "\ufeff\"Code\",\"Description\"\n" +
		"\"AA\",\"American Airlines Inc.\"\n" +
		"\"\",\"No code\"\n" +
		"\"DL\",\"Delta Air Lines Inc.\"\n"

	got := collect(t, src.CarriersFrom("carriers.csv", strings.NewReader(input)))

	assert.Equal(t, []CarrierRecord{
		{Code: "AA", Description: "American Airlines Inc."},
		{Code: "DL", Description: "Delta Air Lines Inc."},
	}, got)
	assert.Equal(t, int64(1), src.Skipped())
}

func TestAirportsFromKeepsLatestOnly(t *testing.T) {
	src := testSource()
	input := strings.Join([]string{
		"AIRPORT_ID,AIRPORT,DISPLAY_AIRPORT_NAME,DISPLAY_AIRPORT_CITY_NAME_FULL,AIRPORT_WAC,AIRPORT_COUNTRY_NAME,AIRPORT_COUNTRY_CODE_ISO,AIRPORT_STATE_NAME,AIRPORT_STATE_CODE,AIRPORT_IS_LATEST",
		"12478,JFK,John F. Kennedy International,\"New York, NY\",22,United States,US,New York,NY,1",
		"12478,JFK,Idlewild,\"New York, NY\",22,United States,US,New York,NY,0",
		"10001,XYZ,Somewhere,Town,800,Elsewhere,EL,,,1",
		"10002,BAD,Bad Flag,Town,800,Elsewhere,EL,,,maybe",
	}, "\n")

	got := collect(t, src.AirportsFrom("airports.csv", strings.NewReader(input)))

	require.Len(t, got, 2)
	assert.Equal(t, AirportRecord{
		AirportID:    "12478",
		Abbreviation: "JFK",
		Name:         "John F. Kennedy International",
		CityName:     "New York, NY",
		StateCode:    "NY",
		StateName:    "New York",
		CountryName:  "United States",
		CountryISO:   "US",
		Wac:          "22",
		IsLatest:     true,
	}, got[0])
	assert.Equal(t, "", got[1].StateName)
	assert.Equal(t, int64(1), src.Skipped(), "only the unparseable flag counts as skipped")
}

func TestFlightsFrom(t *testing.T) {
	src := testSource()
	input := strings.Join([]string{
		"YEAR,MONTH,DAY_OF_MONTH,DAY_OF_WEEK,UNIQUE_CARRIER,TAIL_NUM,FL_NUM,ORIGIN,DEST,DEP_DELAY,TAXI_OUT,TAXI_IN,ARR_DELAY,CANCELLATION_CODE,CARRIER_DELAY,WEATHER_DELAY,NAS_DELAY,SECURITY_DELAY,LATE_AIRCRAFT_DELAY",
		"2015,1,2,5,AA,N787AA,100,JFK,LAX,25.00,14.00,7.00,20.00,,15.00,0.00,,-1.00,40.00",
		"2015,13,2,5,AA,N787AA,101,JFK,LAX,,,,,,,,,,",
		"2015,1,3,6,AA,,102,JFK,LAX,,,,,B,,,,,",
	}, "\n")

	got := collect(t, src.FlightsFrom("flights.csv", strings.NewReader(input)))
	require.Len(t, got, 2)

	first := got[0]
	assert.Equal(t, "100", first.FlightNumber)
	assert.Equal(t, "JFK", first.Origin)
	assert.Equal(t, "LAX", first.Destination)
	require.NotNil(t, first.DepartureDelay)
	assert.Equal(t, 25, *first.DepartureDelay)
	require.NotNil(t, first.CarrierDelay)
	assert.Equal(t, 15, *first.CarrierDelay)
	assert.Nil(t, first.NASDelay)
	require.NotNil(t, first.SecurityDelay)
	assert.Equal(t, -1, *first.SecurityDelay)

	assert.Equal(t, "B", got[1].CancellationCode)
	assert.Nil(t, got[1].TaxiIn)
	assert.Equal(t, int64(1), src.Skipped())
}

func TestFlightsFromPrefersAirportIDs(t *testing.T) {
	src := testSource()
	input := "YEAR,MONTH,DAY_OF_MONTH,DAY_OF_WEEK,OP_UNIQUE_CARRIER,OP_CARRIER_FL_NUM,ORIGIN,ORIGIN_AIRPORT_ID,DEST,DEST_AIRPORT_ID\n" +
		"2015,1,2,5,AA,100,JFK,12478,LAX,12892\n"

	got := collect(t, src.FlightsFrom("flights.csv", strings.NewReader(input)))
	require.Len(t, got, 1)
	assert.Equal(t, "12478", got[0].Origin)
	assert.Equal(t, "12892", got[0].Destination)
	assert.Equal(t, "AA", got[0].Carrier)
}

func TestMissingRequiredColumn(t *testing.T) {
	src := testSource()
	var errs []error
	for _, err := range src.FlightsFrom("flights.csv", strings.NewReader("YEAR,MONTH\n2015,1\n")) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorContains(t, errs[0], "DAY_OF_MONTH")
}

func TestCarriersFileIsLazy(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "carriers.csv")
	require.NoError(t, os.WriteFile(path, []byte("Code,Description\nAA,American\nUA,United\n"), 0o644))

	src := testSource()
	var first []CarrierRecord
	for rec, err := range src.Carriers(path) {
		require.NoError(t, err)
		first = append(first, rec)
		break
	}
	assert.Equal(t, []CarrierRecord{{Code: "AA", Description: "American"}}, first)

	var errs []error
	for _, err := range src.Carriers(filepath.Join(dir, "missing.csv")) {
		errs = append(errs, err)
	}
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], os.ErrNotExist)
}
