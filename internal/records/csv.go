package records

import (
	"bufio"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"iter"
	"math"
	"os"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/sirupsen/logrus"
)

// Source reads typed records from CSV files. Iteration is lazy: a file is
// opened when its sequence is ranged over and closed when ranging stops.
type Source struct {
	log     logrus.FieldLogger
	skipped atomic.Int64
}

// NewSource creates a Source that logs skipped rows to log.
func NewSource(log logrus.FieldLogger) *Source {
	return &Source{log: log}
}

// Skipped returns the number of rows dropped because they failed to parse.
func (s *Source) Skipped() int64 {
	return s.skipped.Load()
}

// Carriers reads the unique carriers file at path.
func (s *Source) Carriers(path string) iter.Seq2[CarrierRecord, error] {
	return readFile(s, path, s.CarriersFrom)
}

// CarriersFrom reads carriers from r; name is used in error messages.
func (s *Source) CarriersFrom(name string, r io.Reader) iter.Seq2[CarrierRecord, error] {
	return decode(s, name, r, []string{"Code", "Description"}, parseCarrier)
}

// Airports reads the master coordinate file at path, keeping only rows
// flagged as the latest revision of an airport.
func (s *Source) Airports(path string) iter.Seq2[AirportRecord, error] {
	return readFile(s, path, s.AirportsFrom)
}

// AirportsFrom reads airports from r; name is used in error messages.
func (s *Source) AirportsFrom(name string, r io.Reader) iter.Seq2[AirportRecord, error] {
	required := []string{"AIRPORT_ID", "AIRPORT_COUNTRY_NAME", "DISPLAY_AIRPORT_CITY_NAME_FULL", "AIRPORT_IS_LATEST"}
	return decode(s, name, r, required, parseAirport)
}

// Flights reads an on-time performance file at path.
func (s *Source) Flights(path string) iter.Seq2[FlightRecord, error] {
	return readFile(s, path, s.FlightsFrom)
}

// FlightsFrom reads flights from r; name is used in error messages.
func (s *Source) FlightsFrom(name string, r io.Reader) iter.Seq2[FlightRecord, error] {
	required := []string{"YEAR", "MONTH", "DAY_OF_MONTH", "DAY_OF_WEEK"}
	return decode(s, name, r, required, parseFlight)
}

func readFile[T any](s *Source, path string, from func(string, io.Reader) iter.Seq2[T, error]) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		f, err := os.Open(path)
		if err != nil {
			var zero T
			yield(zero, fmt.Errorf("opening %s: %w", path, err))
			return
		}
		defer f.Close()

		for rec, err := range from(path, f) {
			if !yield(rec, err) {
				return
			}
		}
	}
}

// errSkipRow marks a well-formed row that is deliberately filtered out.
var errSkipRow = errors.New("row filtered")

func decode[T any](s *Source, name string, r io.Reader, required []string, parse func(header, []string) (T, error)) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		var zero T

		cr := csv.NewReader(stripUTF8BOM(bufio.NewReader(r)))
		cr.FieldsPerRecord = -1
		cr.ReuseRecord = true

		h, err := readHeader(cr)
		if err != nil {
			yield(zero, fmt.Errorf("reading header of %s: %w", name, err))
			return
		}
		for _, col := range required {
			if _, ok := h[col]; !ok {
				yield(zero, fmt.Errorf("%s: missing required header column: %s", name, col))
				return
			}
		}

		line := 1
		for {
			row, err := cr.Read()
			line++
			if err == io.EOF {
				return
			}
			if err != nil {
				var perr *csv.ParseError
				if errors.As(err, &perr) && !errors.Is(perr.Err, csv.ErrQuote) {
					s.skip(&SourceDataError{File: name, Line: line, Err: err})
					continue
				}
				yield(zero, fmt.Errorf("reading %s: %w", name, err))
				return
			}

			rec, err := parse(h, row)
			if errors.Is(err, errSkipRow) {
				continue
			}
			if err != nil {
				s.skip(&SourceDataError{File: name, Line: line, Err: err})
				continue
			}
			if !yield(rec, nil) {
				return
			}
		}
	}
}

func (s *Source) skip(err *SourceDataError) {
	s.skipped.Add(1)
	if s.log != nil {
		s.log.WithFields(logrus.Fields{
			"file": err.File,
			"line": err.Line,
		}).WithError(err.Err).Debug("skipping invalid row")
	}
}

func stripUTF8BOM(r *bufio.Reader) *bufio.Reader {
	b, err := r.Peek(3)
	if err == nil && len(b) == 3 && b[0] == 0xEF && b[1] == 0xBB && b[2] == 0xBF {
		_, _ = r.Discard(3)
	}
	return r
}

// header maps a column name to its position.
type header map[string]int

func readHeader(r *csv.Reader) (header, error) {
	row, err := r.Read()
	if err != nil {
		if err == io.EOF {
			return nil, fmt.Errorf("missing header")
		}
		return nil, err
	}
	h := make(header, len(row))
	for i, name := range row {
		h[strings.TrimSpace(name)] = i
	}
	return h, nil
}

// get returns the trimmed value of the first named column present in the
// header, or "" when none is.
func (h header) get(row []string, names ...string) string {
	for _, name := range names {
		if i, ok := h[name]; ok && i < len(row) {
			return strings.TrimSpace(row[i])
		}
	}
	return ""
}

func (h header) has(name string) bool {
	_, ok := h[name]
	return ok
}

func parseCarrier(h header, row []string) (CarrierRecord, error) {
	rec := CarrierRecord{
		Code:        h.get(row, "Code"),
		Description: h.get(row, "Description"),
	}
	if rec.Code == "" {
		return rec, fmt.Errorf("carrier code is empty")
	}
	return rec, nil
}

func parseAirport(h header, row []string) (AirportRecord, error) {
	latest, err := parseFlag(h.get(row, "AIRPORT_IS_LATEST"))
	if err != nil {
		return AirportRecord{}, fmt.Errorf("AIRPORT_IS_LATEST: %w", err)
	}
	if !latest {
		return AirportRecord{}, errSkipRow
	}

	rec := AirportRecord{
		AirportID:    h.get(row, "AIRPORT_ID"),
		Abbreviation: h.get(row, "AIRPORT"),
		Name:         h.get(row, "DISPLAY_AIRPORT_NAME"),
		CityName:     h.get(row, "DISPLAY_AIRPORT_CITY_NAME_FULL"),
		StateCode:    h.get(row, "AIRPORT_STATE_CODE"),
		StateName:    h.get(row, "AIRPORT_STATE_NAME"),
		CountryName:  h.get(row, "AIRPORT_COUNTRY_NAME"),
		CountryISO:   h.get(row, "AIRPORT_COUNTRY_CODE_ISO"),
		Wac:          h.get(row, "AIRPORT_WAC"),
		IsLatest:     latest,
	}
	switch {
	case rec.AirportID == "":
		return rec, fmt.Errorf("airport id is empty")
	case rec.CityName == "":
		return rec, fmt.Errorf("city name is empty")
	case rec.CountryName == "":
		return rec, fmt.Errorf("country name is empty")
	}
	return rec, nil
}

func parseFlight(h header, row []string) (FlightRecord, error) {
	var rec FlightRecord
	var err error

	if rec.Year, err = parseInt(h.get(row, "YEAR")); err != nil {
		return rec, fmt.Errorf("YEAR: %w", err)
	}
	if rec.Month, err = parseInt(h.get(row, "MONTH")); err != nil {
		return rec, fmt.Errorf("MONTH: %w", err)
	}
	if rec.DayOfMonth, err = parseInt(h.get(row, "DAY_OF_MONTH")); err != nil {
		return rec, fmt.Errorf("DAY_OF_MONTH: %w", err)
	}
	if rec.DayOfWeek, err = parseInt(h.get(row, "DAY_OF_WEEK")); err != nil {
		return rec, fmt.Errorf("DAY_OF_WEEK: %w", err)
	}

	rec.Carrier = h.get(row, "OP_UNIQUE_CARRIER", "UNIQUE_CARRIER")
	rec.TailNumber = h.get(row, "TAIL_NUM")
	rec.FlightNumber = h.get(row, "OP_CARRIER_FL_NUM", "FL_NUM")

	// Airports are keyed by their numeric id when the file carries it.
	if h.has("ORIGIN_AIRPORT_ID") {
		rec.Origin = h.get(row, "ORIGIN_AIRPORT_ID")
		rec.Destination = h.get(row, "DEST_AIRPORT_ID")
	} else {
		rec.Origin = h.get(row, "ORIGIN")
		rec.Destination = h.get(row, "DEST")
	}
	rec.CancellationCode = h.get(row, "CANCELLATION_CODE")

	optional := []struct {
		column string
		dst    **int
	}{
		{"DEP_DELAY", &rec.DepartureDelay},
		{"ARR_DELAY", &rec.ArrivalDelay},
		{"TAXI_OUT", &rec.TaxiOut},
		{"TAXI_IN", &rec.TaxiIn},
		{"CARRIER_DELAY", &rec.CarrierDelay},
		{"WEATHER_DELAY", &rec.WeatherDelay},
		{"NAS_DELAY", &rec.NASDelay},
		{"SECURITY_DELAY", &rec.SecurityDelay},
		{"LATE_AIRCRAFT_DELAY", &rec.LateAircraftDelay},
	}
	for _, o := range optional {
		v, err := parseOptionalInt(h.get(row, o.column))
		if err != nil {
			return rec, fmt.Errorf("%s: %w", o.column, err)
		}
		*o.dst = v
	}

	return rec, rec.Validate()
}

// parseInt accepts integral and decimal notation ("15", "15.00").
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, fmt.Errorf("empty value")
	}
	if n, err := strconv.Atoi(s); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int(math.Round(f)), nil
}

func parseOptionalInt(s string) (*int, error) {
	if s == "" {
		return nil, nil
	}
	n, err := parseInt(s)
	if err != nil {
		return nil, err
	}
	return &n, nil
}

func parseFlag(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "1", "true", "t", "yes", "y":
		return true, nil
	case "0", "false", "f", "no", "n", "":
		return false, nil
	}
	return false, fmt.Errorf("invalid flag %q", s)
}
