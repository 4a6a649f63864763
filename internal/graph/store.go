package graph

import (
	"context"
	"fmt"
	"regexp"
)

// Node labels.
const (
	LabelReason   = "Reason"
	LabelCarrier  = "Carrier"
	LabelCountry  = "Country"
	LabelCity     = "City"
	LabelState    = "State"
	LabelAirport  = "Airport"
	LabelAircraft = "Aircraft"
	LabelFlight   = "Flight"
)

// Relationship types.
const (
	RelInCountry   = "IN_COUNTRY"
	RelInState     = "IN_STATE"
	RelInCity      = "IN_CITY"
	RelOrigin      = "ORIGIN"
	RelDestination = "DESTINATION"
	RelCarrier     = "CARRIER"
	RelCancelledBy = "CANCELLED_BY"
	RelDelayedBy   = "DELAYED_BY"
	RelAircraft    = "AIRCRAFT"
)

var keyProperties = map[string]string{
	LabelReason:   "code",
	LabelCarrier:  "code",
	LabelCountry:  "name",
	LabelCity:     "name",
	LabelState:    "name",
	LabelAirport:  "airportId",
	LabelAircraft: "tailNumber",
	LabelFlight:   "flightKey",
}

// KeyProperty returns the property nodes with label are merged on.
func KeyProperty(label string) string {
	return keyProperties[label]
}

// Store defines the capability the ingestion pipeline needs from a graph
// backend. Both Neo4j and SQLite implement this interface.
type Store interface {
	// Lifecycle
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	// EnsureSchema declares constraints and indexes. It is a no-op for
	// declarations that already exist.
	EnsureSchema(ctx context.Context, schema Schema) error

	// Execute runs the statement identified by id with rows bound as the
	// single list parameter, in one write transaction.
	Execute(ctx context.Context, id StatementID, rows []map[string]any) (Counters, error)

	// Read side, for status reporting and tests
	Counts(ctx context.Context) (GraphCounts, error)
	Relationships(ctx context.Context, relType string, limit int) ([]Relationship, error)
}

// Counters summarize the mutations of one statement execution.
type Counters struct {
	NodesCreated         int `json:"nodes_created"`
	RelationshipsCreated int `json:"relationships_created"`
	PropertiesSet        int `json:"properties_set"`

	// Upserted is the number of input rows the statement processed.
	Upserted int `json:"upserted"`
	// Skipped is the number of input rows that matched nothing to attach to.
	Skipped int `json:"skipped"`
}

// Add returns the field-wise sum of c and o.
func (c Counters) Add(o Counters) Counters {
	return Counters{
		NodesCreated:         c.NodesCreated + o.NodesCreated,
		RelationshipsCreated: c.RelationshipsCreated + o.RelationshipsCreated,
		PropertiesSet:        c.PropertiesSet + o.PropertiesSet,
		Upserted:             c.Upserted + o.Upserted,
		Skipped:              c.Skipped + o.Skipped,
	}
}

// GraphCounts holds node counts per label and relationship counts per type.
type GraphCounts struct {
	Nodes         map[string]int `json:"nodes"`
	Relationships map[string]int `json:"relationships"`
}

// Relationship is a stored edge, with both endpoints identified by label and
// merge key.
type Relationship struct {
	Type        string         `json:"type"`
	SourceLabel string         `json:"source_label"`
	SourceKey   string         `json:"source_key"`
	TargetLabel string         `json:"target_label"`
	TargetKey   string         `json:"target_key"`
	Props       map[string]any `json:"props,omitempty"`
}

// Constraint declares a uniqueness constraint on Label.Property.
type Constraint struct {
	Name     string
	Label    string
	Property string
}

// Index declares a lookup index on Label.Property.
type Index struct {
	Name     string
	Label    string
	Property string
}

// Schema is the set of declarations made before any data is written.
type Schema struct {
	Constraints []Constraint
	Indexes     []Index
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Validate checks that every name, label and property is a plain identifier.
// Schema statements cannot take parameters, so they are rendered as text.
func (s Schema) Validate() error {
	check := func(kind, name, label, property string) error {
		for _, v := range []string{name, label, property} {
			if !identifierPattern.MatchString(v) {
				return fmt.Errorf("invalid %s identifier %q", kind, v)
			}
		}
		return nil
	}
	for _, c := range s.Constraints {
		if err := check("constraint", c.Name, c.Label, c.Property); err != nil {
			return err
		}
	}
	for _, i := range s.Indexes {
		if err := check("index", i.Name, i.Label, i.Property); err != nil {
			return err
		}
	}
	return nil
}
