// Package config loads flightgraph settings from the environment and
// optional .env files.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"

	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/ingest"
)

// Store backends.
const (
	StoreNeo4j  = "neo4j"
	StoreSQLite = "sqlite"
)

// DefaultEnvFiles are read, when present, before the environment is parsed.
var DefaultEnvFiles = []string{".env", ".env.local"}

type Neo4jOptions struct {
	Scheme   string `env:"NEO4J_SCHEME" envDefault:"neo4j"`
	Host     string `env:"NEO4J_HOST" envDefault:"localhost"`
	Port     int    `env:"NEO4J_PORT" envDefault:"7687"`
	User     string `env:"NEO4J_USER" envDefault:"neo4j"`
	Password string `env:"NEO4J_PASSWORD"`
	Database string `env:"NEO4J_DATABASE" envDefault:"neo4j"`

	MaxConnectionPoolSize   int           `env:"NEO4J_MAX_POOL_SIZE" envDefault:"50"`
	ConnectionTimeout       time.Duration `env:"NEO4J_CONNECTION_TIMEOUT" envDefault:"30s"`
	MaxTransactionRetryTime time.Duration `env:"NEO4J_MAX_TX_RETRY_TIME" envDefault:"30s"`
}

// URI returns the connection endpoint.
func (o Neo4jOptions) URI() string {
	return o.GraphConfig().URI()
}

// GraphConfig converts the options to a store configuration.
func (o Neo4jOptions) GraphConfig() graph.Config {
	return graph.Config{
		Scheme:                  o.Scheme,
		Host:                    o.Host,
		Port:                    o.Port,
		Username:                o.User,
		Password:                o.Password,
		Database:                o.Database,
		MaxConnectionPoolSize:   o.MaxConnectionPoolSize,
		ConnectionTimeout:       o.ConnectionTimeout,
		MaxTransactionRetryTime: o.MaxTransactionRetryTime,
	}
}

type SourceOptions struct {
	Carriers string   `env:"CARRIERS_FILE"`
	Airports string   `env:"AIRPORTS_FILE"`
	Flights  []string `env:"FLIGHT_FILES" envSeparator:","`
}

type BatchOptions struct {
	Reasons  int `env:"BATCH_REASONS" envDefault:"200"`
	Carriers int `env:"BATCH_CARRIERS" envDefault:"200"`
	Airports int `env:"BATCH_AIRPORTS" envDefault:"200"`
	Flights  int `env:"BATCH_FLIGHTS" envDefault:"1000"`
}

type RetryOptions struct {
	MaxAttempts     int           `env:"RETRY_MAX_ATTEMPTS" envDefault:"3"`
	InitialInterval time.Duration `env:"RETRY_INITIAL_INTERVAL" envDefault:"500ms"`
	MaxInterval     time.Duration `env:"RETRY_MAX_INTERVAL" envDefault:"10s"`
}

type StreamOptions struct {
	BatchSize int           `env:"STREAM_BATCH_SIZE" envDefault:"500"`
	MaxWait   time.Duration `env:"STREAM_MAX_WAIT" envDefault:"2s"`
	QueueSize int           `env:"STREAM_QUEUE_SIZE" envDefault:"10000"`
}

type Config struct {
	Store      string `env:"FLIGHTGRAPH_STORE" envDefault:"neo4j"`
	SQLitePath string `env:"FLIGHTGRAPH_SQLITE_PATH" envDefault:"flightgraph.db"`
	Neo4j      Neo4jOptions

	Sources       SourceOptions
	Batch         BatchOptions
	Retry         RetryOptions
	DispatchMode  string `env:"DISPATCH_MODE" envDefault:"sequential"`
	MaxInFlight   int    `env:"MAX_IN_FLIGHT" envDefault:"4"`
	FlightKeyMode string `env:"FLIGHT_KEY_MODE" envDefault:"composite"`

	LedgerPath string `env:"LEDGER_PATH" envDefault:"flightgraph-runs.db"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat  string `env:"LOG_FORMAT" envDefault:"text"`
	Port       string `env:"PORT" envDefault:"8080"`
	Stream     StreamOptions
}

// LoadEnv loads the env files that exist and returns how many were read.
// Variables already set in the environment win.
func LoadEnv(envFiles []string) (int, error) {
	existing := make([]string, 0, len(envFiles))
	for _, file := range envFiles {
		if _, err := os.Stat(file); err == nil {
			existing = append(existing, file)
		}
	}
	if len(existing) == 0 {
		return 0, nil
	}
	return len(existing), godotenv.Load(existing...)
}

// Load reads envFiles (DefaultEnvFiles when none are given), parses the
// environment and validates the result.
func Load(envFiles ...string) (*Config, error) {
	if len(envFiles) == 0 {
		envFiles = DefaultEnvFiles
	}
	if _, err := LoadEnv(envFiles); err != nil {
		return nil, fmt.Errorf("loading env files: %w", err)
	}

	c := &Config{}
	if err := env.Parse(c); err != nil {
		return nil, fmt.Errorf("parsing environment: %w", err)
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

// Validate checks ranges and enumerations.
func (c *Config) Validate() error {
	var errs []error

	switch c.Store {
	case StoreNeo4j:
		if c.Neo4j.Host == "" {
			errs = append(errs, errors.New("NEO4J_HOST is required for the neo4j store"))
		}
		if c.Neo4j.Port < 1 || c.Neo4j.Port > 65535 {
			errs = append(errs, fmt.Errorf("NEO4J_PORT out of range: %d", c.Neo4j.Port))
		}
	case StoreSQLite:
		if c.SQLitePath == "" {
			errs = append(errs, errors.New("FLIGHTGRAPH_SQLITE_PATH is required for the sqlite store"))
		}
	default:
		errs = append(errs, fmt.Errorf("FLIGHTGRAPH_STORE must be %q or %q, got %q", StoreNeo4j, StoreSQLite, c.Store))
	}

	for name, size := range map[string]int{
		"BATCH_REASONS":     c.Batch.Reasons,
		"BATCH_CARRIERS":    c.Batch.Carriers,
		"BATCH_AIRPORTS":    c.Batch.Airports,
		"BATCH_FLIGHTS":     c.Batch.Flights,
		"STREAM_BATCH_SIZE": c.Stream.BatchSize,
		"STREAM_QUEUE_SIZE": c.Stream.QueueSize,
	} {
		if size < 1 {
			errs = append(errs, fmt.Errorf("%s must be positive, got %d", name, size))
		}
	}

	if c.Retry.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1, got %d", c.Retry.MaxAttempts))
	}
	if c.Retry.MaxInterval < c.Retry.InitialInterval {
		errs = append(errs, errors.New("RETRY_MAX_INTERVAL must not be below RETRY_INITIAL_INTERVAL"))
	}
	if c.MaxInFlight < 1 {
		errs = append(errs, fmt.Errorf("MAX_IN_FLIGHT must be at least 1, got %d", c.MaxInFlight))
	}
	if _, err := ingest.ParseDispatchMode(c.DispatchMode); err != nil {
		errs = append(errs, fmt.Errorf("DISPATCH_MODE: %w", err))
	}
	if _, err := flights.ParseFlightKeyMode(c.FlightKeyMode); err != nil {
		errs = append(errs, fmt.Errorf("FLIGHT_KEY_MODE: %w", err))
	}

	return errors.Join(errs...)
}

// PipelineOptions converts the configuration for the import pipeline.
func (c *Config) PipelineOptions() (ingest.Options, error) {
	dispatch, err := ingest.ParseDispatchMode(c.DispatchMode)
	if err != nil {
		return ingest.Options{}, err
	}
	mode, err := flights.ParseFlightKeyMode(c.FlightKeyMode)
	if err != nil {
		return ingest.Options{}, err
	}
	return ingest.Options{
		Sources: ingest.Sources{
			Carriers: c.Sources.Carriers,
			Airports: c.Sources.Airports,
			Flights:  c.Sources.Flights,
		},
		BatchSizes: ingest.BatchSizes{
			Reasons:  c.Batch.Reasons,
			Carriers: c.Batch.Carriers,
			Airports: c.Batch.Airports,
			Flights:  c.Batch.Flights,
		},
		Retry: ingest.RetryPolicy{
			MaxAttempts:     c.Retry.MaxAttempts,
			InitialInterval: c.Retry.InitialInterval,
			MaxInterval:     c.Retry.MaxInterval,
		},
		Dispatch:      dispatch,
		MaxInFlight:   c.MaxInFlight,
		FlightKeyMode: mode,
	}, nil
}
