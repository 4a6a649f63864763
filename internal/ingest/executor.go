package ingest

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/metrics"
)

// BatchEvent describes one executed batch. Err is set when the transaction
// failed; Counters are zero in that case.
type BatchEvent struct {
	Statement graph.StatementID
	Batch     int
	Rows      int
	Counters  graph.Counters
	Duration  time.Duration
	Err       error
}

// ExecutorOption configures an Executor.
type ExecutorOption func(*Executor)

// WithMetrics records every batch on c.
func WithMetrics(c *metrics.Collector) ExecutorOption {
	return func(e *Executor) {
		e.observers = append(e.observers, func(ev BatchEvent) {
			c.ObserveBatch(ev.Statement.String(), ev.Rows, ev.Counters, ev.Duration, ev.Err)
		})
	}
}

// WithObserver calls fn after every batch.
func WithObserver(fn func(BatchEvent)) ExecutorOption {
	return func(e *Executor) {
		e.observers = append(e.observers, fn)
	}
}

// Executor runs one upsert template per call, with the batch bound as a
// single parameter, in one write transaction. It never retries.
type Executor struct {
	store     graph.Store
	log       logrus.FieldLogger
	observers []func(BatchEvent)
}

// NewExecutor creates an Executor over store.
func NewExecutor(store graph.Store, log logrus.FieldLogger, opts ...ExecutorOption) *Executor {
	e := &Executor{store: store, log: log}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs statement id with rows. batch only labels logs, events and
// errors. A store failure is returned as a *TransactionError.
func (e *Executor) Execute(ctx context.Context, id graph.StatementID, batch int, rows []map[string]any) (graph.Counters, error) {
	start := time.Now()
	counters, err := e.store.Execute(ctx, id, rows)
	if err != nil {
		counters = graph.Counters{}
		err = &TransactionError{Statement: id, Batch: batch, Err: err}
	} else {
		counters.Skipped = len(rows) - counters.Upserted
	}

	ev := BatchEvent{
		Statement: id,
		Batch:     batch,
		Rows:      len(rows),
		Counters:  counters,
		Duration:  time.Since(start),
		Err:       err,
	}
	for _, fn := range e.observers {
		fn(ev)
	}

	log := e.log.WithFields(logrus.Fields{
		"statement": id.String(),
		"batch":     batch,
		"rows":      len(rows),
	})
	if err != nil {
		log.WithError(err).Error("batch failed")
		return counters, err
	}
	if counters.Skipped > 0 {
		log.WithField("skipped", counters.Skipped).Warn("rows skipped: referenced nodes not found")
	}
	log.WithFields(logrus.Fields{
		"nodes_created":         counters.NodesCreated,
		"relationships_created": counters.RelationshipsCreated,
		"properties_set":        counters.PropertiesSet,
		"duration":              ev.Duration,
	}).Debug("batch committed")

	return counters, nil
}

// UpsertReasons merges reasons by code.
func (e *Executor) UpsertReasons(ctx context.Context, batch int, reasons []flights.Reason) (graph.Counters, error) {
	return e.Execute(ctx, graph.StatementUpsertReasons, batch, reasonRows(reasons))
}

// UpsertCarriers merges carriers by code.
func (e *Executor) UpsertCarriers(ctx context.Context, batch int, carriers []flights.Carrier) (graph.Counters, error) {
	return e.Execute(ctx, graph.StatementUpsertCarriers, batch, carrierRows(carriers))
}

// UpsertAirports merges each airport with its country, city and state.
func (e *Executor) UpsertAirports(ctx context.Context, batch int, airports []flights.AirportInformation) (graph.Counters, error) {
	return e.Execute(ctx, graph.StatementUpsertLocations, batch, locationRows(airports))
}

// UpsertFlights merges flights and their relationships. Flights whose
// airports are missing are counted as skipped.
func (e *Executor) UpsertFlights(ctx context.Context, batch int, batchFlights []flights.Flight) (graph.Counters, error) {
	return e.Execute(ctx, graph.StatementUpsertFlights, batch, flightRows(batchFlights))
}
