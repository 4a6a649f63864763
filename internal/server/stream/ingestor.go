// Package stream ingests flight records continuously, grouping them by size
// and time before each upsert.
package stream

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/systemshift/flightgraph/internal/batch"
	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/ingest"
	"github.com/systemshift/flightgraph/internal/metrics"
	"github.com/systemshift/flightgraph/internal/records"
)

// ErrStopped is returned by Submit after Stop.
var ErrStopped = errors.New("ingestor stopped")

// Options configure an Ingestor.
type Options struct {
	BatchSize     int
	MaxWait       time.Duration
	QueueSize     int
	FlightKeyMode flights.FlightKeyMode
}

// Stats are running totals since the ingestor was created.
type Stats struct {
	Received int64 `json:"received"`
	Batches  int64 `json:"batches"`
	Upserted int64 `json:"upserted"`
	Skipped  int64 `json:"skipped"`
	Failed   int64 `json:"failed"`
	Queued   int   `json:"queued"`
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithMetrics reports the queue depth on c.
func WithMetrics(c *metrics.Collector) Option {
	return func(i *Ingestor) {
		i.metrics = c
	}
}

// Ingestor accepts flight records, groups them with a size and time bound,
// and upserts every group. Reference data must already be loaded.
type Ingestor struct {
	exec    *ingest.Executor
	log     logrus.FieldLogger
	opts    Options
	metrics *metrics.Collector

	queue chan records.FlightRecord
	// quit is closed when Stop begins; exited when the processor returns.
	quit     chan struct{}
	quitOnce sync.Once
	exited   chan struct{}

	mu      sync.RWMutex
	started bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	batchSeq atomic.Int64
	received atomic.Int64
	batches  atomic.Int64
	upserted atomic.Int64
	skipped  atomic.Int64
	failed   atomic.Int64
}

// New creates an Ingestor. Start must be called before records flow.
func New(exec *ingest.Executor, opts Options, log logrus.FieldLogger, options ...Option) *Ingestor {
	if opts.BatchSize < 1 {
		opts.BatchSize = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.FlightKeyMode == "" {
		opts.FlightKeyMode = flights.FlightKeyComposite
	}
	i := &Ingestor{
		exec:   exec,
		log:    log,
		opts:   opts,
		queue:  make(chan records.FlightRecord, opts.QueueSize),
		quit:   make(chan struct{}),
		exited: make(chan struct{}),
	}
	for _, opt := range options {
		opt(i)
	}
	return i
}

// Start begins processing queued records. Cancelling ctx abandons pending
// records; Stop flushes them.
func (i *Ingestor) Start(ctx context.Context) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.started || i.stopped {
		return
	}
	i.started = true

	ctx, i.cancel = context.WithCancel(ctx)
	groups := batch.ChunkTimed(ctx, i.queue, i.opts.BatchSize, i.opts.MaxWait)

	i.wg.Add(1)
	go i.process(ctx, groups)

	i.log.WithFields(logrus.Fields{
		"batch_size": i.opts.BatchSize,
		"max_wait":   i.opts.MaxWait,
		"queue_size": i.opts.QueueSize,
	}).Info("stream ingestor started")
}

// Stop rejects new records, flushes the pending group and waits for the
// last upsert to finish.
func (i *Ingestor) Stop() {
	// Release submitters blocked on a full queue before taking the lock.
	i.quitOnce.Do(func() { close(i.quit) })

	i.mu.Lock()
	if i.stopped {
		i.mu.Unlock()
		return
	}
	i.stopped = true
	close(i.queue)
	i.mu.Unlock()

	i.wg.Wait()
	if i.cancel != nil {
		i.cancel()
	}
	i.log.WithField("received", i.received.Load()).Info("stream ingestor stopped")
}

// Submit queues recs, blocking while the queue is full. Invalid records are
// rejected before any record is queued. It returns ErrStopped once Stop has
// begun or the processor has exited with its context.
func (i *Ingestor) Submit(ctx context.Context, recs []records.FlightRecord) error {
	for n, rec := range recs {
		if err := rec.Validate(); err != nil {
			return &records.SourceDataError{File: "submission", Line: n + 1, Err: err}
		}
	}

	i.mu.RLock()
	defer i.mu.RUnlock()
	if i.stopped {
		return ErrStopped
	}

	for n, rec := range recs {
		select {
		case i.queue <- rec:
			i.received.Add(1)
		case <-ctx.Done():
			return fmt.Errorf("queued %d of %d records: %w", n, len(recs), ctx.Err())
		case <-i.quit:
			return fmt.Errorf("queued %d of %d records: %w", n, len(recs), ErrStopped)
		case <-i.exited:
			return fmt.Errorf("queued %d of %d records: %w", n, len(recs), ErrStopped)
		}
	}
	i.reportQueue()
	return nil
}

// Stats returns running totals.
func (i *Ingestor) Stats() Stats {
	return Stats{
		Received: i.received.Load(),
		Batches:  i.batches.Load(),
		Upserted: i.upserted.Load(),
		Skipped:  i.skipped.Load(),
		Failed:   i.failed.Load(),
		Queued:   len(i.queue),
	}
}

func (i *Ingestor) process(ctx context.Context, groups <-chan []records.FlightRecord) {
	defer i.wg.Done()
	defer close(i.exited)

	for group := range groups {
		batchFlights := make([]flights.Flight, len(group))
		for n, rec := range group {
			batchFlights[n] = flights.MapFlight(rec, i.opts.FlightKeyMode)
		}

		index := int(i.batchSeq.Add(1) - 1)
		counters, err := i.exec.UpsertFlights(ctx, index, batchFlights)
		i.batches.Add(1)
		if err != nil {
			// The executor has logged the failure; the records are dropped.
			i.failed.Add(int64(len(group)))
		} else {
			i.upserted.Add(int64(counters.Upserted))
			i.skipped.Add(int64(counters.Skipped))
		}
		i.reportQueue()
	}
}

func (i *Ingestor) reportQueue() {
	if i.metrics != nil {
		i.metrics.SetStreamQueued(len(i.queue))
	}
}
