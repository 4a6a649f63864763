// Package ingest loads flight data into the graph: schema bootstrap, batched
// upserts and the phase-ordered import pipeline.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/systemshift/flightgraph/internal/batch"
	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/records"
)

// State is the lifecycle state of an import.
type State string

const (
	StateIdle                 State = "idle"
	StateBootstrapping        State = "bootstrapping"
	StateLoadingReferenceData State = "loading_reference_data"
	StateLoadingFlights       State = "loading_flights"
	StateDone                 State = "done"
	StateFailed               State = "failed"
)

// Phase is one step of an import.
type Phase string

const (
	PhaseSchema    Phase = "schema"
	PhaseReasons   Phase = "reasons"
	PhaseCarriers  Phase = "carriers"
	PhaseLocations Phase = "locations"
	PhaseFlights   Phase = "flights"
)

// DispatchMode controls how flight batches of one file are executed.
type DispatchMode string

const (
	// DispatchSequential awaits each batch before building the next.
	DispatchSequential DispatchMode = "sequential"
	// DispatchConcurrent keeps up to MaxInFlight batches of a file in flight.
	DispatchConcurrent DispatchMode = "concurrent"
)

// ParseDispatchMode parses a dispatch mode name. Empty means sequential.
func ParseDispatchMode(s string) (DispatchMode, error) {
	switch DispatchMode(s) {
	case DispatchSequential, "":
		return DispatchSequential, nil
	case DispatchConcurrent:
		return DispatchConcurrent, nil
	}
	return "", fmt.Errorf("unknown dispatch mode: %q", s)
}

// RecordSource yields typed records from source files.
type RecordSource interface {
	Carriers(path string) iter.Seq2[records.CarrierRecord, error]
	Airports(path string) iter.Seq2[records.AirportRecord, error]
	Flights(path string) iter.Seq2[records.FlightRecord, error]
}

// Recorder persists run history. Recording failures are logged, never fatal.
type Recorder interface {
	Begin(ctx context.Context, runID string, startedAt time.Time) error
	RecordBatch(ctx context.Context, runID, phase, source string, batch int, counters graph.Counters) error
	Finish(ctx context.Context, runID, state string, totals graph.Counters, runErr error) error
}

// Sources names the input files of an import.
type Sources struct {
	Carriers string
	Airports string
	// Flights are loaded in order, each file drained before the next.
	Flights []string
}

// BatchSizes sets the group capacity per entity kind.
type BatchSizes struct {
	Reasons  int
	Carriers int
	Airports int
	Flights  int
}

// RetryPolicy bounds per-batch retries of failed transactions.
type RetryPolicy struct {
	MaxAttempts     int
	InitialInterval time.Duration
	MaxInterval     time.Duration
}

// Options configure a Pipeline.
type Options struct {
	Sources       Sources
	BatchSizes    BatchSizes
	Retry         RetryPolicy
	Dispatch      DispatchMode
	MaxInFlight   int
	FlightKeyMode flights.FlightKeyMode
}

// PhaseReport summarizes one phase over one source.
type PhaseReport struct {
	Phase    Phase          `json:"phase"`
	Source   string         `json:"source"`
	Batches  int            `json:"batches"`
	Counters graph.Counters `json:"counters"`
}

// Report summarizes a completed run.
type Report struct {
	RunID    string         `json:"run_id"`
	Phases   []PhaseReport  `json:"phases"`
	Totals   graph.Counters `json:"totals"`
	Duration time.Duration  `json:"duration"`
}

// Status is a point-in-time snapshot of the current or last run.
type Status struct {
	RunID      string         `json:"run_id,omitempty"`
	State      State          `json:"state"`
	Phase      Phase          `json:"phase,omitempty"`
	Source     string         `json:"source,omitempty"`
	Batches    int            `json:"batches"`
	Totals     graph.Counters `json:"totals"`
	StartedAt  *time.Time     `json:"started_at,omitempty"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
	Error      string         `json:"error,omitempty"`
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithRecorder persists run and batch history to r.
func WithRecorder(r Recorder) PipelineOption {
	return func(p *Pipeline) {
		p.recorder = r
	}
}

// Pipeline orchestrates an import: schema, reasons, carriers, locations,
// then flights. Only one run is active at a time.
type Pipeline struct {
	store    graph.Store
	source   RecordSource
	exec     *Executor
	opts     Options
	log      logrus.FieldLogger
	recorder Recorder

	mu      sync.Mutex
	running bool
	status  Status
}

// NewPipeline creates a Pipeline. Zero batch sizes and retry attempts fall
// back to 1; zero MaxInFlight falls back to 1.
func NewPipeline(store graph.Store, source RecordSource, exec *Executor, opts Options, log logrus.FieldLogger, popts ...PipelineOption) *Pipeline {
	if opts.Retry.MaxAttempts < 1 {
		opts.Retry.MaxAttempts = 1
	}
	if opts.MaxInFlight < 1 {
		opts.MaxInFlight = 1
	}
	if opts.Dispatch == "" {
		opts.Dispatch = DispatchSequential
	}
	if opts.FlightKeyMode == "" {
		opts.FlightKeyMode = flights.FlightKeyComposite
	}

	p := &Pipeline{
		store:  store,
		source: source,
		exec:   exec,
		opts:   opts,
		log:    log,
		status: Status{State: StateIdle},
	}
	for _, opt := range popts {
		opt(p)
	}
	return p
}

// Status returns a snapshot of the current or last run.
func (p *Pipeline) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// Run executes an import and blocks until it finishes.
func (p *Pipeline) Run(ctx context.Context) (Report, error) {
	if !p.acquire() {
		return Report{}, ErrAlreadyRunning
	}
	defer p.release()
	return p.run(ctx)
}

// Start runs an import in the background and calls done, if not nil, with
// the outcome. It returns ErrAlreadyRunning when a run is in progress.
func (p *Pipeline) Start(ctx context.Context, done func(Report, error)) error {
	if !p.acquire() {
		return ErrAlreadyRunning
	}
	go func() {
		defer p.release()
		report, err := p.run(ctx)
		if done != nil {
			done(report, err)
		}
	}()
	return nil
}

func (p *Pipeline) acquire() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return false
	}
	p.running = true
	return true
}

func (p *Pipeline) release() {
	p.mu.Lock()
	p.running = false
	p.mu.Unlock()
}

// runState carries one import. The caller holds the running flag.
type runState struct {
	id     string
	log    logrus.FieldLogger
	report Report

	// last holds the counters of the most recent committed batch of any phase.
	mu   sync.Mutex
	last graph.Counters
}

func (r *runState) committed(c graph.Counters) {
	r.mu.Lock()
	r.last = c
	r.mu.Unlock()
}

func (r *runState) lastCounters() graph.Counters {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.last
}

func (p *Pipeline) run(ctx context.Context) (Report, error) {
	started := time.Now()
	r := &runState{id: uuid.NewString()}
	r.log = p.log.WithField("run_id", r.id)
	r.report.RunID = r.id

	p.mu.Lock()
	p.status = Status{RunID: r.id, State: StateBootstrapping, Phase: PhaseSchema, StartedAt: &started}
	p.mu.Unlock()

	if p.recorder != nil {
		if err := p.recorder.Begin(ctx, r.id, started); err != nil {
			r.log.WithError(err).Warn("recording run start failed")
		}
	}
	r.log.WithFields(logrus.Fields{
		"flight_files": len(p.opts.Sources.Flights),
		"dispatch":     p.opts.Dispatch,
		"key_mode":     p.opts.FlightKeyMode,
	}).Info("import started")

	err := p.phases(ctx, r)

	r.report.Duration = time.Since(started)
	p.finish(ctx, r, err)
	return r.report, err
}

func (p *Pipeline) phases(ctx context.Context, r *runState) error {
	if err := Bootstrap(ctx, p.store, SchemaFor(p.opts.FlightKeyMode)); err != nil {
		return &PhaseError{Phase: PhaseSchema, Err: err}
	}
	r.log.Info("schema ready")

	p.setState(StateLoadingReferenceData)

	if err := runPhase(ctx, p, r, PhaseReasons, "builtin",
		seqOf(flights.DefaultReasons()), p.opts.BatchSizes.Reasons, DispatchSequential, p.exec.UpsertReasons,
	); err != nil {
		return err
	}

	carriers := mapSeq(p.source.Carriers(p.opts.Sources.Carriers), flights.MapCarrier)
	if err := runPhase(ctx, p, r, PhaseCarriers, p.opts.Sources.Carriers,
		carriers, p.opts.BatchSizes.Carriers, DispatchSequential, p.exec.UpsertCarriers,
	); err != nil {
		return err
	}

	airports := mapSeq(p.source.Airports(p.opts.Sources.Airports), flights.MapAirport)
	if err := runPhase(ctx, p, r, PhaseLocations, p.opts.Sources.Airports,
		airports, p.opts.BatchSizes.Airports, DispatchSequential, p.exec.UpsertAirports,
	); err != nil {
		return err
	}

	p.setState(StateLoadingFlights)

	mode := p.opts.FlightKeyMode
	toFlight := func(rec records.FlightRecord) flights.Flight {
		return flights.MapFlight(rec, mode)
	}
	for _, path := range p.opts.Sources.Flights {
		if err := runPhase(ctx, p, r, PhaseFlights, path,
			mapSeq(p.source.Flights(path), toFlight), p.opts.BatchSizes.Flights, p.opts.Dispatch, p.exec.UpsertFlights,
		); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) finish(ctx context.Context, r *runState, err error) {
	finished := time.Now()

	p.mu.Lock()
	p.status.FinishedAt = &finished
	if err != nil {
		p.status.State = StateFailed
		p.status.Error = err.Error()
	} else {
		p.status.State = StateDone
	}
	state, totals := p.status.State, p.status.Totals
	p.mu.Unlock()

	if p.recorder != nil {
		// The run context may already be cancelled; the history should still
		// record how the run ended.
		if rerr := p.recorder.Finish(context.WithoutCancel(ctx), r.id, string(state), totals, err); rerr != nil {
			r.log.WithError(rerr).Warn("recording run end failed")
		}
	}

	log := r.log.WithFields(logrus.Fields{
		"duration":              r.report.Duration,
		"nodes_created":         r.report.Totals.NodesCreated,
		"relationships_created": r.report.Totals.RelationshipsCreated,
		"upserted":              r.report.Totals.Upserted,
		"skipped":               r.report.Totals.Skipped,
	})
	if err != nil {
		log.WithError(err).Error("import failed")
		return
	}
	log.Info("import finished")
}

func (p *Pipeline) setState(s State) {
	p.mu.Lock()
	p.status.State = s
	p.mu.Unlock()
}

func (p *Pipeline) enterPhase(phase Phase, source string) {
	p.mu.Lock()
	p.status.Phase = phase
	p.status.Source = source
	p.mu.Unlock()
}

func (p *Pipeline) batchDone(ctx context.Context, r *runState, phase Phase, source string, index int, counters graph.Counters) {
	p.mu.Lock()
	p.status.Batches++
	p.status.Totals = p.status.Totals.Add(counters)
	p.mu.Unlock()

	if p.recorder != nil {
		if err := p.recorder.RecordBatch(ctx, r.id, string(phase), source, index, counters); err != nil {
			r.log.WithError(err).Warn("recording batch failed")
		}
	}
}

type upsertFunc[T any] func(ctx context.Context, batch int, items []T) (graph.Counters, error)

// runPhase drains items in groups of size and upserts each group. Reference
// phases always run sequentially.
func runPhase[T any](ctx context.Context, p *Pipeline, r *runState, phase Phase, source string, items iter.Seq2[T, error], size int, mode DispatchMode, upsert upsertFunc[T]) error {
	p.enterPhase(phase, source)
	log := r.log.WithFields(logrus.Fields{"phase": phase, "source": source})
	log.Info("phase started")

	var (
		mu     sync.Mutex
		report = PhaseReport{Phase: phase, Source: source}
		srcErr error
	)

	phaseErr := func(index int, err error) error {
		return &PhaseError{Phase: phase, Source: source, Batch: index, LastCounters: r.lastCounters(), Err: err}
	}

	commit := func(index int, counters graph.Counters) {
		mu.Lock()
		report.Batches++
		report.Counters = report.Counters.Add(counters)
		mu.Unlock()
		r.committed(counters)
		p.batchDone(ctx, r, phase, source, index, counters)
	}

	execute := func(ctx context.Context, index int, group []T) error {
		counters, err := p.retry(ctx, log.WithField("batch", index), func() (graph.Counters, error) {
			return upsert(ctx, index, group)
		})
		if err != nil {
			return phaseErr(index, err)
		}
		commit(index, counters)
		return nil
	}

	groups := batch.Chunk(values(items, &srcErr), size)
	index := 0

	if mode == DispatchConcurrent {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.opts.MaxInFlight)
		for group := range groups {
			if gctx.Err() != nil {
				break
			}
			i := index
			g.Go(func() error {
				return execute(gctx, i, group)
			})
			index++
		}
		if err := g.Wait(); err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return phaseErr(index, err)
		}
	} else {
		for group := range groups {
			if err := ctx.Err(); err != nil {
				return phaseErr(index, err)
			}
			if err := execute(ctx, index, group); err != nil {
				return err
			}
			index++
		}
	}

	if srcErr != nil {
		return phaseErr(index, srcErr)
	}

	r.report.Phases = append(r.report.Phases, report)
	r.report.Totals = r.report.Totals.Add(report.Counters)
	log.WithFields(logrus.Fields{
		"batches":  report.Batches,
		"upserted": report.Counters.Upserted,
		"skipped":  report.Counters.Skipped,
	}).Info("phase finished")
	return nil
}

// retry runs op until it succeeds, the policy is exhausted or ctx is done.
// Only transaction failures are retried.
func (p *Pipeline) retry(ctx context.Context, log logrus.FieldLogger, op func() (graph.Counters, error)) (graph.Counters, error) {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = p.opts.Retry.InitialInterval
	policy.MaxInterval = p.opts.Retry.MaxInterval
	policy.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(policy, uint64(p.opts.Retry.MaxAttempts-1)), ctx)

	var counters graph.Counters
	err := backoff.RetryNotify(func() error {
		c, err := op()
		if err == nil {
			counters = c
			return nil
		}
		if ctx.Err() != nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return backoff.Permanent(err)
		}
		var txErr *TransactionError
		if !errors.As(err, &txErr) {
			return backoff.Permanent(err)
		}
		return err
	}, b, func(err error, wait time.Duration) {
		log.WithError(err).WithField("retry_in", wait).Warn("batch failed, retrying")
	})
	return counters, err
}

// values adapts a fallible sequence, stopping at the first error and storing
// it in errp.
func values[T any](seq iter.Seq2[T, error], errp *error) iter.Seq[T] {
	return func(yield func(T) bool) {
		for v, err := range seq {
			if err != nil {
				*errp = err
				return
			}
			if !yield(v) {
				return
			}
		}
	}
}

func mapSeq[A, B any](seq iter.Seq2[A, error], fn func(A) B) iter.Seq2[B, error] {
	return func(yield func(B, error) bool) {
		for v, err := range seq {
			var out B
			if err == nil {
				out = fn(v)
			}
			if !yield(out, err) {
				return
			}
		}
	}
}

func seqOf[T any](items []T) iter.Seq2[T, error] {
	return func(yield func(T, error) bool) {
		for v := range slices.Values(items) {
			if !yield(v, nil) {
				return
			}
		}
	}
}
