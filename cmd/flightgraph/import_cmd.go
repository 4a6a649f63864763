package main

import (
	"context"
	"encoding/json"
	"errors"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/systemshift/flightgraph/internal/graph"
	"github.com/systemshift/flightgraph/internal/ingest"
	"github.com/systemshift/flightgraph/internal/ledger"
	"github.com/systemshift/flightgraph/internal/metrics"
	"github.com/systemshift/flightgraph/internal/records"
)

type importOptions struct {
	Carriers     string
	Airports     string
	Flights      []string
	BatchFlights int
	Dispatch     string
	KeyMode      string
	NoLedger     bool
}

func newImportCmd(global *globalOptions) *cobra.Command {
	var opts importOptions

	cmd := &cobra.Command{
		Use:   "import",
		Short: "Run a full import: schema, reference data, then flights",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(global)
			if err != nil {
				return err
			}
			a.applyImportFlags(cmd, opts)
			popts, err := a.cfg.PipelineOptions()
			if err != nil {
				return err
			}
			if popts.Sources.Carriers == "" || popts.Sources.Airports == "" || len(popts.Sources.Flights) == 0 {
				return errors.New("carriers, airports and at least one flights file are required")
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			var pipeOpts []ingest.PipelineOption
			if !opts.NoLedger {
				l, err := ledger.Open(ctx, a.cfg.LedgerPath)
				if err != nil {
					return err
				}
				defer l.Close()
				pipeOpts = append(pipeOpts, ingest.WithRecorder(l))
			}

			pipeline := a.newPipeline(store, popts, metrics.New(), pipeOpts...)
			report, err := pipeline.Run(ctx)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(report)
		},
	}
	cmd.Flags().StringVar(&opts.Carriers, "carriers", "", "carriers CSV file")
	cmd.Flags().StringVar(&opts.Airports, "airports", "", "airports CSV file")
	cmd.Flags().StringSliceVar(&opts.Flights, "flights", nil, "flight CSV files, in load order")
	cmd.Flags().IntVar(&opts.BatchFlights, "batch-flights", 0, "flight rows per transaction")
	cmd.Flags().StringVar(&opts.Dispatch, "dispatch", "", "sequential or concurrent")
	cmd.Flags().StringVar(&opts.KeyMode, "flight-key", "", "composite or number")
	cmd.Flags().BoolVar(&opts.NoLedger, "no-ledger", false, "do not record the run")
	return cmd
}

func (a *app) applyImportFlags(cmd *cobra.Command, opts importOptions) {
	flags := cmd.Flags()
	if flags.Changed("carriers") {
		a.cfg.Sources.Carriers = opts.Carriers
	}
	if flags.Changed("airports") {
		a.cfg.Sources.Airports = opts.Airports
	}
	if flags.Changed("flights") {
		a.cfg.Sources.Flights = opts.Flights
	}
	if flags.Changed("batch-flights") {
		a.cfg.Batch.Flights = opts.BatchFlights
	}
	if flags.Changed("dispatch") {
		a.cfg.DispatchMode = opts.Dispatch
	}
	if flags.Changed("flight-key") {
		a.cfg.FlightKeyMode = opts.KeyMode
	}
}

func (a *app) newPipeline(store graph.Store, opts ingest.Options, m *metrics.Collector, popts ...ingest.PipelineOption) *ingest.Pipeline {
	exec := ingest.NewExecutor(store, a.log, ingest.WithMetrics(m))
	source := records.NewSource(a.log.WithField("component", "records"))
	return ingest.NewPipeline(store, source, exec, opts, a.log.WithFields(logrus.Fields{"component": "pipeline"}), popts...)
}
