package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemshift/flightgraph/internal/ingest"
	"github.com/systemshift/flightgraph/internal/ledger"
	"github.com/systemshift/flightgraph/internal/metrics"
	"github.com/systemshift/flightgraph/internal/server/api"
	"github.com/systemshift/flightgraph/internal/server/stream"
)

func newServeCmd(global *globalOptions) *cobra.Command {
	var port string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API, background imports and streaming ingestion",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(global)
			if err != nil {
				return err
			}
			if port == "" {
				port = a.cfg.Port
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			store, err := a.openStore(ctx)
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			l, err := ledger.Open(ctx, a.cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer l.Close()

			popts, err := a.cfg.PipelineOptions()
			if err != nil {
				return err
			}
			m := metrics.New()
			pipeline := a.newPipeline(store, popts, m, ingest.WithRecorder(l))

			ingestor := stream.New(
				ingest.NewExecutor(store, a.log, ingest.WithMetrics(m)),
				stream.Options{
					BatchSize:     a.cfg.Stream.BatchSize,
					MaxWait:       a.cfg.Stream.MaxWait,
					QueueSize:     a.cfg.Stream.QueueSize,
					FlightKeyMode: popts.FlightKeyMode,
				},
				a.log.WithField("component", "stream"),
				stream.WithMetrics(m),
			)
			ingestor.Start(context.WithoutCancel(ctx))

			apiServer := api.New(store, a.log.WithField("component", "api"),
				api.WithImports(pipeline),
				api.WithStream(ingestor),
				api.WithHistory(l),
				api.WithMetrics(m),
				api.WithBaseContext(ctx),
			)

			srv := &http.Server{
				Addr:         ":" + port,
				Handler:      apiServer.Router(),
				ReadTimeout:  15 * time.Second,
				WriteTimeout: 15 * time.Second,
				IdleTimeout:  60 * time.Second,
			}

			serveErr := make(chan error, 1)
			go func() {
				a.log.Infof("Starting flightgraph server on http://localhost:%s", port)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serveErr <- err
				}
				close(serveErr)
			}()

			select {
			case err := <-serveErr:
				if err != nil {
					ingestor.Stop()
					return err
				}
			case <-ctx.Done():
			}

			a.log.Info("Shutting down server...")

			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				a.log.WithError(err).Error("server forced to shutdown")
			}
			// Flush records accepted before shutdown.
			ingestor.Stop()

			a.log.Info("Server exited")
			return nil
		},
	}
	cmd.Flags().StringVar(&port, "port", "", "listen port (default $PORT or 8080)")
	return cmd
}
