package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/systemshift/flightgraph/internal/flights"
	"github.com/systemshift/flightgraph/internal/ingest"
)

func newSchemaCmd(global *globalOptions) *cobra.Command {
	var keyMode string

	cmd := &cobra.Command{
		Use:   "schema",
		Short: "Create the graph constraints and indexes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(global)
			if err != nil {
				return err
			}
			if keyMode == "" {
				keyMode = a.cfg.FlightKeyMode
			}
			mode, err := flights.ParseFlightKeyMode(keyMode)
			if err != nil {
				return err
			}

			store, err := a.openStore(cmd.Context())
			if err != nil {
				return err
			}
			defer store.Close(context.Background())

			schema := ingest.SchemaFor(mode)
			if err := ingest.Bootstrap(cmd.Context(), store, schema); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "applied %d constraints and %d indexes\n", len(schema.Constraints), len(schema.Indexes))
			return nil
		},
	}
	cmd.Flags().StringVar(&keyMode, "flight-key", "", "composite or number")
	return cmd
}
