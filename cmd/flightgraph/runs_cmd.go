package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/systemshift/flightgraph/internal/ingest"
	"github.com/systemshift/flightgraph/internal/ledger"
)

func newRunsCmd(global *globalOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recorded imports, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := setup(global)
			if err != nil {
				return err
			}
			l, err := ledger.Open(cmd.Context(), a.cfg.LedgerPath)
			if err != nil {
				return err
			}
			defer l.Close()

			runs, err := l.Runs(cmd.Context(), limit)
			if err != nil {
				return err
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSTATE\tUPSERTED\tSKIPPED\tLAST BATCH\tERROR")
			for _, r := range runs {
				last := "-"
				if r.State == string(ingest.StateFailed) {
					b, err := l.LastBatch(cmd.Context(), r.ID)
					switch {
					case err == nil:
						last = fmt.Sprintf("%s %s #%d", b.Phase, b.Source, b.Index)
					case !errors.Is(err, ledger.ErrRunNotFound):
						return err
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\t%s\n",
					r.ID, r.StartedAt.Format(time.RFC3339), r.State,
					r.Totals.Upserted, r.Totals.Skipped, last, r.Error)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs")
	return cmd
}
