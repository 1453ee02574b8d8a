package cmd

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ugs/app"
	"github.com/kilianp07/ugs/infra/runlog"
)

func newRunsCmd(root *rootOptions) *cobra.Command {
	var (
		since       string
		status      string
		optimalOnly bool
	)
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List runs stored in the run log",
		RunE: func(cmd *cobra.Command, args []string) error {
			q := runlog.RunQuery{Status: status, OptimalOnly: optimalOnly}
			if since != "" {
				t, err := time.Parse(time.DateOnly, since)
				if err != nil {
					return fmt.Errorf("--since: %w", err)
				}
				q.Start = t
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return withService(cfg, func(svc *app.Service) error {
				recs, err := svc.History(cmd.Context(), q)
				if err != nil {
					return err
				}
				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "RUN\tTIME\tSTATUS\tDAYS\tINTRINSIC\tBID")
				for _, r := range recs {
					fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%.2f\t%.2f\n", r.RunID, r.Timestamp.Format(time.DateTime),
						r.Solve.Status, r.Days, r.Economics.IntrinsicValue, r.Bid.TotalBid)
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().StringVar(&since, "since", "", "only runs after this date (YYYY-MM-DD)")
	cmd.Flags().StringVar(&status, "status", "", "solver status filter")
	cmd.Flags().BoolVar(&optimalOnly, "optimal", false, "only runs proven optimal")
	return cmd
}
