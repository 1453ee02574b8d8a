package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ugs/app"
)

func newBidCmd(root *rootOptions) *cobra.Command {
	var (
		runID    string
		fraction float64
	)
	cmd := &cobra.Command{
		Use:   "bid",
		Short: "Price a stored run again with another bid fraction",
		RunE: func(cmd *cobra.Command, args []string) error {
			if runID == "" {
				return errors.New("--run is required")
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}
			return withService(cfg, func(svc *app.Service) error {
				rec, bid, err := svc.Rebid(cmd.Context(), runID, fraction)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "run %s (%s)\n", rec.RunID, rec.Timestamp.Format("2006-01-02 15:04:05"))
				fmt.Fprintf(out, "  intrinsic value  %.2f\n", rec.Economics.IntrinsicValue)
				fmt.Fprintf(out, "  bid fraction     %.4f\n", bid.BidFraction)
				fmt.Fprintf(out, "  bid              %.2f (%.4f per MWh)\n", bid.TotalBid, bid.BidPerUnit)
				fmt.Fprintf(out, "  expected profit  %.2f\n", bid.ExpectedProfit)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "run id from the run log")
	cmd.Flags().Float64Var(&fraction, "fraction", 0, "bid fraction in (0,1], defaults to strategy.bid_fraction")
	return cmd
}
