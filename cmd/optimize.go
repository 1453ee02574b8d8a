package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ugs/app"
	"github.com/kilianp07/ugs/pkg/export"
)

func newOptimizeCmd(root *rootOptions) *cobra.Command {
	var (
		outDir           string
		fraction         float64
		acceptSuboptimal bool
		timeLimit        float64
	)
	cmd := &cobra.Command{
		Use:   "optimize",
		Short: "Solve the storage schedule and recommend a bid",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePrices(); err != nil {
				return err
			}
			if outDir != "" {
				cfg.Output.Dir = outDir
			}
			if cmd.Flags().Changed("fraction") {
				cfg.Strategy.BidFraction = fraction
				if err := cfg.Strategy.Validate(); err != nil {
					return fmt.Errorf("--fraction: %w", err)
				}
			}
			if cmd.Flags().Changed("accept-suboptimal") {
				cfg.Model.AcceptSuboptimal = acceptSuboptimal
			}
			if cmd.Flags().Changed("time-limit") {
				cfg.Solver.TimeLimitSeconds = timeLimit
			}
			return withService(cfg, func(svc *app.Service) error {
				res, err := svc.Run(cmd.Context())
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if err := export.WriteSummary(out, res.Report); err != nil {
					return err
				}
				for _, f := range res.Files {
					fmt.Fprintf(out, "wrote %s\n", f)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&outDir, "out", "o", "", "output directory, overrides output.dir")
	cmd.Flags().Float64Var(&fraction, "fraction", 0, "bid fraction of the intrinsic value in (0,1]")
	cmd.Flags().BoolVar(&acceptSuboptimal, "accept-suboptimal", false, "keep the best schedule when a solver limit is hit")
	cmd.Flags().Float64Var(&timeLimit, "time-limit", 0, "solver time limit in seconds, negative to disable")
	return cmd
}
