package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ugs/app"
)

func newValidateCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check the configuration and the forward curve without solving",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := root.load()
			if err != nil {
				return err
			}
			if err := cfg.ValidatePrices(); err != nil {
				return err
			}
			return withService(cfg, func(svc *app.Service) error {
				series, err := svc.Check(cmd.Context())
				if err != nil {
					return err
				}
				first, last := series[0], series[len(series)-1]
				fmt.Fprintf(cmd.OutOrStdout(), "ok: %d days", len(series))
				if !first.Date.IsZero() {
					fmt.Fprintf(cmd.OutOrStdout(), " from %s to %s", first.Date.Format("2006-01-02"), last.Date.Format("2006-01-02"))
				}
				fmt.Fprintln(cmd.OutOrStdout())
				return nil
			})
		},
	}
}
