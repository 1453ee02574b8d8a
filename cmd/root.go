// Package cmd implements the ugs command line.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/kilianp07/ugs/app"
	"github.com/kilianp07/ugs/config"
	"github.com/kilianp07/ugs/infra/logger"
	"github.com/kilianp07/ugs/infra/prices"
)

// rootOptions holds the flags shared by every command.
type rootOptions struct {
	cfgPath    string
	pricesPath string
	logLevel   string
}

// NewRootCmd builds the ugs command tree.
func NewRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:           "ugs",
		Short:         "Gas storage valuation and auction bidding",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&opts.cfgPath, "config", "c", "", "configuration file (yaml or json)")
	root.PersistentFlags().StringVarP(&opts.pricesPath, "prices", "p", "", "forward curve file, overrides prices.path")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides logging.level")

	root.AddCommand(
		newOptimizeCmd(opts),
		newValidateCmd(opts),
		newBidCmd(opts),
		newRunsCmd(opts),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return NewRootCmd().ExecuteContext(ctx)
}

func (o *rootOptions) load() (*config.Config, error) {
	cfg, err := config.Load(o.cfgPath)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	if o.pricesPath != "" {
		cfg.Prices.Source = prices.SourceFile
		cfg.Prices.Path = o.pricesPath
	}
	if o.logLevel != "" {
		cfg.Logging.Level = o.logLevel
		if err := cfg.Logging.Validate(); err != nil {
			return nil, err
		}
	}
	logger.SetLevel(cfg.Logging.Level)
	return cfg, nil
}

// withService builds the service, runs fn and closes the service.
func withService(cfg *config.Config, fn func(*app.Service) error) error {
	svc, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := svc.Close(); cerr != nil {
			logger.New("main").Errorf("service close: %v", cerr)
		}
	}()
	defer svc.Monitor().Recover()
	return fn(svc)
}
