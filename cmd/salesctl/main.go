package main

import (
	"context"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"github.com/uptail/sales-agent/internal/config"
	"github.com/uptail/sales-agent/internal/logging"
	"go.uber.org/zap"
)

func main() {
	cfg := config.Load()
	log := logging.FromConfig(cfg)
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd(cfg, log).ExecuteContext(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func newRootCmd(cfg config.Config, log *zap.Logger) *cobra.Command {
	root := &cobra.Command{
		Use:          "salesctl",
		Short:        "Operate the sales agent: schema, catalogue and ad-hoc turns",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVar(&cfg.DBDSN, "dsn", cfg.DBDSN, "database DSN (sqlite:<path> or a MySQL DSN)")

	root.AddCommand(
		newMigrateCmd(&cfg, log),
		newSeedCmd(&cfg, log),
		newGuidelinesCmd(&cfg, log),
		newRespondCmd(&cfg, log),
	)
	return root
}
