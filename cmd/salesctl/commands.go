package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"github.com/uptail/sales-agent/internal/agent"
	"github.com/uptail/sales-agent/internal/app"
	"github.com/uptail/sales-agent/internal/chat"
	"github.com/uptail/sales-agent/internal/config"
	"github.com/uptail/sales-agent/internal/db"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// openDB opens and migrates the database without touching the model provider.
func openDB(cfg *config.Config, log *zap.Logger) (*gorm.DB, func(), error) {
	gdb, err := db.Open(cfg.DBDSN, log)
	if err != nil {
		return nil, nil, err
	}
	closeFn := func() {
		if sqlDB, err := gdb.DB(); err == nil {
			_ = sqlDB.Close()
		}
	}
	if err := db.Migrate(gdb); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("migrate: %w", err)
	}
	return gdb, closeFn, nil
}

func newMigrateCmd(cfg *config.Config, log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create or update the database schema",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, closeFn, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()
			fmt.Fprintln(cmd.OutOrStdout(), "schema up to date")
			return nil
		},
	}
}

func newSeedCmd(cfg *config.Config, log *zap.Logger) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Insert the default guideline catalogue when it is empty",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gdb, closeFn, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			n, err := chat.NewService(chat.NewRepo(gdb)).SeedGuidelines(cmd.Context())
			if err != nil {
				return err
			}
			if n == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "catalogue already populated, nothing seeded")
				return nil
			}
			fmt.Fprintf(cmd.OutOrStdout(), "seeded %d guidelines\n", n)
			return nil
		},
	}
}

func newGuidelinesCmd(cfg *config.Config, log *zap.Logger) *cobra.Command {
	var (
		strength string
		triggers string
		active   bool
	)
	cmd := &cobra.Command{
		Use:   "guidelines",
		Short: "List the guideline catalogue",
		RunE: func(cmd *cobra.Command, _ []string) error {
			gdb, closeFn, err := openDB(cfg, log)
			if err != nil {
				return err
			}
			defer closeFn()

			var q chat.GuidelineQuery
			if strength != "" {
				s := chat.Strength(strings.ToLower(strength))
				q.Strength = &s
			}
			if triggers != "" {
				q.Triggers = strings.Split(triggers, ",")
			}
			if cmd.Flags().Changed("active") {
				q.Active = &active
			}
			gs, err := chat.NewRepo(gdb).SearchGuidelines(cmd.Context(), q)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, g := range gs {
				fmt.Fprintf(out, "%s  %-4s  p=%-3d  active=%-5t  %s  %v\n",
					g.ID, g.Strength, g.Priority, g.Active, g.Title, []string(g.Triggers))
			}
			fmt.Fprintf(out, "%d guidelines\n", len(gs))
			return nil
		},
	}
	cmd.Flags().StringVar(&strength, "strength", "", "hard or soft")
	cmd.Flags().StringVar(&triggers, "triggers", "", "comma separated triggers")
	cmd.Flags().BoolVar(&active, "active", true, "only active (true) or inactive (false) guidelines")
	return cmd
}

func newRespondCmd(cfg *config.Config, log *zap.Logger) *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "respond <message>",
		Short: "Run one sales turn and print the result as JSON",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := app.New(cmd.Context(), *cfg, log)
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			res, err := a.Pipeline.Respond(cmd.Context(), agent.TurnRequest{
				SessionID: sessionID,
				Message:   strings.Join(args, " "),
			})
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res)
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "continue an existing session")
	return cmd
}
