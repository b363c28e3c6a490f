package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"fleet-monitor/gps-poller/internal/store"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create the Postgres schema",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		ctx := context.Background()
		db, err := store.NewPostgresStore(ctx, cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "Connected to %s:%s/%s\n", cfg.DBHost, cfg.DBPort, cfg.DBName)
		if err := db.Migrate(ctx, func(step store.Step) {
			fmt.Fprintf(out, "  ✓ %s\n", step.Name)
		}); err != nil {
			return err
		}
		fmt.Fprintln(out, "Schema ready.")
		return nil
	},
}
