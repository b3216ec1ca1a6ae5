package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/glindsay/resume-assistant/internal/store"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

func newAuditCmd() *cobra.Command {
	var (
		dbPath string
		limit  int
	)

	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Print the most recent audit events as JSON lines",
		Args:  cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error {
			if cmd.Flags().Changed("db") {
				return nil
			}
			_ = godotenv.Load()
			if env := os.Getenv("DB_PATH"); env != "" {
				dbPath = env
			}
			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			if limit <= 0 {
				return fmt.Errorf("--limit must be positive, got %d", limit)
			}

			repo, err := store.NewSQLite(dbPath)
			if err != nil {
				return fmt.Errorf("open audit database: %w", err)
			}
			defer func() { _ = repo.Close() }()

			events, err := repo.RecentLogEvents(cmd.Context(), limit)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, event := range events {
				if err := enc.Encode(event); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&dbPath, "db", "./data/audit.db", "Path to the audit SQLite database, overriding DB_PATH")
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "Number of events to print")
	return cmd
}
