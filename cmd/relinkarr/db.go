// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

func RunDBCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "db",
		Short: "Database operations",
	}

	cmd.AddCommand(runDBStatsCommand())
	return cmd
}

func runDBStatsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show row counts per table",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			tables := []string{
				"symlinks",
				"status_events",
				"scan_runs",
				"quarantine",
				"actions",
				"repair_runs",
				"repair_stats",
				"cinesync_items",
			}

			for _, table := range tables {
				var count int64
				row := a.db.Conn().QueryRowContext(cmd.Context(), fmt.Sprintf("SELECT COUNT(*) FROM %s", table))
				if err := row.Scan(&count); err != nil {
					return fmt.Errorf("count %s: %w", table, err)
				}
				cmd.Printf("%-15s %d\n", table, count)
			}
			return nil
		},
	}
}
