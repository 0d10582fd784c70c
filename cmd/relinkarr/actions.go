// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"
)

func RunActionsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "actions",
		Short: "Upstream action queue operations",
	}

	cmd.AddCommand(runActionsProcessCommand())
	cmd.AddCommand(runActionsListCommand())
	return cmd
}

func runActionsProcessCommand() *cobra.Command {
	var dryRun bool

	cmd := &cobra.Command{
		Use:   "process",
		Short: "Send pending upstream actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.processor.Process(cmd.Context(), dryRun)
			if err != nil {
				return err
			}

			if dryRun {
				cmd.Printf("Dry run: %d pending action(s) would be sent\n", summary.Processed)
				return nil
			}
			cmd.Printf("Processed %d action(s): sent=%d failed=%d\n", summary.Processed, summary.Sent, summary.Failed)
			return nil
		},
	}

	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Inspect the queue without sending anything")

	return cmd
}

func runActionsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queued actions",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			queued, err := a.actionStore.List(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(queued) == 0 {
				cmd.Println("Action queue is empty.")
				return nil
			}
			for _, action := range queued {
				cmd.Printf("%d [%s] %s\n", action.ID, action.Status, action.Reason)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum number of actions to list")

	return cmd
}
