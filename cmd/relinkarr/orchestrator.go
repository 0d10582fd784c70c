// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"github.com/spf13/cobra"
)

func RunOrchestratorCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "orchestrator",
		Short: "Control automatic repair runs",
	}

	cmd.AddCommand(runOrchestratorSetCommand("enable", true))
	cmd.AddCommand(runOrchestratorSetCommand("disable", false))
	cmd.AddCommand(runOrchestratorStatusCommand())
	return cmd
}

func runOrchestratorSetCommand(use string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   use,
		Short: use + " automatic repair runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			if err := a.orchestrator.SetEnabled(cmd.Context(), enabled); err != nil {
				return err
			}
			if enabled {
				cmd.Println("Automatic repair runs enabled.")
			} else {
				cmd.Println("Automatic repair runs disabled.")
			}
			return nil
		},
	}
}

func runOrchestratorStatusCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the orchestrator state",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			state, err := a.repairStore.OrchestratorState(cmd.Context())
			if err != nil {
				return err
			}

			if state.Enabled {
				cmd.Println("Automatic repair runs: enabled")
			} else {
				cmd.Println("Automatic repair runs: disabled")
			}
			if state.LastAutoRunAt != nil {
				cmd.Printf("Last automatic run: %s\n", state.LastAutoRunAt.Format("2006-01-02 15:04:05 MST"))
			}
			return nil
		},
	}
}
