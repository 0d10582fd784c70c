// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/relinkarr/relinkarr/internal/models"
)

func RunRepairCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "repair",
		Short: "Repair broken symlinks",
	}

	cmd.AddCommand(runRepairRunCommand())
	cmd.AddCommand(runRepairStrategyCommand("cinesync"))
	cmd.AddCommand(runRepairStrategyCommand("arr"))
	cmd.AddCommand(runRepairHistoryCommand())
	return cmd
}

func runRepairStrategyCommand(strategy string) *cobra.Command {
	return &cobra.Command{
		Use:   strategy,
		Short: "Run only the " + strategy + " strategy",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			var run *models.RepairRun
			if strategy == "cinesync" {
				run, err = a.orchestrator.RunCinesync(cmd.Context(), models.RepairTriggerManual)
			} else {
				run, err = a.orchestrator.RunArr(cmd.Context(), models.RepairTriggerManual)
			}
			if err != nil {
				return err
			}
			printRun(cmd, run)
			return nil
		},
	}
}

func runRepairRunCommand() *cobra.Command {
	var strategy string

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a repair pass now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx := cmd.Context()
			switch strategy {
			case "cinesync":
				run, err := a.orchestrator.RunCinesync(ctx, models.RepairTriggerManual)
				if err != nil {
					return err
				}
				printRun(cmd, run)
			case "arr":
				run, err := a.orchestrator.RunArr(ctx, models.RepairTriggerManual)
				if err != nil {
					return err
				}
				printRun(cmd, run)
			case "all":
				summary, err := a.orchestrator.RunOrchestrated(ctx, models.RepairTriggerManual)
				if err != nil {
					return err
				}
				if summary.CinesyncRun != nil {
					printRun(cmd, summary.CinesyncRun)
				}
				if summary.ArrRun != nil {
					printRun(cmd, summary.ArrRun)
				}
				if summary.Rescanned {
					cmd.Println("Library rescanned.")
				}
			default:
				return fmt.Errorf("unknown strategy %q, expected cinesync, arr or all", strategy)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&strategy, "strategy", "all", "Repair strategy: cinesync, arr or all")

	return cmd
}

func runRepairHistoryCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent repair runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			runs, err := a.repairStore.History(cmd.Context(), limit)
			if err != nil {
				return err
			}
			if len(runs) == 0 {
				cmd.Println("No repair runs recorded.")
				return nil
			}
			for _, run := range runs {
				printRun(cmd, run)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs to list")

	return cmd
}

func printRun(cmd *cobra.Command, run *models.RepairRun) {
	cmd.Printf("Run %d [%s/%s] %s: broken=%d repaired=%d skipped=%d failed=%d\n",
		run.ID, run.Source, run.TriggeredBy, run.Status,
		run.BrokenFound, run.Repaired, run.Skipped, run.Failed)
}
