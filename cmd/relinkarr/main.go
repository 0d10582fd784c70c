// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/relinkarr/relinkarr/internal/buildinfo"
)

var configPath string

func main() {
	rootCmd := &cobra.Command{
		Use:   "relinkarr",
		Short: "Symlink health reconciliation for debrid-backed media libraries",
		Long: `relinkarr scans media library symlinks, tracks their health over time
and repairs broken links from a local mirror or by triggering upstream
searches.`,
		Version:       buildinfo.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file or directory")

	rootCmd.AddCommand(RunServeCommand())
	rootCmd.AddCommand(RunScanCommand())
	rootCmd.AddCommand(RunRepairCommand())
	rootCmd.AddCommand(RunActionsCommand())
	rootCmd.AddCommand(RunOrchestratorCommand())
	rootCmd.AddCommand(RunDBCommand())
	rootCmd.AddCommand(RunVersionCommand())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
