// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"encoding/json"
	"os"

	"github.com/spf13/cobra"
)

func RunScanCommand() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Run a single library scan",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			summary, err := a.scanner.Scan(cmd.Context())
			if err != nil {
				return err
			}

			if jsonOutput {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(summary)
			}

			cmd.Printf("Scan %d finished in %s\n", summary.ScanID, summary.Duration.Round(0))
			cmd.Printf("  total:   %d\n", summary.Total)
			cmd.Printf("  ok:      %d\n", summary.Ok)
			cmd.Printf("  broken:  %d\n", summary.Broken)
			cmd.Printf("  errors:  %d\n", summary.Errors)
			cmd.Printf("  skipped: %d\n", summary.Skipped)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the scan summary as JSON")

	return cmd
}
