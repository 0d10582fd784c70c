// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/relinkarr/relinkarr/internal/api"
	"github.com/relinkarr/relinkarr/internal/buildinfo"
	"github.com/relinkarr/relinkarr/internal/metrics"
)

func RunServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scanner, watchdog and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := newApp(configPath)
			if err != nil {
				return err
			}
			defer a.Close()

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			a.appConfig.Watch()

			log.Info().
				Str("version", buildinfo.Version).
				Str("commit", buildinfo.Commit).
				Msg("relinkarr starting")

			g, ctx := errgroup.WithContext(ctx)

			server := api.NewServer(&api.Dependencies{
				Config:       a.cfg,
				SymlinkStore: a.symlinkStore,
				ActionStore:  a.actionStore,
				RepairStore:  a.repairStore,
				Orchestrator: a.orchestrator,
				Processor:    a.processor,
			})
			g.Go(func() error {
				return server.Serve(ctx)
			})

			if a.cfg.MetricsEnabled {
				manager := metrics.NewManager(a.symlinkStore, a.actionStore, a.repairStore)
				g.Go(func() error {
					return manager.Serve(ctx, a.cfg.MetricsHost, a.cfg.MetricsPort)
				})
			}

			g.Go(func() error {
				return a.scanner.RunLoop(ctx)
			})

			// automatic repairs only run while the persisted toggle is on
			g.Go(func() error {
				return a.watchdog.Run(ctx, a.orchestrator.Enabled)
			})

			err = g.Wait()
			if err != nil && ctx.Err() != nil {
				log.Info().Msg("relinkarr stopped")
				return nil
			}
			return err
		},
	}
}
