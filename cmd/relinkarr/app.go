// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package main

import (
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/buildinfo"
	"github.com/relinkarr/relinkarr/internal/config"
	"github.com/relinkarr/relinkarr/internal/database"
	"github.com/relinkarr/relinkarr/internal/domain"
	"github.com/relinkarr/relinkarr/internal/logger"
	"github.com/relinkarr/relinkarr/internal/models"
	"github.com/relinkarr/relinkarr/internal/services/actions"
	"github.com/relinkarr/relinkarr/internal/services/cinesync"
	"github.com/relinkarr/relinkarr/internal/services/orchestrator"
	"github.com/relinkarr/relinkarr/internal/services/relay"
	"github.com/relinkarr/relinkarr/internal/services/scanner"
	"github.com/relinkarr/relinkarr/internal/services/watchdog"
)

// app wires configuration, storage and services for the CLI commands.
type app struct {
	cfg       *domain.Config
	appConfig *config.AppConfig
	db        *database.DB

	symlinkStore *models.SymlinkStore
	actionStore  *models.ActionStore
	repairStore  *models.RepairStore

	scanner      *scanner.Service
	matcher      *cinesync.Service
	relay        *relay.Client
	processor    *actions.Service
	orchestrator *orchestrator.Service
	watchdog     *watchdog.Service
}

func newApp(configPath string) (*app, error) {
	appConfig, err := config.New(configPath, buildinfo.Version)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg := appConfig.Config
	logger.Setup(cfg)

	db, err := database.New(appConfig.DatabasePath())
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	symlinkStore := models.NewSymlinkStore(db)
	actionStore := models.NewActionStore(db)
	repairStore := models.NewRepairStore(db)
	quarantineStore := models.NewQuarantineStore(db)
	cinesyncStore := models.NewCinesyncStore(db)

	relayClient := relay.NewClient(cfg.Relay)
	processor := actions.NewService(cfg.Actions, actionStore, relayClient)
	matcher := cinesync.NewService(cfg.CineSync, cinesyncStore)
	scan := scanner.NewService(cfg.Scan, symlinkStore)
	orch := orchestrator.NewService(cfg, symlinkStore, repairStore, actionStore, matcher, relayClient, processor, scan)
	dog := watchdog.NewService(cfg.Watchdog, symlinkStore, quarantineStore, actionStore, matcher, relayClient, processor)

	return &app{
		cfg:          cfg,
		appConfig:    appConfig,
		db:           db,
		symlinkStore: symlinkStore,
		actionStore:  actionStore,
		repairStore:  repairStore,
		scanner:      scan,
		matcher:      matcher,
		relay:        relayClient,
		processor:    processor,
		orchestrator: orch,
		watchdog:     dog,
	}, nil
}

func (a *app) Close() {
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("Failed to close database")
	}
}
