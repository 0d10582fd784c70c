// Copyright (c) 2025, the relinkarr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package metrics

import (
	"context"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/relinkarr/relinkarr/internal/models"
)

// LibraryCollector reads store aggregates on every scrape instead of
// keeping in-process counters, so restarts never skew the numbers.
type LibraryCollector struct {
	symlinkStore *models.SymlinkStore
	actionStore  *models.ActionStore
	repairStore  *models.RepairStore

	symlinksDesc            *prometheus.Desc
	manualRequiredDesc      *prometheus.Desc
	actionsDesc             *prometheus.Desc
	orchestratorEnabledDesc *prometheus.Desc
}

func NewLibraryCollector(symlinkStore *models.SymlinkStore, actionStore *models.ActionStore, repairStore *models.RepairStore) *LibraryCollector {
	return &LibraryCollector{
		symlinkStore: symlinkStore,
		actionStore:  actionStore,
		repairStore:  repairStore,

		symlinksDesc: prometheus.NewDesc(
			"relinkarr_symlinks",
			"Number of currently tracked symlinks by status",
			[]string{"status"},
			nil,
		),
		manualRequiredDesc: prometheus.NewDesc(
			"relinkarr_symlinks_manual_required",
			"Number of symlinks flagged for manual intervention",
			nil,
			nil,
		),
		actionsDesc: prometheus.NewDesc(
			"relinkarr_actions",
			"Number of queued upstream actions by status",
			[]string{"status"},
			nil,
		),
		orchestratorEnabledDesc: prometheus.NewDesc(
			"relinkarr_orchestrator_enabled",
			"Whether automatic repair runs are enabled (1=enabled, 0=disabled)",
			nil,
			nil,
		),
	}
}

func (c *LibraryCollector) Describe(ch chan<- *prometheus.Desc) {
	ch <- c.symlinksDesc
	ch <- c.manualRequiredDesc
	ch <- c.actionsDesc
	ch <- c.orchestratorEnabledDesc
}

func (c *LibraryCollector) Collect(ch chan<- prometheus.Metric) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	symlinkCounts, err := c.symlinkStore.Counts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect symlink counts")
	} else {
		ch <- prometheus.MustNewConstMetric(c.symlinksDesc, prometheus.GaugeValue, float64(symlinkCounts.Ok), "ok")
		ch <- prometheus.MustNewConstMetric(c.symlinksDesc, prometheus.GaugeValue, float64(symlinkCounts.Broken), "broken")
		ch <- prometheus.MustNewConstMetric(c.symlinksDesc, prometheus.GaugeValue, float64(symlinkCounts.Errors), "error")
		ch <- prometheus.MustNewConstMetric(c.manualRequiredDesc, prometheus.GaugeValue, float64(symlinkCounts.ManualRequired))
	}

	actionCounts, err := c.actionStore.Counts(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect action counts")
	} else {
		ch <- prometheus.MustNewConstMetric(c.actionsDesc, prometheus.GaugeValue, float64(actionCounts.Pending), "pending")
		ch <- prometheus.MustNewConstMetric(c.actionsDesc, prometheus.GaugeValue, float64(actionCounts.Sent), "sent")
		ch <- prometheus.MustNewConstMetric(c.actionsDesc, prometheus.GaugeValue, float64(actionCounts.Failed), "failed")
	}

	state, err := c.repairStore.OrchestratorState(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to collect orchestrator state")
		return
	}
	enabled := 0.0
	if state.Enabled {
		enabled = 1.0
	}
	ch <- prometheus.MustNewConstMetric(c.orchestratorEnabledDesc, prometheus.GaugeValue, enabled)
}
