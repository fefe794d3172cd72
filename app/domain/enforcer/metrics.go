// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package enforcer

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	enforcerStatsOnce sync.Once

	metricChecksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_checks_total",
			Help: "Total number of pre-operation storage checks, by result.",
		},
		[]string{"result"},
	)

	metricBlocksEnforcedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_blocks_enforced_total",
			Help: "Total number of blocking states written.",
		},
		[]string{},
	)

	metricAutomaticUnblocksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_automatic_unblocks_total",
			Help: "Total number of blocking states lifted after usage dropped.",
		},
		[]string{},
	)

	metricOverrideBypassesTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_override_bypasses_total",
			Help: "Total number of checks allowed past an exceeded limit by an override.",
		},
		[]string{},
	)

	metricBlocked = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_blocked",
			Help: "Whether the protected operation is currently blocked (1) or not (0).",
		},
		[]string{},
	)
)

func registerMetrics() {
	enforcerStatsOnce.Do(func() {
		prometheus.MustRegister(
			metricChecksTotal,
			metricBlocksEnforcedTotal,
			metricAutomaticUnblocksTotal,
			metricOverrideBypassesTotal,
			metricBlocked,
		)
	})
}
