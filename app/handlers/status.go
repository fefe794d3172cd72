// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/renderhaus/storage-sentinel/app/build"
	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/domain/enforcer"
	"github.com/renderhaus/storage-sentinel/app/domain/usage"
	"github.com/renderhaus/storage-sentinel/app/types"
)

type StatusAPI struct {
	settings *config.Settings
	calc     *usage.Calculator
	enf      *enforcer.Enforcer
	clock    types.TimeProvider
}

func NewStatusAPI(settings *config.Settings, calc *usage.Calculator, enf *enforcer.Enforcer, clock types.TimeProvider) *StatusAPI {
	return &StatusAPI{settings: settings, calc: calc, enf: enf, clock: clock}
}

func (a *StatusAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", a.GetStatus)
	return r
}

type monitoringStatus struct {
	Enabled                 bool    `json:"enabled"`
	LimitGB                 float64 `json:"limit_gb"`
	WarningThresholdPercent float64 `json:"warning_threshold_percent"`
	WarningThresholdGB      float64 `json:"warning_threshold_gb"`
}

type statusReport struct {
	Version    string                       `json:"version"`
	Timestamp  time.Time                    `json:"timestamp"`
	Monitoring monitoringStatus             `json:"monitoring"`
	Usage      *types.StorageMetrics        `json:"usage,omitempty"`
	UsageError bool                         `json:"usage_error,omitempty"`
	Cache      usage.CacheInfo              `json:"cache"`
	Blocking   *types.BlockingState         `json:"blocking,omitempty"`
	Statistics *types.EnforcementStatistics `json:"statistics,omitempty"`
}

// GetStatus assembles the operator-facing view of the quota subsystem. Every
// section is best-effort; a failing backend drops its section instead of
// failing the whole endpoint.
func (a *StatusAPI) GetStatus(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	ctx := r.Context()

	report := statusReport{
		Version:   build.GetVersion(),
		Timestamp: a.clock.GetCurrentTime(),
		Monitoring: monitoringStatus{
			Enabled:                 a.settings.MonitoringEnabled(),
			LimitGB:                 a.settings.MaxStorageGB(),
			WarningThresholdPercent: a.settings.WarningThresholdPercent(),
			WarningThresholdGB:      a.settings.WarningThresholdGB(),
		},
		Cache: a.calc.GetCacheInfo(),
	}

	metrics, err := a.calc.GetMetrics(ctx)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("status: usage calculation failed")
		report.UsageError = true
	} else {
		report.Usage = metrics
	}

	if state, err := a.enf.BlockingState(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("status: blocking state unreadable")
	} else {
		report.Blocking = state
	}

	if stats, err := a.enf.Statistics(ctx); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("status: statistics unreadable")
	} else {
		report.Statistics = stats
	}

	replyJSON(w, r, http.StatusOK, report)
}
