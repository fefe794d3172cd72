// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/renderhaus/storage-sentinel/app/domain/health"
)

type HealthAPI struct {
	checker *health.Checker
}

func NewHealthAPI(checker *health.Checker) *HealthAPI {
	return &HealthAPI{checker: checker}
}

func (a *HealthAPI) Routes() chi.Router {
	r := chi.NewRouter()
	r.Get("/", a.GetHealth)
	return r
}

// GetHealth runs all component probes. Degraded still answers 200 so that
// orchestrator liveness checks do not restart a service that is merely slow
// or over its warning threshold.
func (a *HealthAPI) GetHealth(w http.ResponseWriter, r *http.Request) {
	defer r.Body.Close()
	report := a.checker.Run(r.Context())

	status := http.StatusOK
	if !report.Healthy() {
		status = http.StatusServiceUnavailable
	}
	replyJSON(w, r, status, report)
}
