// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/renderhaus/storage-sentinel/app/config"
)

const (
	readTimeout  = 10 * time.Second
	writeTimeout = 30 * time.Second
	idleTimeout  = 60 * time.Second
)

type RouteSegment struct {
	Route string
	Hook  http.Handler
}

// NewServer creates and returns a http.Server
func NewServer(cfg *config.Settings, routes ...RouteSegment) *http.Server {
	mux := chi.NewRouter()
	mux.Use(requestLogging, requestMetrics)

	// Internal routes
	mux.Handle("/metrics", promhttp.Handler())

	for _, route := range routes {
		mux.Mount(route.Route, route.Hook)
	}

	return &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
		IdleTimeout:  idleTimeout,
	}
}
