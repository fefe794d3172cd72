// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package http

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/renderhaus/storage-sentinel/app/instr"
)

var (
	metricRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_http_requests_total",
			Help: "HTTP requests served, labeled by route pattern, method and status code.",
		},
		[]string{"route", "method", "code"},
	)

	metricRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "storage_http_request_duration_seconds",
			Help:    "HTTP request latency, labeled by route pattern, method and status code.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "method", "code"},
	)

	middlewareMetricsOnce sync.Once
)

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// routePattern prefers the chi pattern ("/admin/override/{id}") over the raw
// path so metric label cardinality stays bounded.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}

func requestMetrics(next http.Handler) http.Handler {
	middlewareMetricsOnce.Do(func() {
		prometheus.MustRegister(metricRequestsTotal, metricRequestDuration)
	})

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		span := instr.StartSpan(r.Context(), "httpRequest")
		defer span.End()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		code := strconv.Itoa(recorder.status)
		route := routePattern(r)
		metricRequestsTotal.WithLabelValues(route, r.Method, code).Inc()
		metricRequestDuration.WithLabelValues(route, r.Method, code).Observe(span.GetDuration().Seconds())
	})
}

func requestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		recorder := &statusRecorder{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(recorder, r)

		log.Ctx(r.Context()).Debug().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", recorder.status).
			Dur("duration", time.Since(start)).
			Msg("request served")
	})
}
