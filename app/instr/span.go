// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package instr provides a minimal span helper that times function execution
// and reports it to prometheus. Not a replacement for otel.
package instr

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

var (
	spanOnce sync.Once

	functionDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "function_execution_seconds",
			Help:    "Time taken for a function execution",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 10),
		},
		[]string{"function_name", "error"},
	)
)

type Span struct {
	ctx   context.Context
	id    string
	name  string
	start time.Time
	err   error
	ended bool
}

// StartSpan starts a span using the default prometheus registry
func StartSpan(ctx context.Context, name string) *Span {
	spanOnce.Do(func() {
		prometheus.MustRegister(functionDuration)
	})

	return &Span{
		ctx:   ctx,
		id:    uuid.NewString(),
		name:  name,
		start: time.Now(),
	}
}

// RunSpan will wrap a function with a span to automatically handle
// error tracking and ending
func RunSpan(ctx context.Context, name string, fn func(ctx context.Context) error) error {
	span := StartSpan(ctx, name)
	defer span.End()
	return span.Error(fn(ctx))
}

// Error observes an error and transiently passes it to the caller
func (s *Span) Error(err error) error {
	s.err = err
	return err
}

// GetDuration returns the current duration of the span
func (s *Span) GetDuration() time.Duration {
	return time.Since(s.start)
}

// End ends the span and observes the underlying prometheus metric
func (s *Span) End() {
	if !s.ended {
		s.ended = true
		duration := time.Since(s.start).Seconds()
		if s.err == nil {
			functionDuration.WithLabelValues(s.name, "").Observe(duration)
		} else {
			functionDuration.WithLabelValues(s.name, s.err.Error()).Observe(duration)
		}

		log.Ctx(s.ctx).Trace().
			Str("spanId", s.id).
			Str("spanName", s.name).
			Time("start", s.start).
			Dur("duration", s.GetDuration()).
			Err(s.err).
			Msg("Span status")
	}
}
