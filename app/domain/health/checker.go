// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package health probes each quota subsystem component independently, folds
// the results into a worst-of overall status and keeps a bounded in-memory
// latency history for trend reporting. The history is process-local and not a
// correctness dependency.
package health

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/domain/enforcer"
	"github.com/renderhaus/storage-sentinel/app/domain/usage"
	"github.com/renderhaus/storage-sentinel/app/instr"
	"github.com/renderhaus/storage-sentinel/app/types"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusDegraded  Status = "degraded"
	StatusUnhealthy Status = "unhealthy"
	StatusError     Status = "error"
)

const (
	// probes slower than this degrade the component
	degradedLatency = 5 * time.Second

	historySize = 100

	probeFileName = ".health_probe"
)

func rank(s Status) int {
	switch s {
	case StatusHealthy:
		return 0
	case StatusDegraded:
		return 1
	case StatusUnhealthy:
		return 2
	default:
		return 3
	}
}

// worst returns the more severe of two statuses.
func worst(a, b Status) Status {
	if rank(b) > rank(a) {
		return b
	}
	return a
}

// ComponentReport is the outcome of one probe.
type ComponentReport struct {
	Name      string  `json:"name"`
	Status    Status  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latency_ms"`

	// alerting marks a healthy component that still warrants operator
	// attention, such as usage past the warning threshold
	alerting bool
}

// Report aggregates all component probes.
type Report struct {
	Status     Status            `json:"status"`
	Components []ComponentReport `json:"components"`
	Alerts     []string          `json:"alerts,omitempty"`
	CheckedAt  time.Time         `json:"checked_at"`
}

// Healthy reports whether the overall status permits a 200 on the health endpoint.
func (r *Report) Healthy() bool {
	return r.Status == StatusHealthy || r.Status == StatusDegraded
}

// Checker fans read-only probes out to the quota components.
type Checker struct {
	settings *config.Settings
	calc     *usage.Calculator
	enf      *enforcer.Enforcer
	kv       types.KVStore
	clock    types.TimeProvider

	mu      sync.Mutex
	history []time.Duration
	next    int
	filled  bool
}

// New constructs a Checker over the injected components.
func New(settings *config.Settings, calc *usage.Calculator, enf *enforcer.Enforcer, kv types.KVStore, clock types.TimeProvider) *Checker {
	return &Checker{
		settings: settings,
		calc:     calc,
		enf:      enf,
		kv:       kv,
		clock:    clock,
		history:  make([]time.Duration, historySize),
	}
}

// Run executes all probes and folds the results.
func (c *Checker) Run(ctx context.Context) *Report {
	report := &Report{
		Status:    StatusHealthy,
		CheckedAt: c.clock.GetCurrentTime(),
	}

	_ = instr.RunSpan(ctx, "health_Run", func(ctx context.Context) error {
		report.Components = []ComponentReport{
			c.probe(ctx, "configuration", c.probeConfiguration),
			c.probe(ctx, "usage_calculation", c.probeUsage),
			c.probe(ctx, "enforcement", c.probeEnforcement),
			c.probe(ctx, "storage_directory", c.probeDirectory),
			c.probePerformance(),
		}
		return nil
	})

	for _, comp := range report.Components {
		report.Status = worst(report.Status, comp.Status)
		if comp.Status != StatusHealthy || comp.alerting {
			report.Alerts = append(report.Alerts, fmt.Sprintf("%s: %s", comp.Name, comp.Message))
		}
	}

	if report.Status != StatusHealthy {
		log.Ctx(ctx).Warn().
			Str("status", string(report.Status)).
			Strs("alerts", report.Alerts).
			Msg("storage subsystem not fully healthy")
	}
	return report
}

// probe times a single component check, records the latency sample and
// escalates slow-but-successful probes to degraded.
func (c *Checker) probe(ctx context.Context, name string, fn func(ctx context.Context) (Status, string, bool)) ComponentReport {
	start := time.Now()
	status, message, alerting := fn(ctx)
	latency := time.Since(start)

	c.recordSample(latency)

	if status == StatusHealthy && latency > degradedLatency {
		status = StatusDegraded
		message = fmt.Sprintf("probe took %s", latency.Round(time.Millisecond))
	}

	return ComponentReport{
		Name:      name,
		Status:    status,
		Message:   message,
		LatencyMS: float64(latency) / float64(time.Millisecond),
		alerting:  alerting,
	}
}

func (c *Checker) probeConfiguration(context.Context) (Status, string, bool) {
	if !c.settings.MonitoringEnabled() {
		return StatusDegraded, "storage monitoring is disabled", false
	}
	return StatusHealthy, fmt.Sprintf("limit %.2f GB, warning at %.0f%%",
		c.settings.MaxStorageGB(), c.settings.WarningThresholdPercent()), false
}

func (c *Checker) probeUsage(ctx context.Context) (Status, string, bool) {
	metrics, err := c.calc.GetMetrics(ctx)
	if err != nil {
		return StatusError, "usage calculation failed", false
	}
	switch {
	case metrics.LimitExceeded:
		return StatusDegraded, fmt.Sprintf("storage limit exceeded (%.1f%%)", metrics.UsagePercent), false
	case metrics.WarningExceeded:
		// informational only; does not degrade the component
		return StatusHealthy, fmt.Sprintf("usage above warning threshold (%.1f%%)", metrics.UsagePercent), true
	default:
		return StatusHealthy, fmt.Sprintf("usage %.1f%%", metrics.UsagePercent), false
	}
}

func (c *Checker) probeEnforcement(ctx context.Context) (Status, string, bool) {
	if err := c.kv.Ping(ctx); err != nil {
		return StatusUnhealthy, "state store unreachable", false
	}
	blocked, err := c.enf.IsBlocked(ctx)
	if err != nil {
		return StatusUnhealthy, "blocking state unreadable", false
	}
	if blocked {
		return StatusDegraded, "protected operation currently blocked", false
	}
	return StatusHealthy, "", false
}

func (c *Checker) probeDirectory(context.Context) (Status, string, bool) {
	dir := c.settings.DataDir()
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return StatusUnhealthy, "storage directory missing", false
	}

	probe := filepath.Join(dir, probeFileName)
	if err := os.WriteFile(probe, []byte("ok"), 0o644); err != nil {
		return StatusUnhealthy, "storage directory not writable", false
	}
	_ = os.Remove(probe)
	return StatusHealthy, "", false
}

func (c *Checker) probePerformance() ComponentReport {
	avg := c.averageLatency()
	report := ComponentReport{
		Name:      "performance",
		Status:    StatusHealthy,
		LatencyMS: float64(avg) / float64(time.Millisecond),
	}
	if avg > degradedLatency {
		report.Status = StatusDegraded
		report.Message = fmt.Sprintf("average probe latency %s", avg.Round(time.Millisecond))
	}
	return report
}

func (c *Checker) recordSample(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.history[c.next] = d
	c.next++
	if c.next == historySize {
		c.next = 0
		c.filled = true
	}
}

func (c *Checker) averageLatency() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := c.next
	if c.filled {
		n = historySize
	}
	if n == 0 {
		return 0
	}
	var sum time.Duration
	for i := 0; i < n; i++ {
		sum += c.history[i]
	}
	return sum / time.Duration(n)
}

// SampleCount reports how many latency samples the rolling history holds.
func (c *Checker) SampleCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.filled {
		return historySize
	}
	return c.next
}
