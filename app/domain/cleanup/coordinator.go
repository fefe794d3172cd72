// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package cleanup coordinates storage reclamation. Callers register named
// cleanup actions; a run executes them in registration order, isolates
// failures per action, and re-evaluates quota enforcement afterwards so a
// successful purge lifts an active block without waiting for the next check.
package cleanup

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"

	"github.com/renderhaus/storage-sentinel/app/domain/enforcer"
	"github.com/renderhaus/storage-sentinel/app/domain/usage"
	"github.com/renderhaus/storage-sentinel/app/instr"
	"github.com/renderhaus/storage-sentinel/app/lock"
	"github.com/renderhaus/storage-sentinel/app/types"
)

var (
	cleanupStatsOnce sync.Once

	metricCleanupRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_cleanup_runs_total",
			Help: "Count of cleanup runs, labelled by dry-run mode.",
		},
		[]string{"dry_run"},
	)
	metricCleanupItems = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_cleanup_items_total",
			Help: "Count of items removed by cleanup actions.",
		},
	)
	metricCleanupBytes = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "storage_cleanup_bytes_freed_total",
			Help: "Bytes reclaimed by cleanup actions.",
		},
	)
)

func registerMetrics() {
	cleanupStatsOnce.Do(func() {
		prometheus.MustRegister(
			metricCleanupRuns,
			metricCleanupItems,
			metricCleanupBytes,
		)
	})
}

// ActionFunc performs one reclamation task. In dry-run mode it must report
// what it would remove without touching anything.
type ActionFunc func(ctx context.Context, dryRun bool) (*ActionResult, error)

// ActionResult is the outcome of a single cleanup action.
type ActionResult struct {
	Name         string        `json:"name"`
	ItemsCleaned int           `json:"items_cleaned"`
	BytesFreed   int64         `json:"bytes_freed"`
	Success      bool          `json:"success"`
	ErrorMessage string        `json:"error_message,omitempty"`
	Elapsed      time.Duration `json:"elapsed"`
}

// Summary aggregates one cleanup run. Skipped means another process held the
// cleanup lock and no action ran.
type Summary struct {
	DryRun          bool                  `json:"dry_run"`
	Skipped         bool                  `json:"skipped,omitempty"`
	StartedAt       time.Time             `json:"started_at"`
	Elapsed         time.Duration         `json:"elapsed"`
	Results         []*ActionResult       `json:"results"`
	TotalItems      int                   `json:"total_items"`
	TotalBytesFreed int64                 `json:"total_bytes_freed"`
	UsageBefore     *types.StorageMetrics `json:"usage_before,omitempty"`
	UsageAfter      *types.StorageMetrics `json:"usage_after,omitempty"`
	CheckResult     types.CheckResult     `json:"check_result"`
}

// PreHook runs before any action. PostHook runs after all actions with the
// completed summary. Hooks observe; they cannot veto a run.
type (
	PreHook  func(ctx context.Context)
	PostHook func(ctx context.Context, summary *Summary)
)

type registeredAction struct {
	name string
	fn   ActionFunc
}

// Coordinator owns the ordered action registry and drives runs.
type Coordinator struct {
	calc    *usage.Calculator
	enf     *enforcer.Enforcer
	clock   types.TimeProvider
	lockDir string

	mu      sync.Mutex
	actions []registeredAction
	pre     []PreHook
	post    []PostHook
}

type CoordinatorOpt func(*Coordinator)

// WithLockDir guards real runs with a cross-process file lock under dir. A
// run that finds the lock held is skipped rather than queued.
func WithLockDir(dir string) CoordinatorOpt {
	return func(c *Coordinator) { c.lockDir = dir }
}

func New(calc *usage.Calculator, enf *enforcer.Enforcer, clock types.TimeProvider, opts ...CoordinatorOpt) *Coordinator {
	registerMetrics()
	c := &Coordinator{calc: calc, enf: enf, clock: clock}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Register appends a named action. Actions run in registration order.
func (c *Coordinator) Register(name string, fn ActionFunc) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.actions = append(c.actions, registeredAction{name: name, fn: fn})
}

func (c *Coordinator) RegisterPre(hook PreHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pre = append(c.pre, hook)
}

func (c *Coordinator) RegisterPost(hook PostHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.post = append(c.post, hook)
}

// Run executes all registered actions. A failing action is recorded in its
// result and never aborts the remaining actions. After a real (non dry-run)
// run the usage cache is invalidated and enforcement re-evaluated.
func (c *Coordinator) Run(ctx context.Context, dryRun bool) *Summary {
	c.mu.Lock()
	actions := make([]registeredAction, len(c.actions))
	copy(actions, c.actions)
	pre := make([]PreHook, len(c.pre))
	copy(pre, c.pre)
	post := make([]PostHook, len(c.post))
	copy(post, c.post)
	c.mu.Unlock()

	summary := &Summary{
		DryRun:      dryRun,
		StartedAt:   c.clock.GetCurrentTime(),
		CheckResult: types.CheckError,
	}
	start := time.Now()
	metricCleanupRuns.WithLabelValues(boolLabel(dryRun)).Inc()

	if before, err := c.calc.GetMetrics(ctx); err == nil {
		summary.UsageBefore = before
	}

	for _, hook := range pre {
		hook(ctx)
	}

	runActions := func() error {
		for _, action := range actions {
			summary.Results = append(summary.Results, c.runAction(ctx, action, dryRun))
		}
		return nil
	}

	_ = instr.RunSpan(ctx, "cleanup_Run", func(ctx context.Context) error {
		// dry runs touch nothing so they skip the cross-process lock
		if dryRun || c.lockDir == "" {
			return runActions()
		}
		acquired, err := lock.TryWithDirLock(c.lockDir, runActions)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("failed to acquire cleanup lock")
			summary.Skipped = true
			return err
		}
		if !acquired {
			log.Ctx(ctx).Info().Msg("cleanup already running in another process, skipping")
			summary.Skipped = true
		}
		return nil
	})

	for _, result := range summary.Results {
		summary.TotalItems += result.ItemsCleaned
		summary.TotalBytesFreed += result.BytesFreed
	}

	if !dryRun && !summary.Skipped {
		metricCleanupItems.Add(float64(summary.TotalItems))
		metricCleanupBytes.Add(float64(summary.TotalBytesFreed))

		c.calc.InvalidateCache()
		if after, err := c.calc.GetMetrics(ctx); err == nil {
			summary.UsageAfter = after
		}
		result, err := c.enf.Check(ctx)
		if err != nil {
			log.Ctx(ctx).Error().Err(err).Msg("post-cleanup enforcement check failed")
		}
		summary.CheckResult = result
	}

	summary.Elapsed = time.Since(start)

	for _, hook := range post {
		hook(ctx, summary)
	}

	log.Ctx(ctx).Info().
		Bool("dry_run", dryRun).
		Int("actions", len(summary.Results)).
		Int("items_cleaned", summary.TotalItems).
		Int64("bytes_freed", summary.TotalBytesFreed).
		Dur("elapsed", summary.Elapsed).
		Msg("cleanup run complete")
	return summary
}

func (c *Coordinator) runAction(ctx context.Context, action registeredAction, dryRun bool) *ActionResult {
	start := time.Now()
	result, err := action.fn(ctx, dryRun)
	if err != nil {
		log.Ctx(ctx).Error().Err(err).Str("action", action.name).Msg("cleanup action failed")
		result = &ActionResult{ErrorMessage: err.Error()}
	} else {
		if result == nil {
			result = &ActionResult{}
		}
		result.Success = true
	}
	result.Name = action.name
	result.Elapsed = time.Since(start)
	return result
}

func boolLabel(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// PurgeOlderThan builds an action that removes regular files under dir whose
// modification time is older than maxAge. Subdirectories are traversed but
// never removed themselves.
func PurgeOlderThan(dir string, maxAge time.Duration, clock types.TimeProvider) ActionFunc {
	return func(ctx context.Context, dryRun bool) (*ActionResult, error) {
		cutoff := clock.GetCurrentTime().Add(-maxAge)
		result := &ActionResult{}

		err := filepath.WalkDir(dir, func(path string, entry fs.DirEntry, err error) error {
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !entry.Type().IsRegular() {
				return nil
			}
			info, err := entry.Info()
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) {
					return nil
				}
				return err
			}
			if !info.ModTime().Before(cutoff) {
				return nil
			}
			if !dryRun {
				if err := os.Remove(path); err != nil {
					log.Ctx(ctx).Warn().Err(err).Str("file", path).Msg("failed to purge file")
					return nil
				}
			}
			result.ItemsCleaned++
			result.BytesFreed += info.Size()
			return nil
		})
		if err != nil {
			return nil, errors.Wrapf(err, "purging files older than %s under %s", maxAge, dir)
		}
		return result, nil
	}
}
