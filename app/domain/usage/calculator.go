// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package usage computes the total size of the monitored directory and caches
// the result in a single slot with a fixed TTL. Concurrent cache misses are
// collapsed into one traversal via singleflight.
package usage

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/types"
)

const directoryMode = 0o755

var (
	usageStatsOnce sync.Once

	metricUsageBytes = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_usage_bytes",
			Help: "Total size (bytes) of the monitored directory.",
		},
		[]string{},
	)

	metricUsagePercent = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_usage_percent",
			Help: "Usage of the monitored directory as a percentage of the quota.",
		},
		[]string{},
	)

	metricLimitGB = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "storage_limit_gb",
			Help: "Configured storage quota in GB.",
		},
		[]string{},
	)
)

// TraverseFunc sums the size of all regular files under root.
type TraverseFunc func(ctx context.Context, root string) (uint64, error)

type CalculatorOpt = func(c *Calculator) error

// WithTraversal overrides the filesystem traversal, used by tests to observe
// or fail recomputation.
func WithTraversal(fn TraverseFunc) CalculatorOpt {
	return func(c *Calculator) error {
		c.traverse = fn
		return nil
	}
}

// Calculator owns the single cache slot. Construct one per process and share
// it; never a hidden package-level instance.
type Calculator struct {
	settings *config.Settings
	clock    types.TimeProvider
	traverse TraverseFunc

	mu     sync.RWMutex
	cached *types.StorageMetrics

	flight singleflight.Group
}

// CacheInfo describes the state of the cache slot for observability.
type CacheInfo struct {
	HasCache         bool    `json:"has_cache"`
	Valid            bool    `json:"valid"`
	AgeSeconds       float64 `json:"age_seconds"`
	ExpiresInSeconds float64 `json:"expires_in_seconds"`
}

// NewCalculator creates a Calculator for the configured data directory.
func NewCalculator(settings *config.Settings, clock types.TimeProvider, opts ...CalculatorOpt) (*Calculator, error) {
	usageStatsOnce.Do(func() {
		prometheus.MustRegister(metricUsageBytes, metricUsagePercent, metricLimitGB)
	})

	c := &Calculator{
		settings: settings,
		clock:    clock,
		traverse: defaultTraversal,
	}
	for _, opt := range opts {
		if err := opt(c); err != nil {
			return nil, errors.Wrap(err, "failed to apply the calculator option")
		}
	}
	return c, nil
}

// GetMetrics returns the cached snapshot while it is fresh, otherwise
// recomputes. All callers arriving during a miss share one traversal and
// receive the same snapshot.
func (c *Calculator) GetMetrics(ctx context.Context) (*types.StorageMetrics, error) {
	if m := c.freshCache(); m != nil {
		return m, nil
	}

	v, err, _ := c.flight.Do("metrics", func() (interface{}, error) {
		// another caller in this flight group may have already refreshed
		if m := c.freshCache(); m != nil {
			return m, nil
		}
		return c.recompute(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(*types.StorageMetrics), nil
}

// InvalidateCache drops the cache slot so the next GetMetrics recomputes.
func (c *Calculator) InvalidateCache() {
	c.mu.Lock()
	c.cached = nil
	c.mu.Unlock()
	log.Debug().Msg("usage cache invalidated")
}

// GetCacheInfo reports the age and validity of the cache slot.
func (c *Calculator) GetCacheInfo() CacheInfo {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached == nil {
		return CacheInfo{}
	}

	ttl := c.settings.CacheTTL()
	age := c.clock.GetCurrentTime().Sub(c.cached.CalculatedAt)
	info := CacheInfo{
		HasCache:   true,
		Valid:      age < ttl,
		AgeSeconds: age.Seconds(),
	}
	if info.Valid {
		info.ExpiresInSeconds = (ttl - age).Seconds()
	}
	return info
}

func (c *Calculator) freshCache() *types.StorageMetrics {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.cached == nil {
		return nil
	}
	if c.clock.GetCurrentTime().Sub(c.cached.CalculatedAt) >= c.settings.CacheTTL() {
		return nil
	}
	return c.cached
}

func (c *Calculator) recompute(ctx context.Context) (*types.StorageMetrics, error) {
	root := c.settings.DataDir()
	total, err := c.traverse(ctx, root)
	if err != nil {
		return nil, errors.Wrapf(types.ErrCalculation, "traverse %s: %v", root, err)
	}

	metrics := types.NewStorageMetrics(
		total,
		c.settings.MaxStorageGB(),
		c.settings.WarningThresholdPercent(),
		c.clock.GetCurrentTime(),
	)

	c.mu.Lock()
	c.cached = metrics
	c.mu.Unlock()

	metricUsageBytes.WithLabelValues().Set(float64(metrics.TotalBytes))
	metricUsagePercent.WithLabelValues().Set(metrics.UsagePercent)
	metricLimitGB.WithLabelValues().Set(metrics.LimitGB)

	log.Ctx(ctx).Debug().
		Uint64("totalBytes", metrics.TotalBytes).
		Float64("usagePercent", metrics.UsagePercent).
		Msg("storage usage recomputed")
	return metrics, nil
}

// defaultTraversal recursively sums regular file sizes under root. A missing
// root counts as zero bytes and is created. Files that vanish mid-walk are
// tolerated; any other traversal error propagates.
func defaultTraversal(_ context.Context, root string) (uint64, error) {
	if _, err := os.Stat(root); os.IsNotExist(err) {
		if err := os.MkdirAll(root, directoryMode); err != nil {
			return 0, err
		}
		return 0, nil
	}

	var total uint64
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		total += uint64(info.Size())
		return nil
	})
	if err != nil {
		return 0, err
	}
	return total, nil
}
