// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package usage_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/domain/usage"
	"github.com/renderhaus/storage-sentinel/app/types"
	"github.com/renderhaus/storage-sentinel/app/types/mocks"
)

func testSettings(dir string, limitGB float64) *config.Settings {
	cfg := &config.Settings{
		Storage: config.Storage{
			MaxStorageGB:            limitGB,
			WarningThresholdPercent: 80,
			DataDir:                 dir,
			CacheTTL:                time.Minute,
		},
	}
	cfg.Validate()
	return cfg
}

func writeFile(t *testing.T, dir, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), make([]byte, size), 0o644))
}

func TestCalculator_PercentageInvariant(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", 4096)
	writeFile(t, dir, "b.png", 1024)

	clock := mocks.NewMockClock(time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC))
	cfg := testSettings(dir, 1.0)
	calc, err := usage.NewCalculator(cfg, clock)
	require.NoError(t, err)

	m, err := calc.GetMetrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, uint64(5120), m.TotalBytes)
	assert.InDelta(t, m.TotalGB/m.LimitGB*100, m.UsagePercent, 1e-9)
	assert.False(t, m.LimitExceeded)
	assert.False(t, m.WarningExceeded)
	assert.Equal(t, clock.GetCurrentTime(), m.CalculatedAt)
}

func TestCalculator_NestedDirectories(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "renders", "2026")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	writeFile(t, dir, "top.png", 100)
	require.NoError(t, os.WriteFile(filepath.Join(sub, "deep.png"), make([]byte, 200), 0o644))

	clock := mocks.NewMockClock(time.Now().UTC())
	calc, err := usage.NewCalculator(testSettings(dir, 1.0), clock)
	require.NoError(t, err)

	m, err := calc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(300), m.TotalBytes)
}

func TestCalculator_MissingDirectoryCreatedAsEmpty(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "does", "not", "exist")

	clock := mocks.NewMockClock(time.Now().UTC())
	calc, err := usage.NewCalculator(testSettings(dir, 1.0), clock)
	require.NoError(t, err)

	m, err := calc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, m.TotalBytes)

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

func TestCalculator_CacheIdempotence(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "a.png", 1000)

	clock := mocks.NewMockClock(time.Now().UTC())
	var traversals atomic.Int64
	calc, err := usage.NewCalculator(testSettings(dir, 1.0), clock,
		usage.WithTraversal(func(_ context.Context, _ string) (uint64, error) {
			traversals.Add(1)
			return 1000, nil
		}))
	require.NoError(t, err)

	first, err := calc.GetMetrics(context.Background())
	require.NoError(t, err)
	second, err := calc.GetMetrics(context.Background())
	require.NoError(t, err)

	assert.Equal(t, int64(1), traversals.Load())
	assert.Equal(t, first, second)
}

func TestCalculator_InvalidateForcesRecompute(t *testing.T) {
	clock := mocks.NewMockClock(time.Now().UTC())
	var traversals atomic.Int64
	calc, err := usage.NewCalculator(testSettings(t.TempDir(), 1.0), clock,
		usage.WithTraversal(func(_ context.Context, _ string) (uint64, error) {
			return uint64(traversals.Add(1)), nil
		}))
	require.NoError(t, err)

	m, err := calc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(1), m.TotalBytes)

	calc.InvalidateCache()

	m, err = calc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(2), m.TotalBytes)
}

func TestCalculator_TTLExpiry(t *testing.T) {
	clock := mocks.NewMockClock(time.Now().UTC())
	var traversals atomic.Int64
	calc, err := usage.NewCalculator(testSettings(t.TempDir(), 1.0), clock,
		usage.WithTraversal(func(_ context.Context, _ string) (uint64, error) {
			traversals.Add(1)
			return 0, nil
		}))
	require.NoError(t, err)

	_, err = calc.GetMetrics(context.Background())
	require.NoError(t, err)

	clock.AdvanceTime(59 * time.Second)
	_, err = calc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(1), traversals.Load())

	clock.AdvanceTime(2 * time.Second)
	_, err = calc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(2), traversals.Load())
}

func TestCalculator_SingleFlight(t *testing.T) {
	clock := mocks.NewMockClock(time.Now().UTC())
	var traversals atomic.Int64
	calc, err := usage.NewCalculator(testSettings(t.TempDir(), 1.0), clock,
		usage.WithTraversal(func(_ context.Context, _ string) (uint64, error) {
			traversals.Add(1)
			time.Sleep(50 * time.Millisecond) // hold the flight open
			return 12345, nil
		}))
	require.NoError(t, err)

	const n = 16
	results := make([]*types.StorageMetrics, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		i := i
		wg.Add(1)
		go func() {
			defer wg.Done()
			m, err := calc.GetMetrics(context.Background())
			assert.NoError(t, err)
			results[i] = m
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), traversals.Load())
	for i := 1; i < n; i++ {
		assert.Equal(t, results[0], results[i])
	}
}

func TestCalculator_TraversalErrorWrapsCalculation(t *testing.T) {
	clock := mocks.NewMockClock(time.Now().UTC())
	calc, err := usage.NewCalculator(testSettings(t.TempDir(), 1.0), clock,
		usage.WithTraversal(func(_ context.Context, _ string) (uint64, error) {
			return 0, errors.New("permission denied")
		}))
	require.NoError(t, err)

	_, err = calc.GetMetrics(context.Background())
	assert.ErrorIs(t, err, types.ErrCalculation)

	// a failed recomputation leaves no cache behind
	assert.False(t, calc.GetCacheInfo().HasCache)
}

func TestCalculator_CacheInfo(t *testing.T) {
	clock := mocks.NewMockClock(time.Now().UTC())
	calc, err := usage.NewCalculator(testSettings(t.TempDir(), 1.0), clock)
	require.NoError(t, err)

	info := calc.GetCacheInfo()
	assert.False(t, info.HasCache)

	_, err = calc.GetMetrics(context.Background())
	require.NoError(t, err)

	clock.AdvanceTime(10 * time.Second)
	info = calc.GetCacheInfo()
	assert.True(t, info.HasCache)
	assert.True(t, info.Valid)
	assert.InDelta(t, 10.0, info.AgeSeconds, 0.01)
	assert.InDelta(t, 50.0, info.ExpiresInSeconds, 0.01)

	clock.AdvanceTime(time.Minute)
	info = calc.GetCacheInfo()
	assert.True(t, info.HasCache)
	assert.False(t, info.Valid)
}

func TestCalculator_LimitAndWarningFlags(t *testing.T) {
	// 1 KB quota so small files cross it
	limitGB := 1024.0 / types.BytesPerGB
	dir := t.TempDir()
	writeFile(t, dir, "big.png", 2048)

	clock := mocks.NewMockClock(time.Now().UTC())
	calc, err := usage.NewCalculator(testSettings(dir, limitGB), clock)
	require.NoError(t, err)

	m, err := calc.GetMetrics(context.Background())
	require.NoError(t, err)
	assert.True(t, m.LimitExceeded)
	assert.True(t, m.WarningExceeded)
	assert.InDelta(t, 200.0, m.UsagePercent, 1e-6)
}
