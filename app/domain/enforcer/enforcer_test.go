// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package enforcer_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/domain/enforcer"
	"github.com/renderhaus/storage-sentinel/app/domain/usage"
	"github.com/renderhaus/storage-sentinel/app/store"
	"github.com/renderhaus/storage-sentinel/app/storage/repo"
	"github.com/renderhaus/storage-sentinel/app/storage/sqlite"
	"github.com/renderhaus/storage-sentinel/app/types"
	"github.com/renderhaus/storage-sentinel/app/types/mocks"
)

// kilobyte quota so plain test files can cross it
const limit1KB = 1024.0 / types.BytesPerGB

type fixture struct {
	dir       string
	cfg       *config.Settings
	clock     *mocks.MockClock
	kv        types.KVStore
	overrides types.OverrideStore
	calc      *usage.Calculator
	enf       *enforcer.Enforcer
}

type fixtureOpt func(*fixture)

func withKV(kv types.KVStore) fixtureOpt {
	return func(f *fixture) { f.kv = kv }
}

// wrapOverrides decorates the fixture's real override store.
func wrapOverrides(wrap func(types.OverrideStore) types.OverrideStore) fixtureOpt {
	return func(f *fixture) { f.overrides = wrap(f.overrides) }
}

func withCalcOpts(opts ...usage.CalculatorOpt) fixtureOpt {
	return func(f *fixture) {
		calc, err := usage.NewCalculator(f.cfg, f.clock, opts...)
		if err != nil {
			panic(err)
		}
		f.calc = calc
	}
}

func newFixture(t *testing.T, limitGB float64, opts ...fixtureOpt) *fixture {
	t.Helper()

	f := &fixture{
		dir:   t.TempDir(),
		clock: mocks.NewMockClock(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)),
		kv:    store.NewMemoryStore(),
	}
	f.cfg = &config.Settings{
		Storage: config.Storage{
			MaxStorageGB:            limitGB,
			WarningThresholdPercent: 80,
			DataDir:                 f.dir,
			CacheTTL:                time.Minute,
		},
	}
	f.cfg.Validate()

	db, err := sqlite.NewSQLiteDriver(sqlite.InMemoryDSN)
	require.NoError(t, err)
	f.overrides, err = repo.NewOverrideStore(f.clock, db)
	require.NoError(t, err)

	f.calc, err = usage.NewCalculator(f.cfg, f.clock)
	require.NoError(t, err)

	for _, opt := range opts {
		opt(f)
	}

	f.enf = enforcer.New(f.cfg, f.calc, f.kv, f.overrides, f.clock)
	return f
}

func (f *fixture) write(t *testing.T, name string, size int) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(f.dir, name), make([]byte, size), 0o644))
}

func (f *fixture) remove(t *testing.T, name string) {
	t.Helper()
	require.NoError(t, os.Remove(filepath.Join(f.dir, name)))
}

func (f *fixture) disableMonitoring() {
	disabled := false
	f.cfg.Storage.MonitoringEnabled = &disabled
}

func TestCheck_AllowedUnderLimit(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "small.png", 100)
	ctx := context.Background()

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)
	assert.True(t, result.Permitted())

	blocked, err := f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestCheck_BlocksWhenLimitExceeded(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "big.png", 2048)
	ctx := context.Background()

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.BlockedLimitExceeded, result)
	assert.False(t, result.Permitted())

	blocked, err := f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)

	reason, err := f.enf.BlockReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, enforcer.BlockReasonLimitExceeded, reason)

	state, err := f.enf.BlockingState(ctx)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.Blocked)
	assert.InDelta(t, 200.0, state.UsagePercent, 1e-6)
	assert.NotNil(t, state.BlockedAt)

	stats, err := f.enf.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.TotalChecks)
	assert.Equal(t, uint64(1), stats.BlocksEnforced)
	assert.Equal(t, uint64(1), stats.LimitExceededCount)
	assert.NotNil(t, stats.LastBlockTime)
}

func TestCheck_AutomaticUnblockAfterCleanup(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "big.png", 2048)
	ctx := context.Background()

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, types.BlockedLimitExceeded, result)

	// usage drops, but the blocking state lingers until the next check
	f.remove(t, "big.png")
	f.write(t, "small.png", 100)
	blocked, err := f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)

	f.calc.InvalidateCache()
	result, err = f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)

	blocked, err = f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)

	stats, err := f.enf.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.AutomaticUnblocks)
	assert.NotNil(t, stats.LastUnblockTime)
}

func TestCheck_OverrideBypassesExceededLimit(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "big.png", 2048)
	ctx := context.Background()

	_, err := f.overrides.Activate(ctx, 2, "admin-1", "urgent batch")
	require.NoError(t, err)

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.AllowedOverrideActive, result)
	assert.True(t, result.Permitted())

	// no blocking state written while the override holds
	blocked, err := f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)

	stats, err := f.enf.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.OverrideBypasses)
	assert.Zero(t, stats.BlocksEnforced)
}

func TestCheck_OverrideExpiryRestoresBlocking(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "big.png", 2048)
	ctx := context.Background()

	_, err := f.overrides.Activate(ctx, 1, "admin-1", "short grant")
	require.NoError(t, err)

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	require.Equal(t, types.AllowedOverrideActive, result)

	f.clock.AdvanceTime(2 * time.Hour)

	result, err = f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.BlockedLimitExceeded, result)

	blocked, err := f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)
}

// cleanupFailingOverrides delegates to a real store but refuses to purge, so
// expired rows stay visible to the enforcer.
type cleanupFailingOverrides struct {
	types.OverrideStore
}

func (c *cleanupFailingOverrides) CleanupExpired(context.Context) (int64, error) {
	return 0, errors.New("database busy")
}

func TestCheck_ExpiredUnpurgedOverrideReportsDistinctResult(t *testing.T) {
	f := newFixture(t, limit1KB, wrapOverrides(func(inner types.OverrideStore) types.OverrideStore {
		return &cleanupFailingOverrides{OverrideStore: inner}
	}))
	f.write(t, "big.png", 2048)
	ctx := context.Background()

	_, err := f.overrides.Activate(ctx, 1, "admin-1", "short grant")
	require.NoError(t, err)

	f.clock.AdvanceTime(2 * time.Hour)

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.BlockedOverrideExpired, result)
	assert.False(t, result.Permitted())
}

func TestCheck_WarningThresholdIsInformational(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "large.png", 870) // ~85% of 1024
	ctx := context.Background()

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)

	m, err := f.calc.GetMetrics(ctx)
	require.NoError(t, err)
	assert.True(t, m.WarningExceeded)
	assert.False(t, m.LimitExceeded)
}

func TestCheck_CalculatorFailureFailsClosed(t *testing.T) {
	f := newFixture(t, limit1KB, withCalcOpts(
		usage.WithTraversal(func(context.Context, string) (uint64, error) {
			return 0, errors.New("io error")
		})))

	result, err := f.enf.Check(context.Background())
	assert.Equal(t, types.CheckError, result)
	assert.ErrorIs(t, err, types.ErrStorageCheck)
	assert.False(t, result.Permitted())
}

// failingKV simulates an unreachable shared store.
type failingKV struct{}

func (failingKV) Get(context.Context, string) (string, bool, error) {
	return "", false, types.ErrStateStore
}
func (failingKV) Set(context.Context, string, string) error { return types.ErrStateStore }
func (failingKV) Delete(context.Context, string) error      { return types.ErrStateStore }
func (failingKV) Ping(context.Context) error                { return types.ErrStateStore }

func TestIsBlocked_FailsClosedOnStoreError(t *testing.T) {
	f := newFixture(t, limit1KB, withKV(failingKV{}))

	blocked, err := f.enf.IsBlocked(context.Background())
	assert.True(t, blocked)
	assert.ErrorIs(t, err, types.ErrStateStore)
}

// keyFailingKV delegates to a real store but errors every operation that
// touches the given key.
type keyFailingKV struct {
	types.KVStore
	key string
}

func (k *keyFailingKV) Get(ctx context.Context, key string) (string, bool, error) {
	if key == k.key {
		return "", false, types.ErrStateStore
	}
	return k.KVStore.Get(ctx, key)
}

func (k *keyFailingKV) Set(ctx context.Context, key, value string) error {
	if key == k.key {
		return types.ErrStateStore
	}
	return k.KVStore.Set(ctx, key, value)
}

func TestCheck_StatisticsFailureDoesNotBlockCheck(t *testing.T) {
	f := newFixture(t, limit1KB, withKV(&keyFailingKV{
		KVStore: store.NewMemoryStore(),
		key:     store.EnforcementStatsKey,
	}))
	f.write(t, "small.png", 100)

	// counters cannot be persisted but the check still answers
	result, err := f.enf.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)
}

// An unreadable blocking state could be hiding a manual block, so a check
// under the limit must error rather than answer allowed.
func TestCheck_UnreadableBlockingStateFailsClosed(t *testing.T) {
	f := newFixture(t, limit1KB, withKV(&keyFailingKV{
		KVStore: store.NewMemoryStore(),
		key:     store.BlockingStateKey,
	}))
	f.write(t, "small.png", 100)

	result, err := f.enf.Check(context.Background())
	assert.Equal(t, types.CheckError, result)
	assert.ErrorIs(t, err, types.ErrStorageCheck)
	assert.False(t, result.Permitted())
}

func TestCheck_MonitoringDisabledShortCircuits(t *testing.T) {
	f := newFixture(t, limit1KB,
		withKV(failingKV{}),
		withCalcOpts(usage.WithTraversal(func(context.Context, string) (uint64, error) {
			return 0, errors.New("must not be called")
		})))
	f.disableMonitoring()

	result, err := f.enf.Check(context.Background())
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)
}

func TestManualBlockAndUnblock(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "small.png", 100)
	ctx := context.Background()

	require.NoError(t, f.enf.Block(ctx, "maintenance window"))

	blocked, err := f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.True(t, blocked)

	reason, err := f.enf.BlockReason(ctx)
	require.NoError(t, err)
	assert.Equal(t, "maintenance window", reason)

	require.NoError(t, f.enf.Unblock(ctx))

	blocked, err = f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)

	stats, err := f.enf.Statistics(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(1), stats.BlocksEnforced)
	assert.NotNil(t, stats.LastUnblockTime)
}

// A manual block persists even while usage is under the limit, until the next
// check observes the under-limit state and lifts it.
func TestManualBlockLiftedByNextCheck(t *testing.T) {
	f := newFixture(t, limit1KB)
	f.write(t, "small.png", 100)
	ctx := context.Background()

	require.NoError(t, f.enf.Block(ctx, "operator hold"))

	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)

	blocked, err := f.enf.IsBlocked(ctx)
	require.NoError(t, err)
	assert.False(t, blocked)
}

func TestStatistics_AbsentReadsAsZero(t *testing.T) {
	f := newFixture(t, limit1KB)

	stats, err := f.enf.Statistics(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.TotalChecks)
	assert.Nil(t, stats.LastBlockTime)
}

func TestCheck_EndToEndScenario(t *testing.T) {
	// scaled-down version of the 1.0 GB / 80% scenario: quota is 1 KB
	f := newFixture(t, limit1KB)
	ctx := context.Background()

	// 1.5x the quota
	f.write(t, "batch.png", 1536)
	result, err := f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.BlockedLimitExceeded, result)

	// shrink to 0.5x and invalidate
	f.remove(t, "batch.png")
	f.write(t, "half.png", 512)
	f.calc.InvalidateCache()
	result, err = f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)

	// 0.85x: allowed, warning raised
	f.remove(t, "half.png")
	f.write(t, "most.png", 870)
	f.calc.InvalidateCache()
	result, err = f.enf.Check(ctx)
	require.NoError(t, err)
	assert.Equal(t, types.Allowed, result)

	m, err := f.calc.GetMetrics(ctx)
	require.NoError(t, err)
	assert.True(t, m.WarningExceeded)
}
