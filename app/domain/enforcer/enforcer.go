// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package enforcer answers "may the protected operation start right now?".
//
// The blocking state lives in the shared key-value store so every process
// sees the same answer. The guarantee is eventual: there is no background
// poller, so a stale blocking state is corrected by the first check that runs
// after usage drops, not instantaneously everywhere.
package enforcer

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"

	"github.com/renderhaus/storage-sentinel/app/config"
	"github.com/renderhaus/storage-sentinel/app/domain/usage"
	"github.com/renderhaus/storage-sentinel/app/instr"
	"github.com/renderhaus/storage-sentinel/app/store"
	"github.com/renderhaus/storage-sentinel/app/types"
)

// BlockReasonLimitExceeded is the reason recorded when a check writes the
// blocking state because usage crossed the quota.
const BlockReasonLimitExceeded = "Storage limit exceeded"

// Enforcer coordinates the usage calculator, the shared state store and the
// override authority. Safe for concurrent use within a process; cross-process
// writes are whole-snapshot overwrites or deletes, last writer wins.
type Enforcer struct {
	settings  *config.Settings
	calc      *usage.Calculator
	kv        types.KVStore
	overrides types.OverrideStore
	clock     types.TimeProvider

	// serializes the read-modify-write statistics round-trip in-process;
	// the store offers no atomic increment in this design
	statsMu sync.Mutex
}

// New constructs an Enforcer with all collaborators injected.
func New(settings *config.Settings, calc *usage.Calculator, kv types.KVStore, overrides types.OverrideStore, clock types.TimeProvider) *Enforcer {
	registerMetrics()
	return &Enforcer{
		settings:  settings,
		calc:      calc,
		kv:        kv,
		overrides: overrides,
		clock:     clock,
	}
}

// Check runs the pre-operation state machine. A CheckError result always
// carries a non-nil error wrapping ErrStorageCheck; callers must fail closed
// on it. An unreadable blocking state is a CheckError, while statistics
// persistence is best-effort and never fails the check.
func (e *Enforcer) Check(ctx context.Context) (types.CheckResult, error) {
	if !e.settings.MonitoringEnabled() {
		return types.Allowed, nil
	}

	result := types.CheckError
	err := instr.RunSpan(ctx, "enforcer_Check", func(ctx context.Context) error {
		var innerErr error
		result, innerErr = e.check(ctx)
		return innerErr
	})

	metricChecksTotal.WithLabelValues(result.String()).Inc()
	return result, err
}

func (e *Enforcer) check(ctx context.Context) (types.CheckResult, error) {
	e.bumpStats(ctx, func(s *types.EnforcementStatistics) {
		s.TotalChecks++
	})

	if _, err := e.overrides.CleanupExpired(ctx); err != nil {
		// purging is opportunistic; expiry is still enforced by time
		// comparison below
		log.Ctx(ctx).Warn().Err(err).Msg("override cleanup failed")
	}

	metrics, err := e.calc.GetMetrics(ctx)
	if err != nil {
		return types.CheckError, errors.Wrapf(types.ErrStorageCheck, "usage unavailable: %v", err)
	}

	if metrics.LimitExceeded {
		return e.handleLimitExceeded(ctx, metrics), nil
	}

	if err := e.autoUnblock(ctx); err != nil {
		return types.CheckError, errors.Wrapf(types.ErrStorageCheck, "blocking state unreadable: %v", err)
	}

	if metrics.WarningExceeded {
		log.Ctx(ctx).Warn().
			Float64("usagePercent", metrics.UsagePercent).
			Float64("limitGB", metrics.LimitGB).
			Msg("storage usage above warning threshold")
	}
	return types.Allowed, nil
}

func (e *Enforcer) handleLimitExceeded(ctx context.Context, metrics *types.StorageMetrics) types.CheckResult {
	overrideExpired := false
	row, err := e.overrides.ActiveOverride(ctx)
	switch {
	case err == nil && !row.Expired(e.clock.GetCurrentTime()):
		e.bumpStats(ctx, func(s *types.EnforcementStatistics) {
			s.OverrideBypasses++
		})
		metricOverrideBypassesTotal.WithLabelValues().Inc()
		log.Ctx(ctx).Info().
			Str("overrideId", row.ID).
			Float64("usagePercent", metrics.UsagePercent).
			Msg("limit exceeded but override active, operation allowed")
		return types.AllowedOverrideActive
	case err == nil:
		// a row survived the lazy cleanup but its expiry has passed
		overrideExpired = true
	case !errors.Is(err, types.ErrNotFound):
		// an unanswerable override lookup must not unblock an exceeded
		// quota, so fall through to blocking
		log.Ctx(ctx).Warn().Err(err).Msg("override lookup failed, blocking")
	}

	if err := e.writeBlockingState(ctx, BlockReasonLimitExceeded, metrics); err != nil {
		log.Ctx(ctx).Error().Err(err).Msg("failed to persist blocking state")
	}
	e.bumpStats(ctx, func(s *types.EnforcementStatistics) {
		s.BlocksEnforced++
		s.LimitExceededCount++
		now := e.clock.GetCurrentTime()
		s.LastBlockTime = &now
	})
	metricBlocksEnforcedTotal.WithLabelValues().Inc()
	metricBlocked.WithLabelValues().Set(1)

	log.Ctx(ctx).Warn().
		Float64("usageGB", metrics.TotalGB).
		Float64("limitGB", metrics.LimitGB).
		Bool("overrideExpired", overrideExpired).
		Msg("storage limit exceeded, operation blocked")

	if overrideExpired {
		return types.BlockedOverrideExpired
	}
	return types.BlockedLimitExceeded
}

// autoUnblock lifts a persisted blocking state once usage is back under the
// limit. The read must succeed: an unreadable state could be hiding a manual
// block, so the caller fails closed on the returned error. Clearing a stale
// state stays best-effort and is retried by the next check.
func (e *Enforcer) autoUnblock(ctx context.Context) error {
	state, found, err := e.readBlockingState(ctx)
	if err != nil {
		return err
	}
	if !found || !state.Blocked {
		metricBlocked.WithLabelValues().Set(0)
		return nil
	}

	if err := e.kv.Delete(ctx, store.BlockingStateKey); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("failed to clear blocking state")
		return nil
	}
	e.bumpStats(ctx, func(s *types.EnforcementStatistics) {
		s.AutomaticUnblocks++
		now := e.clock.GetCurrentTime()
		s.LastUnblockTime = &now
	})
	metricAutomaticUnblocksTotal.WithLabelValues().Inc()
	metricBlocked.WithLabelValues().Set(0)
	log.Ctx(ctx).Info().Str("previousReason", state.Reason).Msg("usage back under limit, blocking state cleared")
	return nil
}

// Block manually persists a blocking state, independent of the metrics check.
func (e *Enforcer) Block(ctx context.Context, reason string) error {
	metrics, err := e.calc.GetMetrics(ctx)
	if err != nil {
		// a manual block must succeed even when the calculator cannot;
		// record the block with an empty snapshot
		log.Ctx(ctx).Warn().Err(err).Msg("blocking without usage snapshot")
		metrics = &types.StorageMetrics{
			LimitGB:      e.settings.MaxStorageGB(),
			CalculatedAt: e.clock.GetCurrentTime(),
		}
	}

	if err := e.writeBlockingState(ctx, reason, metrics); err != nil {
		return err
	}
	e.bumpStats(ctx, func(s *types.EnforcementStatistics) {
		s.BlocksEnforced++
		now := e.clock.GetCurrentTime()
		s.LastBlockTime = &now
	})
	metricBlocksEnforcedTotal.WithLabelValues().Inc()
	metricBlocked.WithLabelValues().Set(1)
	log.Ctx(ctx).Info().Str("reason", reason).Msg("operation manually blocked")
	return nil
}

// Unblock manually clears the blocking state.
func (e *Enforcer) Unblock(ctx context.Context) error {
	if err := e.kv.Delete(ctx, store.BlockingStateKey); err != nil {
		return err
	}
	e.bumpStats(ctx, func(s *types.EnforcementStatistics) {
		now := e.clock.GetCurrentTime()
		s.LastUnblockTime = &now
	})
	metricBlocked.WithLabelValues().Set(0)
	log.Ctx(ctx).Info().Msg("operation manually unblocked")
	return nil
}

// IsBlocked reports whether a blocking state is persisted. On a store read
// failure it reports blocked (fail-closed) along with the error.
func (e *Enforcer) IsBlocked(ctx context.Context) (bool, error) {
	state, found, err := e.readBlockingState(ctx)
	if err != nil {
		return true, err
	}
	return found && state.Blocked, nil
}

// BlockReason returns the persisted reason, or empty when not blocked.
func (e *Enforcer) BlockReason(ctx context.Context) (string, error) {
	state, found, err := e.readBlockingState(ctx)
	if err != nil {
		return "", err
	}
	if !found || !state.Blocked {
		return "", nil
	}
	return state.Reason, nil
}

// BlockingState returns the full persisted state for observability, or nil
// when none exists.
func (e *Enforcer) BlockingState(ctx context.Context) (*types.BlockingState, error) {
	state, found, err := e.readBlockingState(ctx)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}
	return state, nil
}

// Statistics reads the persisted counters. Absent counters read as zero.
func (e *Enforcer) Statistics(ctx context.Context) (*types.EnforcementStatistics, error) {
	raw, found, err := e.kv.Get(ctx, store.EnforcementStatsKey)
	if err != nil {
		return nil, err
	}
	stats := &types.EnforcementStatistics{}
	if !found {
		return stats, nil
	}
	if err := json.Unmarshal([]byte(raw), stats); err != nil {
		return nil, errors.Wrap(err, "corrupt enforcement statistics")
	}
	return stats, nil
}

func (e *Enforcer) readBlockingState(ctx context.Context) (*types.BlockingState, bool, error) {
	raw, found, err := e.kv.Get(ctx, store.BlockingStateKey)
	if err != nil {
		return nil, false, err
	}
	if !found {
		return nil, false, nil
	}
	state := &types.BlockingState{}
	if err := json.Unmarshal([]byte(raw), state); err != nil {
		return nil, false, errors.Wrap(err, "corrupt blocking state")
	}
	return state, true, nil
}

// writeBlockingState overwrites the shared state with a whole snapshot.
// Partial updates are never issued, so readers cannot observe a torn state.
func (e *Enforcer) writeBlockingState(ctx context.Context, reason string, metrics *types.StorageMetrics) error {
	now := e.clock.GetCurrentTime()
	state := &types.BlockingState{
		Blocked:      true,
		Reason:       reason,
		BlockedAt:    &now,
		StorageGB:    metrics.TotalGB,
		LimitGB:      metrics.LimitGB,
		UsagePercent: metrics.UsagePercent,
		LastChecked:  now,
	}
	data, err := json.Marshal(state)
	if err != nil {
		return errors.Wrap(err, "failed to encode blocking state")
	}
	return e.kv.Set(ctx, store.BlockingStateKey, string(data))
}

// bumpStats runs one best-effort read-modify-write round-trip on the shared
// counters. Failures are logged and swallowed: observability must never block
// real work.
func (e *Enforcer) bumpStats(ctx context.Context, mutate func(*types.EnforcementStatistics)) {
	e.statsMu.Lock()
	defer e.statsMu.Unlock()

	stats := &types.EnforcementStatistics{}
	raw, found, err := e.kv.Get(ctx, store.EnforcementStatsKey)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("statistics read failed, increment dropped")
		return
	}
	if found {
		if err := json.Unmarshal([]byte(raw), stats); err != nil {
			log.Ctx(ctx).Warn().Err(err).Msg("corrupt statistics overwritten")
			stats = &types.EnforcementStatistics{}
		}
	}

	mutate(stats)

	data, err := json.Marshal(stats)
	if err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("statistics encode failed")
		return
	}
	if err := e.kv.Set(ctx, store.EnforcementStatsKey, string(data)); err != nil {
		log.Ctx(ctx).Warn().Err(err).Msg("statistics write failed, increment dropped")
	}
}
