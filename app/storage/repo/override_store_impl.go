// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package repo implements the administrative override repository on top of the
// relational store. Expiry is lazy: rows are marked inactive when observed
// past their expiry, never by a background sweep.
package repo

import (
	"context"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"gorm.io/gorm"

	"github.com/renderhaus/storage-sentinel/app/storage/core"
	"github.com/renderhaus/storage-sentinel/app/storage/sqlite"
	"github.com/renderhaus/storage-sentinel/app/types"
)

const maxOverrideDurationHours = 24

var (
	overrideStatsOnce sync.Once

	overrideActivationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_override_activations_total",
			Help: "Total number of administrative override activations.",
		},
		[]string{},
	)

	overrideExpirationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "storage_override_expirations_total",
			Help: "Total number of overrides lazily marked expired.",
		},
		[]string{},
	)
)

// NewInMemoryOverrideStore creates an override repository backed by a shared
// in-memory SQLite database, used in tests and single-process deployments.
func NewInMemoryOverrideStore(clock types.TimeProvider) (types.OverrideStore, error) {
	db, err := sqlite.NewSQLiteDriver(sqlite.MemorySharedCached)
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	// Required for in-memory shared-cache concurrent access.
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)
	if _, err := sqlDB.Exec("PRAGMA busy_timeout = 5000;"); err != nil {
		return nil, err
	}

	return NewOverrideStore(clock, db)
}

// NewOverrideStore creates an override repository on the given database
// connection, migrating the schema if needed.
func NewOverrideStore(clock types.TimeProvider, db *gorm.DB) (types.OverrideStore, error) {
	overrideStatsOnce.Do(func() {
		prometheus.MustRegister(overrideActivationsTotal, overrideExpirationsTotal)
	})

	if err := db.AutoMigrate(&types.StorageOverride{}); err != nil {
		return nil, core.TranslateError(err)
	}

	return &overrideStoreImpl{clock: clock, db: db}, nil
}

type overrideStoreImpl struct {
	clock types.TimeProvider
	db    *gorm.DB
}

// Activate validates and persists a new override grant.
func (r *overrideStoreImpl) Activate(ctx context.Context, durationHours int, adminUserID, reason string) (*types.StorageOverride, error) {
	if durationHours <= 0 || durationHours > maxOverrideDurationHours {
		return nil, errors.Wrapf(types.ErrOverrideValidation,
			"duration must be between 1 and %d hours, got %d", maxOverrideDurationHours, durationHours)
	}
	if adminUserID == "" {
		return nil, errors.Wrap(types.ErrOverrideValidation, "admin user ID is required")
	}

	now := r.clock.GetCurrentTime()
	it := &types.StorageOverride{
		ID:          core.NewID(),
		AdminUserID: adminUserID,
		Reason:      reason,
		ActivatedAt: now,
		ExpiresAt:   now.Add(time.Duration(durationHours) * time.Hour),
		IsActive:    true,
	}

	if err := r.db.WithContext(ctx).Create(it).Error; err != nil {
		return nil, core.TranslateError(err)
	}

	overrideActivationsTotal.WithLabelValues().Inc()
	log.Ctx(ctx).Info().
		Str("overrideId", it.ID).
		Str("adminUserId", adminUserID).
		Time("expiresAt", it.ExpiresAt).
		Msg("Storage override activated")
	return it, nil
}

// IsOverrideActive reports whether an unexpired, unrevoked override exists.
func (r *overrideStoreImpl) IsOverrideActive(ctx context.Context) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).
		Model(&types.StorageOverride{}).
		Where("is_active = ? AND expires_at > ?", true, r.clock.GetCurrentTime()).
		Count(&count).Error
	if err != nil {
		return false, core.TranslateError(err)
	}
	return count > 0, nil
}

// ActiveOverride returns the most recently activated row still marked active.
func (r *overrideStoreImpl) ActiveOverride(ctx context.Context) (*types.StorageOverride, error) {
	it := &types.StorageOverride{}
	err := r.db.WithContext(ctx).
		Where("is_active = ?", true).
		Order("activated_at DESC").
		First(it).Error
	if err != nil {
		return nil, core.TranslateError(err)
	}
	return it, nil
}

// Deactivate revokes an override by ID.
func (r *overrideStoreImpl) Deactivate(ctx context.Context, id string) error {
	res := r.db.WithContext(ctx).
		Model(&types.StorageOverride{}).
		Where("id = ?", id).
		Update("is_active", false)
	if res.Error != nil {
		return core.TranslateError(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.ErrNotFound
	}
	log.Ctx(ctx).Info().Str("overrideId", id).Msg("Storage override revoked")
	return nil
}

// CleanupExpired marks lapsed rows inactive. Idempotent.
func (r *overrideStoreImpl) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Model(&types.StorageOverride{}).
		Where("is_active = ? AND expires_at <= ?", true, r.clock.GetCurrentTime()).
		Update("is_active", false)
	if res.Error != nil {
		return 0, core.TranslateError(res.Error)
	}
	if res.RowsAffected > 0 {
		overrideExpirationsTotal.WithLabelValues().Add(float64(res.RowsAffected))
		log.Ctx(ctx).Info().Int64("expired", res.RowsAffected).Msg("Expired storage overrides cleaned up")
	}
	return res.RowsAffected, nil
}
