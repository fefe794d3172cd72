// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package types

import (
	"context"
	"time"
)

// StorageOverride is a time-bounded administrative grant permitting the
// protected operation while usage is over the limit. Rows become inactive by
// explicit revocation or lazily once ExpiresAt has passed.
type StorageOverride struct {
	ID          string    `gorm:"primaryKey" json:"id"`
	AdminUserID string    `gorm:"index;not null" json:"admin_user_id"`
	Reason      string    `json:"reason"`
	ActivatedAt time.Time `json:"activated_at"`
	ExpiresAt   time.Time `gorm:"index" json:"expires_at"`
	IsActive    bool      `gorm:"index" json:"is_active"`
}

// Expired reports whether the override has lapsed relative to now.
func (o *StorageOverride) Expired(now time.Time) bool {
	return !o.ExpiresAt.After(now)
}

// OverrideStore persists administrative overrides in the relational store.
type OverrideStore interface {
	// Activate validates and persists a new override. Durations outside
	// (0, 24] hours or an empty admin ID are rejected with
	// ErrOverrideValidation before anything is written.
	Activate(ctx context.Context, durationHours int, adminUserID, reason string) (*StorageOverride, error)

	// IsOverrideActive reports whether an unexpired, unrevoked override exists.
	IsOverrideActive(ctx context.Context) (bool, error)

	// ActiveOverride returns the most recently activated row still marked
	// active, or ErrNotFound if none exists. The row may already be past its
	// expiry; callers decide what an expired-but-unpurged row means.
	ActiveOverride(ctx context.Context) (*StorageOverride, error)

	// Deactivate revokes an override by ID.
	Deactivate(ctx context.Context, id string) error

	// CleanupExpired marks rows inactive where the expiry has passed. It is
	// idempotent and safe to call at the start of every enforcement check.
	CleanupExpired(ctx context.Context) (int64, error)
}
