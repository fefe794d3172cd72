// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package core provides the shared gorm driver configuration used by the
// relational repositories.
package core

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/schema"

	"github.com/renderhaus/storage-sentinel/app/types"
)

// NewDriver creates a standard *gorm.DB for the database dialect passed in.
func NewDriver(dialector gorm.Dialector) (*gorm.DB, error) {
	return gorm.Open(dialector, &gorm.Config{
		NamingStrategy: schema.NamingStrategy{
			SingularTable: true,
		},
		NowFunc:        DatabaseNow, // For timestamps, use UTC, truncated to milliseconds
		Logger:         &ZeroLogAdapter{},
		TranslateError: true,
	})
}

// DatabaseNow returns time.Now() in UTC, truncated to Milliseconds.
func DatabaseNow() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// NewID generates a new unique identifier string using UUID version 4.
func NewID() string {
	return uuid.New().String()
}

// TranslateError maps gorm errors onto the subsystem error taxonomy. Errors
// with no mapping pass through unchanged.
func TranslateError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.ErrNotFound
	}
	return err
}
