// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package sqlite provides the SQLite-backed gorm driver used for the
// administrative override repository.
package sqlite

import (
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/renderhaus/storage-sentinel/app/storage/core"
)

const (
	InMemoryDSN        = ":memory:"
	MemorySharedCached = "file::memory:?cache=shared"
)

// NewSQLiteDriver creates a gorm SQLite driver configured with our settings.
func NewSQLiteDriver(dsn string) (*gorm.DB, error) {
	db, err := core.NewDriver(sqlite.Open(dsn))
	if err != nil {
		return nil, err
	}
	return db, nil
}
