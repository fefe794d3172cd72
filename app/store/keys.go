// SPDX-FileCopyrightText: Copyright (c) 2024-2026, Renderhaus, Inc. or its affiliates. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

// Package store provides the shared key-value store implementations backing
// the cross-process blocking state and enforcement statistics.
package store

// Key namespace shared by every process pointed at the same store.
const (
	KeyPrefix            = "storage_sentinel:"
	BlockingStateKey     = KeyPrefix + "blocking_state"
	EnforcementStatsKey  = KeyPrefix + "enforcement_stats"
)
